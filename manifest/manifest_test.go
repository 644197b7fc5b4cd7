package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storagemesh/merkle"
)

func TestCommitEmptyStoreWritesSentinel(t *testing.T) {
	m := Open(t.TempDir())

	err := m.Commit(SentinelRootHex, Generation{Root: SentinelRootHex, Leaves: nil, Files: map[string]FileEntry{}})
	require.NoError(t, err)

	roots, err := m.Roots()
	require.NoError(t, err)
	require.Equal(t, []string{SentinelRootHex}, roots)
}

func TestCommitNoOpWhenRootUnchanged(t *testing.T) {
	m := Open(t.TempDir())

	leaf := merkle.LeafDigest("66", "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	tree := merkle.Build([][merkle.DigestSize]byte{leaf})
	root := tree.RootHex()
	gen := Generation{
		Root:   root,
		Leaves: []string{merkle.ToHex(leaf)},
		Files:  map[string]FileEntry{"66": {Hash: merkle.ToHex(leaf), Sha256: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"}},
	}

	require.NoError(t, m.Commit(root, gen))
	err := m.Commit(root, gen)
	require.Error(t, err)

	roots, err := m.Roots()
	require.NoError(t, err)
	require.Equal(t, []string{root}, roots)
}

func TestLoadGenerationRejectsTamperedRoot(t *testing.T) {
	m := Open(t.TempDir())
	leaf := merkle.LeafDigest("67", "deadbeef")
	gen := Generation{
		Root:   "not-the-real-root-0000000000000000000000000000000000000000000",
		Leaves: []string{merkle.ToHex(leaf)},
		Files:  map[string]FileEntry{},
	}
	require.NoError(t, m.writeGeneration(gen.Root, gen))

	_, err := m.LoadGeneration(gen.Root)
	require.Error(t, err)
}

func TestLoadGenerationRoundTrip(t *testing.T) {
	m := Open(t.TempDir())
	leaf := merkle.LeafDigest("66", "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	tree := merkle.Build([][merkle.DigestSize]byte{leaf})
	root := tree.RootHex()
	gen := Generation{
		Root:   root,
		Leaves: []string{merkle.ToHex(leaf)},
		Files:  map[string]FileEntry{"66": {Hash: merkle.ToHex(leaf), Sha256: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"}},
	}
	require.NoError(t, m.Commit(root, gen))

	loaded, err := m.LoadGeneration(root)
	require.NoError(t, err)
	require.Equal(t, gen.Root, loaded.Root)
	require.Equal(t, gen.Files, loaded.Files)
}

func TestHasGeneration(t *testing.T) {
	m := Open(t.TempDir())
	require.False(t, m.HasGeneration(SentinelRootHex))
	require.NoError(t, m.Commit(SentinelRootHex, Generation{Root: SentinelRootHex, Files: map[string]FileEntry{}}))
	require.True(t, m.HasGeneration(SentinelRootHex))
}
