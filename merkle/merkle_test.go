package merkle

import (
	"crypto/sha256"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func digest(s string) [DigestSize]byte {
	return sha256.Sum256([]byte(s))
}

func TestBuild_EmptyTreeIsSentinel(t *testing.T) {
	tree := Build(nil)
	require.Equal(t, ZeroRoot, tree.Root())
}

func TestBuild_SingleLeafRootIsLeaf(t *testing.T) {
	leaf := digest("hello")
	tree := Build([][DigestSize]byte{leaf})
	require.Equal(t, leaf, tree.Root())

	proof, err := tree.Proof(0)
	require.NoError(t, err)
	require.Empty(t, proof)
}

func TestBuild_Canonicity(t *testing.T) {
	leaves := make([][DigestSize]byte, 7)
	for i := range leaves {
		leaves[i] = digest(string(rune('a' + i)))
	}

	sorted := Build(leaves).Root()

	for trial := 0; trial < 20; trial++ {
		perm := append([][DigestSize]byte(nil), leaves...)
		rand.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		require.Equal(t, sorted, Build(perm).Root())
	}
}

func TestProof_SoundnessAndForgery(t *testing.T) {
	leaves := [][DigestSize]byte{digest("a"), digest("b"), digest("c"), digest("d"), digest("e")}
	tree := Build(leaves)
	root := tree.Root()

	for _, leaf := range leaves {
		proof, err := tree.ProofForLeaf(leaf)
		require.NoError(t, err)
		require.True(t, Verify(proof, leaf, root))
	}

	// A proof for one leaf must not validate a different leaf's content.
	proof, err := tree.ProofForLeaf(leaves[0])
	require.NoError(t, err)
	require.False(t, Verify(proof, digest("not-a"), root))
}

func TestProofForLeaf_NotFound(t *testing.T) {
	tree := Build([][DigestSize]byte{digest("a"), digest("b")})
	_, err := tree.ProofForLeaf(digest("z"))
	require.Error(t, err)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	leaves := [][DigestSize]byte{digest("a"), digest("b"), digest("c")}
	tree := Build(leaves)
	proof, err := tree.ProofForLeaf(leaves[1])
	require.NoError(t, err)

	encoded, err := Serialize("6b6579", tree.RootHex(), proof)
	require.NoError(t, err)

	key, rootHex, decodedProof, err := Deserialize(encoded)
	require.NoError(t, err)
	require.Equal(t, "6b6579", key)
	require.Equal(t, tree.RootHex(), rootHex)
	require.Equal(t, proof, decodedProof)
	require.True(t, Verify(decodedProof, leaves[1], tree.Root()))
}

func TestLeafDigest(t *testing.T) {
	got := LeafDigest("66", "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	want := sha256.Sum256([]byte("66/2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"))
	require.Equal(t, want, got)
}
