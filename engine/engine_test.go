package engine

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storagemesh/blob"
	"storagemesh/manifest"
)

func newTestEngine(t *testing.T) (*Engine, *blob.Store, *manifest.Manifest) {
	t.Helper()
	blobs, err := blob.Open(t.TempDir())
	require.NoError(t, err)
	m := manifest.Open(t.TempDir())
	return New(blobs, m), blobs, m
}

func TestUpsertReadRoundTrip(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.Upsert("66", strings.NewReader("hello world")))

	rc, err := e.Read("66", 0, 0)
	require.NoError(t, err)
	defer rc.Close()
	buf, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf))
}

func TestUpsertSameContentIsNoOp(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.Upsert("66", strings.NewReader("same")))
	before := e.tree.RootHex()
	require.NoError(t, e.Upsert("66", strings.NewReader("same")))
	require.Equal(t, before, e.tree.RootHex())
}

func TestDeleteUnknownKeyIsNotFound(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.Delete("66")
	require.Error(t, err)
}

func TestCommitAndLoadRoundTrip(t *testing.T) {
	e, blobs, m := newTestEngine(t)
	require.NoError(t, e.Upsert("61", strings.NewReader("a")))
	require.NoError(t, e.Upsert("62", strings.NewReader("b")))

	root, err := e.Commit()
	require.NoError(t, err)
	require.NotEmpty(t, root)

	reloaded, err := Load(blobs, m, root)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"61", "62"}, reloaded.ListKeys())
}

func TestProveAndVerifyProof(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.Upsert("66", strings.NewReader("hello world")))
	_, err := e.Commit()
	require.NoError(t, err)

	proofHex, err := e.Prove("66")
	require.NoError(t, err)

	ent := e.entries["66"]
	ok, err := VerifyProof(proofHex, ent.sha256)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyProof(proofHex, "0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDiffBetweenGenerations(t *testing.T) {
	e, _, m := newTestEngine(t)
	require.NoError(t, e.Upsert("61", strings.NewReader("a")))
	rootA, err := e.Commit()
	require.NoError(t, err)

	require.NoError(t, e.Upsert("62", strings.NewReader("b")))
	require.NoError(t, e.Delete("61"))
	rootB, err := e.Commit()
	require.NoError(t, err)

	added, removed, err := Diff(m, rootA, rootB)
	require.NoError(t, err)
	require.Contains(t, added, "62")
	require.Contains(t, removed, "61")
}

func TestUpsertRejectsBadKey(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.Upsert("not-hex", strings.NewReader("x"))
	require.Error(t, err)
}
