package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storagemesh/blob"
	"storagemesh/engine"
	"storagemesh/manifest"
	"storagemesh/replication"
	"storagemesh/store"
	"storagemesh/transport"
	"storagemesh/walletiface"
	"storagemesh/wireformat"
)

func newTestStore(t *testing.T, root, storeID string) *store.Store {
	t.Helper()
	st, err := store.Open(root, storeID)
	require.NoError(t, err)
	return st
}

// stagedGeneration stages one key into blobs, commits it only to a
// throwaway manifest in its own temp dir (never the peer's), and
// returns the resulting Generation, used to drive a push against a
// PropagationServer from scratch.
func stagedGeneration(t *testing.T, blobs *blob.Store, keyHex, content string) manifest.Generation {
	t.Helper()
	m := manifest.Open(t.TempDir())
	e := engine.New(blobs, m)
	require.NoError(t, e.Upsert(keyHex, strings.NewReader(content)))
	rootHex, err := e.Commit()
	require.NoError(t, err)
	gen, err := m.LoadGeneration(rootHex)
	require.NoError(t, err)
	return gen
}

func TestPropagationPushThenPullRoundTrip(t *testing.T) {
	peerRoot := t.TempDir()
	storeID := strings.Repeat("a", 64)
	peerStore := newTestStore(t, peerRoot, storeID)

	p := NewPropagationServer(peerRoot, walletiface.Secp256k1Verifier{})
	srv := httptest.NewTLSServer(p.Handler())
	defer srv.Close()

	clientRoot := t.TempDir()
	clientBlobs, err := blob.Open(clientRoot)
	require.NoError(t, err)
	gen := stagedGeneration(t, clientBlobs, "61", "hello mesh")

	identity, err := transport.LoadOrCreateIdentity(t.TempDir())
	require.NoError(t, err)
	client := transport.New(identity, transport.Config{})
	signer, err := walletiface.NewSecp256k1Signer()
	require.NoError(t, err)
	ctrl := replication.New(client, signer)

	plan, err := ctrl.Push(context.Background(), srv.URL, storeID, gen.Root, gen, 0, clientBlobs)
	require.NoError(t, err)
	require.False(t, plan.Skip)
	require.NotEmpty(t, plan.SessionID)

	require.True(t, peerStore.Manifest.HasGeneration(gen.Root))
	peerGen, err := peerStore.Manifest.LoadGeneration(gen.Root)
	require.NoError(t, err)
	require.Equal(t, gen.Files, peerGen.Files)

	// Pull into a fresh local store from the same peer.
	pullRoot := t.TempDir()
	localStore := newTestStore(t, pullRoot, storeID)
	result, err := ctrl.Pull(context.Background(), []string{srv.URL}, storeID, gen.Root, localStore, false)
	require.NoError(t, err)
	require.Contains(t, result.Downloaded, "61")

	ok, err := localStore.Blobs.Verify(gen.Files["61"].Sha256)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPropagationPushSkipsWhenRootAlreadyCommitted(t *testing.T) {
	peerRoot := t.TempDir()
	storeID := strings.Repeat("b", 64)
	peerStore := newTestStore(t, peerRoot, storeID)
	rootHex := commitOneKeyDirect(t, peerStore, "61", "already here")

	p := NewPropagationServer(peerRoot, walletiface.Secp256k1Verifier{})
	srv := httptest.NewTLSServer(p.Handler())
	defer srv.Close()

	clientBlobs, err := blob.Open(t.TempDir())
	require.NoError(t, err)
	gen, err := peerStore.Manifest.LoadGeneration(rootHex)
	require.NoError(t, err)

	identity, err := transport.LoadOrCreateIdentity(t.TempDir())
	require.NoError(t, err)
	client := transport.New(identity, transport.Config{})
	signer, err := walletiface.NewSecp256k1Signer()
	require.NoError(t, err)
	ctrl := replication.New(client, signer)

	plan, err := ctrl.Push(context.Background(), srv.URL, storeID, rootHex, gen, 0, clientBlobs)
	require.NoError(t, err)
	require.True(t, plan.Skip)
}

func commitOneKeyDirect(t *testing.T, st *store.Store, keyHex, content string) string {
	t.Helper()
	e := engine.New(st.Blobs, st.Manifest)
	require.NoError(t, e.Upsert(keyHex, strings.NewReader(content)))
	rootHex, err := e.Commit()
	require.NoError(t, err)
	return rootHex
}

func TestHandleStoreHeadReportsExistingRoot(t *testing.T) {
	peerRoot := t.TempDir()
	storeID := strings.Repeat("c", 64)
	st := newTestStore(t, peerRoot, storeID)
	rootHex := commitOneKeyDirect(t, st, "61", "x")

	p := NewPropagationServer(peerRoot, walletiface.Secp256k1Verifier{})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	res, err := http.Head(srv.URL + "/" + storeID + "?hasRootHash=" + rootHex)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, "true", res.Header.Get(wireformat.HeaderStoreExists))
	require.Equal(t, "true", res.Header.Get(wireformat.HeaderHasRootHash))
	require.Equal(t, "1", res.Header.Get(wireformat.HeaderGenerationIndex))
}

func TestHandleGenerationGetServesRawJSON(t *testing.T) {
	peerRoot := t.TempDir()
	storeID := strings.Repeat("d", 64)
	st := newTestStore(t, peerRoot, storeID)
	rootHex := commitOneKeyDirect(t, st, "61", "raw generation body")

	p := NewPropagationServer(peerRoot, walletiface.Secp256k1Verifier{})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/" + storeID + "/" + rootHex + ".dat")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, 200, res.StatusCode)

	var gen manifest.Generation
	require.NoError(t, json.NewDecoder(res.Body).Decode(&gen))
	require.Equal(t, rootHex, gen.Root)
	require.Contains(t, gen.Files, "61")
}

func TestHandleFileGetServesLatestGenerationContent(t *testing.T) {
	peerRoot := t.TempDir()
	storeID := strings.Repeat("e", 64)
	st := newTestStore(t, peerRoot, storeID)
	commitOneKeyDirect(t, st, "61", "latest content")

	p := NewPropagationServer(peerRoot, walletiface.Secp256k1Verifier{})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/" + storeID + "/61")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, 200, res.StatusCode)
}
