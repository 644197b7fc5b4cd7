package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storagemesh/wireformat"
)

func TestContentIndexListsCommittedStores(t *testing.T) {
	root := t.TempDir()
	storeID := strings.Repeat("f", 64)
	st := newTestStore(t, root, storeID)
	rootHex := commitOneKeyDirect(t, st, "61", "index me")

	c := NewContentServer(root, wireformat.WellKnownInfo{ProtocolVersion: "1"})
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()

	var entries []wireformat.StoreIndexEntry
	require.NoError(t, json.NewDecoder(res.Body).Decode(&entries))
	require.Len(t, entries, 1)
	require.Equal(t, storeID, entries[0].StoreID)
	require.Equal(t, rootHex, entries[0].Root)
}

func TestContentWellKnownServesPaymentInfo(t *testing.T) {
	root := t.TempDir()
	c := NewContentServer(root, wireformat.WellKnownInfo{PaymentAddress: "addr1", ProtocolVersion: "1"})
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/.well-known")
	require.NoError(t, err)
	defer res.Body.Close()

	var info wireformat.WellKnownInfo
	require.NoError(t, json.NewDecoder(res.Body).Decode(&info))
	require.Equal(t, "addr1", info.PaymentAddress)
}

func TestContentHeadKeyExists(t *testing.T) {
	root := t.TempDir()
	storeID := strings.Repeat("1", 64)
	st := newTestStore(t, root, storeID)
	rootHex := commitOneKeyDirect(t, st, "61", "present")

	c := NewContentServer(root, wireformat.WellKnownInfo{})
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	res, err := http.Head(srv.URL + "/" + storeID + "." + rootHex + "/61")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, "true", res.Header.Get(wireformat.HeaderKeyExists))

	res2, err := http.Head(srv.URL + "/" + storeID + "." + rootHex + "/ff")
	require.NoError(t, err)
	defer res2.Body.Close()
	require.Equal(t, "false", res2.Header.Get(wireformat.HeaderKeyExists))
}

func TestContentGetServesBlobContent(t *testing.T) {
	root := t.TempDir()
	storeID := strings.Repeat("2", 64)
	st := newTestStore(t, root, storeID)
	rootHex := commitOneKeyDirect(t, st, "61", "blob body")

	c := NewContentServer(root, wireformat.WellKnownInfo{})
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/" + storeID + "." + rootHex + "/61")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, 200, res.StatusCode)
}

func TestContentGetUnknownKeyIsNotFound(t *testing.T) {
	root := t.TempDir()
	storeID := strings.Repeat("3", 64)
	st := newTestStore(t, root, storeID)
	rootHex := commitOneKeyDirect(t, st, "61", "blob body")

	c := NewContentServer(root, wireformat.WellKnownInfo{})
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/" + storeID + "." + rootHex + "/ff")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}
