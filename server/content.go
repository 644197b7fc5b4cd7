package server

import (
	"net/http"

	"storagemesh/wireformat"
)

// ContentServer implements the read-only content server, default
// port wireformat.ContentPort.
type ContentServer struct {
	stores    *StoreSet
	wellKnown wireformat.WellKnownInfo
}

// NewContentServer returns a ContentServer rooted at dataRoot.
func NewContentServer(dataRoot string, wellKnown wireformat.WellKnownInfo) *ContentServer {
	return &ContentServer{stores: NewStoreSet(dataRoot), wellKnown: wellKnown}
}

// Handler returns the http.Handler implementing every content-server
// route.
func (c *ContentServer) Handler() http.Handler {
	return http.HandlerFunc(c.route)
}

func (c *ContentServer) route(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		c.handleIndex(w, r)
	case r.URL.Path == "/.well-known" && r.Method == http.MethodGet:
		writeJSON(w, c.wellKnown)
	case r.Method == http.MethodHead:
		c.handleHead(w, r)
	case r.Method == http.MethodGet:
		c.handleGet(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *ContentServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	ids, err := c.stores.List()
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]wireformat.StoreIndexEntry, 0, len(ids))
	for _, id := range ids {
		st, err := c.stores.get(id)
		if err != nil {
			continue
		}
		_, rootHex, err := latestGeneration(st)
		if err != nil {
			continue
		}
		height, hash, err := st.Height()
		if err != nil {
			continue
		}
		entries = append(entries, wireformat.StoreIndexEntry{
			StoreID:        id,
			Root:           rootHex,
			CreationHeight: height,
			CreationHash:   hash,
		})
	}
	writeJSON(w, entries)
}

// handleHead implements:
//   HEAD /{store}[?hasRootHash=<hex>]  -> x-store-exists, x-has-root-hash
//   HEAD /{store}.{root}/{key}         -> x-key-exists
func (c *ContentServer) handleHead(w http.ResponseWriter, r *http.Request) {
	if m := storeKeyPattern.FindStringSubmatch(r.URL.Path); m != nil {
		storeID, rootHex, key := m[1], m[2], m[3]
		st, err := c.stores.get(storeID)
		if err != nil {
			writeError(w, err)
			return
		}
		gen, err := st.Manifest.LoadGeneration(rootHex)
		if err != nil {
			writeError(w, err)
			return
		}
		_, exists := gen.Files[key]
		w.Header().Set(wireformat.HeaderKeyExists, boolStr(exists))
		w.WriteHeader(http.StatusOK)
		return
	}

	if m := storeIDPattern.FindStringSubmatch(r.URL.Path); m != nil {
		storeID := m[1]
		st, err := c.stores.get(storeID)
		if err != nil {
			writeError(w, err)
			return
		}
		hasRootHash := r.URL.Query().Get("hasRootHash")
		_, latestRoot, err := latestGeneration(st)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set(wireformat.HeaderStoreExists, "true")
		w.Header().Set(wireformat.HeaderHasRootHash, boolStr(hasRootHash != "" && st.Manifest.HasGeneration(hasRootHash)))
		_ = latestRoot
		w.WriteHeader(http.StatusOK)
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

// handleGet implements GET /{store}.{root}/{key}[?challenge=<hex>].
func (c *ContentServer) handleGet(w http.ResponseWriter, r *http.Request) {
	m := storeKeyPattern.FindStringSubmatch(r.URL.Path)
	if m == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	storeID, rootHex, key := m[1], m[2], m[3]
	st, err := c.stores.get(storeID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondWithBlob(w, st, rootHex, key, r.URL.Query().Get("challenge"))
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
