// Package server implements the content and propagation HTTP servers:
// GET/HEAD read endpoints serving blobs, the store index, and peer
// metadata; POST/PUT/HEAD write endpoints driving the
// upload-session/commit workflow a remote Replication Controller
// drives against this process.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"regexp"
	"sync"

	"storagemesh/challenge"
	"storagemesh/errs"
	"storagemesh/manifest"
	"storagemesh/store"
	"storagemesh/wireformat"
)

var (
	storeIDPattern        = regexp.MustCompile(`^/([0-9a-f]{64})$`)
	storeKeyPattern       = regexp.MustCompile(`^/([0-9a-f]{64})\.([0-9a-f]{64})/(.+)$`)
	storePathPattern      = regexp.MustCompile(`^/([0-9a-f]{64})/(.+)$`)
	generationFilePattern = regexp.MustCompile(`^/([0-9a-f]{64})/([0-9a-f]{64})\.dat$`)
)

// StoreSet opens (and caches) stores by ID rooted at one filesystem
// directory, shared by both servers.
type StoreSet struct {
	root string

	mu     sync.Mutex
	stores map[string]*store.Store
}

// NewStoreSet returns a StoreSet rooted at root.
func NewStoreSet(root string) *StoreSet {
	return &StoreSet{root: root, stores: make(map[string]*store.Store)}
}

// Root returns the filesystem directory this StoreSet is rooted at.
func (s *StoreSet) Root() string { return s.root }

func (s *StoreSet) get(storeID string) (*store.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stores[storeID]; ok {
		return st, nil
	}
	st, err := store.Open(s.root, storeID)
	if err != nil {
		return nil, err
	}
	s.stores[storeID] = st
	return st, nil
}

// List returns every store directory name under root that looks like
// a 64-hex store id, for the store-index endpoint.
func (s *StoreSet) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Resource, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && storeIDPattern.MatchString("/"+e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.NotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errs.Validation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, errs.Auth):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// latestGeneration loads st's most recently committed generation.
func latestGeneration(st *store.Store) (manifest.Generation, string, error) {
	rootHex, err := st.Manifest.LatestRoot()
	if err != nil {
		return manifest.Generation{}, "", err
	}
	if rootHex == "" {
		return manifest.Generation{}, "", nil
	}
	gen, err := st.Manifest.LoadGeneration(rootHex)
	if err != nil {
		return manifest.Generation{}, "", err
	}
	return gen, rootHex, nil
}

// respondWithBlob streams key's content from st, or the response to a
// possession challenge if challengeHex is non-empty.
func respondWithBlob(w http.ResponseWriter, st *store.Store, rootHex, key, challengeHex string) {
	gen, err := st.Manifest.LoadGeneration(rootHex)
	if err != nil {
		writeError(w, err)
		return
	}
	fe, ok := gen.Files[key]
	if !ok {
		writeError(w, errs.Wrap(errs.NotFound, errs.ErrKeyNotFound))
		return
	}

	if challengeHex != "" {
		c, err := challenge.Deserialize(challengeHex)
		if err != nil {
			writeError(w, err)
			return
		}
		resp, err := challenge.Respond(st.Blobs, fe.Sha256, c)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Write([]byte(resp))
		return
	}

	rc, err := st.Blobs.Get(fe.Sha256, 0, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()
	io.Copy(w, rc)
}

// respondWithGeneration writes rootHex's generation file verbatim as
// JSON, the payload a Replication Controller downloads before it
// resolves each file's blob.
func respondWithGeneration(w http.ResponseWriter, st *store.Store, rootHex string) {
	gen, err := st.Manifest.LoadGeneration(rootHex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, gen)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

