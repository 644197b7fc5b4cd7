package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"storagemesh/errs"
	"storagemesh/manifest"
	"storagemesh/merkle"
	"storagemesh/store"
	"storagemesh/walletiface"
	"storagemesh/wireformat"
)

var uploadFilePattern = regexp.MustCompile(`^/upload/([0-9a-f]{64})/([^/]+)/(.+)$`)
var uploadSessionPattern = regexp.MustCompile(`^/upload/([0-9a-f]{64})$`)
var commitPattern = regexp.MustCompile(`^/commit/([0-9a-f]{64})/([^/]+)$`)

// session is the server-side workspace for one in-flight upload: the
// target root announced when the session opened, and the file set
// accumulated as PUTs arrive. Nothing is persisted to the manifest
// until commit rebuilds the tree from this set and checks it equals
// rootHex.
type session struct {
	storeID string
	rootHex string

	mu    sync.Mutex
	files map[string]manifest.FileEntry
}

// PropagationServer implements the write/sync server, default port
// wireformat.PropagationPort.
type PropagationServer struct {
	stores   *StoreSet
	verifier walletiface.Verifier

	mu       sync.Mutex
	sessions map[string]*session
}

// NewPropagationServer returns a PropagationServer rooted at dataRoot,
// verifying ownership signatures with verifier.
func NewPropagationServer(dataRoot string, verifier walletiface.Verifier) *PropagationServer {
	return &PropagationServer{
		stores:   NewStoreSet(dataRoot),
		verifier: verifier,
		sessions: make(map[string]*session),
	}
}

func (p *PropagationServer) Handler() http.Handler {
	return http.HandlerFunc(p.route)
}

func (p *PropagationServer) route(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodHead && uploadFilePattern.MatchString(r.URL.Path):
		p.handleFileHead(w, r)
	case r.Method == http.MethodPut && uploadFilePattern.MatchString(r.URL.Path):
		p.handleFilePut(w, r)
	case r.Method == http.MethodPost && uploadSessionPattern.MatchString(r.URL.Path):
		p.handleOpenSession(w, r)
	case r.Method == http.MethodPost && commitPattern.MatchString(r.URL.Path):
		p.handleCommit(w, r)
	case r.Method == http.MethodHead && storeIDPattern.MatchString(r.URL.Path):
		p.handleStoreHead(w, r)
	case r.Method == http.MethodGet && generationFilePattern.MatchString(r.URL.Path):
		p.handleGenerationGet(w, r)
	case r.Method == http.MethodGet && storePathPattern.MatchString(r.URL.Path):
		p.handleFileGet(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleStoreHead implements HEAD /{store}[?hasRootHash=...] ->
// x-store-exists, x-has-root-hash, x-nonce, x-last-uploaded-hash,
// x-generation-index.
func (p *PropagationServer) handleStoreHead(w http.ResponseWriter, r *http.Request) {
	m := storeIDPattern.FindStringSubmatch(r.URL.Path)
	storeID := m[1]
	st, err := p.stores.get(storeID)
	if err != nil {
		writeError(w, err)
		return
	}

	roots, err := st.Manifest.Roots()
	if err != nil {
		writeError(w, err)
		return
	}
	lastUploaded := ""
	if len(roots) > 0 {
		lastUploaded = roots[len(roots)-1]
	}

	hasRootHash := r.URL.Query().Get("hasRootHash")

	w.Header().Set(wireformat.HeaderStoreExists, "true")
	w.Header().Set(wireformat.HeaderHasRootHash, boolStr(hasRootHash != "" && st.Manifest.HasGeneration(hasRootHash)))
	w.Header().Set(wireformat.HeaderNonce, freshNonce())
	w.Header().Set(wireformat.HeaderLastUploadedHash, lastUploaded)
	w.Header().Set(wireformat.HeaderGenerationIndex, strconv.Itoa(len(roots)))
	w.WriteHeader(http.StatusOK)
}

// handleOpenSession implements POST /upload/{store}?roothash=<hex> ->
// {"sessionId": "..."}. The session starts with an empty file set;
// every subsequent PUT to a file under this session grows it, and
// commit is the point the accumulated set is checked against rootHex.
func (p *PropagationServer) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	m := uploadSessionPattern.FindStringSubmatch(r.URL.Path)
	storeID := m[1]
	rootHex := r.URL.Query().Get("roothash")
	if rootHex == "" {
		writeError(w, errs.Wrap(errs.Validation, errs.ErrInvalidHex))
		return
	}

	sessionID := uuid.NewString()
	p.mu.Lock()
	p.sessions[sessionID] = &session{storeID: storeID, rootHex: rootHex, files: make(map[string]manifest.FileEntry)}
	p.mu.Unlock()

	writeJSON(w, wireformat.UploadSessionResponse{SessionID: sessionID})
}

// handleFileHead implements
// HEAD /upload/{store}/{session}/{path} -> x-nonce, x-file-exists.
func (p *PropagationServer) handleFileHead(w http.ResponseWriter, r *http.Request) {
	m := uploadFilePattern.FindStringSubmatch(r.URL.Path)
	sessionID, key := m[2], m[3]

	sess, ok := p.session(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	sess.mu.Lock()
	_, exists := sess.files[key]
	sess.mu.Unlock()

	w.Header().Set(wireformat.HeaderNonce, freshNonce())
	w.Header().Set(wireformat.HeaderFileExists, boolStr(exists))
	w.WriteHeader(http.StatusOK)
}

// handleFilePut implements
// PUT /upload/{store}/{session}/{path} with x-nonce, x-public-key,
// x-key-ownership-sig headers -> 200 on success. The uploaded
// content is ingested straight into the blob store (no separate
// staging directory: the blob store's own temp+rename is the staging
// mechanism) and recorded against key for this session.
func (p *PropagationServer) handleFilePut(w http.ResponseWriter, r *http.Request) {
	m := uploadFilePattern.FindStringSubmatch(r.URL.Path)
	sessionID, key := m[2], m[3]

	sess, ok := p.session(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	nonce := r.Header.Get(wireformat.HeaderNonce)
	pub := r.Header.Get(wireformat.HeaderPublicKey)
	sig := r.Header.Get(wireformat.HeaderKeyOwnershipSig)
	valid, err := p.verifier.Verify(pub, wireformat.OwnershipMessage(nonce), sig)
	if err != nil || !valid {
		writeError(w, errs.Wrap(errs.Auth, errs.ErrInvalidHex))
		return
	}

	st, err := p.stores.get(sess.storeID)
	if err != nil {
		writeError(w, err)
		return
	}
	shaHex, err := st.Blobs.Put(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	leaf := merkle.LeafDigest(key, shaHex)

	sess.mu.Lock()
	sess.files[key] = manifest.FileEntry{Hash: merkle.ToHex(leaf), Sha256: shaHex}
	sess.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

// handleCommit implements POST /commit/{store}/{session} -> 200 on
// atomic promotion: the tree is rebuilt from every file uploaded
// during this session and must equal the root the session opened
// with, or the commit is rejected without touching the manifest.
func (p *PropagationServer) handleCommit(w http.ResponseWriter, r *http.Request) {
	m := commitPattern.FindStringSubmatch(r.URL.Path)
	sessionID := m[2]

	sess, ok := p.session(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	sess.mu.Lock()
	gen, err := buildGeneration(sess.files)
	sess.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	if gen.Root != sess.rootHex {
		writeError(w, errs.Wrap(errs.Integrity, errs.ErrTreeRootMismatch))
		return
	}

	st, err := p.stores.get(sess.storeID)
	if err != nil {
		writeError(w, err)
		return
	}

	lock := store.NewManifestLock(st.Manifest.Dir())
	if err := lock.Acquire(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	commitErr := st.Manifest.Commit(sess.rootHex, gen)
	_ = lock.Release()
	if commitErr != nil {
		writeError(w, commitErr)
		return
	}

	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// buildGeneration rebuilds a Generation's sorted leaf list and root
// from a session's accumulated key->entry map (same deterministic
// sort-before-build discipline as engine.Engine.rebuildTree).
func buildGeneration(files map[string]manifest.FileEntry) (manifest.Generation, error) {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	leaves := make([][merkle.DigestSize]byte, 0, len(keys))
	leavesHex := make([]string, 0, len(keys))
	for _, k := range keys {
		d, err := merkle.DigestFromHex(files[k].Hash)
		if err != nil {
			return manifest.Generation{}, err
		}
		leaves = append(leaves, d)
		leavesHex = append(leavesHex, files[k].Hash)
	}
	tree := merkle.Build(leaves)
	return manifest.Generation{Root: tree.RootHex(), Leaves: leavesHex, Files: files}, nil
}

func (p *PropagationServer) session(id string) (*session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess, ok := p.sessions[id]
	return sess, ok
}

// handleGenerationGet implements GET /{store}/{root}.dat -> the raw
// generation JSON a Replication Controller pull fetches before it
// resolves per-file blobs.
func (p *PropagationServer) handleGenerationGet(w http.ResponseWriter, r *http.Request) {
	m := generationFilePattern.FindStringSubmatch(r.URL.Path)
	storeID, rootHex := m[1], m[2]
	st, err := p.stores.get(storeID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondWithGeneration(w, st, rootHex)
}

// handleFileGet implements GET /{store}/{path} -> streamed file
// bytes, serving the latest committed generation's content for key.
func (p *PropagationServer) handleFileGet(w http.ResponseWriter, r *http.Request) {
	m := storePathPattern.FindStringSubmatch(r.URL.Path)
	storeID, key := m[1], m[2]

	st, err := p.stores.get(storeID)
	if err != nil {
		writeError(w, err)
		return
	}
	_, rootHex, err := latestGeneration(st)
	if err != nil || rootHex == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	respondWithBlob(w, st, rootHex, key, "")
}

func freshNonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
