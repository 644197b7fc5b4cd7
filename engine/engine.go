// Package engine orchestrates the blob store, Merkle tree, and
// generation manifest behind ingest/commit/lookup/validate/diff
// operations for a single store's working generation.
package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"storagemesh/blob"
	"storagemesh/errs"
	"storagemesh/manifest"
	"storagemesh/merkle"
	"storagemesh/store"
)

// entry is the engine's in-memory record for one key, mirroring
// manifest.FileEntry but holding the parsed leaf digest for fast
// tree rebuilds.
type entry struct {
	leaf   [merkle.DigestSize]byte
	sha256 string
}

// Engine is the mutable working state for one store: the set of keys
// currently staged (whether or not committed), backed by a blob
// store and manifest on disk. A new Engine should be constructed from
// the latest committed generation via Load, or empty via New.
type Engine struct {
	mu sync.Mutex // serializes upserts and commits against this working generation

	blobs    *blob.Store
	manifest *manifest.Manifest

	entries map[string]entry // key hex -> entry
	tree    *merkle.Tree
}

// New returns an Engine over blobs/manifest with no staged keys.
func New(blobs *blob.Store, m *manifest.Manifest) *Engine {
	return &Engine{
		blobs:    blobs,
		manifest: m,
		entries:  make(map[string]entry),
		tree:     merkle.Build(nil),
	}
}

// Load constructs an Engine whose working state equals the named
// generation (or the latest committed generation if rootHex is "").
func Load(blobs *blob.Store, m *manifest.Manifest, rootHex string) (*Engine, error) {
	if rootHex == "" {
		latest, err := m.LatestRoot()
		if err != nil {
			return nil, err
		}
		rootHex = latest
	}
	e := New(blobs, m)
	if rootHex == "" {
		return e, nil
	}

	gen, err := m.LoadGeneration(rootHex)
	if err != nil {
		return nil, err
	}
	for keyHex, fe := range gen.Files {
		leaf, err := merkle.DigestFromHex(fe.Hash)
		if err != nil {
			return nil, err
		}
		e.entries[keyHex] = entry{leaf: leaf, sha256: fe.Sha256}
	}
	e.rebuildTree()
	return e, nil
}

func (e *Engine) rebuildTree() {
	leaves := make([][merkle.DigestSize]byte, 0, len(e.entries))
	keys := make([]string, 0, len(e.entries))
	for k := range e.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic insertion order for the persisted leaves list
	for _, k := range keys {
		leaves = append(leaves, e.entries[k].leaf)
	}
	e.tree = merkle.Build(leaves)
}

// Upsert streams content through SHA-256, stores it in the blob
// store, and replaces keyHex's entry with the resulting leaf digest.
// If keyHex already maps to the same content (same combined leaf
// digest), Upsert is a no-op and the tree is not rebuilt.
func (e *Engine) Upsert(keyHex string, content io.Reader) error {
	if err := validateKeyHex(keyHex); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	shaHex, err := e.blobs.Put(content)
	if err != nil {
		return err
	}
	leaf := merkle.LeafDigest(keyHex, shaHex)

	if existing, ok := e.entries[keyHex]; ok && existing.leaf == leaf {
		return nil
	}
	e.entries[keyHex] = entry{leaf: leaf, sha256: shaHex}
	e.rebuildTree()
	return nil
}

// Delete removes keyHex from the working set, if present.
func (e *Engine) Delete(keyHex string) error {
	if err := validateKeyHex(keyHex); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.entries[keyHex]; !ok {
		return errs.Wrap(errs.NotFound, errs.ErrKeyNotFound)
	}
	delete(e.entries, keyHex)
	e.rebuildTree()
	return nil
}

// ListKeys returns the keys of the current working generation.
func (e *Engine) ListKeys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.entries))
	for k := range e.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasKey reports whether keyHex exists in the working set AND its
// blob is present on disk.
func (e *Engine) HasKey(keyHex string) bool {
	e.mu.Lock()
	ent, ok := e.entries[keyHex]
	e.mu.Unlock()
	if !ok {
		return false
	}
	return e.blobs.Has(ent.sha256)
}

// Read looks up keyHex's content hash and streams its blob, optionally
// sliced to [offset, offset+length).
func (e *Engine) Read(keyHex string, offset, length int64) (io.ReadCloser, error) {
	e.mu.Lock()
	ent, ok := e.entries[keyHex]
	e.mu.Unlock()
	if !ok {
		return nil, errs.Wrap(errs.NotFound, errs.ErrKeyNotFound)
	}
	return e.blobs.Get(ent.sha256, offset, length)
}

// Prove emits a hex-JSON proof object for keyHex's current content.
func (e *Engine) Prove(keyHex string) (string, error) {
	e.mu.Lock()
	ent, ok := e.entries[keyHex]
	tree := e.tree
	e.mu.Unlock()
	if !ok {
		return "", errs.Wrap(errs.NotFound, errs.ErrKeyNotFound)
	}

	proof, err := tree.ProofForLeaf(ent.leaf)
	if err != nil {
		return "", err
	}
	return merkle.Serialize(keyHex, tree.RootHex(), proof)
}

// VerifyProof deserializes proofHex and checks it proves that
// contentSHA256Hex is the content behind the embedded key, under the
// embedded root.
func VerifyProof(proofHex, contentSHA256Hex string) (bool, error) {
	keyHex, rootHex, proof, err := merkle.Deserialize(proofHex)
	if err != nil {
		return false, err
	}
	root, err := merkle.DigestFromHex(rootHex)
	if err != nil {
		return false, err
	}
	leaf := merkle.LeafDigest(keyHex, contentSHA256Hex)
	return merkle.Verify(proof, leaf, root), nil
}

// VerifyBlob gunzip+hashes the blob for contentSHA256Hex and checks
// that some key in the named generation maps to it (by checking leaf
// membership for every key->sha mapping rather than requiring a
// specific key, since a blob may be shared across keys).
func (e *Engine) VerifyBlob(blobs *blob.Store, m *manifest.Manifest, contentSHA256Hex, rootHex string) (bool, error) {
	ok, err := blobs.Verify(contentSHA256Hex)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	gen, err := m.LoadGeneration(rootHex)
	if err != nil {
		return false, err
	}
	leafSet := make(map[string]bool, len(gen.Leaves))
	for _, l := range gen.Leaves {
		leafSet[l] = true
	}
	for k, fe := range gen.Files {
		if fe.Sha256 == contentSHA256Hex && leafSet[merkle.ToHex(merkle.LeafDigest(k, contentSHA256Hex))] {
			return true, nil
		}
	}
	return false, nil
}

// ValidateKeyInForeignTree rebuilds a foreign generation's root from
// its own leaves, checks it equals expectedRoot, then verifies that
// keyHex/contentSHA256Hex's leaf digest is present in that tree. No
// caller in this module uses it: replication.Controller.Pull checks
// only each downloaded blob's SHA-256.
func ValidateKeyInForeignTree(foreign manifest.Generation, expectedRootHex, keyHex, contentSHA256Hex string) (bool, error) {
	leaves := make([][merkle.DigestSize]byte, len(foreign.Leaves))
	for i, lh := range foreign.Leaves {
		d, err := merkle.DigestFromHex(lh)
		if err != nil {
			return false, err
		}
		leaves[i] = d
	}
	tree := merkle.Build(leaves)
	if tree.RootHex() != expectedRootHex {
		return false, errs.Wrap(errs.Integrity, fmt.Errorf("%w: foreign tree root %s != expected %s", errs.ErrTreeRootMismatch, tree.RootHex(), expectedRootHex))
	}

	leaf := merkle.LeafDigest(keyHex, contentSHA256Hex)
	_, err := tree.ProofForLeaf(leaf)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Diff computes the symmetric key->sha256 difference between two
// committed generations.
func Diff(m *manifest.Manifest, rootAHex, rootBHex string) (added, removed map[string]string, err error) {
	genA, err := m.LoadGeneration(rootAHex)
	if err != nil {
		return nil, nil, err
	}
	genB, err := m.LoadGeneration(rootBHex)
	if err != nil {
		return nil, nil, err
	}

	added = make(map[string]string)
	removed = make(map[string]string)

	for k, feB := range genB.Files {
		feA, ok := genA.Files[k]
		if !ok || feA.Sha256 != feB.Sha256 {
			added[k] = feB.Sha256
		}
	}
	for k, feA := range genA.Files {
		feB, ok := genB.Files[k]
		if !ok || feA.Sha256 != feB.Sha256 {
			removed[k] = feA.Sha256
		}
	}
	return added, removed, nil
}

// Commit persists the current working tree as a new generation,
// returning the committed root hex. The manifest append is guarded by
// a cross-process advisory lock so a concurrent committer (e.g. a
// propagation server serving a push into the same store) cannot
// interleave writes to manifest.dat.
func (e *Engine) Commit() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock := store.NewManifestLock(e.manifest.Dir())
	if err := lock.Acquire(context.Background()); err != nil {
		return "", err
	}
	defer lock.Release()

	rootHex := e.tree.RootHex()
	leavesHex := make([]string, 0, len(e.tree.Leaves()))
	for _, l := range e.tree.Leaves() {
		leavesHex = append(leavesHex, merkle.ToHex(l))
	}

	files := make(map[string]manifest.FileEntry, len(e.entries))
	for k, ent := range e.entries {
		files[k] = manifest.FileEntry{Hash: merkle.ToHex(ent.leaf), Sha256: ent.sha256}
	}

	gen := manifest.Generation{Root: rootHex, Leaves: leavesHex, Files: files}
	if err := e.manifest.Commit(rootHex, gen); err != nil {
		return "", err
	}
	return rootHex, nil
}

func validateKeyHex(keyHex string) error {
	if keyHex == "" {
		return errs.Wrap(errs.Validation, fmt.Errorf("%w: empty key", errs.ErrInvalidHex))
	}
	for _, c := range keyHex {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return errs.Wrap(errs.Validation, fmt.Errorf("%w: key must be lowercase hex", errs.ErrInvalidHex))
		}
	}
	if len(keyHex)%2 != 0 {
		return errs.Wrap(errs.Validation, fmt.Errorf("%w: key must have even hex length", errs.ErrInvalidHex))
	}
	return nil
}
