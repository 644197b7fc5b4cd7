// Package store owns the on-disk layout of a single store directory:
// <root>/<storeId>/{data/, manifest.dat, <root>.dat, height.json,
// tmp/}. It purges tmp/ on open and caches the on-chain creation
// height/header hash recorded in height.json.
package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"storagemesh/blob"
	"storagemesh/chainiface"
	"storagemesh/errs"
	"storagemesh/manifest"
)

var storeIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store bundles the blob store and generation manifest rooted at one
// store directory, plus its height cache.
type Store struct {
	ID       string
	Dir      string
	Blobs    *blob.Store
	Manifest *manifest.Manifest
}

// Open validates storeID, ensures <root>/<storeID>/data exists,
// removes tmp/ (safe to do unconditionally since only in-flight
// downloads and writes ever land there; TmpFile recreates it on
// demand), and returns a ready-to-use Store.
func Open(root, storeID string) (*Store, error) {
	if !storeIDPattern.MatchString(storeID) {
		return nil, errs.Wrap(errs.Validation, fmt.Errorf("%w: store id must be 64 lowercase hex chars", errs.ErrInvalidHex))
	}
	dir := filepath.Join(root, storeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}

	tmp := filepath.Join(dir, "tmp")
	if err := os.RemoveAll(tmp); err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}

	blobs, err := blob.Open(filepath.Join(dir, "data"))
	if err != nil {
		return nil, err
	}

	return &Store{
		ID:       storeID,
		Dir:      dir,
		Blobs:    blobs,
		Manifest: manifest.Open(dir),
	}, nil
}

// height is the on-disk shape of height.json.
type height struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

func (s *Store) heightPath() string { return filepath.Join(s.Dir, "height.json") }

// Height reads the cached creation anchor from height.json, or
// (0, "", nil) if height.json has not been written yet. When written
// by RefreshHeight, the pair is the oldest root record's timestamp and
// root hash, not a block height and header hash.
func (s *Store) Height() (int64, string, error) {
	data, err := os.ReadFile(s.heightPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", nil
		}
		return 0, "", errs.Wrap(errs.Resource, err)
	}
	var h height
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&h); err != nil {
		return 0, "", errs.Wrap(errs.Validation, err)
	}
	return h.Height, h.Hash, nil
}

// SetHeight overwrites height.json atomically via temp+rename.
func (s *Store) SetHeight(chainHeight int64, headerHash string) error {
	data, err := json.MarshalIndent(height{Height: chainHeight, Hash: headerHash}, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Validation, err)
	}
	tmp := s.heightPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.Resource, err)
	}
	return errs.Wrap(errs.Resource, os.Rename(tmp, s.heightPath()))
}

// RefreshHeight asks driver for storeID's on-chain root-history and,
// if it reports any entries, caches the oldest one (the store's
// creation anchor) via SetHeight, storing its Timestamp as the height
// and its RootHex as the hash; chainiface.RootRecord carries no block
// height or header hash. Callers normally invoke this through
// an oracle.Oracle rather than directly, so the cache tracks the same
// history the oracle validates against.
func (s *Store) RefreshHeight(ctx context.Context, driver chainiface.Driver) error {
	records, err := driver.RootHistory(ctx, s.ID)
	if err != nil {
		return errs.Wrap(errs.Transient, err)
	}
	if len(records) == 0 {
		return nil
	}
	creation := records[0]
	return s.SetHeight(creation.Timestamp, creation.RootHex)
}

// TmpFile creates a new temp file under <storeDir>/tmp for staging a
// download or write that will later be renamed into its canonical
// path once it is known to be complete and valid.
func (s *Store) TmpFile(pattern string) (*os.File, error) {
	tmpDir := filepath.Join(s.Dir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}
	f, err := os.CreateTemp(tmpDir, pattern)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}
	return f, nil
}

// KeyToPath decodes a hex-encoded key back into its UTF-8 filesystem
// path: a key is the hex encoding of the UTF-8 bytes of the path it
// names.
func KeyToPath(keyHex string) (string, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", errs.Wrap(errs.Validation, fmt.Errorf("%w: %v", errs.ErrInvalidHex, err))
	}
	return string(raw), nil
}

// PathToKey hex-encodes a filesystem path into a key.
func PathToKey(path string) string {
	return hex.EncodeToString([]byte(path))
}
