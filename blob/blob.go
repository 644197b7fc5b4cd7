// Package blob implements a content-addressed blob store: byte
// streams addressed by the SHA-256 of their uncompressed content,
// persisted gzip-compressed under a sharded directory layout, written
// atomically via temp-file-then-rename.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"storagemesh/errs"
)

// shardSegments is the number of 2-hex-character directory segments
// the digest is split into before the final filename, e.g.
// "data/AA/BB/CC.../RR".
const shardSegments = 3

// Store is a content-addressed blob repository rooted at Dir.
type Store struct {
	dir    string
	tmpDir string
}

// Open returns a Store rooted at dir, creating dir and its tmp/
// staging subdirectory if they do not exist.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}
	tmp := filepath.Join(dir, "tmp")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}
	return &Store{dir: dir, tmpDir: tmp}, nil
}

// path returns the sharded on-disk path for a given 64-hex sha256,
// e.g. "AA/BB/CC.../RR" under Store.dir.
func (s *Store) path(shaHex string) (string, error) {
	if len(shaHex) != 64 {
		return "", errs.Wrap(errs.Validation, fmt.Errorf("%w: sha256 must be 64 hex chars, got %d", errs.ErrInvalidHex, len(shaHex)))
	}
	if _, err := hex.DecodeString(shaHex); err != nil {
		return "", errs.Wrap(errs.Validation, fmt.Errorf("%w: %v", errs.ErrInvalidHex, err))
	}
	segments := make([]string, 0, shardSegments+1)
	for i := 0; i < shardSegments; i++ {
		segments = append(segments, shaHex[i*2:i*2+2])
	}
	segments = append(segments, shaHex[shardSegments*2:])
	return filepath.Join(append([]string{s.dir}, segments...)...), nil
}

// Put streams r into the store, gzip-compressing as it writes to a
// temp file, and returns the SHA-256 of the uncompressed content.
// The temp file is atomically renamed into place on success so
// concurrent puts of identical content are safe: whichever rename
// lands last wins, and both wrote identical bytes.
func (s *Store) Put(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(s.tmpDir, "blob-*")
	if err != nil {
		return "", errs.Wrap(errs.Resource, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	gw := gzip.NewWriter(tmp)
	hasher := sha256.New()
	if _, err := io.Copy(gw, io.TeeReader(r, hasher)); err != nil {
		tmp.Close()
		return "", errs.Wrap(errs.Resource, err)
	}
	if err := gw.Close(); err != nil {
		tmp.Close()
		return "", errs.Wrap(errs.Resource, err)
	}
	if err := tmp.Close(); err != nil {
		return "", errs.Wrap(errs.Resource, err)
	}

	shaHex := hex.EncodeToString(hasher.Sum(nil))
	dest, err := s.path(shaHex)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", errs.Wrap(errs.Resource, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", errs.Wrap(errs.Resource, err)
	}
	return shaHex, nil
}

// Has reports whether a blob for shaHex exists on disk.
func (s *Store) Has(shaHex string) bool {
	p, err := s.path(shaHex)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Get opens the blob for shaHex and returns a decompressed stream of
// its content, optionally sliced to [offset, offset+length) of the
// *uncompressed* bytes. A zero length means "to end of file". The
// caller must Close the returned ReadCloser.
func (s *Store) Get(shaHex string, offset, length int64) (io.ReadCloser, error) {
	p, err := s.path(shaHex)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.NotFound, errs.ErrNotFound)
		}
		return nil, errs.Wrap(errs.Resource, err)
	}

	gr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.Integrity, err)
	}

	if offset > 0 {
		if _, err := io.CopyN(io.Discard, gr, offset); err != nil {
			gr.Close()
			f.Close()
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, errs.Wrap(errs.Validation, fmt.Errorf("%w: offset beyond blob size", errs.ErrBadRange))
			}
			return nil, errs.Wrap(errs.Resource, err)
		}
	}

	var body io.Reader = gr
	if length > 0 {
		body = io.LimitReader(gr, length)
	}
	return &gunzipCloser{Reader: body, gz: gr, file: f}, nil
}

type gunzipCloser struct {
	io.Reader
	gz   *gzip.Reader
	file *os.File
}

func (g *gunzipCloser) Close() error {
	gzErr := g.gz.Close()
	fileErr := g.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}

// Verify re-reads, decompresses, and hashes the blob stored for
// shaHex, reporting whether the recomputed digest matches.
func (s *Store) Verify(shaHex string) (bool, error) {
	r, err := s.Get(shaHex, 0, 0)
	if err != nil {
		return false, err
	}
	defer r.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return false, errs.Wrap(errs.Resource, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)) == shaHex, nil
}

// CompressedSize returns the on-disk (gzip-compressed) size of the
// blob for shaHex, used by callers validating a byte-range request
// against the underlying file size.
func (s *Store) CompressedSize(shaHex string) (int64, error) {
	p, err := s.path(shaHex)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.Wrap(errs.NotFound, errs.ErrNotFound)
		}
		return 0, errs.Wrap(errs.Resource, err)
	}
	return info.Size(), nil
}

// UncompressedSize decompresses the blob for shaHex fully to
// determine its uncompressed length, used by the challenge engine to
// pick segment offsets.
func (s *Store) UncompressedSize(shaHex string) (int64, error) {
	r, err := s.Get(shaHex, 0, 0)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return 0, errs.Wrap(errs.Resource, err)
	}
	return n, nil
}
