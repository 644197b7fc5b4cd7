// Package manifest implements the append-only generation manifest and
// per-generation snapshot files: a newline-separated manifest.dat
// ordering committed root hashes, and one JSON <root>.dat file per
// generation holding its leaf set and key->blob mapping.
package manifest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"storagemesh/errs"
	"storagemesh/merkle"
)

// FileEntry is one key's blob mapping inside a Generation.
//
// Hash is the leaf digest for this key (hex); Sha256 is the content
// hash of the blob (hex). Unknown JSON fields are rejected on decode.
type FileEntry struct {
	Hash   string `json:"hash"`
	Sha256 string `json:"sha256"`
}

// Generation is the full snapshot persisted as <root>.dat.
type Generation struct {
	Root   string               `json:"root"`
	Leaves []string             `json:"leaves"`
	Files  map[string]FileEntry `json:"files"`
}

// SentinelRoot is the all-zero root written for an empty generation.
var SentinelRoot = merkle.ZeroRoot

// SentinelRootHex is the 64-hex-character all-zero root.
var SentinelRootHex = merkle.ToHex(merkle.ZeroRoot)

// Manifest manages manifest.dat and the generation files beside it
// for a single store directory.
type Manifest struct {
	dir string
}

// Open returns a Manifest rooted at dir (a store's directory, the
// parent of manifest.dat and the <root>.dat files).
func Open(dir string) *Manifest {
	return &Manifest{dir: dir}
}

// Dir returns the store directory this Manifest is rooted at, for
// callers that need to coordinate with it directly (e.g. taking an
// advisory lock around a commit).
func (m *Manifest) Dir() string { return m.dir }

func (m *Manifest) manifestPath() string { return filepath.Join(m.dir, "manifest.dat") }

func (m *Manifest) generationPath(rootHex string) string {
	return filepath.Join(m.dir, rootHex+".dat")
}

// Roots reads manifest.dat and returns its root hashes in commit
// order, or an empty slice if the manifest does not exist yet.
func (m *Manifest) Roots() ([]string, error) {
	f, err := os.Open(m.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Resource, err)
	}
	defer f.Close()

	var roots []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		roots = append(roots, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}
	return roots, nil
}

// LatestRoot returns the last line of manifest.dat, or "" if the
// manifest has no commits yet.
func (m *Manifest) LatestRoot() (string, error) {
	roots, err := m.Roots()
	if err != nil {
		return "", err
	}
	if len(roots) == 0 {
		return "", nil
	}
	return roots[len(roots)-1], nil
}

// Commit appends rootHex to manifest.dat and writes gen as
// <rootHex>.dat, unless rootHex equals the current latest root and
// is not the empty sentinel, in which case commit is a no-op and
// ErrNoChangeToCommit is returned.
func (m *Manifest) Commit(rootHex string, gen Generation) error {
	latest, err := m.LatestRoot()
	if err != nil {
		return err
	}
	if latest == rootHex && rootHex != SentinelRootHex {
		return errs.Wrap(errs.Validation, errs.ErrNoChangeToCommit)
	}

	if err := m.writeGeneration(rootHex, gen); err != nil {
		return err
	}

	f, err := os.OpenFile(m.manifestPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.Resource, err)
	}
	defer f.Close()
	if _, err := f.WriteString(rootHex + "\n"); err != nil {
		return errs.Wrap(errs.Resource, err)
	}
	return nil
}

func (m *Manifest) writeGeneration(rootHex string, gen Generation) error {
	data, err := json.MarshalIndent(gen, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Validation, err)
	}
	tmp := m.generationPath(rootHex) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.Resource, err)
	}
	if err := os.Rename(tmp, m.generationPath(rootHex)); err != nil {
		return errs.Wrap(errs.Resource, err)
	}
	return nil
}

// HasGeneration reports whether <rootHex>.dat exists: a manifest
// entry without a generation file is only partially synced.
func (m *Manifest) HasGeneration(rootHex string) bool {
	_, err := os.Stat(m.generationPath(rootHex))
	return err == nil
}

// LoadGeneration reads and validates <rootHex>.dat, rejecting unknown
// JSON fields and checking that the persisted root matches the Merkle
// root recomputed from the persisted leaves (guards against on-disk
// corruption that should have failed validation at write time).
func (m *Manifest) LoadGeneration(rootHex string) (Generation, error) {
	var gen Generation
	data, err := os.ReadFile(m.generationPath(rootHex))
	if err != nil {
		if os.IsNotExist(err) {
			return gen, errs.Wrap(errs.NotFound, errs.ErrRootNotFound)
		}
		return gen, errs.Wrap(errs.Resource, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&gen); err != nil {
		return gen, errs.Wrap(errs.Validation, err)
	}

	if gen.Root != rootHex {
		return gen, errs.Wrap(errs.Integrity, fmt.Errorf("%w: filename root %s does not match embedded root %s", errs.ErrTreeRootMismatch, rootHex, gen.Root))
	}

	leaves := make([][merkle.DigestSize]byte, len(gen.Leaves))
	for i, lh := range gen.Leaves {
		d, err := merkle.DigestFromHex(lh)
		if err != nil {
			return gen, err
		}
		leaves[i] = d
	}
	recomputed := merkle.Build(leaves).RootHex()
	if recomputed != rootHex {
		// A genuinely empty tree hashes to merkle.ZeroRoot, not the
		// literal SHA-256 of zero bytes; writers must have written
		// SentinelRootHex in that case, which recomputed equals.
		return gen, errs.Wrap(errs.Integrity, fmt.Errorf("%w: recomputed root %s != %s", errs.ErrTreeRootMismatch, recomputed, rootHex))
	}

	return gen, nil
}
