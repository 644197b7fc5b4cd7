// Package challenge implements a deterministic possession-proof
// protocol: a verifier picks a random seed, derives a fixed set of
// byte-segment offsets from it, and a holder must hash exactly those
// segments of the blob's decompressed bytes back.
package challenge

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"

	"storagemesh/blob"
	"storagemesh/errs"
)

// Default challenge parameters.
const (
	DefaultSegmentSize  = 1024
	DefaultSegmentCount = 10
	SeedSize            = 32
)

// Challenge is a fully-derived possession challenge: the exact byte
// offsets a holder must read and hash, in order.
type Challenge struct {
	StoreID     string  `json:"storeId"`
	Key         string  `json:"key"`
	Root        string  `json:"root"`
	SeedHex     string  `json:"seed"`
	SegmentSize int     `json:"segmentSize"`
	Segments    []int64 `json:"segments"`
}

// NewSeed returns 32 cryptographically random bytes, hex-encoded.
func NewSeed() (string, error) {
	buf := make([]byte, SeedSize)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.Wrap(errs.Resource, err)
	}
	return hex.EncodeToString(buf), nil
}

// Generate derives a Challenge from seedHex and the holder's claimed
// uncompressed file size:
//
//	r = SHA-256(seed) as a big integer
//	segments[i] = (r + i) mod (fileSize - segmentSize), for i in [0, segmentCount)
//
// fileSize shorter than segmentSize is rejected with file_too_small.
func Generate(storeID, key, root, seedHex string, fileSize int64, segmentSize, segmentCount int) (Challenge, error) {
	if fileSize < int64(segmentSize) {
		return Challenge{}, errs.Wrap(errs.Validation, errs.ErrFileTooSmall)
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return Challenge{}, errs.Wrap(errs.Validation, fmt.Errorf("%w: %v", errs.ErrInvalidHex, err))
	}

	digest := sha256.Sum256(seed)
	r := new(big.Int).SetBytes(digest[:])
	mod := big.NewInt(fileSize - int64(segmentSize))

	segments := make([]int64, segmentCount)
	i := new(big.Int)
	sum := new(big.Int)
	for idx := 0; idx < segmentCount; idx++ {
		i.SetInt64(int64(idx))
		sum.Add(r, i)
		sum.Mod(sum, mod)
		segments[idx] = sum.Int64()
	}

	return Challenge{
		StoreID:     storeID,
		Key:         key,
		Root:        root,
		SeedHex:     seedHex,
		SegmentSize: segmentSize,
		Segments:    segments,
	}, nil
}

// Respond opens the blob for contentSHA256Hex and, for each segment
// offset in order, reads exactly SegmentSize bytes from the
// decompressed stream into a running SHA-256 hash, returning the
// final digest hex.
func Respond(blobs *blob.Store, contentSHA256Hex string, c Challenge) (string, error) {
	h := sha256.New()
	for _, offset := range c.Segments {
		rc, err := blobs.Get(contentSHA256Hex, offset, int64(c.SegmentSize))
		if err != nil {
			return "", err
		}
		n, err := io.Copy(h, rc)
		closeErr := rc.Close()
		if err != nil {
			return "", errs.Wrap(errs.Resource, err)
		}
		if closeErr != nil {
			return "", errs.Wrap(errs.Resource, closeErr)
		}
		if n != int64(c.SegmentSize) {
			return "", errs.Wrap(errs.Integrity, errs.ErrBadRange)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify compares clientResp and serverResp in constant time.
func Verify(clientResp, serverResp string) bool {
	return subtle.ConstantTimeCompare([]byte(clientResp), []byte(serverResp)) == 1
}

// wireChallenge is the JSON-over-hex form persisted/transmitted for a
// Challenge.
type wireChallenge struct {
	StoreID     string `json:"storeId"`
	Key         string `json:"key"`
	Root        string `json:"root"`
	Seed        string `json:"seed"`
	SegmentSize int    `json:"segmentSize"`
	Segments    string `json:"segments"` // comma-joined decimal offsets, hex-safe transport
}

// Serialize encodes c as a JSON object with unknown-field protection
// on the reader side.
func Serialize(c Challenge) (string, error) {
	parts := make([]string, len(c.Segments))
	for i, s := range c.Segments {
		parts[i] = fmt.Sprintf("%d", s)
	}
	w := wireChallenge{
		StoreID:     c.StoreID,
		Key:         c.Key,
		Root:        c.Root,
		Seed:        c.SeedHex,
		SegmentSize: c.SegmentSize,
		Segments:    strings.Join(parts, ","),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", errs.Wrap(errs.Validation, err)
	}
	return string(data), nil
}

// Deserialize decodes a Serialize-produced string back into a
// Challenge, rejecting unknown fields.
func Deserialize(data string) (Challenge, error) {
	var w wireChallenge
	dec := json.NewDecoder(strings.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return Challenge{}, errs.Wrap(errs.Validation, err)
	}

	var segments []int64
	if w.Segments != "" {
		for _, p := range strings.Split(w.Segments, ",") {
			var v int64
			if _, err := fmt.Sscanf(p, "%d", &v); err != nil {
				return Challenge{}, errs.Wrap(errs.Validation, fmt.Errorf("malformed segment offset %q: %w", p, err))
			}
			segments = append(segments, v)
		}
	}

	return Challenge{
		StoreID:     w.StoreID,
		Key:         w.Key,
		Root:        w.Root,
		SeedHex:     w.Seed,
		SegmentSize: w.SegmentSize,
		Segments:    segments,
	}, nil
}
