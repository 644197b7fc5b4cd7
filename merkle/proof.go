package merkle

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"storagemesh/errs"
)

// SerializedProof is the hex-JSON wire form of a proof: `{ key,
// rootHash, proof }` where proof is the concatenation of fixed-width
// 32-byte sibling digests, hex-encoded.
type SerializedProof struct {
	Key      string `json:"key"`
	RootHash string `json:"rootHash"`
	Proof    string `json:"proof"`
}

// Serialize encodes a proof for key under root as a SerializedProof
// JSON string.
func Serialize(keyHex, rootHex string, proof [][DigestSize]byte) (string, error) {
	buf := make([]byte, 0, len(proof)*DigestSize)
	for _, sibling := range proof {
		buf = append(buf, sibling[:]...)
	}
	sp := SerializedProof{
		Key:      keyHex,
		RootHash: rootHex,
		Proof:    hex.EncodeToString(buf),
	}
	out, err := json.Marshal(sp)
	if err != nil {
		return "", errs.Wrap(errs.Validation, err)
	}
	return string(out), nil
}

// Deserialize parses a SerializedProof JSON string back into its
// fields, splitting Proof into fixed-width 32-byte sibling digests.
func Deserialize(data string) (keyHex, rootHex string, proof [][DigestSize]byte, err error) {
	var sp SerializedProof
	dec := json.NewDecoder(strings.NewReader(data))
	dec.DisallowUnknownFields()
	if decErr := dec.Decode(&sp); decErr != nil {
		return "", "", nil, errs.Wrap(errs.Validation, decErr)
	}
	raw, decErr := hex.DecodeString(sp.Proof)
	if decErr != nil {
		return "", "", nil, errs.Wrap(errs.Validation, fmt.Errorf("%w: proof hex: %v", errs.ErrInvalidHex, decErr))
	}
	if len(raw)%DigestSize != 0 {
		return "", "", nil, errs.Wrap(errs.Validation, fmt.Errorf("%w: proof length %d not a multiple of %d", errs.ErrInvalidHex, len(raw), DigestSize))
	}
	steps := make([][DigestSize]byte, len(raw)/DigestSize)
	for i := range steps {
		copy(steps[i][:], raw[i*DigestSize:(i+1)*DigestSize])
	}
	return sp.Key, sp.RootHash, steps, nil
}

// DigestFromHex parses a 64-character hex digest string.
func DigestFromHex(s string) ([DigestSize]byte, error) {
	var out [DigestSize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, errs.Wrap(errs.Validation, fmt.Errorf("%w: %v", errs.ErrInvalidHex, err))
	}
	if len(raw) != DigestSize {
		return out, errs.Wrap(errs.Validation, fmt.Errorf("%w: expected %d bytes, got %d", errs.ErrInvalidHex, DigestSize, len(raw)))
	}
	copy(out[:], raw)
	return out, nil
}

// ToHex renders a digest as lowercase hex.
func ToHex(d [DigestSize]byte) string {
	return hex.EncodeToString(d[:])
}
