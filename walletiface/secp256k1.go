package walletiface

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"storagemesh/errs"
)

// Secp256k1Signer is a reference Signer/Verifier pair used by the
// tests and by the meshctl push, pull and serve commands to exercise
// the ownership-signature header contract end-to-end. Its keypair is
// generated fresh per signer and never persisted.
type Secp256k1Signer struct {
	priv *secp256k1.PrivateKey
}

// NewSecp256k1Signer generates a fresh keypair.
func NewSecp256k1Signer() (*Secp256k1Signer, error) {
	priv, err := secp256k1.GeneratePrivateKeyFromRand(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}
	return &Secp256k1Signer{priv: priv}, nil
}

func (s *Secp256k1Signer) PublicKey() (string, error) {
	return hex.EncodeToString(s.priv.PubKey().SerializeCompressed()), nil
}

// Sign signs SHA-256(message) with ECDSA.
func (s *Secp256k1Signer) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig := ecdsa.Sign(s.priv, digest[:])
	return hex.EncodeToString(sig.Serialize()), nil
}

// Secp256k1Verifier checks a Secp256k1Signer's signatures given only
// the hex-encoded compressed public key.
type Secp256k1Verifier struct{}

func (Secp256k1Verifier) Verify(publicKeyHex string, message []byte, signatureHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false, errs.Wrap(errs.Validation, fmt.Errorf("%w: %v", errs.ErrInvalidHex, err))
	}
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, errs.Wrap(errs.Validation, fmt.Errorf("%w: %v", errs.ErrInvalidHex, err))
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false, errs.Wrap(errs.Validation, err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false, errs.Wrap(errs.Validation, err)
	}
	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pub), nil
}
