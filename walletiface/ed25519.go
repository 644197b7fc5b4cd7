package walletiface

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/ed25519"

	"storagemesh/errs"
)

// Ed25519Signer is an alternate reference Signer, kept alongside
// Secp256k1Signer purely to exercise both curve families the pack's
// examples depend on; production wallets are free to use either.
type Ed25519Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, err)
	}
	return &Ed25519Signer{pub: pub, priv: priv}, nil
}

func (s *Ed25519Signer) PublicKey() (string, error) {
	return hex.EncodeToString(s.pub), nil
}

func (s *Ed25519Signer) Sign(message []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.priv, message)), nil
}

// Ed25519Verifier checks an Ed25519Signer's signatures.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(publicKeyHex string, message []byte, signatureHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false, errs.Wrap(errs.Validation, fmt.Errorf("%w: %v", errs.ErrInvalidHex, err))
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return false, errs.Wrap(errs.Validation, fmt.Errorf("%w: wrong public key length", errs.ErrInvalidHex))
	}
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, errs.Wrap(errs.Validation, fmt.Errorf("%w: %v", errs.ErrInvalidHex, err))
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), message, sigBytes), nil
}
