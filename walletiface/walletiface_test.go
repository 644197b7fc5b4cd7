package walletiface

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storagemesh/wireformat"
)

func TestSecp256k1SignVerifyRoundTrip(t *testing.T) {
	signer, err := NewSecp256k1Signer()
	require.NoError(t, err)

	msg := wireformat.OwnershipMessage("abc123")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)

	pub, err := signer.PublicKey()
	require.NoError(t, err)

	ok, err := (Secp256k1Verifier{}).Verify(pub, msg, sig)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = (Secp256k1Verifier{}).Verify(pub, []byte("tampered"), sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	signer, err := NewEd25519Signer()
	require.NoError(t, err)

	msg := wireformat.OwnershipMessage("xyz789")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)

	pub, err := signer.PublicKey()
	require.NoError(t, err)

	ok, err := (Ed25519Verifier{}).Verify(pub, msg, sig)
	require.NoError(t, err)
	require.True(t, ok)
}
