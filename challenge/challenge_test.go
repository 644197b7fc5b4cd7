package challenge

import (
	"crypto/sha256"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storagemesh/blob"
)

func TestGenerateSegmentsMatchZeroSeedDerivation(t *testing.T) {
	seedHex := strings.Repeat("00", 32)
	c, err := Generate("store", "66", "root", seedHex, 4096, 1024, 10)
	require.NoError(t, err)

	zero := make([]byte, 32)
	digest := sha256.Sum256(zero)
	r := new(big.Int).SetBytes(digest[:])
	mod := big.NewInt(3072)

	for i := 0; i < 10; i++ {
		want := new(big.Int).Add(r, big.NewInt(int64(i)))
		want.Mod(want, mod)
		require.Equal(t, want.Int64(), c.Segments[i])
	}
}

func TestGenerateRejectsFileTooSmall(t *testing.T) {
	seedHex := strings.Repeat("00", 32)
	_, err := Generate("store", "66", "root", seedHex, 100, 1024, 10)
	require.Error(t, err)
}

func TestRespondAndVerifyRoundTrip(t *testing.T) {
	blobs, err := blob.Open(t.TempDir())
	require.NoError(t, err)

	content := strings.Repeat("x", 4096)
	shaHex, err := blobs.Put(strings.NewReader(content))
	require.NoError(t, err)

	seedHex := strings.Repeat("00", 32)
	c, err := Generate("store", "66", "root", seedHex, int64(len(content)), 1024, 10)
	require.NoError(t, err)

	resp1, err := Respond(blobs, shaHex, c)
	require.NoError(t, err)
	resp2, err := Respond(blobs, shaHex, c)
	require.NoError(t, err)

	require.True(t, Verify(resp1, resp2))
	require.False(t, Verify(resp1, "deadbeef"))
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	seedHex := strings.Repeat("00", 32)
	c, err := Generate("store", "66", "root", seedHex, 4096, 1024, 10)
	require.NoError(t, err)

	data, err := Serialize(c)
	require.NoError(t, err)

	back, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, c, back)
}
