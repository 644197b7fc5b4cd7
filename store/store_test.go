package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"storagemesh/chainiface"
)

func TestOpenCreatesLayoutAndPurgesTmp(t *testing.T) {
	root := t.TempDir()
	storeID := "66000000000000000000000000000000000000000000000000000000000000aa"

	dir := filepath.Join(root, storeID, "tmp")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale"), []byte("x"), 0o644))

	st, err := Open(root, storeID)
	require.NoError(t, err)
	require.Equal(t, storeID, st.ID)

	_, err = os.Stat(filepath.Join(dir, "stale"))
	require.True(t, os.IsNotExist(err))
}

func TestOpenRejectsMalformedStoreID(t *testing.T) {
	_, err := Open(t.TempDir(), "not-hex")
	require.Error(t, err)
}

func TestHeightDefaultsToZeroBeforeFirstSet(t *testing.T) {
	st, err := Open(t.TempDir(), "66000000000000000000000000000000000000000000000000000000000000aa")
	require.NoError(t, err)

	height, hash, err := st.Height()
	require.NoError(t, err)
	require.Equal(t, int64(0), height)
	require.Equal(t, "", hash)
}

func TestSetHeightThenHeightRoundTrips(t *testing.T) {
	st, err := Open(t.TempDir(), "66000000000000000000000000000000000000000000000000000000000000aa")
	require.NoError(t, err)

	require.NoError(t, st.SetHeight(1234, "deadbeef"))

	height, hash, err := st.Height()
	require.NoError(t, err)
	require.Equal(t, int64(1234), height)
	require.Equal(t, "deadbeef", hash)
}

func TestRefreshHeightCachesOldestChainRecord(t *testing.T) {
	storeID := "66000000000000000000000000000000000000000000000000000000000000aa"
	st, err := Open(t.TempDir(), storeID)
	require.NoError(t, err)

	driver := chainiface.NewMemDriver()
	driver.AppendRoot(storeID, "aa", 1000)
	driver.AppendRoot(storeID, "bb", 2000)

	require.NoError(t, st.RefreshHeight(context.Background(), driver))

	height, hash, err := st.Height()
	require.NoError(t, err)
	require.Equal(t, int64(1000), height)
	require.Equal(t, "aa", hash)
}

func TestRefreshHeightNoOpWhenChainHasNoHistory(t *testing.T) {
	storeID := "66000000000000000000000000000000000000000000000000000000000000aa"
	st, err := Open(t.TempDir(), storeID)
	require.NoError(t, err)

	require.NoError(t, st.RefreshHeight(context.Background(), chainiface.NewMemDriver()))

	height, hash, err := st.Height()
	require.NoError(t, err)
	require.Equal(t, int64(0), height)
	require.Equal(t, "", hash)
}

func TestKeyToPathAndPathToKeyRoundTrip(t *testing.T) {
	key := PathToKey("photos/2024/beach.jpg")
	path, err := KeyToPath(key)
	require.NoError(t, err)
	require.Equal(t, "photos/2024/beach.jpg", path)
}
