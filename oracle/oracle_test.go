package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"storagemesh/chainiface"
	"storagemesh/manifest"
	"storagemesh/merkle"
)

func TestRefreshPopulatesHistoryAndSyncedFlag(t *testing.T) {
	dir := t.TempDir()
	m := manifest.Open(dir)

	gen := manifest.Generation{Root: merkle.ToHex(merkle.ZeroRoot), Leaves: nil, Files: map[string]manifest.FileEntry{}}
	require.NoError(t, m.Commit(gen.Root, gen))

	driver := chainiface.NewMemDriver()
	driver.AppendRoot("store1", gen.Root, 1000)
	driver.AppendRoot("store1", "aa", 2000)

	o := New("store1", driver, m, nil)
	require.NoError(t, o.Refresh(context.Background()))

	hist := o.History()
	require.Len(t, hist, 2)
	require.True(t, hist[0].Synced)
	require.False(t, hist[1].Synced)

	latest, ok := o.Latest()
	require.True(t, ok)
	require.Equal(t, "aa", latest.RootHex)
}

func TestRefreshRejectsDivergedManifest(t *testing.T) {
	dir := t.TempDir()
	m := manifest.Open(dir)

	gen := manifest.Generation{Root: merkle.ToHex(merkle.ZeroRoot), Leaves: nil, Files: map[string]manifest.FileEntry{}}
	require.NoError(t, m.Commit(gen.Root, gen))

	driver := chainiface.NewMemDriver()
	driver.AppendRoot("store1", "not-the-sentinel-root", 1000)

	o := New("store1", driver, m, nil)
	err := o.Refresh(context.Background())
	require.Error(t, err)
}
