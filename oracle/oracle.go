// Package oracle caches the authoritative on-chain root-history for a
// store and refreshes it from an external chainiface.Driver, deriving
// the locally-computed `synced` flag (whether the generation file
// exists on disk) on top of the chain-ordered list. A refresh also
// updates the store's cached creation-height anchor, since both are
// derived from the same on-chain history.
package oracle

import (
	"context"
	"sync"

	"storagemesh/chainiface"
	"storagemesh/errs"
	"storagemesh/manifest"
	"storagemesh/store"
)

// Entry is one root-history record augmented with the locally
// observed sync state.
type Entry struct {
	RootHex   string
	Timestamp int64
	Synced    bool
}

// Oracle caches a store's root-history and keeps it refreshed from an
// external chain driver, validating that the local manifest remains a
// prefix of chain-ordered history.
type Oracle struct {
	storeID  string
	driver   chainiface.Driver
	manifest *manifest.Manifest
	store    *store.Store // optional; nil skips the height-cache refresh

	mu      sync.RWMutex
	history []Entry
}

// New returns an Oracle with an empty cache; call Refresh before
// reading. st may be nil if the caller does not want the store's
// height cache kept in sync with the refreshed history.
func New(storeID string, driver chainiface.Driver, m *manifest.Manifest, st *store.Store) *Oracle {
	return &Oracle{storeID: storeID, driver: driver, manifest: m, store: st}
}

// Refresh pulls the latest root-history from the chain driver,
// recomputes each entry's synced flag against the local manifest, and
// validates that the local manifest is a prefix of the refreshed
// history. If this Oracle was constructed with a store, its height
// cache is refreshed from the same driver afterward.
func (o *Oracle) Refresh(ctx context.Context) error {
	records, err := o.driver.RootHistory(ctx, o.storeID)
	if err != nil {
		return errs.Wrap(errs.Transient, err)
	}

	local, err := o.manifest.Roots()
	if err != nil {
		return err
	}

	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{
			RootHex:   r.RootHex,
			Timestamp: r.Timestamp,
			Synced:    o.manifest.HasGeneration(r.RootHex),
		}
	}

	if err := validatePrefix(local, entries); err != nil {
		return err
	}

	o.mu.Lock()
	o.history = entries
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.RefreshHeight(ctx, o.driver); err != nil {
			return err
		}
	}
	return nil
}

// validatePrefix checks local (manifest.dat's committed roots, in
// order) is a prefix of the chain-ordered entries.
func validatePrefix(local []string, entries []Entry) error {
	if len(local) > len(entries) {
		return errs.Wrap(errs.Integrity, errs.ErrDiverged)
	}
	for i, root := range local {
		if entries[i].RootHex != root {
			return errs.Wrap(errs.Integrity, errs.ErrDiverged)
		}
	}
	return nil
}

// History returns a copy of the cached root-history.
func (o *Oracle) History() []Entry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Entry, len(o.history))
	copy(out, o.history)
	return out
}

// Latest returns the newest cached entry, or the zero value and false
// if the cache is empty.
func (o *Oracle) Latest() (Entry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.history) == 0 {
		return Entry{}, false
	}
	return o.history[len(o.history)-1], true
}

// CoinHints passes through the chain driver's current peer hints for
// this store, consumed by peerpool discovery.
func (o *Oracle) CoinHints(ctx context.Context) ([]chainiface.CoinHint, error) {
	hints, err := o.driver.CoinHints(ctx, o.storeID)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, err)
	}
	return hints, nil
}
