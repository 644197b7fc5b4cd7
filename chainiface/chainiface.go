// Package chainiface defines the external blockchain driver contract
// the Coin/Root Oracle adapter wraps: the authoritative commit order
// for a store's root history comes from the chain, not from any local
// record. Reading chain state, coin sets, and epoch hints is
// delegated entirely to an implementation outside this module; this
// package only names the shape of that collaboration plus an
// in-memory fake for tests.
package chainiface

import "context"

// RootRecord is one entry in the authoritative on-chain root-history
// for a store (the locally derived `synced` flag belongs to
// oracle.Entry, not here).
type RootRecord struct {
	RootHex   string
	Timestamp int64 // unix seconds, as recorded on-chain
}

// CoinHint describes one on-chain coin relevant to peer discovery.
type CoinHint struct {
	Address string
	Epoch   int64
}

// Driver is the minimal read surface this module needs from an
// external chain client. Implementations own RPC/indexer access,
// retries, and chain-reorg handling; this module treats every
// returned slice as already-final/authoritative for its epoch.
type Driver interface {
	// RootHistory returns the ordered list of committed roots for
	// storeID, oldest first.
	RootHistory(ctx context.Context, storeID string) ([]RootRecord, error)

	// CoinHints returns peer address hints observed on-chain for the
	// current epoch.
	CoinHints(ctx context.Context, storeID string) ([]CoinHint, error)
}

// MemDriver is an in-memory Driver used by tests and local
// development; it is never a production chain client.
type MemDriver struct {
	Histories map[string][]RootRecord
	Hints     map[string][]CoinHint
}

// NewMemDriver returns an empty MemDriver.
func NewMemDriver() *MemDriver {
	return &MemDriver{
		Histories: make(map[string][]RootRecord),
		Hints:     make(map[string][]CoinHint),
	}
}

func (m *MemDriver) RootHistory(_ context.Context, storeID string) ([]RootRecord, error) {
	return append([]RootRecord(nil), m.Histories[storeID]...), nil
}

func (m *MemDriver) CoinHints(_ context.Context, storeID string) ([]CoinHint, error) {
	return append([]CoinHint(nil), m.Hints[storeID]...), nil
}

// AppendRoot records a new committed root for storeID, for test setup.
func (m *MemDriver) AppendRoot(storeID, rootHex string, timestamp int64) {
	m.Histories[storeID] = append(m.Histories[storeID], RootRecord{RootHex: rootHex, Timestamp: timestamp})
}
