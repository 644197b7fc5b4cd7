// Package peerpool discovers peer addresses from a priority chain of
// sources, holds cooldown and weight state, and supports round-robin
// selection with retry-on-failure. Pool is an explicit struct with no
// package-level state, so a process can run independent pools for
// independent stores.
package peerpool

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"storagemesh/chainiface"
	"storagemesh/errs"
)

const (
	defaultWeight     = 1
	prioritizedWeight = 5
	defaultCooldown   = 5 * time.Minute
	defaultMaxRetries = 3
)

// peerState is the pool's bookkeeping for one address.
type peerState struct {
	weight        int
	connected     bool
	cooldownUntil time.Time
}

// Sources names the discovery priority chain: a configured trusted
// node, localhost, a fixed cluster alias, then introducer hosts (added
// as given, without DNS resolution) and on-chain epoch coin hints.
type Sources struct {
	TrustedNode     string
	Localhost       string
	ClusterAlias    string
	IntroducerHosts []string
	ChainDriver     chainiface.Driver
	StoreID         string
}

// Pool is an explicit, per-process peer pool.
type Pool struct {
	mu         sync.Mutex
	peers      map[string]*peerState
	available  []string
	cursor     int
	maxRetries int
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{peers: make(map[string]*peerState), maxRetries: defaultMaxRetries}
}

// WithMaxRetries overrides the default retry-on-failure budget.
func (p *Pool) WithMaxRetries(n int) *Pool {
	p.maxRetries = n
	return p
}

// Discover populates the pool from Sources in priority order: the
// trusted node, localhost, and cluster alias are added unconditionally
// (synchronously); introducer hosts are added concurrently, at most 8
// at a time, without any probe; chain-derived hints are fetched
// synchronously and skipped if the driver returns an error.
func (p *Pool) Discover(ctx context.Context, sources Sources) error {
	priority := []string{}
	if sources.TrustedNode != "" {
		priority = append(priority, sources.TrustedNode)
	}
	if sources.Localhost != "" {
		priority = append(priority, sources.Localhost)
	}
	if sources.ClusterAlias != "" {
		priority = append(priority, sources.ClusterAlias)
	}
	for _, addr := range priority {
		p.addPeer(addr, prioritizedWeight)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	var mu sync.Mutex
	for _, host := range sources.IntroducerHosts {
		host := host
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			mu.Lock()
			p.addPeer(host, defaultWeight)
			mu.Unlock()
			return nil
		})
	}

	if sources.ChainDriver != nil {
		hints, err := sources.ChainDriver.CoinHints(ctx, sources.StoreID)
		if err == nil {
			for _, hint := range hints {
				p.addPeer(hint.Address, defaultWeight)
			}
		}
	}

	return g.Wait()
}

func (p *Pool) addPeer(addr string, weight int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.peers[addr]; ok {
		return
	}
	p.peers[addr] = &peerState{weight: weight, connected: true}
	p.available = append(p.available, addr)
}

// reapCooldowns moves any address whose cooldown has expired back
// into available. Expiry is checked lazily, on the next call that
// needs an address, rather than on a timer.
func (p *Pool) reapCooldowns() {
	now := time.Now()
	presentInAvailable := make(map[string]bool, len(p.available))
	for _, a := range p.available {
		presentInAvailable[a] = true
	}
	for addr, st := range p.peers {
		if st.weight <= 0 {
			continue // evicted
		}
		if !st.cooldownUntil.IsZero() && now.After(st.cooldownUntil) && !presentInAvailable[addr] {
			st.cooldownUntil = time.Time{}
			st.connected = false
			p.available = append(p.available, addr)
		}
	}
}

// Next returns the next address in round-robin order, or false if
// none are available.
func (p *Pool) Next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reapCooldowns()
	if len(p.available) == 0 {
		return "", false
	}
	if p.cursor >= len(p.available) {
		p.cursor = 0
	}
	addr := p.available[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.available)
	return addr, true
}

// MarkFailure removes addr from available, adds it to cooldown, and
// decrements its weight. A peer whose weight reaches zero is evicted
// entirely.
func (p *Pool) MarkFailure(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.peers[addr]
	if !ok {
		return
	}
	st.weight--
	st.connected = false
	st.cooldownUntil = time.Now().Add(defaultCooldown)

	for i, a := range p.available {
		if a == addr {
			p.available = append(p.available[:i], p.available[i+1:]...)
			break
		}
	}
	if st.weight <= 0 {
		delete(p.peers, addr)
	}
}

// MarkSuccess nudges addr's weight up slightly on a successful
// operation.
func (p *Pool) MarkSuccess(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.peers[addr]; ok {
		st.weight++
		st.connected = true
	}
}

// Do invokes fn against successive peers from the pool, retrying on
// any error up to the pool's maxRetries, marking failures/successes
// as it goes. The error classification is deliberately coarse: any
// non-nil error from fn is treated as connection-level and counts
// against that peer.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, addr string) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		addr, ok := p.Next()
		if !ok {
			if lastErr != nil {
				return lastErr
			}
			return errs.Wrap(errs.Resource, errs.ErrNotFound)
		}
		err := fn(ctx, addr)
		if err == nil {
			p.MarkSuccess(addr)
			return nil
		}
		p.MarkFailure(addr)
		lastErr = err
	}
	return errs.Wrap(errs.Transient, lastErr)
}

// Snapshot returns the currently-available addresses sorted by name,
// for diagnostics/tests.
func (p *Pool) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.available))
	copy(out, p.available)
	sort.Strings(out)
	return out
}
