// Package ranker measures latency and upload bandwidth for a
// candidate peer address set, orders them
// ascending-latency/descending-bandwidth, and exposes a cyclic
// "next best" iterator.
package ranker

import (
	"bytes"
	"context"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"storagemesh/transport"
)

// Measurement is one address's observed latency and bandwidth.
type Measurement struct {
	Address   string
	Latency   time.Duration // math.MaxInt64 nanoseconds (effectively Infinity) if unreachable
	Bandwidth float64       // bytes/second; 0 on failure
}

// probeBufferSize is the fixed upload payload size used to measure
// bandwidth: a 1 MiB buffer of known bytes.
const probeBufferSize = 1 << 20

// Unreachable is the latency value reported for a peer that could not
// be measured at all.
const Unreachable = time.Duration(math.MaxInt64)

// Measure probes every address in addrs concurrently and returns
// their latency/bandwidth.
func Measure(ctx context.Context, client *transport.Client, addrs []string) []Measurement {
	results := make([]Measurement, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			results[i] = Measurement{
				Address:   addr,
				Latency:   measureLatency(ctx, client, addr),
				Bandwidth: measureBandwidth(ctx, client, addr),
			}
		}(i, addr)
	}
	wg.Wait()
	return results
}

func measureLatency(ctx context.Context, client *transport.Client, addr string) time.Duration {
	start := time.Now()
	res, err := client.Head(ctx, addr+"/")
	if err != nil {
		return Unreachable
	}
	if res.Status == http.StatusMethodNotAllowed {
		// Peer rejects HEAD; retry with a plain GET of "/" instead (no
		// Range header is sent).
		start = time.Now()
		rc, err := client.Get(ctx, addr+"/")
		if err != nil {
			return Unreachable
		}
		rc.Close()
		return time.Since(start)
	}
	if res.Status >= 400 {
		return Unreachable
	}
	return time.Since(start)
}

func measureBandwidth(ctx context.Context, client *transport.Client, addr string) float64 {
	payload := bytes.Repeat([]byte{0x5a}, probeBufferSize)
	start := time.Now()
	err := client.PutStream(ctx, addr+"/upload", bytes.NewReader(payload), int64(len(payload)), nil)
	if err != nil {
		return 0
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(len(payload)) / elapsed
}

// Rank sorts measurements by ascending latency, tie-breaking by
// descending bandwidth, and returns the ordered list.
func Rank(measurements []Measurement) []Measurement {
	ranked := make([]Measurement, len(measurements))
	copy(ranked, measurements)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Latency != ranked[j].Latency {
			return ranked[i].Latency < ranked[j].Latency
		}
		return ranked[i].Bandwidth > ranked[j].Bandwidth
	})
	return ranked
}

// Cycle is a cyclic "next best" iterator over a ranked measurement
// list, wrapping modulo the set size.
type Cycle struct {
	mu     sync.Mutex
	ranked []Measurement
	cursor int
}

// NewCycle returns a Cycle starting at the best-ranked entry.
func NewCycle(ranked []Measurement) *Cycle {
	return &Cycle{ranked: ranked}
}

// Next returns the next address in rank order, wrapping around, and
// false if the cycle is empty.
func (c *Cycle) Next() (Measurement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ranked) == 0 {
		return Measurement{}, false
	}
	m := c.ranked[c.cursor]
	c.cursor = (c.cursor + 1) % len(c.ranked)
	return m, true
}
