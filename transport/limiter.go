package transport

import (
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// peerLimiter enforces at most M requests per minute and at most 1
// concurrent in-flight request, per remote address.
type peerLimiter struct {
	tokens *rate.Limiter
	inUse  chan struct{} // capacity 1
}

func newPeerLimiter(requestsPerMinute int) *peerLimiter {
	return &peerLimiter{
		tokens: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute),
		inUse:  make(chan struct{}, 1),
	}
}

// limiterSet hands out one peerLimiter per host, created lazily.
type limiterSet struct {
	mu                sync.Mutex
	byHost            map[string]*peerLimiter
	requestsPerMinute int
}

func newLimiterSet(requestsPerMinute int) *limiterSet {
	return &limiterSet{byHost: make(map[string]*peerLimiter), requestsPerMinute: requestsPerMinute}
}

func (s *limiterSet) forURL(rawURL string) *peerLimiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.byHost[host]
	if !ok {
		l = newPeerLimiter(s.requestsPerMinute)
		s.byHost[host] = l
	}
	return l
}
