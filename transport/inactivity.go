package transport

import (
	"io"
	"sync"
	"time"

	"storagemesh/errs"
)

// inactivityReader wraps a response body so that if no bytes are
// observed for `timeout`, the underlying connection is aborted and
// subsequent reads fail with errs.ErrTimeout.
type inactivityReader struct {
	body    io.ReadCloser
	timeout time.Duration
	onClose func()

	mu       sync.Mutex
	timedOut bool
	timer    *time.Timer
}

func newInactivityReader(body io.ReadCloser, timeout time.Duration, onClose func()) *inactivityReader {
	r := &inactivityReader{body: body, timeout: timeout, onClose: onClose}
	r.timer = time.AfterFunc(timeout, r.fire)
	return r
}

func (r *inactivityReader) fire() {
	r.mu.Lock()
	r.timedOut = true
	r.mu.Unlock()
	r.body.Close()
}

func (r *inactivityReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.timedOut {
		r.mu.Unlock()
		return 0, errs.Wrap(errs.Transient, errs.ErrTimeout)
	}
	r.mu.Unlock()

	n, err := r.body.Read(p)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timedOut {
		return n, errs.Wrap(errs.Transient, errs.ErrTimeout)
	}
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *inactivityReader) Close() error {
	r.timer.Stop()
	if r.onClose != nil {
		r.onClose()
	}
	return r.body.Close()
}
