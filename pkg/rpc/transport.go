package rpc

import (
	"net/http"
	"sync/atomic"
	"time"
)

// throttledTransport is an http.RoundTripper guarded by a token-bucket so a
// report run never exceeds the node's request budget.
type throttledTransport struct {
	base http.RoundTripper

	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time
}

func newThrottledTransport(base http.RoundTripper, rps, burst int) *throttledTransport {
	t := &throttledTransport{
		base:        base,
		maxTokens:   int64(burst),
		refillEvery: time.Second / time.Duration(rps),
	}
	t.tokens = t.maxTokens
	t.lastRefill.Store(time.Now())
	return t
}

// refill adds one token per elapsed refill period, up to the bucket size.
func (t *throttledTransport) refill() {
	last := t.lastRefill.Load().(time.Time)
	now := time.Now()
	elapsed := now.Sub(last)
	if elapsed < t.refillEvery {
		return
	}
	add := int64(elapsed / t.refillEvery)
	for add > 0 {
		cur := atomic.LoadInt64(&t.tokens)
		if cur >= t.maxTokens {
			break
		}
		if atomic.CompareAndSwapInt64(&t.tokens, cur, cur+1) {
			add--
		}
	}
	t.lastRefill.Store(now)
}

// tryAcquire takes a token if one is available.
func (t *throttledTransport) tryAcquire() bool {
	for {
		t.refill()
		cur := atomic.LoadInt64(&t.tokens)
		if cur <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&t.tokens, cur, cur-1) {
			return true
		}
	}
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for !t.tryAcquire() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.refillEvery / 2):
		}
	}
	return t.base.RoundTrip(req)
}
