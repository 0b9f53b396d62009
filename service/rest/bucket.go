package rest

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"CordProject/logger"
)

const pendingQueueSize = 1024

type result struct {
	resp *Response
	err  error
}

type pending struct {
	ctx   context.Context
	req   *Request
	resCh chan result
}

// bucket is one rate-limit scope. A single worker goroutine drains the
// queue so requests sharing the key go out strictly FIFO; distinct buckets
// run their workers in parallel.
type bucket struct {
	key string

	mu        sync.Mutex
	limit     int
	remaining int
	resetAt   time.Time

	queue   chan *pending
	stopCh  chan struct{}
	inUse   int // guarded by the governor mutex, prune gate
	lastUse time.Time
}

func newBucket(key string, now time.Time) *bucket {
	return &bucket{
		key:       key,
		limit:     1,
		remaining: 1,
		queue:     make(chan *pending, pendingQueueSize),
		stopCh:    make(chan struct{}),
		lastUse:   now,
	}
}

// windowWait returns how long the worker must sleep before the next request
// may go out. Zero when budget remains or the window already reset.
func (b *bucket) windowWait(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining > 0 {
		return 0
	}
	if !now.Before(b.resetAt) {
		// window rolled over: restore the full budget until the next
		// response headers say otherwise
		b.remaining = b.limit
		return 0
	}
	return b.resetAt.Sub(now)
}

func (b *bucket) consume() {
	b.mu.Lock()
	if b.remaining > 0 {
		b.remaining--
	}
	b.mu.Unlock()
}

// syncHeaders folds X-RateLimit-* response headers into the bucket state.
func (b *bucket) syncHeaders(h http.Header) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v := h.Get("X-RateLimit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			b.limit = n
		}
	}
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			b.remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if sec, err := strconv.ParseFloat(v, 64); err == nil {
			b.resetAt = time.Unix(0, int64(sec*float64(time.Second)))
		}
	} else if v := h.Get("Retry-After"); v != "" {
		if sec, err := strconv.ParseFloat(v, 64); err == nil {
			b.resetAt = time.Now().Add(time.Duration(sec * float64(time.Second)))
		}
	}
}

func (b *bucket) deliver(p *pending, r result) {
	select {
	case p.resCh <- r:
	case <-p.ctx.Done():
		logger.Debugf("[rest] caller gone before delivery key=%s", b.key)
	}
}
