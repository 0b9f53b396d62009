package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	config "CordProject/global/config"
	"CordProject/logger"
	"CordProject/service/transport"
	"CordProject/tools/errs"
	"CordProject/tools/safe"
)

const (
	maxAttempts    = 5 // attempts per request under transport / 5xx failures
	maxResubmits   = 5 // 429 re-submits per request
	backoffBase    = time.Second
	backoffCap     = 30 * time.Second
	bucketIdleTTL  = 5 * time.Minute
	janitorCadence = time.Minute
)

// Request is one REST call. Body is fully rendered up front so the
// governor can replay it across retries.
type Request struct {
	Method      string
	Path        string // relative, e.g. "/channels/123/messages"
	ContentType string
	Body        []byte
	AuditReason string
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Governor admits REST requests under per-bucket and global rate limits.
// One admission path per bucket (FIFO worker), one process-wide lockout.
type Governor struct {
	cfg   *config.ClientConfig
	httpc *http.Client

	mu      sync.Mutex
	buckets map[string]*bucket

	globalMu    sync.Mutex
	globalUntil time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewGovernor(cfg *config.ClientConfig) *Governor {
	g := &Governor{
		cfg:     cfg,
		httpc:   transport.NewHTTPClient(),
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	safe.Go(g.janitor)
	return g
}

func (g *Governor) Close() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

func (g *Governor) now() time.Time { return g.cfg.Clock() }

// Do submits the request and blocks for its final outcome. Requests that
// share a bucket key are processed in submission order; distinct buckets
// proceed in parallel.
func (g *Governor) Do(ctx context.Context, req *Request) (*Response, error) {
	key := RouteKey(req.Method, req.Path)
	b := g.acquire(key)
	defer g.release(b)

	p := &pending{ctx: ctx, req: req, resCh: make(chan result, 1)}
	select {
	case b.queue <- p:
	case <-ctx.Done():
		return nil, errs.ErrTimeout.WrapMsg("enqueue", "route", key)
	}

	select {
	case r := <-p.resCh:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctxError(ctx, key)
	}
}

// acquire returns the bucket for key, creating it (and its worker) lazily.
// The inUse count keeps the janitor away while a caller holds a reference.
func (g *Governor) acquire(key string) *bucket {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buckets[key]
	if !ok {
		b = newBucket(key, g.now())
		g.buckets[key] = b
		safe.Go(func() { g.worker(b) })
	}
	b.inUse++
	b.lastUse = g.now()
	return b
}

func (g *Governor) release(b *bucket) {
	g.mu.Lock()
	b.inUse--
	b.lastUse = g.now()
	g.mu.Unlock()
}

func (g *Governor) worker(b *bucket) {
	for {
		select {
		case <-g.stopCh:
			return
		case <-b.stopCh:
			return
		case p := <-b.queue:
			g.process(b, p)
		}
	}
}

func (g *Governor) janitor() {
	t := time.NewTicker(janitorCadence)
	defer t.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-t.C:
			g.pruneIdle()
		}
	}
}

// pruneIdle discards buckets whose window elapsed and that nobody touched
// for bucketIdleTTL.
func (g *Governor) pruneIdle() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, b := range g.buckets {
		if b.inUse > 0 || len(b.queue) > 0 {
			continue
		}
		if now.Sub(b.lastUse) < bucketIdleTTL {
			continue
		}
		b.mu.Lock()
		windowOpen := now.Before(b.resetAt)
		b.mu.Unlock()
		if windowOpen {
			continue
		}
		delete(g.buckets, key)
		close(b.stopCh)
		logger.Debugf("[rest] pruned idle bucket key=%s", key)
	}
}

// process runs one request to completion: global gate, bucket window,
// attempt, retry policy.
func (g *Governor) process(b *bucket, p *pending) {
	attempts := 0  // transport + 5xx
	resubmits := 0 // 429

	for {
		if err := g.waitGlobal(p.ctx); err != nil {
			b.deliver(p, result{err: err})
			return
		}
		if d := b.windowWait(g.now()); d > 0 {
			if err := sleepCtx(p.ctx, d); err != nil {
				b.deliver(p, result{err: errs.ErrTimeout.WrapMsg("bucket wait", "route", b.key)})
				return
			}
			continue // re-check global after the window nap
		}
		b.consume()

		resp, err := g.attempt(p.ctx, p.req)
		if err != nil {
			if p.ctx.Err() != nil {
				b.deliver(p, result{err: ctxError(p.ctx, b.key)})
				return
			}
			attempts++
			if attempts >= maxAttempts {
				b.deliver(p, result{err: errs.ErrTransport.WrapMsg("giving up", "route", b.key, "err", err)})
				return
			}
			if serr := sleepCtx(p.ctx, backoff(attempts)); serr != nil {
				b.deliver(p, result{err: ctxError(p.ctx, b.key)})
				return
			}
			continue
		}

		b.syncHeaders(resp.Header)

		switch {
		case resp.Status == http.StatusTooManyRequests:
			retryAfter, global := retryInfo(resp)
			resubmits++
			if resubmits > maxResubmits {
				b.deliver(p, result{err: errs.ErrRateLimitExhausted.WrapMsg("", "route", b.key)})
				return
			}
			if global {
				g.lockGlobal(retryAfter)
				logger.Warnf("[rest] global lockout for %s", retryAfter)
			} else if serr := sleepCtx(p.ctx, retryAfter); serr != nil {
				b.deliver(p, result{err: ctxError(p.ctx, b.key)})
				return
			}
			continue

		case resp.Status >= 500:
			attempts++
			if attempts >= maxAttempts {
				b.deliver(p, result{resp: resp, err: errs.ErrHTTPStatus.WrapMsg("", "status", resp.Status, "route", b.key)})
				return
			}
			if serr := sleepCtx(p.ctx, backoff(attempts)); serr != nil {
				b.deliver(p, result{err: ctxError(p.ctx, b.key)})
				return
			}
			continue

		case resp.Status == http.StatusUnauthorized:
			b.deliver(p, result{resp: resp, err: errs.ErrAuthentication.WrapMsg("", "route", b.key)})
			return

		case resp.Status >= 400:
			b.deliver(p, result{resp: resp, err: errs.ErrHTTPStatus.WrapMsg(string(resp.Body), "status", resp.Status, "route", b.key)})
			return

		default:
			b.deliver(p, result{resp: resp})
			return
		}
	}
}

// attempt performs one wire round-trip under the per-attempt deadline.
func (g *Governor) attempt(ctx context.Context, req *Request) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	hreq, err := transport.NewRequest(actx, req.Method, g.cfg.APIBase+req.Path, req.ContentType, req.Body)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Authorization", "Bot "+g.cfg.Token)
	hreq.Header.Set("User-Agent", g.cfg.UserAgent)
	if req.AuditReason != "" {
		hreq.Header.Set("X-Audit-Log-Reason", req.AuditReason)
	}

	hres, err := g.httpc.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = hres.Body.Close() }()

	body, err := io.ReadAll(hres.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: hres.StatusCode, Header: hres.Header, Body: body}, nil
}

func (g *Governor) waitGlobal(ctx context.Context) error {
	for {
		g.globalMu.Lock()
		d := g.globalUntil.Sub(g.now())
		g.globalMu.Unlock()
		if d <= 0 {
			return nil
		}
		if err := sleepCtx(ctx, d); err != nil {
			return errs.ErrTimeout.WrapMsg("global lockout wait")
		}
	}
}

func (g *Governor) lockGlobal(d time.Duration) {
	until := g.now().Add(d)
	g.globalMu.Lock()
	if until.After(g.globalUntil) {
		g.globalUntil = until
	}
	g.globalMu.Unlock()
}

// GloballyLocked reports whether the process-wide lockout is active.
func (g *Governor) GloballyLocked() bool {
	g.globalMu.Lock()
	defer g.globalMu.Unlock()
	return g.globalUntil.After(g.now())
}

func retryInfo(resp *Response) (time.Duration, bool) {
	global := resp.Header.Get("X-RateLimit-Global") == "true"
	if v := resp.Header.Get("Retry-After"); v != "" {
		if sec, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(sec * float64(time.Second)), global
		}
	}
	var body struct {
		RetryAfter float64 `json:"retry_after"`
		Global     bool    `json:"global"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second)), global || body.Global
	}
	return time.Second, global
}

func backoff(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ctxError(ctx context.Context, route string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errs.ErrTimeout.WrapMsg("deadline exceeded", "route", route)
	}
	return errs.ErrTimeout.WrapMsg("canceled", "route", route)
}
