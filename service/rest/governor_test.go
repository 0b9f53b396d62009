package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	config "CordProject/global/config"
	"CordProject/tools/errs"

	"github.com/stretchr/testify/require"
)

func testCfg(base string) *config.ClientConfig {
	cfg := &config.ClientConfig{Token: "X", APIBase: base}
	cfg.Norm()
	cfg.APIBase = base
	return cfg
}

func TestGovernorBucketSerialization(t *testing.T) {
	var mu sync.Mutex
	var hits []time.Time
	window := 300 * time.Millisecond

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		reset := time.Now().Add(window)
		w.Header().Set("X-RateLimit-Limit", "1")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%.3f", float64(reset.UnixNano())/1e9))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := NewGovernor(testCfg(srv.URL))
	defer g.Close()

	const n = 4
	var wg sync.WaitGroup
	errsCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Do(context.Background(), &Request{Method: http.MethodPatch, Path: "/channels/290926798626357250"})
			errsCh <- err
		}()
		time.Sleep(20 * time.Millisecond) // keep submission order deterministic
	}
	wg.Wait()
	close(errsCh)
	for err := range errsCh {
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, n)
	for i := 1; i < n; i++ {
		gap := hits[i].Sub(hits[i-1])
		require.GreaterOrEqual(t, gap, window-50*time.Millisecond,
			"request %d went out before the window reset", i)
	}
}

func TestGovernorDistinctBucketsParallel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/channels/111111111111111111/messages" {
			<-release // hold the first bucket's worker
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGovernor(testCfg(srv.URL))
	defer g.Close()

	slowDone := make(chan struct{})
	go func() {
		_, _ = g.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/channels/111111111111111111/messages"})
		close(slowDone)
	}()

	// a different bucket must not wait behind the held one
	start := time.Now()
	_, err := g.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/channels/222222222222222222/messages"})
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)

	close(release)
	<-slowDone
}

func TestGovernorGlobalLockout(t *testing.T) {
	var mu sync.Mutex
	var aCount int
	var bAt time.Time
	var lockedAt time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels/111111111111111111/messages":
			mu.Lock()
			aCount++
			first := aCount == 1
			if first {
				lockedAt = time.Now()
			}
			mu.Unlock()
			if first {
				w.Header().Set("X-RateLimit-Global", "true")
				w.Header().Set("Retry-After", "0.5")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"retry_after": 0.5, "global": true}`))
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			mu.Lock()
			bAt = time.Now()
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	g := NewGovernor(testCfg(srv.URL))
	defer g.Close()

	aDone := make(chan error, 1)
	go func() {
		_, err := g.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/channels/111111111111111111/messages"})
		aDone <- err
	}()

	// wait for the lockout to take effect
	require.Eventually(t, g.GloballyLocked, 2*time.Second, 10*time.Millisecond)

	// a request on a different route must be held behind the lockout
	_, err := g.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/gateway/bot"})
	require.NoError(t, err)
	require.NoError(t, <-aDone)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, aCount, "the 429'd request must be re-submitted")
	require.GreaterOrEqual(t, bAt.Sub(lockedAt), 400*time.Millisecond,
		"second route escaped the global lockout")
}

func TestGovernorBucketLocal429Retries(t *testing.T) {
	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n <= 2 {
			w.Header().Set("Retry-After", "0.05")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGovernor(testCfg(srv.URL))
	defer g.Close()

	resp, err := g.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/gateway/bot"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	mu.Lock()
	require.Equal(t, 3, count)
	mu.Unlock()
}

func TestGovernorRateLimitExhausted(t *testing.T) {
	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.Header().Set("Retry-After", "0.01")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGovernor(testCfg(srv.URL))
	defer g.Close()

	_, err := g.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/gateway/bot"})
	require.Error(t, err)
	require.Equal(t, errs.CodeRateLimitExhausted, errs.Code(err))
	mu.Lock()
	require.Equal(t, maxResubmits+1, count)
	mu.Unlock()
}

func TestGovernor4xxSurfacesImmediately(t *testing.T) {
	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Unknown Channel"}`))
	}))
	defer srv.Close()

	g := NewGovernor(testCfg(srv.URL))
	defer g.Close()

	_, err := g.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/channels/111111111111111111"})
	require.Error(t, err)
	require.Equal(t, errs.CodeHTTPStatus, errs.Code(err))
	mu.Lock()
	require.Equal(t, 1, count, "4xx must not be retried")
	mu.Unlock()
}

func TestGovernor401IsAuthentication(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGovernor(testCfg(srv.URL))
	defer g.Close()

	_, err := g.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/gateway/bot"})
	require.Equal(t, errs.CodeAuthentication, errs.Code(err))
}

func TestGovernor5xxRetriesWithBackoff(t *testing.T) {
	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGovernor(testCfg(srv.URL))
	defer g.Close()

	start := time.Now()
	resp, err := g.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/gateway/bot"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.GreaterOrEqual(t, time.Since(start), backoffBase)
	mu.Lock()
	require.Equal(t, 2, count)
	mu.Unlock()
}

func TestGovernorCallerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGovernor(testCfg(srv.URL))
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := g.Do(ctx, &Request{Method: http.MethodGet, Path: "/gateway/bot"})
	require.Equal(t, errs.CodeTimeout, errs.Code(err))
}

func TestGovernorAuthHeaders(t *testing.T) {
	var gotAuth, gotUA, gotReason string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotReason = r.Header.Get("X-Audit-Log-Reason")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGovernor(testCfg(srv.URL))
	defer g.Close()

	_, err := g.Do(context.Background(), &Request{
		Method:      http.MethodDelete,
		Path:        "/channels/111111111111111111",
		AuditReason: "cleanup",
	})
	require.NoError(t, err)
	require.Equal(t, "Bot X", gotAuth)
	require.Contains(t, gotUA, "DiscordBot")
	require.Equal(t, "cleanup", gotReason)
}
