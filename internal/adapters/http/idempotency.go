package httpadapter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mpetrenko/document-vault/internal/core/domain"
	"github.com/mpetrenko/document-vault/internal/core/ports"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyCachedHeader = "X-Idempotency-Cached"
	maxIdempotencyKeyLength = 128
)

// IdempotencyGuard replays cached responses for retried keyed requests. Only
// successful (2xx) responses are cached; a failed request may be retried with
// the same key and will execute again. Lookup-and-store is atomic per key, so
// two concurrent retries cannot both run the guarded operation.
type IdempotencyGuard struct {
	store ports.IdempotencyStore
	ttl   time.Duration
	log   *slog.Logger
	onHit func()

	mu      sync.Mutex
	latches map[string]*latch
}

type latch struct {
	mu   sync.Mutex
	refs int
}

func NewIdempotencyGuard(store ports.IdempotencyStore, ttl time.Duration, log *slog.Logger, onHit func()) *IdempotencyGuard {
	return &IdempotencyGuard{
		store:   store,
		ttl:     ttl,
		log:     log,
		onHit:   onHit,
		latches: make(map[string]*latch),
	}
}

func (g *IdempotencyGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		if token == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if len(token) > maxIdempotencyKeyLength {
			writeError(w, domain.WrapError(domain.ErrInvalidInput, "idempotency key",
				errors.New("key exceeds 128 characters")))
			return
		}

		key := requestKey(r.Method, r.URL.Path, token)
		unlock := g.lock(key)
		defer unlock()

		now := time.Now().UTC()
		rec, err := g.store.Get(r.Context(), key, now)
		if err != nil {
			g.log.Warn("idempotency_lookup_failed", "error", err)
		}
		if rec != nil {
			g.replay(w, token, rec)
			return
		}

		// Every keyed response echoes the token and states whether it came
		// from the cache.
		w.Header().Set(idempotencyKeyHeader, token)
		w.Header().Set(idempotencyCachedHeader, "false")

		recorder := &bufferingRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		if recorder.statusCode < 200 || recorder.statusCode >= 300 {
			return
		}
		stored := domain.IdempotencyRecord{
			StatusCode:  recorder.statusCode,
			Body:        recorder.body.Bytes(),
			Header:      captureHeaders(recorder.Header()),
			CompletedAt: now,
			ExpiresAt:   now.Add(g.ttl),
		}
		// The response already went to the client; a store failure only costs
		// dedup of a later retry.
		if err := g.store.Put(context.WithoutCancel(r.Context()), key, stored); err != nil {
			g.log.Warn("idempotency_store_failed", "error", err)
		}
	})
}

func (g *IdempotencyGuard) replay(w http.ResponseWriter, token string, rec *domain.IdempotencyRecord) {
	for name, values := range rec.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(idempotencyKeyHeader, token)
	w.Header().Set(idempotencyCachedHeader, "true")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Body)
	if g.onHit != nil {
		g.onHit()
	}
}

// lock serializes all requests carrying the same key. The latch is reference
// counted so the map does not grow with dead keys.
func (g *IdempotencyGuard) lock(key string) func() {
	g.mu.Lock()
	l, ok := g.latches[key]
	if !ok {
		l = &latch{}
		g.latches[key] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.latches, key)
		}
		g.mu.Unlock()
	}
}

// requestKey scopes the client token to method and path, so the same token
// against different endpoints never collides.
func requestKey(method, path, token string) string {
	sum := sha256.Sum256([]byte(method + "\n" + path + "\n" + token))
	return hex.EncodeToString(sum[:])
}

func captureHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		if name == requestIDHeader || name == idempotencyKeyHeader || name == idempotencyCachedHeader {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// bufferingRecorder writes through to the client while keeping a copy of the
// body for the idempotency cache.
type bufferingRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (w *bufferingRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *bufferingRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
