package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (s *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value.(string)
	return true, nil
}

func (s *memoryStore) IdempotencyKey(scope, id string) string {
	return "test:idempotency:" + scope + ":" + id
}

func newIdempotencyHandler(store *memoryStore, calls *int) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"s-1"}}`))
	})
	return Idempotency(store, time.Hour, nil)(inner)
}

func TestIdempotencyRequiresHeaderOnGuardedRoute(t *testing.T) {
	handler := newIdempotencyHandler(newMemoryStore(), new(int))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", strings.NewReader(`{}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	handler := newIdempotencyHandler(store, &calls)

	body := `{"account_id":"a"}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "settle-1")
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)

		require.Equal(t, http.StatusCreated, res.Code)
		require.Contains(t, res.Body.String(), "s-1")
	}

	require.Equal(t, 1, calls)
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	handler := newIdempotencyHandler(store, &calls)

	first := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", strings.NewReader(`{"n":1}`))
	first.Header.Set("Idempotency-Key", "settle-2")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, first)
	require.Equal(t, http.StatusCreated, res.Code)

	second := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", strings.NewReader(`{"n":2}`))
	second.Header.Set("Idempotency-Key", "settle-2")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, second)

	require.Equal(t, http.StatusConflict, res.Code)
	require.Equal(t, 1, calls)
}

func TestIdempotencyDoesNotCacheServerErrors(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"s-1"}}`))
	})
	handler := Idempotency(store, time.Hour, nil)(inner)

	for i, want := range []int{http.StatusServiceUnavailable, http.StatusCreated} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", strings.NewReader(`{"n":1}`))
		req.Header.Set("Idempotency-Key", "settle-3")
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)

		require.Equal(t, want, res.Code, "attempt %d", i)
	}

	require.Equal(t, 2, calls)

	// The successful response is now the cached one.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", strings.NewReader(`{"n":1}`))
	req.Header.Set("Idempotency-Key", "settle-3")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusCreated, res.Code)
	require.Equal(t, 2, calls)
}

func TestIdempotencySkipsUnguardedRoutes(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	handler := newIdempotencyHandler(store, &calls)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/deposit", strings.NewReader(`{}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusCreated, res.Code)
	require.Equal(t, 1, calls)
	require.Empty(t, store.values)
}

func TestIdempotencyNilStorePassesThrough(t *testing.T) {
	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})
	handler := Idempotency(nil, time.Hour, nil)(inner)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusCreated, res.Code)
	require.Equal(t, 1, calls)
}
