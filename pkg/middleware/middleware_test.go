package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeRedis is an in-memory RedisClient
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// lostRaceRedis reports the key as absent, then loses SetNX to another
// request whose record is unreadable by the time it is fetched again.
type lostRaceRedis struct {
	*fakeRedis
	gets     int
	reread   error
	released bool
}

func (f *lostRaceRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.gets++
	if f.gets == 1 || f.released {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult("", f.reread)
}

func (f *lostRaceRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(false, nil)
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{"generates new", ""},
		{"reuses existing", "existing-request-id-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestID())
			r.GET("/test", func(c *gin.Context) {
				c.String(http.StatusOK, GetRequestID(c))
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			headerID := w.Header().Get(RequestIDHeader)
			assert.NotEmpty(t, headerID)
			assert.Equal(t, headerID, w.Body.String())
			if tt.incoming != "" {
				assert.Equal(t, tt.incoming, headerID)
			}
		})
	}
}

func TestAccessLog_PassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), AccessLog(logger.NewNop()))
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func newIdempotentRouter(store RedisClient, calls *int, status int) *gin.Engine {
	r := gin.New()
	r.POST("/imports", Idempotency(&IdempotencyConfig{Redis: store}), func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"call": *calls})
	})
	return r
}

func doPost(r *gin.Engine, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/imports", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	store := newFakeRedis()
	calls := 0
	r := newIdempotentRouter(store, &calls, http.StatusCreated)

	first := doPost(r, "k1", `{"a":1}`)
	second := doPost(r, "k1", `{"a":1}`)

	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, calls)
}

func TestIdempotency_KeyReusedWithDifferentBody(t *testing.T) {
	store := newFakeRedis()
	calls := 0
	r := newIdempotentRouter(store, &calls, http.StatusCreated)

	doPost(r, "k1", `{"a":1}`)
	w := doPost(r, "k1", `{"a":2}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "IDEMPOTENCY_KEY_REUSED")
	assert.Equal(t, 1, calls)
}

func TestIdempotency_FailureReleasesKey(t *testing.T) {
	store := newFakeRedis()
	calls := 0
	r := newIdempotentRouter(store, &calls, http.StatusConflict)

	doPost(r, "k1", `{}`)
	doPost(r, "k1", `{}`)

	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestIdempotency_LostSetNXWithoutRecordIsInProgress(t *testing.T) {
	tests := []struct {
		name  string
		store *lostRaceRedis
	}{
		{"record read fails", &lostRaceRedis{fakeRedis: newFakeRedis(), reread: errors.New("connection reset")}},
		{"record released", &lostRaceRedis{fakeRedis: newFakeRedis(), released: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			r := newIdempotentRouter(tt.store, &calls, http.StatusCreated)

			w := doPost(r, "k1", `{"a":1}`)

			assert.Equal(t, http.StatusConflict, w.Code)
			assert.Contains(t, w.Body.String(), "REQUEST_IN_PROGRESS")
			assert.Zero(t, calls, "handler must not run without holding the key")
		})
	}
}

func TestIdempotency_NoHeaderPassesThrough(t *testing.T) {
	store := newFakeRedis()
	calls := 0
	r := newIdempotentRouter(store, &calls, http.StatusCreated)

	doPost(r, "", `{}`)
	doPost(r, "", `{}`)

	assert.Equal(t, 2, calls)
}
