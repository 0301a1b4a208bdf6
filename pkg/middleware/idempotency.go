package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/response"
)

const (
	IdempotencyKeyHeader = "X-Idempotency-Key"
	IdempotencyKeyPrefix = "tcats:idempotency:"
)

type IdempotencyStatus string

const (
	StatusProcessing IdempotencyStatus = "processing"
	StatusCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord stores the outcome of a keyed request
type IdempotencyRecord struct {
	Status       IdempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code"`
	ResponseBody string            `json:"response_body"`
	CreatedAt    time.Time         `json:"created_at"`
}

// RedisClient is the subset of Redis the middleware needs
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// IdempotencyConfig configures Idempotency
type IdempotencyConfig struct {
	Redis RedisClient
	// TTL applies to completed records
	TTL time.Duration
	// ProcessingTTL bounds how long an in-flight marker blocks retries
	ProcessingTTL time.Duration
}

// Idempotency replays the stored response when a request repeats its
// X-Idempotency-Key. Requests without the header pass through untouched, and
// Redis failures fail open. Only 2xx responses are stored; other outcomes
// release the key so the caller can retry.
func Idempotency(cfg *IdempotencyConfig) gin.HandlerFunc {
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.ProcessingTTL == 0 {
		cfg.ProcessingTTL = 2 * time.Minute
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" || cfg.Redis == nil {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		hash := requestHash(c.Request.Method, c.Request.URL.Path, body)
		redisKey := IdempotencyKeyPrefix + key
		ctx := c.Request.Context()

		existing, err := getRecord(ctx, cfg.Redis, redisKey)
		if err != nil && !errors.Is(err, redis.Nil) {
			c.Next()
			return
		}
		if existing == nil {
			record := &IdempotencyRecord{Status: StatusProcessing, RequestHash: hash, CreatedAt: time.Now()}
			data, _ := json.Marshal(record)
			ok, err := cfg.Redis.SetNX(ctx, redisKey, string(data), cfg.ProcessingTTL).Result()
			if err != nil {
				c.Next()
				return
			}
			if !ok {
				// Another request holds the key. If its record cannot be read
				// it is treated as still in flight.
				existing, err = getRecord(ctx, cfg.Redis, redisKey)
				if err != nil {
					abortInProgress(c)
					return
				}
			}
		}
		if existing != nil {
			replay(c, existing, hash)
			return
		}

		rw := &capturingWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = rw
		c.Next()

		// The request context may already be cancelled here.
		saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			cfg.Redis.Del(saveCtx, redisKey)
			return
		}
		done := &IdempotencyRecord{
			Status:       StatusCompleted,
			RequestHash:  hash,
			ResponseCode: status,
			ResponseBody: rw.body.String(),
			CreatedAt:    time.Now(),
		}
		data, _ := json.Marshal(done)
		cfg.Redis.Set(saveCtx, redisKey, string(data), cfg.TTL)
	}
}

func replay(c *gin.Context, rec *IdempotencyRecord, hash string) {
	switch {
	case rec.RequestHash != hash:
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity,
			response.Body("IDEMPOTENCY_KEY_REUSED", "idempotency key already used with a different request"))
	case rec.Status == StatusProcessing:
		abortInProgress(c)
	default:
		c.Header("Idempotent-Replayed", "true")
		c.Data(rec.ResponseCode, "application/json; charset=utf-8", []byte(rec.ResponseBody))
		c.Abort()
	}
}

func abortInProgress(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusConflict,
		response.Body("REQUEST_IN_PROGRESS", "a request with this idempotency key is still being processed"))
}

type capturingWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func getRecord(ctx context.Context, client RedisClient, key string) (*IdempotencyRecord, error) {
	raw, err := client.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
