package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTokenBucket(t *testing.T) {
	now := time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(3, 60)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := l.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)

	// other clients have their own bucket
	ok, _ = l.Allow(ctx, "5.6.7.8")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, _ = l.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
}

func TestTokenBucket_EvictsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 2)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		ok, err := l.Allow(ctx, ip)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Len(t, l.state, 3)

	now = now.Add(30 * time.Second)
	_, _ = l.Allow(ctx, "10.0.0.1")
	_, _ = l.Allow(ctx, "10.0.0.1")
	ok, _ := l.Allow(ctx, "10.0.0.1")
	assert.False(t, ok, "drained bucket survives while not idle")
	assert.Len(t, l.state, 3)

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "10.0.0.9")
	assert.True(t, ok)
	assert.Len(t, l.state, 1)
	assert.Contains(t, l.state, "10.0.0.9")
}

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestRedisWindow(t *testing.T) {
	client, mr := setupRedis(t)
	now := time.Date(2024, 9, 2, 9, 0, 10, 0, time.UTC)
	l := NewRedisWindow(client, 2)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	key := "qrattend:ratelimit:1.2.3.4:28754460"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 2*time.Minute, mr.TTL(key))

	now = now.Add(time.Minute)
	ok, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisWindow_FailsOpen(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewRedisWindow(client, 1)
	l.now = func() time.Time { return time.Unix(600, 0) }

	mock.ExpectIncr("qrattend:ratelimit:1.2.3.4:10").SetErr(errors.New("connection refused"))

	ok, err := l.Allow(context.Background(), "1.2.3.4")
	assert.True(t, ok)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(NewTokenBucket(1, 1), zaptest.NewLogger(t)))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestRequestLoggerAndHeaders(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()), SecurityHeaders())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
