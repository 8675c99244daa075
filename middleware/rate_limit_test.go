package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hit(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tours", nil)
	req.RemoteAddr = ip + ":40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := NewRateLimiter(client, 3, time.Hour, NewErrorHandler("production")).Middleware(okHandler())

	for i := 0; i < 3; i++ {
		rec := hit(h, "10.0.0.1")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := hit(h, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.Equal(t, "Too many requests from this IP, please try again in an hour!", decodeBody(t, rec)["message"])

	// other clients have their own window
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2").Code)

	// the window expires with the key
	assert.True(t, mr.TTL("ratelimit:10.0.0.1") > 0)
	mr.FastForward(time.Hour + time.Second)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1").Code)
}

func TestRateLimiter_FallsBackWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	h := NewRateLimiter(client, 2, time.Hour, NewErrorHandler("production")).Middleware(okHandler())

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1").Code)
}

func TestRateLimiter_Local(t *testing.T) {
	t.Parallel()

	h := NewRateLimiter(nil, 2, time.Hour, NewErrorHandler("production")).Middleware(okHandler())

	assert.Equal(t, http.StatusOK, hit(h, "192.168.1.5").Code)
	assert.Equal(t, http.StatusOK, hit(h, "192.168.1.5").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.168.1.5").Code)
	assert.Equal(t, http.StatusOK, hit(h, "192.168.1.6").Code)
}

func TestRateLimiter_LocalEvictionKeepsLimitedClients(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(nil, 2, time.Hour, NewErrorHandler("production"))
	h := l.Middleware(okHandler())
	hit(h, "172.16.0.9")
	hit(h, "172.16.0.9")
	require.Equal(t, http.StatusTooManyRequests, hit(h, "172.16.0.9").Code)

	for i := 0; len(l.local) < maxLocalLimiters; i++ {
		l.localLimiter(fmt.Sprintf("idle-%d", i))
	}

	assert.Equal(t, http.StatusOK, hit(h, "172.16.0.10").Code)
	assert.Len(t, l.local, 2, "only refilled buckets are dropped")
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "172.16.0.9").Code)
}
