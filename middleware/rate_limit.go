package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"go-tours/utils/errors"
)

const maxLocalLimiters = 10000

// RateLimiter admits at most Limit requests per Window per client IP. With
// Redis the window is a shared fixed window, without it every process keeps
// its own token buckets.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	eh     *ErrorHandler

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration, eh *ErrorHandler) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
		eh:     eh,
		local:  map[string]*rate.Limiter{},
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		remaining, ok := l.Allow(r.Context(), ip)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			l.eh.WriteError(w, r, errors.ErrTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow counts one request from ip and reports what is left of the window.
func (l *RateLimiter) Allow(ctx context.Context, ip string) (int, bool) {
	if l.client != nil {
		count, err := l.incr(ctx, ip)
		if err == nil {
			remaining := l.limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			return remaining, count <= int64(l.limit)
		}
		slog.Warn("Rate limit counter unavailable, using local limiter", "error", err)
	}
	lim := l.localLimiter(ip)
	ok := lim.Allow()
	return int(lim.Tokens()), ok
}

func (l *RateLimiter) incr(ctx context.Context, ip string) (int64, error) {
	key := "ratelimit:" + ip
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (l *RateLimiter) localLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.local[ip]
	if !ok {
		if len(l.local) >= maxLocalLimiters {
			l.evictLocked()
		}
		every := l.window / time.Duration(l.limit)
		lim = rate.NewLimiter(rate.Every(every), l.limit)
		l.local[ip] = lim
	}
	return lim
}

// evictLocked drops the buckets that have refilled completely, since they
// hold no more state than a new one. When every bucket is in use one is dropped
// so the map stays bounded without resetting the clients still being limited.
func (l *RateLimiter) evictLocked() {
	burst := float64(l.limit)
	for ip, lim := range l.local {
		if lim.Tokens() >= burst {
			delete(l.local, ip)
		}
	}
	for ip := range l.local {
		if len(l.local) < maxLocalLimiters {
			break
		}
		delete(l.local, ip)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
