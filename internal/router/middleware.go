package router

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kraikub/katrade-accounts/internal/response"
	"github.com/kraikub/katrade-accounts/pkg/utilities"
)

// RequestIDHeader carries the per-request id in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID reuses an incoming X-Request-ID or assigns a snowflake id, and
// echoes it on the response.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 64 {
				id = utilities.NewSnowflakeID()
			}
			w.Header().Set(RequestIDHeader, id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFrom returns the id assigned by RequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per remote IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// NewRateLimiter allows perMinute requests per IP with an equal burst.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perMinute) / 60,
		burst:    perMinute,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

func (rl *RateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	if len(rl.visitors) > 1024 {
		for k, other := range rl.visitors {
			if now.Sub(other.lastSeen) > rl.idle {
				delete(rl.visitors, k)
			}
		}
	}
	return v.limiter
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.get(ip).AllowN(rl.now(), 1)
}

// Middleware answers 429 once an IP has used up its bucket.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(remoteIP(r)) {
			w.Header().Set("Retry-After", "60")
			response.HandleErrResponse(w, http.StatusTooManyRequests, "Too many requests.", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
