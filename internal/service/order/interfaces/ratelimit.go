package interfaces

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 30 * time.Minute

type ipLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// RateLimiter 按客户端 IP 限流。放在 middleware.RealIP 之后使用。
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*ipLimiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{rps: rate.Limit(rps), burst: burst, limiters: make(map[string]*ipLimiter)}
}

func (l *RateLimiter) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst), last: now}
		l.limiters[ip] = entry
		// 顺带清理长期空闲的条目
		for key, other := range l.limiters {
			if now.Sub(other.last) > limiterIdleTTL {
				delete(l.limiters, key)
			}
		}
	}
	entry.last = now
	return entry.limiter
}

// Middleware 超过速率时返回 429。
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.get(remoteIP(r), time.Now()).Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "RateLimited", Message: "too many requests"})
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
