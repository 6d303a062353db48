package middlewares

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/clave-auth/clave/internal/observability/logger"
)

// WithRateLimit throttles requests per client identity (Basic auth client_id
// when present, remote address otherwise). Limiters are kept per key for the
// process lifetime; the map is small in practice since keys are registered
// clients.
func WithRateLimit(perSec float64, burst int) Middleware {
	var (
		mu       sync.Mutex
		limiters = map[string]*rate.Limiter{}
	)
	get := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(perSec), burst)
			limiters[key] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if id, _, ok := r.BasicAuth(); ok && id != "" {
				key = id
			}
			if !get(key).Allow() {
				logger.From(r.Context()).Warn("rate limit exceeded", logger.String("key", key))
				// Plain 429; the temporarily_unavailable protocol code is
				// reserved for storage timeouts.
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
