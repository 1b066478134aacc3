package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimit allows maxRequests per client IP in each fixed window, counted
// in Redis so every instance shares the budget. Redis failures let the
// request through. X-Forwarded-For is only read from proxies.
func RateLimit(rdb redis.UniversalClient, prefix string, maxRequests int, window time.Duration, proxies ProxyList) func(http.Handler) http.Handler {
	if rdb == nil {
		panic("redis client cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 || window <= 0 {
		panic("RateLimit requires a positive limit and window")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := prefix + "ratelimit:" + proxies.ClientIP(r)

			pipe := rdb.TxPipeline()
			incr := pipe.Incr(ctx, key)
			pipe.ExpireNX(ctx, key, window)
			if _, err := pipe.Exec(ctx); err != nil {
				logrus.WithError(err).Warn("RateLimit: redis pipeline failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			count := incr.Val()
			remaining := int64(maxRequests) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(maxRequests) {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				writeJSONError(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
