package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimit caps requests per caller per minute. The caller is the
// authenticated user when present, otherwise the client IP. With Redis the
// window is shared across instances; without it each process keeps token
// buckets of its own.
func RateLimit(cache *redis.Client, perMinute int, logger *slog.Logger) fiber.Handler {
	if perMinute <= 0 {
		perMinute = 60
	}
	local := newLocalLimiter(perMinute)

	return func(c *fiber.Ctx) error {
		key := ActorFrom(c).UserID
		if key == "" {
			key = c.IP()
		}

		if cache == nil {
			if !local.allow(key) {
				return fiber.NewError(http.StatusTooManyRequests, "rate limit exceeded, try again later")
			}
			return c.Next()
		}

		window := time.Now().UTC().Truncate(time.Minute).Unix()
		redisKey := "rl:" + key + ":" + time.Unix(window, 0).UTC().Format("200601021504")
		var incr *redis.IntCmd
		_, err := cache.TxPipelined(c.UserContext(), func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(c.UserContext(), redisKey)
			pipe.Expire(c.UserContext(), redisKey, time.Minute)
			return nil
		})
		if err != nil {
			logger.Warn("rate limit lookup failed", slog.String("key", key), slog.Any("error", err))
			return c.Next() // fail open
		}
		if incr.Val() > int64(perMinute) {
			return fiber.NewError(http.StatusTooManyRequests, "rate limit exceeded, try again later")
		}
		return c.Next()
	}
}

type localLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newLocalLimiter(perMinute int) *localLimiter {
	return &localLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *localLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
