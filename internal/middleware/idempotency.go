package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/settle/internal/idempotency"
	"github.com/example/settle/internal/metrics"
)

const inFlightTTL = time.Minute

type IdempotencyConfig struct {
	Store   idempotency.Store
	TTL     time.Duration
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Idempotency replays the first successful response for a repeated
// Idempotency-Key. Only POST requests are considered and only 2xx
// responses are cached. A duplicate that arrives while the first request
// is still running gets 409 request_in_progress.
func Idempotency(cfg IdempotencyConfig) fiber.Handler {
	if cfg.TTL <= 0 {
		cfg.TTL = idempotency.DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}
		key := c.Get(idempotency.HeaderKey)
		if key == "" {
			return c.Next()
		}
		if !idempotency.ValidKey(key) {
			return abort(c, fiber.StatusBadRequest, "invalid_idempotency_key",
				"Idempotency-Key may only contain letters, digits, '-' and '_'")
		}

		owner := c.IP()
		if merchant, ok := GetCurrentMerchant(c); ok {
			owner = merchant.ID.String()
		}
		cacheKey := idempotency.CacheKey(owner, key)
		ctx := c.UserContext()

		if cached, err := cfg.Store.Get(ctx, cacheKey); err != nil {
			logger.Warn("idempotency lookup failed", zap.Error(err))
		} else if cached != nil {
			return replay(c, cached, cfg.Metrics)
		}

		locked, err := cfg.Store.Lock(ctx, cacheKey, inFlightTTL)
		if err != nil {
			logger.Warn("idempotency lock failed", zap.Error(err))
			return c.Next()
		}
		if !locked {
			return abort(c, fiber.StatusConflict, "request_in_progress",
				"A request with this Idempotency-Key is already being processed")
		}
		defer func() {
			if err := cfg.Store.Unlock(ctx, cacheKey); err != nil {
				logger.Warn("idempotency unlock failed", zap.Error(err))
			}
		}()

		// the first request may have finished between Get and Lock
		if cached, err := cfg.Store.Get(ctx, cacheKey); err == nil && cached != nil {
			return replay(c, cached, cfg.Metrics)
		}

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status < 200 || status >= 300 {
			return nil
		}
		resp := idempotency.Response{
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		if err := cfg.Store.Put(ctx, cacheKey, resp, cfg.TTL); err != nil {
			logger.Warn("idempotency store failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
}

func replay(c *fiber.Ctx, cached *idempotency.Response, m *metrics.Metrics) error {
	m.IdempotentReplay()
	if cached.ContentType != "" {
		c.Set(fiber.HeaderContentType, cached.ContentType)
	}
	c.Set(idempotency.HeaderReplayed, "true")
	return c.Status(cached.Status).Send(cached.Body)
}
