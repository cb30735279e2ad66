package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/example/settle/internal/config"
	"github.com/example/settle/internal/handlers"
	"github.com/example/settle/internal/idempotency"
	"github.com/example/settle/internal/metrics"
	"github.com/example/settle/internal/middleware"
	"github.com/example/settle/internal/repository"
	"github.com/example/settle/internal/services"
)

// Dependencies are the wired services the HTTP layer fronts.
type Dependencies struct {
	Config      *config.Config
	Store       repository.Store
	Payments    *services.PaymentService
	Refunds     *services.RefundService
	Withdrawals *services.WithdrawalService
	Notifier    *services.WebhookNotifier
	APIKeys     *services.APIKeyService
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, d Dependencies) {
	authHandler := handlers.NewAuthHandler(d.APIKeys)
	paymentHandler := handlers.NewPaymentHandler(d.Payments)
	refundHandler := handlers.NewRefundHandler(d.Refunds)
	merchantHandler := handlers.NewMerchantHandler(d.Store, d.Notifier, d.Withdrawals, d.Logger)
	callbackHandler := handlers.NewProviderWebhookHandler(d.Payments, d.Config.LencoWebhookSecret, d.Logger)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	api := app.Group("/api")

	// Public routes
	api.Post("/auth/token", authHandler.Token)
	api.Post("/webhooks/lenco", callbackHandler.Lenco)

	// Merchant routes
	protected := api.Group("",
		middleware.AuthMiddleware(d.APIKeys),
		middleware.Idempotency(middleware.IdempotencyConfig{
			Store:   d.Idempotency,
			TTL:     d.Config.IdempotencyTTL,
			Metrics: d.Metrics,
			Logger:  d.Logger,
		}),
	)

	payments := protected.Group("/payments")
	payments.Post("/initialize", paymentHandler.Initialize)
	payments.Post("/process", paymentHandler.ProcessCard)
	payments.Post("/process-mobile-money", paymentHandler.ProcessMobileMoney)
	payments.Get("/:reference", paymentHandler.Get)

	refunds := protected.Group("/refunds")
	refunds.Post("/", refundHandler.Create)
	refunds.Get("/:reference", refundHandler.Get)

	protected.Get("/transactions", merchantHandler.Transactions)
	protected.Get("/merchant/balance", merchantHandler.Balance)
	protected.Post("/merchant/withdraw", merchantHandler.Withdraw)
	protected.Get("/webhooks/logs", merchantHandler.WebhookLogs)
	protected.Put("/webhooks/settings", merchantHandler.UpdateWebhookSettings)
}
