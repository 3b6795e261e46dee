package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ourhall/backend/internal/config"
	"github.com/ourhall/backend/internal/handler"
	"github.com/ourhall/backend/internal/logging"
	"github.com/ourhall/backend/internal/ratelimit"
	"github.com/ourhall/backend/internal/repository"
	"github.com/ourhall/backend/internal/service"
	"github.com/ourhall/backend/internal/storage"
	"github.com/ourhall/backend/pkg/auth"
	"github.com/ourhall/backend/pkg/paypal"
	pkgstripe "github.com/ourhall/backend/pkg/stripe"
	"github.com/shopspring/decimal"
)

const uploadURLPrefix = "/uploads"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logging is not configured yet
		logging.Setup("INFO")
		logging.Fatal("invalid configuration", "error", err)
	}
	logging.Setup(cfg.LogLevel)

	// 金額は JSON 数値として返す
	decimal.MarshalJSONWithoutQuotes = true

	ctx := context.Background()
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("failed to connect to database", "error", err)
	}
	defer pool.Close()

	campaignRepo := repository.NewPgCampaignRepository(pool)
	paymentRepo := repository.NewPgPaymentRepository(pool)
	aggregator := service.NewAggregator(repository.NewPgLedger(pool), service.AggregatorConfig{
		LastDonorsWindow: cfg.Aggregate.LastDonorsWindow,
		MaxAttempts:      uint(cfg.Aggregate.MaxAttempts),
	})

	store, err := newStorage(ctx, cfg)
	if err != nil {
		logging.Fatal("failed to set up image storage", "error", err)
	}

	limitStore, closeLimitStore, err := newRateLimitStore(ctx, cfg)
	if err != nil {
		logging.Fatal("failed to set up rate limit store", "error", err)
	}
	defer closeLimitStore()

	// Stripe / PayPal の認証情報が未設定の場合、クライアントは ErrNotConfigured を返す
	stripeClient := pkgstripe.NewClient(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	paypalClient := paypal.NewClient(cfg.PayPal.ClientID, cfg.PayPal.ClientSecret, cfg.PayPal.WebhookID, cfg.PayPal.APIBase)
	if cfg.Stripe.SecretKey == "" {
		slog.Warn("STRIPE_SECRET_KEY not set, Stripe checkout disabled")
	}
	if !cfg.PayPalEnabled() {
		slog.Warn("PayPal credentials not set, PayPal checkout disabled")
	}

	stripeService := service.NewStripeService(stripeClient, campaignRepo, paymentRepo, aggregator, cfg.FrontendURL)
	paypalService := service.NewPayPalService(paypalClient, campaignRepo, paymentRepo, aggregator, cfg.FrontendURL)
	campaignService := service.NewCampaignService(campaignRepo, paymentRepo, aggregator, store)
	manualService := service.NewManualDonationService(campaignRepo, aggregator)

	sweeper, err := service.NewCampaignSweeper(campaignRepo, cfg.CampaignSweepSchedule)
	if err != nil {
		logging.Fatal("invalid campaign sweep schedule", "error", err)
	}

	h := handler.New(pool, cfg.FrontendURL)
	stripeHandler := handler.NewStripeHandler(stripeService)
	paypalHandler := handler.NewPayPalHandler(paypalService)
	campaignHandler := handler.NewCampaignHandler(campaignService, manualService)
	imageHandler := handler.NewImageHandler(campaignService)

	adminIDs := auth.ParseAdminIDs(cfg.Auth.AdminUserIDs)
	var adminGate *auth.AdminGate
	if cfg.Auth.Required {
		adminGate = auth.NewAdminGate(auth.SessionSecretBytes(cfg.Auth.SessionSecret), adminIDs)
	} else {
		slog.Warn("AUTH_REQUIRED=false, admin endpoints use the dev identity")
		adminGate = auth.NewDevAdminGate(adminIDs)
	}
	wrapAdmin := func(next http.HandlerFunc) http.Handler {
		return adminGate.Wrap(next)
	}

	limiter := func(scope string) func(http.Handler) http.Handler {
		return handler.NewRateLimiter(limitStore, scope, cfg.RateLimit.PerMinute, time.Minute).Middleware
	}
	limitDonations := limiter("donations")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health)

	// 公開キャンペーン
	mux.HandleFunc("GET /api/campaigns/{id}", campaignHandler.Get)

	// 寄付（認証不要・レート制限あり）
	mux.Handle("POST /api/donations/checkout", limitDonations(http.HandlerFunc(stripeHandler.Checkout)))
	mux.Handle("POST /api/donations/confirm", limitDonations(http.HandlerFunc(stripeHandler.Confirm)))
	mux.Handle("POST /api/donations/paypal/order", limitDonations(http.HandlerFunc(paypalHandler.CreateOrder)))
	mux.Handle("POST /api/donations/paypal/capture", limitDonations(http.HandlerFunc(paypalHandler.Capture)))

	// Webhook（署名で検証するためレート制限しない）
	mux.HandleFunc("POST /api/webhooks/stripe", stripeHandler.Webhook)
	mux.HandleFunc("POST /api/webhooks/paypal", paypalHandler.Webhook)

	// 管理者
	mux.Handle("POST /api/admin/campaigns", wrapAdmin(campaignHandler.Create))
	mux.Handle("GET /api/admin/campaigns/{id}", wrapAdmin(campaignHandler.AdminGet))
	mux.Handle("PATCH /api/admin/campaigns/{id}/status", wrapAdmin(campaignHandler.UpdateStatus))
	mux.Handle("POST /api/admin/campaigns/{id}/rebuild", wrapAdmin(campaignHandler.Rebuild))
	mux.Handle("GET /api/admin/campaigns/{id}/payments", wrapAdmin(campaignHandler.ListPayments))
	mux.Handle("POST /api/admin/campaigns/{id}/donations", wrapAdmin(campaignHandler.RecordDonation))
	mux.Handle("POST /api/admin/campaigns/{id}/image", wrapAdmin(imageHandler.Upload))
	mux.Handle("DELETE /api/admin/campaigns/{id}/image", wrapAdmin(imageHandler.Delete))

	if cfg.Storage.Driver == config.StorageLocal {
		mux.Handle("GET "+uploadURLPrefix+"/", http.StripPrefix(uploadURLPrefix+"/", http.FileServer(http.Dir(cfg.Storage.UploadDir))))
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.RequestLogger(handler.SecurityHeaders(h.CORS(mux))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sweeper.Start()

	go func() {
		slog.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	sweeper.Stop(shutdownCtx)
	slog.Info("server stopped")
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.Storage.Driver == config.StorageS3 {
		return storage.NewS3Storage(ctx, cfg.Storage.S3Bucket, cfg.Storage.S3Region, cfg.Storage.S3PublicURL)
	}
	return storage.NewLocalStorage(cfg.Storage.UploadDir, uploadURLPrefix), nil
}

// newRateLimitStore uses Redis when REDIS_URL is set so that every instance
// shares one limit, and an in-process store otherwise.
func newRateLimitStore(ctx context.Context, cfg *config.Config) (ratelimit.Store, func(), error) {
	if cfg.RateLimit.RedisURL == "" {
		s := ratelimit.NewMemoryStore()
		return s, func() { _ = s.Close() }, nil
	}
	client, err := ratelimit.NewRedisClient(ctx, cfg.RateLimit.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("rate limit store: redis")
	return ratelimit.NewRedisStore(client), func() { _ = client.Close() }, nil
}
