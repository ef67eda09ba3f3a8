// Package app wires configuration, storage, domain services, and the HTTP
// server into a running process.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/jimmyweng/ecommerce-go/internal/domain/favorite"
	"github.com/jimmyweng/ecommerce-go/internal/domain/order"
	"github.com/jimmyweng/ecommerce-go/internal/domain/product"
	"github.com/jimmyweng/ecommerce-go/internal/handler"
	"github.com/jimmyweng/ecommerce-go/internal/storage/postgres"
	"github.com/jimmyweng/ecommerce-go/pkg/health"
	"github.com/jimmyweng/ecommerce-go/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.Int("read_replicas", len(cfg.ReadReplicaURLs)),
	)

	// PostgreSQL cluster + migrations on the primary.
	cluster, err := postgres.NewCluster(ctx, cfg.DatabaseURL, cfg.ReadReplicaURLs)
	if err != nil {
		return errors.Wrap(err, "create db cluster")
	}
	defer cluster.Close()

	if err := postgres.RunMigrations(ctx, cluster.Primary()); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return cluster.Primary().Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.SetReady(true)

	// Stores.
	userStore := postgres.NewUserStore(cluster)
	productStore := postgres.NewProductStore(cluster)
	orderStore := postgres.NewOrderStore(cluster)
	favoriteStore := postgres.NewFavoriteStore(cluster)

	// Domain services.
	productQueries := product.NewQueryService(productStore, cluster)
	productAdmin := product.NewAdminService(productStore, cluster, time.Now)
	checkoutSvc := order.NewCheckoutService(cluster, userStore, productStore, orderStore, time.Now)
	orderQueries := order.NewQueryService(cluster, userStore, orderStore)
	favoriteSvc := favorite.NewService(cluster, userStore, productStore, favoriteStore, time.Now)

	// HTTP handlers: health endpoints + API routes on one server.
	h := handler.NewHandler(productQueries, productAdmin, checkoutSvc, orderQueries, favoriteSvc)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "X-User-Email", "X-User-Role", "Idempotency-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.CorrelationID(),
			httpmiddleware.Instrument("shop-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
