package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/perkforge/redemption/internal/domain/promo"
	"github.com/perkforge/redemption/internal/domain/report"
	"github.com/perkforge/redemption/internal/storage/postgres"
	"github.com/perkforge/redemption/pkg/health"
	"github.com/perkforge/redemption/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the sweep loop and the probe server,
// and handles graceful shutdown. It is the single wiring point for the
// sweeper daemon.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.Duration("sweep_interval", cfg.Sweep.Interval))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Repositories and the reporting service that owns the sweep.
	catalogRepo := postgres.NewCatalogRepository(pool)
	reportRepo := postgres.NewReportRepository(pool)
	reportSvc := report.NewService(reportRepo, catalogRepo, promo.NewValidator(catalogRepo))

	// Sweep outcome metrics.
	meter := m.MeterProvider().Meter("redemption-sweeper")
	deactivated, err := meter.Int64Counter("promo.codes.deactivated",
		metric.WithDescription("Codes deactivated by the sweep"))
	if err != nil {
		return errors.Wrap(err, "create counter")
	}
	sweepRuns, err := meter.Int64Counter("promo.sweep.runs",
		metric.WithDescription("Deactivation sweep executions"))
	if err != nil {
		return errors.Wrap(err, "create counter")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.SetReady(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Sweep loop: run once at startup, then on every tick.
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)

		ticker := time.NewTicker(cfg.Sweep.Interval)
		defer ticker.Stop()

		runSweep(ctx, lg, reportSvc, deactivated, sweepRuns)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runSweep(ctx, lg, reportSvc, deactivated, sweepRuns)
			}
		}
	}()

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down probe server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Probe server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Probe server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "probe server")
	}
	<-shutdownDone
	<-sweepDone
	return nil
}

func runSweep(
	ctx context.Context,
	lg *zap.Logger,
	svc *report.Service,
	deactivated, sweepRuns metric.Int64Counter,
) {
	n, err := svc.DeactivateExpiredOrExhausted(ctx)
	sweepRuns.Add(ctx, 1)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		lg.Error("Deactivation sweep failed", zap.Error(err))
		return
	}

	deactivated.Add(ctx, n)
	if n > 0 {
		lg.Info("Deactivated expired or exhausted codes", zap.Int64("count", n))
	} else {
		lg.Debug("Deactivation sweep found nothing to do")
	}
}
