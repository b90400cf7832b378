package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicops/clinic/internal/config"
	"github.com/clinicops/clinic/internal/domain/scheduling"
	"github.com/clinicops/clinic/internal/platform/auth"
	"github.com/clinicops/clinic/internal/platform/db"
	"github.com/clinicops/clinic/internal/platform/middleware"
	"github.com/clinicops/clinic/internal/platform/notification"
	"github.com/clinicops/clinic/internal/platform/telemetry"
)

// stores holds the repositories selected by STORE. pool is nil for the
// in-memory store.
type stores struct {
	slots scheduling.SlotRepository
	appts scheduling.AppointmentRepository
	pool  *pgxpool.Pool
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		return &stores{
			slots: scheduling.NewSlotRepoMem(),
			appts: scheduling.NewAppointmentRepoMem(),
		}, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &stores{
		slots: scheduling.NewSlotRepoPG(pool),
		appts: scheduling.NewAppointmentRepoPG(pool),
		pool:  pool,
	}, nil
}

// services is the wired scheduling core.
type services struct {
	inventory   *scheduling.SlotInventory
	lifecycle   *scheduling.AppointmentLifecycle
	guard       *scheduling.ConsistencyGuard
	coordinator *scheduling.BookingCoordinator
}

func newServices(cfg *config.Config, st *stores, publisher notification.Publisher, logger zerolog.Logger, m *telemetry.SchedulingMetrics) *services {
	inv := scheduling.NewSlotInventory(st.slots, scheduling.InventoryConfig{
		Granularity: cfg.SlotGranularity(),
		Concurrency: cfg.SlotBatchConcurrency,
	}, m)
	life := scheduling.NewAppointmentLifecycle(st.appts)
	guard := scheduling.NewConsistencyGuard(inv, logger, m)
	return &services{
		inventory:   inv,
		lifecycle:   life,
		guard:       guard,
		coordinator: scheduling.NewBookingCoordinator(inv, life, guard, publisher, logger, m),
	}
}

// buildPublisher selects the event sink named by EVENTS_BACKEND.
func buildPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (notification.Publisher, error) {
	switch cfg.EventsBackend {
	case config.EventsLog:
		return notification.NewLogPublisher(logger), nil
	case config.EventsRedis:
		p, err := notification.NewRedisPublisher(cfg.RedisURL, cfg.EventsStream)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			// Events are best-effort; keep serving and let Publish report failures.
			logger.Warn().Err(err).Msg("redis event stream unreachable at startup")
		}
		return p, nil
	case config.EventsKafka:
		return notification.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		return notification.NopPublisher{}, nil
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }

// newServer builds the echo instance with every route and middleware.
func newServer(cfg *config.Config, svc *services, st *stores, logger zerolog.Logger, reg *prometheus.Registry) *echo.Echo {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	httpMetrics := telemetry.NewHTTPMetrics(reg)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(httpMetrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Health and metrics stay outside auth.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "store": cfg.Store})
	})
	if st.pool != nil {
		e.GET("/health/db", db.HealthHandler(st.pool, db.PoolStatsFunc(st.pool)))
	}
	e.GET("/metrics", telemetry.Handler(reg))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	apiV1 := e.Group("/api/v1",
		middleware.RequestTimeout(cfg.RequestTimeout),
		authMW,
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}),
	)
	scheduling.NewHandler(svc.inventory, svc.lifecycle, svc.coordinator, svc.guard).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()
	logger.Info().Str("store", cfg.Store).Msg("store ready")

	publisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start event publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("event publisher close failed")
		}
	}()
	logger.Info().Str("backend", cfg.EventsBackend).Msg("event publisher ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc := newServices(cfg, st, publisher, logger, telemetry.NewSchedulingMetrics(reg))
	e := newServer(cfg, svc, st, logger, reg)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func printBatch(cmd *cobra.Command, result *scheduling.BatchResult) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-36s %-10s %-5s %s\n", "SLOT", "DATE", "TIME", "RESULT")
	for _, sl := range result.Created {
		fmt.Fprintf(out, "%-36s %-10s %-5s %s\n", sl.ID, sl.Date, sl.Time, "created")
	}
	for _, f := range result.Failed {
		fmt.Fprintf(out, "%-36s %-10s %-5s %s\n", "-", f.Request.Date, f.Request.Time, f.Reason)
	}
	fmt.Fprintf(out, "Created %d slot(s), %d failed.\n", len(result.Created), len(result.Failed))
	if len(result.Created) == 0 && len(result.Failed) > 0 {
		return fmt.Errorf("no slots created")
	}
	return nil
}
