package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bsm/redislock"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/carbonnexus/orchestrator/internal/analytics"
	"github.com/carbonnexus/orchestrator/internal/analytics/baseline"
	"github.com/carbonnexus/orchestrator/internal/analytics/hotspot"
	"github.com/carbonnexus/orchestrator/internal/analytics/severity"
	"github.com/carbonnexus/orchestrator/internal/api/rest"
	"github.com/carbonnexus/orchestrator/internal/audit"
	"github.com/carbonnexus/orchestrator/internal/cache"
	"github.com/carbonnexus/orchestrator/internal/config"
	"github.com/carbonnexus/orchestrator/internal/db"
	"github.com/carbonnexus/orchestrator/internal/integration/events"
	"github.com/carbonnexus/orchestrator/internal/integration/oracle"
	"github.com/carbonnexus/orchestrator/internal/integration/prediction"
	"github.com/carbonnexus/orchestrator/internal/integration/recommendation"
	"github.com/carbonnexus/orchestrator/internal/middleware"
	"github.com/carbonnexus/orchestrator/internal/realtime"
	"github.com/carbonnexus/orchestrator/internal/scheduler"
	"github.com/carbonnexus/orchestrator/internal/workflow"
)

// serviceName is the gRPC health service name reported by the orchestrator.
const serviceName = "carbonnexus.orchestrator"

// Server owns every long-lived component of the orchestrator.
type Server struct {
	cfg *config.Config
	log *zap.Logger

	store     db.Store
	redis     *redis.Client
	audit     audit.Logger
	detector  hotspot.Detector
	pipeline  *analytics.Pipeline
	resolver  *baseline.Resolver
	scheduler *scheduler.Scheduler
	broadcast *realtime.Broadcaster
	alerts    *events.Publisher
	limiter   *middleware.RateLimiter

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

// New builds the orchestrator from cfg. Close releases what New opened.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, log: log}
	if err := s.initializeComponents(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return s, nil
}

func (s *Server) initializeComponents() error {
	cfg := s.cfg

	// 1. Storage and audit trail
	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = store

	s.audit, err = audit.NewLogger(store, &audit.Config{
		AuditLogPath: cfg.Logging.AuditLogPath,
		MaxSize:      cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAge:       cfg.Logging.MaxAgeDays,
	}, s.log)
	if err != nil {
		return fmt.Errorf("audit logger: %w", err)
	}

	// 2. Redis backs the baseline cache and the scheduler leases
	var locker *redislock.Client
	if cfg.Redis.Address != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		locker = redislock.New(s.redis)
	}

	var baselineCache cache.Cache
	if cfg.Cache.EnableCaching {
		if s.redis != nil {
			baselineCache = cache.NewRedis(s.redis, "carbonnexus:")
		} else {
			baselineCache = cache.NewMemory()
		}
	}
	s.resolver = baseline.NewResolver(store, store, baselineCache, baseline.Options{
		Window:   cfg.Analytics.BaselineWindow,
		Default:  cfg.Analytics.DefaultBaseline,
		CacheTTL: time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	}, s.log)

	// 3. Oracles
	predictor := prediction.NewClient(oracleConfig("prediction", cfg.Prediction.BaseURL,
		cfg.Prediction.TimeoutSeconds, cfg.Prediction.BreakerFailures, cfg.Prediction.BreakerTimeoutSeconds), s.log)

	// 4. Fan-out: websocket topics and the Kafka alert bus
	s.broadcast = realtime.NewBroadcaster(0, s.log)
	s.alerts, err = events.NewPublisher(events.Config{
		Enabled: cfg.Kafka.Enabled,
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.AlertsTopic,
	}, s.log)
	if err != nil {
		return fmt.Errorf("alert publisher: %w", err)
	}

	// 5. Detection
	deps := hotspot.Deps{
		Predictor: predictor,
		Baselines: s.resolver,
		Store:     store,
		Publisher: s.broadcast,
		Logger:    s.log,
	}
	if cfg.Recommendation.BaseURL != "" {
		deps.Recommender = recommendation.NewClient(oracleConfig("recommendation", cfg.Recommendation.BaseURL,
			cfg.Recommendation.TimeoutSeconds, cfg.Recommendation.BreakerFailures, cfg.Recommendation.BreakerTimeoutSeconds), s.log)
	}
	if s.alerts.Enabled() {
		deps.Alerts = s.alerts
	}
	opts := hotspot.DefaultOptions()
	opts.Thresholds = thresholdsOf(cfg)
	s.detector, err = hotspot.NewDetector(deps, opts)
	if err != nil {
		return fmt.Errorf("hotspot detector: %w", err)
	}

	s.pipeline = analytics.NewPipeline(store, s.detector, analytics.PipelineOptions{
		BatchSize:   cfg.Analytics.ScanBatchSize,
		ClaimEvents: cfg.Analytics.ClaimEvents,
	}, s.log)

	// 6. Periodic jobs
	s.scheduler = scheduler.New(locker, s.log)
	if err := s.registerJobs(); err != nil {
		return err
	}

	// 7. HTTP API
	s.limiter = middleware.NewRateLimiter(cfg.RateLimit.ScanPerMinute, cfg.RateLimit.Burst)
	handler := rest.NewHandler(rest.Deps{
		Store:       store,
		Scanner:     &manualScanner{pipeline: s.pipeline, audit: s.audit, log: s.log},
		Workflow:    workflow.NewService(store, s.audit, s.log),
		Predictor:   predictor,
		Emissions:   analytics.NewEmissions(store, predictor, s.log),
		Audit:       s.audit,
		Realtime:    realtime.NewHandler(s.broadcast, cfg.Server.AllowedOrigins, s.log),
		ScanLimiter: s.limiter,
		Logger:      s.log,

		ScanWriteTimeout: time.Duration(cfg.Server.ScanTimeoutSeconds) * time.Second,
	})
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.routes(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 8. gRPC health
	if cfg.Server.GRPCPort > 0 {
		s.grpcServer = grpc.NewServer()
		s.health = health.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
	}
	return nil
}

func (s *Server) registerJobs() error {
	cfg := s.cfg
	jobs := []scheduler.Job{
		{
			Name:     scheduler.JobHotspotScan,
			Interval: time.Duration(cfg.Scheduler.HotspotIntervalSeconds) * time.Second,
			Run: func(ctx context.Context) error {
				_, err := s.pipeline.Scan(ctx, analytics.TriggerScheduler)
				return err
			},
		},
		{
			Name:     scheduler.JobBaselineRecalc,
			Interval: time.Duration(cfg.Scheduler.BaselineIntervalSeconds) * time.Second,
			Run: func(ctx context.Context) error {
				n, err := s.resolver.Recalculate(ctx)
				if err == nil {
					s.log.Info("baselines recalculated", zap.Int("entities", n))
				}
				return err
			},
		},
	}
	for _, j := range jobs {
		if err := s.scheduler.Register(j); err != nil {
			return fmt.Errorf("register job: %w", err)
		}
	}
	return nil
}

// routes wraps the API router in the middleware chain and CORS.
func (s *Server) routes(h *rest.Handler) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog(s.log))
	router.Use(middleware.SecureHeaders)
	router.Use(middleware.MaxBodySize(middleware.DefaultMaxBodyBytes))
	rest.SetupRoutes(router, h)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled or a component fails, then shuts
// everything down. Each config on reloads is applied as it arrives; reloads
// may be nil.
func (s *Server) Run(ctx context.Context, reloads <-chan config.Config) error {
	var grpcLis net.Listener
	if s.grpcServer != nil {
		addr := fmt.Sprintf(":%d", s.cfg.Server.GRPCPort)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("grpc listen on %s: %w", addr, err)
		}
		grpcLis = lis
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.broadcast.Run(ctx) })
	g.Go(func() error { return s.alerts.Run(ctx) })

	g.Go(func() error {
		s.log.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcLis != nil {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
		g.Go(func() error {
			s.log.Info("gRPC health server listening", zap.String("addr", grpcLis.Addr().String()))
			if err := s.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	if s.cfg.Scheduler.Enabled {
		s.scheduler.Start(ctx)
	} else {
		s.log.Info("scheduler disabled; scans run on demand only")
	}

	if reloads != nil {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case next, ok := <-reloads:
					if !ok {
						return nil
					}
					s.applyConfig(ctx, next)
				}
			}
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

func (s *Server) shutdown() {
	s.log.Info("shutting down")
	if s.health != nil {
		s.health.Shutdown()
	}
	s.scheduler.Stop()

	timeout := time.Duration(s.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP server forced to shutdown", zap.Error(err))
	}

	if s.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			s.grpcServer.Stop()
		}
	}
}

// applyConfig applies the hot-reloadable parts of next. Only the severity
// thresholds change at runtime; everything else needs a restart.
func (s *Server) applyConfig(ctx context.Context, next config.Config) {
	want := thresholdsOf(&next)
	have := s.detector.Thresholds()
	if want == have {
		s.log.Debug("config reloaded, thresholds unchanged")
		return
	}
	if err := s.detector.SetThresholds(want); err != nil {
		s.log.Warn("rejected threshold reload", zap.Error(err))
		return
	}
	s.log.Info("severity thresholds updated",
		zap.Float64("info", want.Info),
		zap.Float64("warn", want.Warn),
		zap.Float64("critical", want.Critical),
	)
	entry := audit.NewEntry(audit.ActionReloadConfig).
		WithEntity(audit.EntityConfig, "analytics.thresholds").
		WithMetadata("previous", have).
		WithMetadata("current", want)
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Warn("failed to audit config reload", zap.Error(err))
	}
}

// Close releases storage and network clients. It is safe after a failed New.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.audit != nil {
		_ = s.audit.Sync()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn("failed to close store", zap.Error(err))
		}
	}
}

func thresholdsOf(cfg *config.Config) severity.Thresholds {
	return severity.Thresholds{
		Info:     cfg.Analytics.ThresholdInfo,
		Warn:     cfg.Analytics.ThresholdWarn,
		Critical: cfg.Analytics.ThresholdCritical,
	}
}

func oracleConfig(name, baseURL string, timeoutSec, failures, breakerSec int) oracle.Config {
	return oracle.Config{
		Name:            name,
		BaseURL:         baseURL,
		Timeout:         time.Duration(timeoutSec) * time.Second,
		BreakerFailures: failures,
		BreakerTimeout:  time.Duration(breakerSec) * time.Second,
	}
}
