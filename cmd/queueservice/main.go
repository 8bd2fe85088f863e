package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/fuelqueue/internal/audit"
	"github.com/example/fuelqueue/internal/booking/domain"
	"github.com/example/fuelqueue/internal/booking/handler"
	"github.com/example/fuelqueue/internal/booking/projection"
	bookingservice "github.com/example/fuelqueue/internal/booking/service"
	"github.com/example/fuelqueue/internal/booking/station"
	"github.com/example/fuelqueue/internal/booking/store"
	"github.com/example/fuelqueue/pkg/notify"
	"github.com/example/fuelqueue/pkg/observability"
)

type appConfig struct {
	HTTPAddr      string
	RedisAddr     string
	NATSURL       string
	PostgresDSN   string
	JWTSecret     string
	AuditPoll     time.Duration
	AuditBatch    int
	AuditRetry    int
	SeedStationID string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("queue-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "queue-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("queueservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		defer db.Close()
	}

	repo := buildStore(ctx, redisClient, logger, cfg)
	auditSink := buildAuditSink(ctx, db, logger)
	notifier := notify.NewPublisher(natsConn, "queue.notifications")

	gateway := station.NewGateway(repo, auditSink, domain.SystemClock{}, logger.Named("station"))
	svc := bookingservice.New(repo, gateway, notifier, auditSink, domain.SystemClock{}, logger.Named("booking"))
	queues := projection.NewManager(ctx, repo)
	defer queues.Close()

	queueHTTP := handler.NewHTTP(svc, gateway, queues, cfg.JWTSecret)

	r := chi.NewRouter()
	r.Mount("/", queueHTTP.Router())
	r.Mount("/observability", observability.MetricsRouter())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if db != nil && natsConn != nil {
		dispatcher := audit.NewDispatcher(db, natsConn, logger.Named("audit"), audit.DispatcherConfig{
			PollInterval: cfg.AuditPoll,
			BatchSize:    cfg.AuditBatch,
			RetryMax:     cfg.AuditRetry,
		})
		go func() {
			if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("audit dispatcher stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("audit dispatcher disabled", zap.Bool("db", db != nil), zap.Bool("nats", natsConn != nil))
	}

	go func() {
		logger.Info("queue service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildStore(ctx context.Context, redisClient *redis.Client, logger *zap.Logger, cfg appConfig) domain.Repository {
	if redisClient != nil {
		rs := store.NewRedis(redisClient)
		seedDemoStation(ctx, logger, cfg, func(st domain.Station) {
			if err := rs.SeedStation(ctx, st); err != nil {
				logger.Warn("seed station failed", zap.Error(err))
			}
		})
		return rs
	}
	ms := store.NewMemory()
	seedDemoStation(ctx, logger, cfg, func(st domain.Station) { ms.SeedStation(ctx, st) })
	return ms
}

// seedDemoStation provisions one station for local runs. Station CRUD is
// owned by the external admin surface in production.
func seedDemoStation(_ context.Context, logger *zap.Logger, cfg appConfig, seed func(domain.Station)) {
	if cfg.SeedStationID == "" {
		return
	}
	st := domain.Station{
		ID:             cfg.SeedStationID,
		Name:           getenv("SEED_STATION_NAME", "Demo Fuel Station"),
		Location:       domain.GeoPoint{Lat: parseFloatEnv("SEED_STATION_LAT", 19.1), Lng: parseFloatEnv("SEED_STATION_LNG", 72.8)},
		CheckInRadiusM: parseFloatEnv("SEED_STATION_RADIUS_M", 15),
		GasAvailable:   true,
		BookingOpen:    true,
	}
	seed(st)
	logger.Info("seeded demo station", zap.String("station_id", st.ID))
}

func buildAuditSink(ctx context.Context, db *sql.DB, logger *zap.Logger) domain.AuditSink {
	if db == nil {
		return audit.NewLogSink(logger.Named("audit"))
	}
	sink := audit.NewPostgresSink(db)
	if err := sink.EnsureSchema(ctx); err != nil {
		logger.Warn("audit schema setup failed, falling back to log sink", zap.Error(err))
		return audit.NewLogSink(logger.Named("audit"))
	}
	return sink
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		NATSURL:       os.Getenv("NATS_URL"),
		PostgresDSN:   firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		JWTSecret:     getenv("JWT_SECRET", "dev-secret"),
		AuditPoll:     time.Duration(parseIntEnv("AUDIT_POLL_MS", 500)) * time.Millisecond,
		AuditBatch:    parseIntEnv("AUDIT_BATCH", 100),
		AuditRetry:    parseIntEnv("AUDIT_RETRY_MAX", 3),
		SeedStationID: os.Getenv("SEED_STATION_ID"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
