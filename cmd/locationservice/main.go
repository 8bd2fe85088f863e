package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/fuelqueue/internal/booking/domain"
	"github.com/example/fuelqueue/internal/booking/store"
	"github.com/example/fuelqueue/internal/estimate"
	"github.com/example/fuelqueue/internal/location"
	"github.com/example/fuelqueue/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("location-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "location-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	grpcAddr := getenv("GRPC_ADDR", ":9090")
	httpAddr := getenv("HTTP_ADDR", ":8081")

	var repo domain.Repository
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer client.Close()
		repo = store.NewRedis(client)
	} else {
		repo = store.NewMemory()
	}

	observer := location.NewStreamObserver()
	estimateSvc := estimate.New(repo, observer)

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Fatal("grpc listen", zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	location.RegisterLocationServer(grpcServer, location.NewServer(observer))
	go func() {
		logger.Info("location ingest listening", zap.String("addr", grpcAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("grpc serve", zap.Error(err))
		}
	}()

	r := chi.NewRouter()
	r.Mount("/", estimate.NewHTTP(estimateSvc).Router())
	r.Mount("/observability", observability.MetricsRouter())

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("estimate api listening", zap.String("addr", httpAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
