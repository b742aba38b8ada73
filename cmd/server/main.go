package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/genpire/rfq-service/internal/adapter/handler"
	"github.com/genpire/rfq-service/internal/adapter/paypal"
	"github.com/genpire/rfq-service/internal/adapter/storage"
	"github.com/genpire/rfq-service/internal/config"
	"github.com/genpire/rfq-service/internal/core/service"
	"github.com/genpire/rfq-service/internal/logging"
	"github.com/genpire/rfq-service/internal/port"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logging.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		fatal("failed to open mysql", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		fatal("failed to ping mysql", err)
	}
	slog.Info("connected to mysql")

	// Initialize cache
	var cache port.CacheRepository
	var rdb *redis.Client
	switch cfg.CacheBackend {
	case "memory":
		cache = storage.NewMemoryCache()
		slog.Warn("using in-process rfq cache")
	default:
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			fatal("failed to connect redis", err)
		}
		slog.Info("connected to redis")
		cache = storage.NewRedisAdapter(rdb)
	}

	mysqlAdapter := storage.NewMySQLAdapter(db)

	interval, err := config.ParseDuration(cfg.RefreshInterval)
	if err != nil {
		fatal("invalid refresh interval", err)
	}
	paypalTimeout := 10 * time.Second
	if cfg.PayPal.Timeout != "" {
		paypalTimeout, _ = config.ParseDuration(cfg.PayPal.Timeout)
	}
	paypalClient := paypal.NewClient(paypal.Options{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		BaseURL:      cfg.PayPal.APIBaseURL,
		SiteURL:      cfg.PayPal.SiteURL,
		Timeout:      paypalTimeout,
	})
	if !paypalClient.Configured() {
		slog.Warn("paypal credentials missing; payment endpoints will fail")
	}

	// Initialize services
	rfqService := service.NewRFQService(mysqlAdapter, cache, mysqlAdapter)
	sessions := service.NewSessionRegistry(rfqService, interval, cfg.RefreshQueueSize)
	paymentService := service.NewPaymentService(paypalClient, mysqlAdapter, mysqlAdapter)
	auth := handler.NewAuthenticator(cfg.JWTSecret)

	g, gctx := errgroup.WithContext(ctx)

	// Start refresh workers
	workers := sessions.RunWorkers(cfg.RefreshWorkers, rfqService)
	slog.Info("started refresh workers", "count", cfg.RefreshWorkers)

	// gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryAuthInterceptor(auth)))
	handler.RegisterRFQServiceServer(grpcServer, handler.NewGRPCHandler(rfqService))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		fatal("failed to listen", err)
	}
	g.Go(func() error {
		slog.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(lis)
	})

	// HTTP server
	httpHandler := handler.NewHTTPHandler(rfqService, sessions, paymentService)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           logging.WithRequestID(logging.WithRequestLog("rfq", httpHandler.Routes(auth))),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown", "error", err)
		}
		slog.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		slog.Info("gRPC server stopped")
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
	}

	// Stop tickers, drain the refresh queue and wait for workers
	sessions.Close()
	workers.Wait()
	slog.Info("workers stopped")

	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	slog.Info("connections closed")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
