package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tenderscan/scanner-service/internal/db"
	"tenderscan/scanner-service/internal/httpapi"
	"tenderscan/scanner-service/internal/scheduler"
	"tenderscan/scanner-service/internal/sink"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health endpoint and scheduled scans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(parent context.Context, a *app) error {
	if err := a.cfg.RequireStores(); err != nil {
		return err
	}
	log := a.logger

	ctx, stop := signal.NotifyContext(contextOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	pool, err := db.NewPostgresPool(ctx, a.cfg.DatabaseURL, int32(a.cfg.MaxConcurrentPortals+2))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	log.Info("postgres connected")

	// ── Redis ────────────────────────────────────────────────────────────────
	rdb, err := db.NewRedisClient(ctx, a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()
	log.Info("redis connected")

	// ── Scans ────────────────────────────────────────────────────────────────
	store := sink.NewRedisPublisher(sink.NewPostgres(pool, log), rdb, log)
	orch, err := a.orchestrator(a.portals, store)
	if err != nil {
		return err
	}
	sched := scheduler.New(orch, a.portals, a.cfg.ScanSchedule(), log)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	// ── gRPC health ──────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", ":"+a.cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcSrv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, hs)
	go func() {
		log.Info("grpc health listening", zap.String("port", a.cfg.GRPCPort))
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("grpc server error", zap.Error(err))
		}
	}()

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      httpapi.NewHandler(sched, a.registry, version, log).Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("version", version), zap.String("port", a.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		log.Error("http server error", zap.Error(err))
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	hs.Shutdown()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", zap.Error(err))
	}
	sched.Stop(shutdownCtx)
	log.Info("stopped")
	return nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
