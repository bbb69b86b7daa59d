package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/queuelab/queuelab/pkg/logging"
	"github.com/queuelab/queuelab/server/internal/alerts"
	"github.com/queuelab/queuelab/server/internal/api"
	"github.com/queuelab/queuelab/server/internal/auth"
	"github.com/queuelab/queuelab/server/internal/config"
	"github.com/queuelab/queuelab/server/internal/form"
	"github.com/queuelab/queuelab/server/internal/metrics"
	"github.com/queuelab/queuelab/server/internal/store"
	"github.com/queuelab/queuelab/server/internal/web"
	"github.com/queuelab/queuelab/server/internal/ws"
)

// evaluatorService is the gRPC health service name reported alongside "".
const evaluatorService = "queuelab.Evaluator"

func main() {
	configPath := flag.String("config", "", "path to config file; defaults apply when empty")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	sc := cfg.Server

	logger, err := logging.New(os.Stdout, sc.Log.Format, sc.Log.Level)
	if err != nil {
		slog.Error("failed to build logger", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("queuelab-server starting",
		"config", *configPath,
		"grpc_port", sc.GRPCPort,
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"snapshot_ttl", sc.Snapshot.TTL,
		"default_servers", sc.Evaluator.DefaultServers,
		"max_servers", sc.Evaluator.MaxServers,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Observation store with background TTL eviction.
	st := store.New(sc.Snapshot.TTL)
	go st.Run(ctx)

	alertEngine, err := alerts.New(sc.Alerts)
	if err != nil {
		slog.Error("failed to build alert rules", "err", err)
		os.Exit(1)
	}

	reg := metrics.New(st)
	defaults := form.Defaults{Servers: sc.Evaluator.DefaultServers, MaxServers: sc.Evaluator.MaxServers}
	header, key := sc.Auth.EffectiveHeader(), sc.Auth.Key()
	if sc.Auth.Mode == "apikey" && key == "" {
		slog.Warn("auth mode is apikey but no key is set; ingest is open", "key_env", sc.Auth.KeyEnv)
	}

	// gRPC health service behind the API key interceptors.
	grpcSrv := grpc.NewServer(
		grpc.UnaryInterceptor(auth.APIKeyInterceptor(sc.Auth.Mode, header, key)),
		grpc.StreamInterceptor(auth.APIKeyStreamInterceptor(sc.Auth.Mode, header, key)),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(evaluatorService, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", sc.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC health listening", "port", sc.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	apiHandler := api.New(api.Options{
		Store:      st,
		Alerts:     alertEngine,
		Metrics:    reg,
		Defaults:   defaults,
		IngestAuth: auth.Middleware(sc.Auth.Mode, header, key),
	})

	hub := ws.New(apiHandler.Snapshot, sc.BroadcastInterval)
	go hub.Run(ctx)

	router := mux.NewRouter()
	router.PathPrefix("/api/").Handler(apiHandler)
	router.Handle("/ws/stream", hub)
	router.Handle("/metrics", reg.Handler()).Methods(http.MethodGet)
	router.Handle("/", web.New(defaults, reg))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("queuelab-server shutting down")
	healthSrv.Shutdown()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "err", err)
	}
	grpcSrv.GracefulStop()
	alertEngine.Wait()
}
