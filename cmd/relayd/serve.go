package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/relay/internal/config"
	"github.com/alfredjeanlab/relay/internal/eventbus"
	"github.com/alfredjeanlab/relay/internal/events"
	"github.com/alfredjeanlab/relay/internal/executor"
	"github.com/alfredjeanlab/relay/internal/relay"
	"github.com/alfredjeanlab/relay/internal/reports"
	"github.com/alfredjeanlab/relay/internal/server"
	"github.com/alfredjeanlab/relay/internal/store"
	"github.com/alfredjeanlab/relay/internal/store/postgres"
	"github.com/alfredjeanlab/relay/internal/store/sqlite"
	"github.com/alfredjeanlab/relay/internal/windows"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the relay, the admin HTTP API and the gRPC health server",
	GroupID: "server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel, cfg.LogFormat)
		slog.SetDefault(logger)
		return serve(cfg, logger)
	},
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Postgres() {
		return postgres.New(ctx, cfg.DatabaseURL)
	}
	return sqlite.New(ctx, cfg.DBPath)
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.New(cfg.BusCapacity, logger)

	tracker := windows.New()
	tracker.StartReaper(&windows.ReaperConfig{
		OnEvict: func(w windows.Info) {
			_ = bus.EmitSimple(eventbus.TopicWindowStateChange, map[string]string{
				"id":     w.ID,
				"action": windows.ActionClosed,
				"reason": "stale",
			})
		},
	})
	defer tracker.Stop()

	commands := executor.New(executor.Config{
		Bus:     bus,
		Windows: tracker,
		Timeout: cfg.CommandTimeout,
		Logger:  logger,
	})

	var collector *reports.Collector
	var sink relay.ReportSink
	if cfg.ReportsEnabled() {
		collector = reports.NewCollector(0)
		sink = collector
	}

	relaySrv, err := relay.New(relay.Config{
		Addr:             cfg.WSAddr,
		Path:             cfg.WSPath,
		Origin:           cfg.Origin,
		HandshakeTimeout: cfg.HandshakeTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		PingInterval:     cfg.PingInterval,
		MaxMessageSize:   cfg.MaxMessageSize,
		Bus:              bus,
		Executor:         commands,
		Reports:          sink,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	relayErr := make(chan error, 1)
	go func() { relayErr <- relaySrv.ListenAndServe(ctx) }()

	// The relay accepts connections while the store opens; store-backed
	// commands soft-fail until SetStore.
	st, err := openStore(ctx, cfg)
	if err != nil {
		cancel()
		<-relayErr
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	commands.SetStore(st)

	if cfg.SeedSampleData {
		n, err := st.SeedSampleUsers(ctx)
		if err != nil {
			logger.Error("seeding sample users failed", "err", err)
		} else if n > 0 {
			logger.Info("sample users seeded", "count", n)
			_ = bus.EmitSimple(eventbus.TopicDataCreated, map[string]any{"table": store.UsersTable, "count": n})
		}
	}

	var bridge *events.Bridge
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL)
		if err != nil {
			logger.Error("NATS bridge disabled", "err", err)
		} else {
			bridge = events.NewBridge(nc, bus, events.BridgeConfig{Prefix: cfg.NATSSubjectPrefix, Logger: logger})
			if err := bridge.Start(); err != nil {
				logger.Error("NATS bridge failed to start", "err", err)
				bridge.Close()
				bridge = nil
			}
		}
	} else {
		logger.Info("NATS bridge disabled (RELAY_NATS_URL not set)")
	}

	var scheduler *reports.Scheduler
	if collector != nil {
		var dests []reports.Destination
		if cfg.ReportS3Bucket != "" {
			s3Dest, err := reports.NewS3Destination(ctx, cfg.ReportS3Bucket, cfg.ReportS3Prefix, cfg.ReportS3Region, cfg.ReportS3Endpoint)
			if err != nil {
				logger.Error("failed to create S3 report destination", "err", err)
			} else {
				dests = append(dests, s3Dest)
				logger.Info("report S3 destination enabled", "bucket", cfg.ReportS3Bucket, "prefix", cfg.ReportS3Prefix)
			}
		}
		if cfg.ReportFile != "" {
			dests = append(dests, reports.NewFileDestination(cfg.ReportFile))
			logger.Info("report file destination enabled", "path", cfg.ReportFile)
		}
		scheduler = reports.NewScheduler(collector, dests, cfg.ReportInterval, logger)
		scheduler.Start()
	}

	admin := server.NewAdminServer(server.Config{
		Bus:         bus,
		Connections: relaySrv,
		Windows:     tracker,
		Logger:      logger,
	})
	admin.Start()
	defer admin.Close()

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           admin.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()
	}

	grpcServer, healthSrv := server.NewGRPCServer(logger)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Error("gRPC listener failed", "addr", cfg.GRPCAddr, "err", err)
		} else {
			go func() {
				logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
				if err := grpcServer.Serve(lis); err != nil {
					logger.Error("gRPC server error", "err", err)
				}
			}()
		}
	}

	_ = bus.EmitSimple(eventbus.TopicAppStart, map[string]string{"ws_addr": cfg.WSAddr, "origin": cfg.Origin})
	logger.Info("relay started",
		"ws_addr", cfg.WSAddr,
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-relayErr:
		runErr = err
		relayErr = nil
		logger.Error("relay stopped", "err", err)
	}

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthSrv.SetServingStatus(server.HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	_ = bus.EmitSimple(eventbus.TopicAppShutdown, map[string]string{"reason": "signal"})

	cancel()
	if relayErr != nil {
		if err := <-relayErr; err != nil {
			logger.Error("relay shutdown error", "err", err)
		}
	}
	logger.Info("relay stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")
	}

	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
		logger.Info("report scheduler stopped")
	}
	if bridge != nil {
		bridge.Close()
		logger.Info("NATS bridge stopped")
	}

	logger.Info("shutdown complete")
	return runErr
}
