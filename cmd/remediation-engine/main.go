package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-remediate/internal/api"
	"github.com/miradorstack/mirador-remediate/internal/audit"
	"github.com/miradorstack/mirador-remediate/internal/cache"
	"github.com/miradorstack/mirador-remediate/internal/config"
	"github.com/miradorstack/mirador-remediate/internal/engine"
	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/registry"
	"github.com/miradorstack/mirador-remediate/internal/repo"
	"github.com/miradorstack/mirador-remediate/internal/services"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-remediate", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	trail := audit.NewMemoryLog(cfg.Audit.HistorySize)
	recorder := audit.Tee{audit.NewSlogRecorder(logger), trail}

	targetRegistry, err := registry.Open(
		cfg.Registry.Driver,
		cfg.Registry.DSN,
		cache.NewMemoryProvider(),
		cfg.Registry.ActiveCacheTTL,
		recorder,
		logger,
	)
	if err != nil {
		logger.Error("failed to open target registry", slog.Any("error", err))
		os.Exit(1)
	}
	defer targetRegistry.Close()

	pack, err := engine.LoadPolicyPack(cfg.Policy.Path)
	if err != nil {
		logger.Error("failed to load policy pack", slog.String("path", cfg.Policy.Path), slog.Any("error", err))
		os.Exit(1)
	}
	policy := engine.NewPolicyEngine(pack)

	tracker := engine.NewIncidentTracker()
	classifier := engine.NewClassifier(cfg.Controller.CriticalCPULoad, tracker, recorder, logger)

	executor := engine.NewExecutor(
		engine.ExecutorConfig{
			ServiceName:      cfg.Controller.ServiceName,
			BaselineReplicas: cfg.Controller.BaselineReplicas,
			InitialDemand:    cfg.Controller.InitialDemand,
			DemandBase:       cfg.Controller.DemandBase,
			DemandStep:       cfg.Controller.DemandStep,
			AutopilotDelay:   cfg.Controller.AutopilotDelay,
		},
		engine.CapacityModel{PerReplica: cfg.Controller.CapacityPerReplica},
		classifier,
		tracker,
		policy,
		engine.AutopilotPlanner{
			Headroom:   cfg.Controller.AutopilotHeadroom,
			PerReplica: cfg.Controller.CapacityPerReplica,
		},
		targetRegistry,
		repo.NewTargetClient(cfg.Target.Timeout),
		recorder,
		logger,
	)

	remediationService := services.NewRemediationService(logger, executor, targetRegistry, trail)

	router := api.NewRouter(remediationService, logger)
	server, err := api.NewServer(cfg.Server, router)
	if err != nil {
		logger.Error("failed to create API server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Policy.Watch {
		err := config.WatchFile(ctx, logger, cfg.Policy.Path, time.Second, func() {
			reloaded, err := engine.LoadPolicyPack(cfg.Policy.Path)
			if err != nil {
				logger.Warn("policy reload failed, keeping previous pack", slog.Any("error", err))
				return
			}
			if err := remediationService.ReloadPolicy(reloaded); err != nil {
				logger.Warn("policy reload failed", slog.Any("error", err))
				return
			}
			logger.Info("policy pack reloaded", slog.Int("max_auto_replicas", reloaded.MaxAutoReplicas))
		})
		if err != nil {
			logger.Warn("policy watch unavailable", slog.Any("error", err))
		}
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("API server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("API server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-remediate stopped")
}
