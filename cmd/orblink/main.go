package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/orblink/orblink/internal/api"
	"github.com/orblink/orblink/internal/auth"
	"github.com/orblink/orblink/internal/catalog"
	"github.com/orblink/orblink/internal/config"
	"github.com/orblink/orblink/internal/health"
	"github.com/orblink/orblink/internal/instance"
	"github.com/orblink/orblink/internal/metrics"
	"github.com/orblink/orblink/internal/oracle"
	"github.com/orblink/orblink/internal/stream"
	"github.com/orblink/orblink/internal/windows"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	inst, err := instance.Load(cfg.Instance.Path, logger)
	if err != nil {
		logger.Error("failed to load instance", "path", cfg.Instance.Path, "error", err)
		os.Exit(1)
	}
	logger.Info("instance loaded",
		"path", cfg.Instance.Path,
		"bodies", len(inst.Bodies),
		"links", len(inst.Links),
	)

	// Optional TLE import appends catalog bodies to the instance. They start
	// without links; links are added via the instance file only.
	if path := os.Getenv("ORBLINK_TLE_PATH"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			logger.Error("failed to open TLE catalog", "path", path, "error", err)
			os.Exit(1)
		}
		n, err := catalog.Import(f, inst, catalog.Options{}, logger)
		f.Close()
		if err != nil {
			logger.Error("failed to import TLE catalog", "path", path, "error", err)
			os.Exit(1)
		}
		logger.Info("TLE catalog imported", "path", path, "bodies_added", n)
	}

	if cfg.Instance.PruneDeadLinks {
		removed := inst.RemoveInvalidLinks()
		logger.Info("pruned permanently occluded links", "removed", removed, "remaining", len(inst.Links))
	}
	metrics.SetInstanceSize(len(inst.Bodies), len(inst.Links))

	// Build visibility caches before accepting traffic; readiness flips
	// once they are in place.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buildStart := time.Now()
	set := windows.BuildAll(ctx, inst, cfg.Solver.StepSize, cfg.Solver.Workers, logger)
	if ctx.Err() != nil {
		logger.Info("interrupted during cache build")
		return
	}
	stats := set.Stats()
	logger.Info("visibility caches built",
		"links", stats.Links,
		"intervals", stats.Intervals,
		"never_visible", stats.NeverVisible,
		"duration_ms", time.Since(buildStart).Milliseconds(),
	)

	store := oracle.NewStore()
	eng := oracle.New(inst, set, store, cfg.Solver.StepSize)
	logger.Info("schedule lower bound", "seconds", eng.LowerBound())

	state := &health.State{}
	state.SetReady()

	sse := stream.NewHandler(inst, eng, cfg.Stream, time.Now(), logger)
	authCfg := auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token}
	srv := api.NewServer(cfg.HTTP.Addr, inst, eng, store, sse, state, authCfg, logger)

	go func() {
		logger.Info("starting server", "addr", cfg.HTTP.Addr, "auth_enabled", authCfg.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// loadConfig starts from the YAML file when ORBLINK_CONFIG is set (defaults
// otherwise) and applies environment overrides on top.
func loadConfig(logger *slog.Logger) (config.Config, error) {
	cfg := config.Default()
	if path := os.Getenv("ORBLINK_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
		logger.Info("config file loaded", "path", path)
	}
	if v := os.Getenv("ORBLINK_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("ORBLINK_INSTANCE_PATH"); v != "" {
		cfg.Instance.Path = v
	}
	if cfg.Instance.Path == "" {
		return cfg, errors.New("ORBLINK_INSTANCE_PATH (or instance.path in the config file) is required")
	}

	if v := os.Getenv("ORBLINK_PRUNE_DEAD_LINKS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.New("ORBLINK_PRUNE_DEAD_LINKS must be a boolean value (true/false/1/0)")
		}
		cfg.Instance.PruneDeadLinks = b
	}

	if v := os.Getenv("ORBLINK_STEP_SIZE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			logger.Warn("invalid ORBLINK_STEP_SIZE value, using default", "value", v, "default", cfg.Solver.StepSize)
		} else {
			cfg.Solver.StepSize = f
		}
	}

	if v := os.Getenv("ORBLINK_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBLINK_WORKERS value, using default", "value", v, "default", cfg.Solver.Workers)
		} else {
			cfg.Solver.Workers = n
		}
	} else if os.Getenv("ORBLINK_CONFIG") == "" {
		cfg.Solver.Workers = runtime.NumCPU()
	}

	if v := os.Getenv("ORBLINK_AUTH_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.New("ORBLINK_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Auth.Enabled = b
	}
	if v := os.Getenv("ORBLINK_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		return cfg, errors.New("ORBLINK_AUTH_TOKEN is required when auth is enabled")
	}

	if v := os.Getenv("ORBLINK_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBLINK_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", cfg.Stream.MaxConcurrentPerIP)
		} else {
			cfg.Stream.MaxConcurrentPerIP = n
		}
	}
	if v := os.Getenv("ORBLINK_STREAM_BANDWIDTH_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			logger.Warn("invalid ORBLINK_STREAM_BANDWIDTH_LIMIT value, using default", "value", v, "default", cfg.Stream.BandwidthLimit)
		} else {
			cfg.Stream.BandwidthLimit = n
		}
	}
	if v := os.Getenv("ORBLINK_STREAM_KEEPALIVE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBLINK_STREAM_KEEPALIVE_INTERVAL value, using default", "value", v, "default", int(cfg.Stream.KeepaliveInterval.Seconds()))
		} else {
			cfg.Stream.KeepaliveInterval = time.Duration(n) * time.Second
		}
	}

	logger.Info("solver config",
		"step_size", cfg.Solver.StepSize,
		"workers", cfg.Solver.Workers,
		"prune_dead_links", cfg.Instance.PruneDeadLinks,
	)
	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.Stream.MaxConcurrentPerIP,
		"bandwidth_limit", cfg.Stream.BandwidthLimit,
		"keepalive_interval_seconds", cfg.Stream.KeepaliveInterval.Seconds(),
	)

	if cfg.Auth.Enabled {
		logger.Info("auth enabled")
	}
	return cfg, nil
}
