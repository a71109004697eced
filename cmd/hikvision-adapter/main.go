package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evihost/unifi-cam-proxy/internal/adapter"
	"github.com/evihost/unifi-cam-proxy/internal/config"
	"github.com/evihost/unifi-cam-proxy/internal/health"
	"github.com/evihost/unifi-cam-proxy/internal/hikvision"
	"github.com/evihost/unifi-cam-proxy/internal/logger"
	"github.com/evihost/unifi-cam-proxy/internal/messaging"
	"github.com/evihost/unifi-cam-proxy/internal/recorder"
	"github.com/evihost/unifi-cam-proxy/internal/service"
	"github.com/evihost/unifi-cam-proxy/internal/state"
	"github.com/evihost/unifi-cam-proxy/internal/storage"
	"github.com/evihost/unifi-cam-proxy/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Hikvision adapter",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"camera", cfg.Camera.Name,
		"host", cfg.Camera.Host,
	)

	if err := run(cfg, configPath, log); err != nil {
		log.Error("Adapter exited with error", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

func run(cfg *config.Config, configPath string, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgSvc, err := config.NewService(configPath, log)
	if err != nil {
		return err
	}
	cfgSvc.Watch(config.LogLevelWatcher(log))

	// State store
	store, err := state.NewManager(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	recovered, err := store.RecoverState(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover state: %w", err)
	}
	if recovered.ClosedIntervals > 0 {
		log.Warn("Closed motion intervals left open by a previous run",
			"count", recovered.ClosedIntervals)
	}
	if last := recovered.SystemState[state.KeyAlertStreamLastConnect]; last != "" {
		log.Info("Previous run state",
			"last_alert_stream_connect", last,
			"last_alert_stream_disconnect", recovered.SystemState[state.KeyAlertStreamLastDisconnect],
			"ptz_supported", recovered.SystemState[state.KeyPTZSupported],
		)
	}

	device, err := hikvision.NewClient(hikvision.Config{
		Host:     cfg.Camera.Host,
		HTTPPort: cfg.Camera.HTTPPort,
		Username: cfg.Camera.Username,
		Password: cfg.Camera.Password,
		Auth:     cfg.Camera.Auth,
		Timeout:  cfg.Camera.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create device client: %w", err)
	}

	svcMgr := service.NewManager(log)
	bus := svcMgr.GetEventBus()

	// Motion edges fan out to the interval store, the event bus and NATS
	rec := recorder.New(log,
		&recorder.IntervalSink{Store: store, Camera: cfg.Camera.Name},
		&recorder.BusSink{Bus: bus, Camera: cfg.Camera.Name},
	)

	var nc *messaging.Service
	if cfg.NATS.Enabled {
		nc = messaging.NewService(messaging.Config{
			URL:            cfg.NATS.URL,
			Subject:        cfg.NATS.Subject,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			MaxReconnects:  cfg.NATS.MaxReconnects,
		}, log)
		rec.Add(&recorder.NATSSink{
			Publisher: nc,
			Subject:   nc.Subject(),
			Camera:    cfg.Camera.Name,
		})
		svcMgr.Register(nc)
	}

	svcMgr.Register(recorder.NewActivityService(store, cfg.Camera.Name, log))
	svcMgr.Register(storage.NewRetentionService(store, cfg.Storage.Retention, cfg.Storage.CleanupInterval, log))

	cam, err := adapter.New(adapter.Config{
		Name:           cfg.Camera.Name,
		Host:           cfg.Camera.Host,
		RTSPPort:       cfg.Camera.RTSPPort,
		Username:       cfg.Camera.Username,
		Password:       cfg.Camera.Password,
		MotionTimeout:  cfg.Motion.Timeout,
		ReconnectDelay: cfg.Events.ReconnectDelay,
		SnapshotDir:    cfg.Snapshot.Dir,
	}, device, rec, log)
	if err != nil {
		return fmt.Errorf("failed to create adapter: %w", err)
	}
	svcMgr.Register(cam)

	if cfg.Web.Enabled {
		srv := web.NewServer(&cfg.Web, log)
		srv.SetVersion(version)
		srv.SetCamera(cam)
		srv.SetHistory(store)
		srv.SetConfigDependency(cfgSvc)
		svcMgr.Register(srv)
	}

	var healthMgr *health.Manager
	if cfg.Health.Enabled {
		healthMgr = health.NewManager(log, svcMgr)
		healthMgr.RegisterChecker(health.NewDeviceChecker(cfg.Camera.Host, cfg.Camera.HTTPPort, cfg.Camera.RequestTimeout))
		healthMgr.RegisterChecker(health.NewDatabaseChecker(store, store.Path()))
		healthMgr.RegisterChecker(health.NewSnapshotDirChecker(cam.SnapshotDir()))
		healthMgr.RegisterChecker(health.NewConnectionChecker("alert_stream", cam.AlertStreamConnected))
		if nc != nil {
			healthMgr.RegisterChecker(health.NewConnectionChecker("nats", nc.IsConnected))
		}
		if cfg.Health.RTSPProbe {
			healthMgr.RegisterChecker(health.NewRTSPChecker(cam.Endpoint().RTSPURL(), cfg.Camera.RequestTimeout))
		}

		if err := healthMgr.Start(ctx, cfg.Health.Port); err != nil {
			return fmt.Errorf("failed to start health check server: %w", err)
		}
	}

	if err := svcMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	// SIGHUP reloads the configuration, anything else shuts down
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			log.Info("Received shutdown signal", "signal", sig)
			break
		}
		log.Info("Received reload signal")
		if err := cfgSvc.Reload(ctx); err != nil {
			log.Error("Failed to reload configuration", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if healthMgr != nil {
		if err := healthMgr.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping health check server", "error", err)
		}
	}

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}
