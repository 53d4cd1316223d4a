package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/infra/buildinfo"
	"github.com/yndnr/routemesh-go/internal/infra/confloader"
	"github.com/yndnr/routemesh-go/internal/infra/shutdown"
	"github.com/yndnr/routemesh-go/internal/infra/tlsroots"
	"github.com/yndnr/routemesh-go/internal/server/clusterserver"
	"github.com/yndnr/routemesh-go/internal/server/config"
	"github.com/yndnr/routemesh-go/internal/server/httpserver"
	"github.com/yndnr/routemesh-go/internal/storage"
	"github.com/yndnr/routemesh-go/internal/telemetry/logger"
	"github.com/yndnr/routemesh-go/internal/telemetry/metric"
)

// shutdownTimeout bounds all shutdown hooks together.
const shutdownTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:    "routemesh-server",
		Usage:   "run a RouteMesh cluster node",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"ROUTEMESH_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level (debug, info, warn, error)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, domain.ErrConfigInvalid) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	configFile := c.String("config")
	cfg, loader, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	levelOverride := c.String("log-level")
	if levelOverride != "" {
		cfg.Log.Level = levelOverride
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.LogFile,
		Output: os.Stderr,
	})
	if err != nil {
		return domain.ErrConfigInvalid.WithDetails("log").WithCause(err)
	}
	defer log.Close()
	logger.SetDefault(log)
	slogger := log.Slog()

	log.Info("starting routemesh-server",
		"version", buildinfo.Get().Version,
		"commit", buildinfo.Get().Commit,
		"server_name", cfg.ServerName,
		"cluster", cfg.Cluster.Name,
		"config", configFile)

	metrics := metric.NewRegistry()
	shutdownHandler := shutdown.NewHandler(shutdownTimeout, shutdown.WithLogger(slogger))

	runtime, err := config.ToClusterConfig(cfg, slogger, metrics)
	if err != nil {
		return err
	}

	if dir := cfg.Cluster.PeerCacheDir; dir != "" {
		store, err := storage.OpenBadger(storage.DefaultBadgerConfig(dir), slogger)
		if err != nil {
			return fmt.Errorf("open peer cache: %w", err)
		}
		store.RegisterMetrics(metrics.Registerer())
		runtime.Config.PeerStore = store
		shutdownHandler.OnShutdown("peer cache", func(context.Context) error {
			return store.Close()
		})
	}

	manager, err := clusterserver.New(runtime.Config)
	if err != nil {
		return err
	}
	if err := manager.Start(c.Context); err != nil {
		return fmt.Errorf("start cluster: %w", err)
	}
	shutdownHandler.OnShutdown("cluster", manager.Shutdown)

	st := &state{cfg: cfg}
	routerCfg := httpserver.DefaultRouterConfig()
	routerCfg.Cluster = manager
	routerCfg.Config = func() any { return config.Sanitize(st.current()) }
	routerCfg.Metrics = metrics
	routerCfg.Logger = slogger
	routerCfg.AllowList = cfg.Monitor.AllowList

	monitor := httpserver.New(cfg.Monitor.Addr, httpserver.NewRouter(routerCfg), slogger)
	if err := monitor.Start(); err != nil {
		_ = manager.Shutdown(context.Background())
		return fmt.Errorf("start monitor: %w", err)
	}
	shutdownHandler.OnShutdown("monitor", monitor.Shutdown)
	go func() {
		if err := monitor.Wait(); err != nil {
			log.Error("monitor server failed", "error", err)
			shutdownHandler.Trigger()
		}
	}()

	r := &reloader{
		loader:        loader,
		state:         st,
		runtime:       runtime,
		manager:       manager,
		metrics:       metrics,
		log:           log,
		levelOverride: levelOverride,
	}
	shutdownHandler.OnReload(r.reload)

	if path := loader.FilePath(); path != "" {
		watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(slogger))
		if err != nil {
			log.Warn("config watcher unavailable, reload with SIGHUP", "error", err)
		} else if err := watcher.Watch(path); err != nil {
			log.Warn("cannot watch config file, reload with SIGHUP", "path", path, "error", err)
			_ = watcher.Stop()
		} else {
			watcher.OnChange(func(string) { r.reload() })
			watcher.StartAsync()
			shutdownHandler.OnShutdown("config watcher", func(context.Context) error {
				return watcher.Stop()
			})
		}
	}

	if runtime.KeyPair != nil {
		watchKeyPair(runtime.KeyPair, shutdownHandler, log, slogger)
	}

	log.Info("server started",
		"route_addr", manager.Addr(),
		"advertise", manager.AdvertiseAddr(),
		"monitor_addr", monitor.Addr())

	if err := shutdownHandler.Wait(c.Context); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

// state holds the configuration currently applied.
type state struct {
	mu  sync.RWMutex
	cfg *config.ServerConfig
}

func (s *state) current() *config.ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *state) set(cfg *config.ServerConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// watchKeyPair reloads the route certificate when its files change, so a
// rotated certificate is served without a config edit or SIGHUP.
func watchKeyPair(kp *tlsroots.KeyPair, sh *shutdown.Handler, log logger.Logger, slogger *slog.Logger) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(slogger))
	if err != nil {
		log.Warn("certificate watcher unavailable, reload with SIGHUP", "error", err)
		return
	}
	if err := kp.WatchFiles(w); err != nil {
		log.Warn("cannot watch route certificate, reload with SIGHUP", "error", err)
		_ = w.Stop()
		return
	}
	w.StartAsync()
	sh.OnShutdown("certificate watcher", func(context.Context) error {
		return w.Stop()
	})
}

// reloader re-applies the reloadable parts of the configuration: the
// authorization block, the TLS key pair and allowed identities, and the
// log level. Route lists and listeners stay as started.
type reloader struct {
	mu            sync.Mutex
	loader        *confloader.Loader
	state         *state
	runtime       *config.ClusterRuntime
	manager       *clusterserver.Manager
	metrics       *metric.Registry
	log           logger.Logger
	levelOverride string
}

func (r *reloader) reload() {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := config.Reload(r.loader)
	if err != nil {
		r.metrics.RecordReload(false)
		r.log.Error("config reload rejected, keeping current configuration", "error", err)
		return
	}
	prev := r.state.current()

	auth := next.Cluster.Authorization
	switch {
	case r.runtime.Static != nil && config.HasCredentials(&auth):
		r.runtime.Static.Update(auth.User, auth.Password, auth.Token)
	case r.runtime.Static == nil && config.HasCredentials(&auth):
		r.log.Warn("cluster.authorization added at runtime; restart to require credentials")
	case r.runtime.Static != nil:
		r.log.Warn("cluster.authorization removed at runtime; restart to accept unauthenticated routes")
	}
	r.manager.SetRouteAuth(clusterserver.RouteAuth{User: auth.User, Password: auth.Password, Token: auth.Token})

	if r.runtime.TLSAuth != nil {
		r.runtime.TLSAuth.SetAllowed(next.Cluster.TLS.VerifyIdentity)
	}
	if r.runtime.KeyPair != nil {
		if err := r.runtime.KeyPair.Reload(); err != nil {
			r.log.Error("route certificate reload failed, keeping previous", "error", err)
		}
	}

	level := next.Log.Level
	if r.levelOverride != "" {
		level = r.levelOverride
	}
	if err := logger.SetLevel(level); err != nil {
		r.log.Warn("invalid log level on reload", "level", level, "error", err)
	}

	if len(next.Cluster.Routes) != len(prev.Cluster.Routes) || next.Cluster.Listen != prev.Cluster.Listen {
		r.log.Warn("cluster.routes and cluster.listen changes take effect on restart")
	}

	// Fields that were not re-applied keep showing their running values.
	applied := *prev
	applied.Cluster.Authorization = next.Cluster.Authorization
	applied.Cluster.TLS.VerifyIdentity = next.Cluster.TLS.VerifyIdentity
	applied.Log.Level = level
	r.state.set(&applied)

	r.metrics.RecordReload(true)
	r.log.Info("configuration reloaded", "log_level", level)
}
