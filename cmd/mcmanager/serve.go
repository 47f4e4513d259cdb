package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/mcmanager/internal/auth"
	"github.com/loykin/mcmanager/internal/backup"
	"github.com/loykin/mcmanager/internal/config"
	"github.com/loykin/mcmanager/internal/history"
	"github.com/loykin/mcmanager/internal/history/factory"
	"github.com/loykin/mcmanager/internal/logger"
	"github.com/loykin/mcmanager/internal/metrics"
	"github.com/loykin/mcmanager/internal/playit"
	"github.com/loykin/mcmanager/internal/registry"
	"github.com/loykin/mcmanager/internal/server"
	"github.com/loykin/mcmanager/internal/supervisor"
	tlsconf "github.com/loykin/mcmanager/internal/tls"
)

const shutdownTimeout = 10 * time.Second

func createServeCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the mcmanager daemon",
		Long: `Run the daemon: the process supervisor, the backup scheduler, the
playit agent supervisor and the HTTP API. Settings come from the TOML
config and MCMANAGER_* environment variables.

Examples:
  mcmanager serve                        # defaults, data under the user config dir
  mcmanager serve mcmanager.toml
  MCMANAGER_SERVER_LISTEN=:9000 mcmanager serve`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, path, cmd.OutOrStdout())
		},
	}
}

// daemon holds every long-lived component so shutdown can unwind them in
// reverse order.
type daemon struct {
	cfg       *config.Config
	log       *slog.Logger
	hist      *history.Recorder
	sup       *supervisor.Supervisor
	pit       *playit.Supervisor
	sched     *backup.Scheduler
	collector *metrics.ProcessCollector
	api       *http.Server
	addr      net.Addr
	metrics   *http.Server
	closers   []io.Closer
}

func runServe(ctx context.Context, configPath string, console io.Writer) error {
	d, err := startDaemon(ctx, configPath, console)
	if err != nil {
		return err
	}
	<-ctx.Done()
	d.log.Info("shutting down")
	return d.shutdown()
}

func startDaemon(ctx context.Context, configPath string, console io.Writer) (_ *daemon, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	log, logCloser := logger.New(cfg.Log, os.Stderr)
	d := &daemon{cfg: cfg, log: log, closers: []io.Closer{logCloser}}
	defer func() {
		if err != nil {
			_ = d.shutdown()
		}
	}()

	layout := cfg.Layout()
	if err := layout.EnsureAll(); err != nil {
		return nil, fmt.Errorf("create data directories: %w", err)
	}
	env, err := cfg.ServerEnv()
	if err != nil {
		return nil, fmt.Errorf("server environment: %w", err)
	}

	sinks, err := factory.NewSinks(cfg.History.DSNs)
	if err != nil {
		return nil, fmt.Errorf("history sinks: %w", err)
	}
	d.hist = history.NewRecorder(log.With("component", "history"), sinks...)

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	opts := cfg.SupervisorOptions()
	opts.Console, opts.ConsoleErr = console, console
	d.sup = supervisor.New(registry.New(), opts, log.With("component", "supervisor"), d.hist)

	if cfg.Metrics.Enabled {
		d.collector = metrics.NewProcessCollector(0, log.With("component", "metrics"))
		if err := d.collector.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register process metrics: %w", err)
		}
		d.collector.Start(ctx, d.sup.Running)
	}

	pcfg := cfg.Playit
	pcfg.Console = console
	d.pit = playit.New(pcfg, log, d.hist)

	arch := backup.NewArchiver(layout.BackupsDir(), log.With("component", "backup"),
		backup.WithLevel(cfg.Backup.Level),
		backup.WithExclude(cfg.Backup.Exclude),
		backup.WithHistory(d.hist),
	)
	d.sched = backup.NewScheduler(arch, layout, cfg.Backup.Keep, cfg.Backup.Parallel, log.With("component", "backup"))
	if cfg.Backup.Enabled {
		d.sched.Enable(cfg.Backup.Interval())
	}

	mw, err := auth.NewMiddleware(cfg.Server.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	tlsCfg, err := tlsconf.Setup(cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	deps := server.Deps{
		Supervisor:  d.sup,
		Layout:      layout,
		Archiver:    arch,
		Scheduler:   d.sched,
		Playit:      d.pit,
		History:     d.hist,
		Env:         env,
		AutoRestart: cfg.Supervisor.AutoRestart,
		StopGrace:   cfg.Supervisor.StopGrace,
		BackupKeep:  cfg.Backup.Keep,
		Log:         log.With("component", "api"),
	}
	if mw.Enabled() {
		deps.Auth = mw.GinAuth()
	} else {
		log.Warn("API authentication disabled; set [server.auth] token to enable it")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		deps.Metrics = metrics.Handler()
	}

	api, addr, err := server.NewServer(cfg.Server.Listen, server.NewRouter(deps, cfg.Server.BasePath), tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	d.api, d.addr = api, addr
	log.Info("api listening", "addr", addr.String(), "base_path", cfg.Server.BasePath, "tls", tlsCfg != nil, "data_dir", cfg.DataDir)

	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		d.metrics = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mw.HTTPAuth(metrics.Handler()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := d.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", "error", err)
			}
		}()
		log.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}
	return d, nil
}

// shutdown stops intake first, then the scheduler, then every child
// process, and finally flushes history and logs.
func (d *daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, s := range []*http.Server{d.api, d.metrics} {
		if s != nil {
			if err := s.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if d.sched != nil {
		d.sched.Disable()
	}
	if d.collector != nil {
		d.collector.Stop()
	}
	if d.sup != nil {
		d.sup.Shutdown(d.cfg.Supervisor.StopGrace)
	}
	if d.pit != nil {
		if err := d.pit.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		d.pit.Close()
	}
	if d.hist != nil {
		if err := d.hist.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range d.closers {
		_ = c.Close()
	}
	return errors.Join(errs...)
}
