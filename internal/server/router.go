package server

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcmanager/internal/backup"
	"github.com/loykin/mcmanager/internal/history"
	"github.com/loykin/mcmanager/internal/paths"
	"github.com/loykin/mcmanager/internal/playit"
	"github.com/loykin/mcmanager/internal/supervisor"
)

// Router provides embeddable HTTP handlers for the launcher.
// Endpoints (relative to basePath):
//
//	GET    /servers                      list server directories and liveness
//	POST   /servers/:name/start          body: startReq
//	POST   /servers/:name/stop           query: wait=10s (optional)
//	POST   /servers/:name/command        body: {"command": "..."}
//	GET    /servers/:name/status|stats|crash|history
//	GET    /servers/:name/logs           query: merge=1 (optional)
//	DELETE /servers/:name/logs
//	PUT    /servers/:name/auto-restart   body: {"enabled": true}
//	DELETE /servers/:name
//	GET    /backups                      query: server=... (optional)
//	POST   /backups                      body: {"server": "..."}
//	POST   /backups/run
//	GET    /backups/schedule, PUT /backups/schedule
//	DELETE /backups/:backup
//	POST   /backups/:backup/restore      body: {"server": "..."} (optional)
//	POST   /playit/start|stop|detect
//	GET    /playit/status|address|logs, PUT /playit/address
//	GET    /metrics
//
// Backup and playit routes are only mounted when their dependency is set.
type Router struct {
	d        Deps
	basePath string
}

// Deps are the components the handlers drive. Supervisor is required.
type Deps struct {
	Supervisor *supervisor.Supervisor
	Layout     paths.Layout
	Archiver   *backup.Archiver
	Scheduler  *backup.Scheduler
	Playit     *playit.Supervisor
	History    *history.Recorder
	// Env is prepended to the env of every server started over the API.
	Env []string
	// AutoRestart applies to servers whose start request leaves it unset.
	AutoRestart bool
	// StopGrace is used when a stop request carries no wait parameter.
	StopGrace time.Duration
	// BackupKeep prunes archives after a manual backup when positive.
	BackupKeep int
	Metrics    http.Handler
	Auth       gin.HandlerFunc
	Log        *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/servers, /api/backups, ...
func NewRouter(d Deps, basePath string) *Router {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Router{d: d, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	group := g.Group(r.basePath)
	if r.d.Auth != nil {
		group.Use(r.d.Auth)
	}

	group.GET("/servers", r.handleListServers)
	srv := group.Group("/servers/:name", r.requireName)
	srv.POST("/start", r.handleStart)
	srv.POST("/stop", r.handleStop)
	srv.POST("/command", r.handleCommand)
	srv.GET("/status", r.handleStatus)
	srv.GET("/stats", r.handleStats)
	srv.GET("/logs", r.handleLogs)
	srv.DELETE("/logs", r.handleClearLogs)
	srv.GET("/crash", r.handleCrash)
	srv.PUT("/auto-restart", r.handleAutoRestart)
	srv.GET("/history", r.handleHistory)
	srv.DELETE("", r.handleDeleteServer)

	if r.d.Archiver != nil {
		bk := group.Group("/backups")
		bk.GET("", r.handleListBackups)
		bk.POST("", r.handleCreateBackup)
		bk.DELETE("/:backup", r.handleDeleteBackup)
		bk.POST("/:backup/restore", r.handleRestoreBackup)
		if r.d.Scheduler != nil {
			bk.POST("/run", r.handleRunBackups)
			bk.GET("/schedule", r.handleGetSchedule)
			bk.PUT("/schedule", r.handlePutSchedule)
		}
	}

	if r.d.Playit != nil {
		pt := group.Group("/playit")
		pt.POST("/start", r.handlePlayitStart)
		pt.POST("/stop", r.handlePlayitStop)
		pt.GET("/status", r.handlePlayitStatus)
		pt.GET("/address", r.handlePlayitAddress)
		pt.PUT("/address", r.handlePlayitSetAddress)
		pt.POST("/detect", r.handlePlayitDetect)
		pt.GET("/logs", r.handlePlayitLogs)
	}

	if r.d.Metrics != nil {
		group.GET("/metrics", gin.WrapH(r.d.Metrics))
	}
	return g
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.d.Log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// NewServer listens on addr and serves the router in the background. With
// a non-nil tlsCfg the listener speaks HTTPS. Listen errors are returned
// synchronously.
func NewServer(addr string, r *Router, tlsCfg *tls.Config) (*http.Server, net.Addr, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	go func() {
		var err error
		if tlsCfg != nil {
			err = server.ServeTLS(ln, "", "")
		} else {
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.d.Log.Error("api server stopped", "error", err)
		}
	}()
	return server, ln.Addr(), nil
}
