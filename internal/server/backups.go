package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcmanager/internal/backup"
)

func (r *Router) handleListBackups(c *gin.Context) {
	var (
		list []backup.Info
		err  error
	)
	if server := c.Query("server"); server != "" {
		list, err = r.d.Archiver.ListServer(server)
	} else {
		list, err = r.d.Archiver.List()
	}
	if err != nil {
		writeErr(c, err)
		return
	}
	if list == nil {
		list = []backup.Info{}
	}
	writeJSON(c, http.StatusOK, list)
}

type backupReq struct {
	Server string `json:"server"`
}

type createBackupResp struct {
	Backup backup.Info `json:"backup"`
	Pruned []string    `json:"pruned,omitempty"`
}

// handleCreateBackup archives one server and applies the retention limit
// when a keep count is configured.
func (r *Router) handleCreateBackup(c *gin.Context) {
	var req backupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if !isSafeName(req.Server) {
		badRequest(c, "invalid server name")
		return
	}
	dir, err := r.d.Layout.ServerDir(req.Server)
	if err != nil {
		writeErr(c, err)
		return
	}
	info, err := r.d.Archiver.Create(c.Request.Context(), req.Server, dir)
	if err != nil {
		writeErr(c, err)
		return
	}
	resp := createBackupResp{Backup: info}
	if r.d.BackupKeep > 0 {
		if resp.Pruned, err = r.d.Archiver.Prune(r.d.BackupKeep); err != nil {
			r.d.Log.Warn("prune after manual backup", "error", err)
		}
	}
	writeJSON(c, http.StatusCreated, resp)
}

func (r *Router) handleDeleteBackup(c *gin.Context) {
	if err := r.d.Archiver.Delete(c.Param("backup")); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleRestoreBackup replaces a server directory with an archive. The
// target defaults to the server the archive was taken from and must not
// be running.
func (r *Router) handleRestoreBackup(c *gin.Context) {
	name := c.Param("backup")
	var req backupReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON: "+err.Error())
			return
		}
	}
	if req.Server == "" {
		req.Server = backup.ServerOf(name)
	}
	if !isSafeName(req.Server) {
		badRequest(c, "invalid server name")
		return
	}
	if r.d.Supervisor.IsAlive(req.Server) {
		writeJSON(c, http.StatusConflict, errorResp{Error: "stop " + req.Server + " before restoring"})
		return
	}
	if _, err := r.d.Archiver.Path(name); err != nil {
		writeErr(c, err)
		return
	}
	dir, err := r.d.Layout.ServerDir(req.Server)
	if err != nil {
		writeErr(c, err)
		return
	}
	if err := r.d.Archiver.Restore(c.Request.Context(), name, dir); err != nil {
		writeErr(c, err)
		return
	}
	r.d.Supervisor.ClearLogs(req.Server)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type runResp struct {
	Created []backup.Info     `json:"created"`
	Failed  map[string]string `json:"failed"`
	Pruned  []string          `json:"pruned"`
}

func (r *Router) handleRunBackups(c *gin.Context) {
	res := r.d.Scheduler.RunOnce(c.Request.Context())
	out := runResp{Created: res.Created, Failed: make(map[string]string, len(res.Failed)), Pruned: res.Pruned}
	for name, err := range res.Failed {
		out.Failed[name] = err.Error()
	}
	if out.Created == nil {
		out.Created = []backup.Info{}
	}
	if out.Pruned == nil {
		out.Pruned = []string{}
	}
	writeJSON(c, http.StatusOK, out)
}

type scheduleResp struct {
	backup.Status
	IntervalHours float64 `json:"interval_hours"`
}

func (r *Router) handleGetSchedule(c *gin.Context) {
	st := r.d.Scheduler.Status()
	writeJSON(c, http.StatusOK, scheduleResp{Status: st, IntervalHours: st.Interval.Hours()})
}

type scheduleReq struct {
	Enabled       *bool `json:"enabled"`
	IntervalHours int   `json:"interval_hours"`
}

func (r *Router) handlePutSchedule(c *gin.Context) {
	var req scheduleReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		badRequest(c, "body must be {\"enabled\": bool, \"interval_hours\": int}")
		return
	}
	if *req.Enabled {
		if req.IntervalHours <= 0 {
			badRequest(c, "interval_hours must be positive")
			return
		}
		r.d.Scheduler.Enable(time.Duration(req.IntervalHours) * time.Hour)
	} else {
		r.d.Scheduler.Disable()
	}
	r.handleGetSchedule(c)
}
