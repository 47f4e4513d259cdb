package server

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcmanager/internal/paths"
	"github.com/loykin/mcmanager/internal/process"
	"github.com/loykin/mcmanager/internal/supervisor"
)

const defaultHistoryLimit = 50

// requireName rejects server names that are unsafe as a directory name.
func (r *Router) requireName(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) || paths.ValidateName(name) != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server name: allowed [A-Za-z0-9._-], no leading '.' and no '..'"})
		c.Abort()
		return
	}
	c.Next()
}

type serverInfo struct {
	Name        string `json:"name"`
	Running     bool   `json:"running"`
	PID         int32  `json:"pid,omitempty"`
	AutoRestart bool   `json:"auto_restart"`
}

func (r *Router) handleListServers(c *gin.Context) {
	names, err := r.d.Layout.ListServers()
	if err != nil {
		writeErr(c, err)
		return
	}
	running := r.d.Supervisor.Running()
	out := make([]serverInfo, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		pid, ok := running[n]
		out = append(out, serverInfo{Name: n, Running: ok, PID: pid, AutoRestart: r.d.Supervisor.AutoRestart(n)})
		seen[n] = true
	}
	// processes started outside the servers root
	for n, pid := range running {
		if !seen[n] {
			out = append(out, serverInfo{Name: n, Running: true, PID: pid, AutoRestart: r.d.Supervisor.AutoRestart(n)})
		}
	}
	writeJSON(c, http.StatusOK, out)
}

type startReq struct {
	WorkDir     string   `json:"work_dir"`
	Command     string   `json:"command"`
	Env         []string `json:"env"`
	AutoRestart *bool    `json:"auto_restart"`
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Param("name")
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if req.Command == "" {
		badRequest(c, "command required")
		return
	}
	if req.WorkDir == "" {
		dir, err := r.d.Layout.ServerDir(name)
		if err != nil {
			writeErr(c, err)
			return
		}
		req.WorkDir = dir
	}
	if !isSafeAbsPath(req.WorkDir) {
		badRequest(c, "invalid work_dir: must be absolute path without traversal")
		return
	}
	autoRestart := r.d.AutoRestart
	if req.AutoRestart != nil {
		autoRestart = *req.AutoRestart
	}
	r.d.Supervisor.SetAutoRestart(name, autoRestart)
	env := append(append([]string(nil), r.d.Env...), req.Env...)
	spec := process.Spec{Name: name, Command: req.Command, WorkDir: req.WorkDir, Env: env}
	if err := r.d.Supervisor.StartSpec(spec); err != nil {
		writeErr(c, err)
		return
	}
	st, _ := r.d.Supervisor.Status(name)
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStop(c *gin.Context) {
	wait := r.d.StopGrace
	if s := c.Query("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			badRequest(c, "invalid wait duration")
			return
		}
		wait = d
	}
	if err := r.d.Supervisor.Stop(c.Param("name"), wait); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type commandReq struct {
	Command string `json:"command"`
}

func (r *Router) handleCommand(c *gin.Context) {
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if req.Command == "" {
		badRequest(c, "command required")
		return
	}
	if err := r.d.Supervisor.SendCommand(c.Param("name"), req.Command); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type statusResp struct {
	process.Status
	UptimeSeconds int64 `json:"uptime_seconds"`
	AutoRestart   bool  `json:"auto_restart"`
	Crashes       int   `json:"recent_crashes"`
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Param("name")
	st, _ := r.d.Supervisor.Status(name)
	writeJSON(c, http.StatusOK, statusResp{
		Status:        st,
		UptimeSeconds: int64(st.Uptime(time.Now()).Seconds()),
		AutoRestart:   r.d.Supervisor.AutoRestart(name),
		Crashes:       r.d.Supervisor.CrashCount(name),
	})
}

func (r *Router) handleStats(c *gin.Context) {
	sample, err := r.d.Supervisor.Stats(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sample)
}

func (r *Router) handleLogs(c *gin.Context) {
	name := c.Param("name")
	if merge, _ := strconv.ParseBool(c.Query("merge")); merge {
		file, err := r.d.Layout.LatestLog(name)
		if err != nil {
			writeErr(c, err)
			return
		}
		writeJSON(c, http.StatusOK, linesResp{Lines: r.d.Supervisor.MergedLogs(name, file)})
		return
	}
	lines := r.d.Supervisor.Logs(name)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(c, http.StatusOK, linesResp{Lines: lines})
}

func (r *Router) handleClearLogs(c *gin.Context) {
	r.d.Supervisor.ClearLogs(c.Param("name"))
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type crashResp struct {
	Crashed bool `json:"crashed"`
	Crashes int  `json:"recent_crashes"`
}

func (r *Router) handleCrash(c *gin.Context) {
	name := c.Param("name")
	writeJSON(c, http.StatusOK, crashResp{
		Crashed: r.d.Supervisor.DetectCrash(name),
		Crashes: r.d.Supervisor.CrashCount(name),
	})
}

type autoRestartReq struct {
	Enabled *bool `json:"enabled"`
}

// handleAutoRestart toggles the flag. Enabling also clears the crash
// history so a suspended server can be restarted again.
func (r *Router) handleAutoRestart(c *gin.Context) {
	var req autoRestartReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		badRequest(c, "body must be {\"enabled\": bool}")
		return
	}
	name := c.Param("name")
	r.d.Supervisor.SetAutoRestart(name, *req.Enabled)
	if *req.Enabled {
		r.d.Supervisor.ResetCrashes(name)
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	events, err := r.d.History.Recent(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, events)
}

// handleDeleteServer removes the server directory. A running server is
// refused with 409.
func (r *Router) handleDeleteServer(c *gin.Context) {
	name := c.Param("name")
	if r.d.Supervisor.IsAlive(name) {
		writeErr(c, supervisor.ErrAlreadyRunning)
		return
	}
	dir, err := r.d.Layout.ServerDir(name)
	if err != nil {
		writeErr(c, err)
		return
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		writeErr(c, supervisor.ErrNotFound)
		return
	}
	if err := supervisor.RemoveServerDir(c.Request.Context(), dir); err != nil {
		writeErr(c, err)
		return
	}
	r.d.Supervisor.ClearLogs(name)
	r.d.Supervisor.ResetCrashes(name)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
