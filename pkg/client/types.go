package client

import "time"

// StartRequest is the body of POST /servers/:name/start.
type StartRequest struct {
	WorkDir     string   `json:"work_dir,omitempty"`
	Command     string   `json:"command"`
	Env         []string `json:"env,omitempty"`
	AutoRestart *bool    `json:"auto_restart,omitempty"`
}

// ServerInfo is one entry of GET /servers.
type ServerInfo struct {
	Name        string `json:"name"`
	Running     bool   `json:"running"`
	PID         int32  `json:"pid,omitempty"`
	AutoRestart bool   `json:"auto_restart"`
}

// ServerStatus is returned by start and status.
type ServerStatus struct {
	Name          string    `json:"name"`
	Running       bool      `json:"running"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	StoppedAt     time.Time `json:"stopped_at,omitempty"`
	ExitErr       string    `json:"exit_error,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds,omitempty"`
	AutoRestart   bool      `json:"auto_restart,omitempty"`
	Crashes       int       `json:"recent_crashes,omitempty"`
}

// CrashReport is returned by GET /servers/:name/crash.
type CrashReport struct {
	Crashed bool `json:"crashed"`
	Crashes int  `json:"recent_crashes"`
}

// Backup describes one archive.
type Backup struct {
	Name      string    `json:"name"`
	Server    string    `json:"server"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateBackupResponse is returned by POST /backups.
type CreateBackupResponse struct {
	Backup Backup   `json:"backup"`
	Pruned []string `json:"pruned"`
}

// BackupSchedule is returned by the schedule routes.
type BackupSchedule struct {
	Enabled       bool      `json:"enabled"`
	IntervalHours float64   `json:"interval_hours"`
	LastRun       time.Time `json:"last_run,omitempty"`
	NextRun       time.Time `json:"next_run,omitempty"`
	LastErrors    int       `json:"last_errors"`
}

// BackupRun is returned by POST /backups/run.
type BackupRun struct {
	Created []Backup          `json:"created"`
	Failed  map[string]string `json:"failed"`
	Pruned  []string          `json:"pruned"`
}

// PlayitState is returned by the playit start and status routes.
type PlayitState struct {
	Running   bool   `json:"running"`
	PID       int    `json:"pid,omitempty"`
	TunnelURL string `json:"tunnel_url,omitempty"`
	Status    string `json:"status"`
}

// TunnelAddress is returned by the playit address and detect routes.
type TunnelAddress struct {
	Address string `json:"address"`
	Found   bool   `json:"found"`
	Source  string `json:"source,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
