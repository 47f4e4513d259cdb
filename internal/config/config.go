package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/mcmanager/internal/auth"
	"github.com/loykin/mcmanager/internal/backup"
	"github.com/loykin/mcmanager/internal/env"
	"github.com/loykin/mcmanager/internal/logbuf"
	"github.com/loykin/mcmanager/internal/logger"
	"github.com/loykin/mcmanager/internal/paths"
	"github.com/loykin/mcmanager/internal/playit"
	"github.com/loykin/mcmanager/internal/supervisor"
	tlsconf "github.com/loykin/mcmanager/internal/tls"
	"github.com/loykin/mcmanager/internal/tunnel"
)

// EnvPrefix namespaces environment overrides, e.g. MCMANAGER_DATA_DIR or
// MCMANAGER_BACKUP_INTERVAL_HOURS.
const EnvPrefix = "MCMANAGER"

// Config represents the top-level TOML structure.
type Config struct {
	DataDir string `mapstructure:"data_dir"`
	// Env and EnvFiles are added to every launched server's environment.
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`

	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Playit     playit.Config    `mapstructure:"playit"`
	Log        logger.Config    `mapstructure:"log"`
	History    HistoryConfig    `mapstructure:"history"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type SupervisorConfig struct {
	LogCapacity  int                      `mapstructure:"log_capacity"`
	StopGrace    time.Duration            `mapstructure:"stop_grace"`
	PollInterval time.Duration            `mapstructure:"poll_interval"`
	StopCommand  string                   `mapstructure:"stop_command"`
	AutoRestart  bool                     `mapstructure:"auto_restart"`
	Restart      supervisor.RestartPolicy `mapstructure:"restart"`
}

type BackupConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	IntervalHours int      `mapstructure:"interval_hours"`
	Keep          int      `mapstructure:"keep"`
	Parallel      int      `mapstructure:"parallel"`
	Level         int      `mapstructure:"level"`
	Exclude       []string `mapstructure:"exclude"`
}

// Interval converts IntervalHours to a duration.
func (b BackupConfig) Interval() time.Duration {
	return time.Duration(b.IntervalHours) * time.Hour
}

type HistoryConfig struct {
	// DSNs select history sinks, see history.NewSinkFromDSN.
	DSNs []string `mapstructure:"dsns"`
}

type ServerConfig struct {
	Listen   string         `mapstructure:"listen"`
	BasePath string         `mapstructure:"base_path"`
	Auth     auth.Config    `mapstructure:"auth"`
	TLS      tlsconf.Config `mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", false)

	v.SetDefault("supervisor.log_capacity", logbuf.DefaultCapacity)
	v.SetDefault("supervisor.stop_grace", supervisor.DefaultStopGrace)
	v.SetDefault("supervisor.poll_interval", supervisor.DefaultPollInterval)
	v.SetDefault("supervisor.stop_command", supervisor.DefaultStopCommand)
	v.SetDefault("supervisor.auto_restart", false)
	v.SetDefault("supervisor.restart.max_crashes", supervisor.DefaultRestartPolicy.MaxCrashes)
	v.SetDefault("supervisor.restart.window", supervisor.DefaultRestartPolicy.Window)
	v.SetDefault("supervisor.restart.delay", supervisor.DefaultRestartPolicy.Delay)

	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.interval_hours", 24)
	v.SetDefault("backup.keep", backup.DefaultKeep)
	v.SetDefault("backup.parallel", backup.DefaultParallel)
	v.SetDefault("backup.level", -1)
	v.SetDefault("backup.exclude", backup.ExcludedNames)

	v.SetDefault("playit.binary", playit.DefaultBinary())
	v.SetDefault("playit.dir", "")
	v.SetDefault("playit.log_capacity", logbuf.TunnelCapacity)
	v.SetDefault("playit.config_files", tunnel.DefaultConfigFiles)
	v.SetDefault("playit.recent_window", tunnel.DefaultRecentWindow)
	v.SetDefault("playit.max_file_size", tunnel.DefaultMaxFileSize)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.app_file", "")
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("history.dsns", []string{})

	v.SetDefault("server.listen", "127.0.0.1:8787")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.auth.token", "")
	v.SetDefault("server.auth.token_file", "")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.dir", "tls")
	v.SetDefault("server.tls.auto_generate", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
}

// Load reads path (TOML) over the defaults and applies MCMANAGER_*
// environment overrides. An empty or missing path yields the defaults.
// Relative directories are resolved against the data root.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(filepath.Clean(path))
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) resolve() error {
	if c.DataDir == "" {
		root, err := paths.DefaultRoot()
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		c.DataDir = root
	}
	if c.Backup.IntervalHours <= 0 {
		return fmt.Errorf("backup.interval_hours must be positive, got %d", c.Backup.IntervalHours)
	}
	if c.Backup.Keep <= 0 {
		return fmt.Errorf("backup.keep must be positive, got %d", c.Backup.Keep)
	}
	layout := c.Layout()
	if c.Playit.Dir == "" {
		c.Playit.Dir = layout.PlayitDir()
	}
	if c.Server.TLS.Dir != "" && !filepath.IsAbs(c.Server.TLS.Dir) {
		c.Server.TLS.Dir = filepath.Join(c.DataDir, c.Server.TLS.Dir)
	}
	if c.Log.File.Dir != "" && !filepath.IsAbs(c.Log.File.Dir) {
		c.Log.File.Dir = filepath.Join(c.DataDir, c.Log.File.Dir)
	}
	if c.Log.AppFile != "" && !filepath.IsAbs(c.Log.AppFile) {
		c.Log.AppFile = filepath.Join(layout.LogsDir(), c.Log.AppFile)
	}
	return nil
}

// Layout returns the directory layout under DataDir.
func (c *Config) Layout() paths.Layout { return paths.Layout{Root: c.DataDir} }

// SupervisorOptions maps the [supervisor] and [log] sections.
func (c *Config) SupervisorOptions() supervisor.Options {
	return supervisor.Options{
		LogCapacity:  c.Supervisor.LogCapacity,
		StopGrace:    c.Supervisor.StopGrace,
		PollInterval: c.Supervisor.PollInterval,
		StopCommand:  c.Supervisor.StopCommand,
		Capture:      c.Log,
		Restart:      c.Supervisor.Restart,
	}
}

// ServerEnv merges the environment given to launched servers. The OS
// environment (when UseOSEnv is set) is the base, env files are applied in
// order, then the env list wins. ${VAR} references are expanded and the
// result is sorted by key.
func (c *Config) ServerEnv() ([]string, error) {
	e := env.New(c.UseOSEnv)
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			e.Set(k, v)
		}
	}
	e.SetPairs(c.Env)
	return e.Merge(nil), nil
}

func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
