package tunnel

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Source identifies which tier produced an address.
type Source string

const (
	SourceNone    Source = ""
	SourceCache   Source = "cache"
	SourceLogs    Source = "logs"
	SourceConfig  Source = "config"
	SourceRecent  Source = "recent"
	SourceManual  Source = "manual"
	SourceLiveLog Source = "live"
)

// Defaults for the recent-file tier.
const (
	DefaultRecentWindow = 120 * time.Second
	DefaultMaxFileSize  = 50_000
)

// DefaultConfigFiles are the agent files probed, relative to Config.Dir.
var DefaultConfigFiles = []string{
	"playit.toml",
	"agent-config.json",
	"agent.json",
	"config.toml",
	"config.json",
}

// Config controls where the detector looks.
type Config struct {
	Dir          string        `mapstructure:"dir"`
	ConfigFiles  []string      `mapstructure:"config_files"`
	RecentWindow time.Duration `mapstructure:"recent_window"`
	MaxFileSize  int64         `mapstructure:"max_file_size"`
	Patterns     []Pattern     `mapstructure:"-"`
}

// Detector owns the cached tunnel address and runs the tiered search.
// The zero value is not usable; call NewDetector.
type Detector struct {
	cfg     Config
	matcher *Matcher
	log     *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	cached string
	source Source
}

func NewDetector(cfg Config, log *slog.Logger) *Detector {
	if cfg.ConfigFiles == nil {
		cfg.ConfigFiles = DefaultConfigFiles
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Detector{cfg: cfg, matcher: NewMatcher(cfg.Patterns), log: log, now: time.Now}
}

// Cached returns the memoized address.
func (d *Detector) Cached() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached, d.cached != ""
}

// Source reports how the cached address was obtained.
func (d *Detector) Source() Source {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.source
}

// Set overrides the cached address. An empty addr clears it.
func (d *Detector) Set(addr string) {
	d.store(strings.TrimSpace(addr), SourceManual)
}

func (d *Detector) Clear() { d.store("", SourceNone) }

func (d *Detector) store(addr string, src Source) {
	d.mu.Lock()
	d.cached = addr
	if addr == "" {
		src = SourceNone
	}
	d.source = src
	d.mu.Unlock()
}

// Observe matches a freshly captured line and caches the address on the
// first hit. It returns the address and true only when this call set it.
func (d *Detector) Observe(line string) (string, bool) {
	if _, ok := d.Cached(); ok {
		return "", false
	}
	addr, _, ok := d.matcher.Match(line)
	if !ok {
		return "", false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached != "" {
		return "", false
	}
	d.cached, d.source = addr, SourceLiveLog
	return addr, true
}

// Detect searches cache, scrollback, config files then recently modified
// files, stopping at the first hit. A hit from any tier other than the
// cache is memoized. Unreadable or malformed files are skipped.
func (d *Detector) Detect(scrollback []string) (string, Source, bool) {
	if addr, ok := d.Cached(); ok {
		return addr, SourceCache, true
	}
	if addr, ok := d.fromText(strings.Join(scrollback, "\n")); ok {
		return d.remember(addr, SourceLogs)
	}
	if addr, ok := d.fromConfigFiles(); ok {
		return d.remember(addr, SourceConfig)
	}
	if addr, ok := d.fromRecentFiles(); ok {
		return d.remember(addr, SourceRecent)
	}
	return "", SourceNone, false
}

func (d *Detector) remember(addr string, src Source) (string, Source, bool) {
	d.store(addr, src)
	return addr, src, true
}

func (d *Detector) fromText(text string) (string, bool) {
	addr, _, ok := d.matcher.Match(text)
	return addr, ok
}

func (d *Detector) fromConfigFiles() (string, bool) {
	for _, name := range d.cfg.ConfigFiles {
		path := name
		if !filepath.IsAbs(path) && d.cfg.Dir != "" {
			path = filepath.Join(d.cfg.Dir, name)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				d.log.Debug("tunnel config unreadable", "path", path, "error", err)
			}
			continue
		}
		if strings.EqualFold(filepath.Ext(path), ".json") {
			if addr, ok := d.fromJSON(b); ok {
				return addr, true
			}
			continue
		}
		if addr, ok := d.fromText(string(b)); ok {
			return addr, true
		}
	}
	return "", false
}

// fromJSON walks a decoded document and matches its string values. When
// the document does not decode it is matched as plain text.
func (d *Detector) fromJSON(b []byte) (string, bool) {
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		d.log.Debug("tunnel config is not valid json", "error", err)
		return d.fromText(string(b))
	}
	var strs []string
	collectStrings(doc, &strs)
	return d.fromText(strings.Join(strs, "\n"))
}

func collectStrings(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		*out = append(*out, t)
	case []any:
		for _, e := range t {
			collectStrings(e, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(t[k], out)
		}
	}
}

func (d *Detector) fromRecentFiles() (string, bool) {
	if d.cfg.Dir == "" {
		return "", false
	}
	entries, err := os.ReadDir(d.cfg.Dir)
	if err != nil {
		return "", false
	}
	cutoff := d.now().Add(-d.cfg.RecentWindow)
	// top level only; subdirectories are not searched
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.Size() > d.cfg.MaxFileSize || info.ModTime().Before(cutoff) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(d.cfg.Dir, e.Name()))
		if err != nil {
			continue
		}
		if addr, ok := d.fromText(string(b)); ok {
			return addr, true
		}
	}
	return "", false
}
