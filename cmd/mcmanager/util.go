package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loykin/mcmanager/internal/backup"
	"github.com/loykin/mcmanager/internal/config"
	"github.com/loykin/mcmanager/internal/logger"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func printLines(w io.Writer, lines []string) {
	for _, l := range lines {
		_, _ = fmt.Fprintln(w, l)
	}
}

// tail returns the last n lines; n <= 0 keeps them all.
func tail(lines []string, n int) []string {
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// loadLocal loads the config and a console logger for commands that work
// on the data directory without a daemon.
func loadLocal(g *GlobalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	lc := cfg.Log
	lc.AppFile = ""
	log, _ := logger.New(lc, os.Stderr)
	return cfg, log, nil
}

func archiverFor(cfg *config.Config, log *slog.Logger) *backup.Archiver {
	return backup.NewArchiver(cfg.Layout().BackupsDir(), log,
		backup.WithLevel(cfg.Backup.Level),
		backup.WithExclude(cfg.Backup.Exclude),
	)
}
