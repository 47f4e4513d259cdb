package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestProcessWriters(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    FileConfig
		wantOut string
		wantErr string
	}{
		{name: "none", file: FileConfig{}},
		{
			name:    "dir",
			file:    FileConfig{Dir: filepath.Join(dir, "logs")},
			wantOut: filepath.Join(dir, "logs", "survival.stdout.log"),
			wantErr: filepath.Join(dir, "logs", "survival.stderr.log"),
		},
		{
			name:    "explicit paths win",
			file:    FileConfig{Dir: filepath.Join(dir, "unused"), StdoutPath: filepath.Join(dir, "out.log"), StderrPath: filepath.Join(dir, "err.log")},
			wantOut: filepath.Join(dir, "out.log"),
			wantErr: filepath.Join(dir, "err.log"),
		},
		{
			name:    "stdout only",
			file:    FileConfig{StdoutPath: filepath.Join(dir, "only.log")},
			wantOut: filepath.Join(dir, "only.log"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outW, errW, err := Config{File: tt.file}.ProcessWriters("survival")
			if err != nil {
				t.Fatalf("ProcessWriters: %v", err)
			}
			check := func(w io.WriteCloser, want string) {
				t.Helper()
				if want == "" {
					if w != nil {
						t.Fatalf("expected no writer, got %T", w)
					}
					return
				}
				if w == nil {
					t.Fatalf("expected writer for %s", want)
				}
				_, _ = w.Write([]byte("[Server thread/INFO]: Done\n"))
				_ = w.Close()
				if _, err := os.Stat(want); err != nil {
					t.Fatalf("capture file missing: %v", err)
				}
			}
			check(outW, tt.wantOut)
			check(errW, tt.wantErr)
		})
	}
}

func TestProcessWriters_Rotation(t *testing.T) {
	dir := t.TempDir()
	defaults := FileConfig{Dir: dir}
	custom := FileConfig{Dir: dir, MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}
	for _, tc := range []struct {
		f                   FileConfig
		size, backups, days int
		compress            bool
	}{
		{defaults, DefaultMaxSizeMB, DefaultMaxBackups, DefaultMaxAgeDays, false},
		{custom, 1, 9, 11, true},
	} {
		outW, errW, err := Config{File: tc.f}.ProcessWriters("lobby")
		if err != nil {
			t.Fatal(err)
		}
		for _, w := range []io.WriteCloser{outW, errW} {
			l, ok := w.(*lj.Logger)
			if !ok {
				t.Fatalf("writer is %T, want lumberjack", w)
			}
			if l.MaxSize != tc.size || l.MaxBackups != tc.backups || l.MaxAge != tc.days || l.Compress != tc.compress {
				t.Fatalf("rotation = %d/%d/%d/%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
			}
			_ = w.Close()
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestNew_JSONAndColor(t *testing.T) {
	var buf bytes.Buffer
	l, c := New(Config{Format: "json"}, &buf)
	l.Info("hello", "k", "v")
	_ = c.Close()
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}

	buf.Reset()
	l, _ = New(Config{Color: true, Level: "debug"}, &buf)
	l.Debug("dbg")
	if !strings.Contains(buf.String(), "DEBUG") || !strings.Contains(buf.String(), "dbg") {
		t.Fatalf("expected colored debug level, got %q", buf.String())
	}
}

func TestColorTextHandler_ComponentAndTime(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Config{Color: true, HideTime: true}, &buf)
	l.With("component", "backup").Info("pass done", "created", 2)
	out := buf.String()
	if !strings.Contains(out, "[backup] pass done") || !strings.Contains(out, "created=2") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Contains(out, "time=") || strings.Contains(out, "component=") {
		t.Fatalf("time or component leaked into %q", out)
	}

	buf.Reset()
	l.WithGroup("srv").Warn("slow", "server", "lobby")
	if !strings.Contains(buf.String(), "srv.server=lobby") {
		t.Fatalf("group lost: %q", buf.String())
	}
}

func TestNew_AppFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "app.log")
	var buf bytes.Buffer
	l, c := New(Config{AppFile: path}, &buf)
	l.Warn("to-file")
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read app file: %v", err)
	}
	if !strings.Contains(string(b), "to-file") || !strings.Contains(buf.String(), "to-file") {
		t.Fatalf("expected message in both sinks")
	}
}
