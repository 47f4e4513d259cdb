package supervisor

import (
	"bufio"
	"errors"
	"io/fs"
	"os"

	"github.com/loykin/mcmanager/internal/logbuf"
)

const (
	// FileTailLines is how many persisted lines MergedLogs returns when
	// there is no scrollback.
	FileTailLines = 200
	// WaitingPlaceholder is returned by MergedLogs when nothing is known yet.
	WaitingPlaceholder = "Waiting for server logs..."
)

// Logs returns a copy of the scrollback for name, or nil.
func (s *Supervisor) Logs(name string) []string {
	if buf, ok := s.reg.Log(name); ok {
		return buf.Snapshot()
	}
	return nil
}

// MergedLogs combines the scrollback with the persisted log at logFile.
// When the file is longer than the scrollback, its last len(scrollback)
// lines are appended; lines are matched by count only. Without scrollback the last FileTailLines
// file lines are returned. An unreadable file contributes nothing.
func (s *Supervisor) MergedLogs(name, logFile string) []string {
	mem := s.Logs(name)
	var file []string
	if logFile != "" {
		lines, err := readLines(logFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("persisted log unreadable", "name", name, "path", logFile, "error", err)
		}
		file = lines
	}
	return mergeLines(mem, file)
}

func mergeLines(mem, file []string) []string {
	out := append([]string(nil), mem...)
	if len(mem) > 0 {
		if len(file) > len(mem) {
			out = append(out, file[len(file)-len(mem):]...)
		}
	} else {
		start := 0
		if len(file) > FileTailLines {
			start = len(file) - FileTailLines
		}
		out = append(out, file[start:]...)
	}
	if len(out) == 0 {
		return []string{WaitingPlaceholder}
	}
	return out
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// ClearLogs drops the scrollback for name.
func (s *Supervisor) ClearLogs(name string) { s.reg.ClearLog(name) }

// DetectCrash runs the crash heuristic over the scrollback for name.
func (s *Supervisor) DetectCrash(name string) bool {
	return logbuf.DetectCrash(s.Logs(name))
}

func (s *Supervisor) SetAutoRestart(name string, enabled bool) {
	s.reg.SetAutoRestart(name, enabled)
}

func (s *Supervisor) AutoRestart(name string) bool { return s.reg.AutoRestart(name) }

func (s *Supervisor) CrashCount(name string) int { return s.reg.CrashCount(name) }

func (s *Supervisor) ResetCrashes(name string) { s.reg.ResetCrashes(name) }
