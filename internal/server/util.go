package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcmanager/internal/backup"
	"github.com/loykin/mcmanager/internal/history"
	"github.com/loykin/mcmanager/internal/paths"
	"github.com/loykin/mcmanager/internal/playit"
	"github.com/loykin/mcmanager/internal/supervisor"
)

// maxNameLen bounds server names; they become directory and archive names.
const maxNameLen = 64

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type linesResp struct {
	Lines []string `json:"lines"`
}

func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// isSafeName accepts server names made of ASCII letters, digits, '.', '_'
// and '-', not starting with a dot and never containing "..".
func isSafeName(s string) bool {
	if s == "" || len(s) > maxNameLen || s[0] == '.' || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// isSafeAbsPath accepts an empty path or an absolute path that is already
// clean apart from trailing separators.
func isSafeAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	trimmed := strings.TrimRight(p, string(filepath.Separator))
	if trimmed == "" || strings.HasSuffix(trimmed, ":") {
		// filesystem root, e.g. "/" or `C:\`
		return true
	}
	return filepath.Clean(p) == trimmed
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// statusCode maps domain errors onto HTTP status codes.
func statusCode(err error) int {
	var launch *supervisor.LaunchError
	switch {
	case errors.Is(err, supervisor.ErrNotFound),
		errors.Is(err, supervisor.ErrNotRunning),
		errors.Is(err, backup.ErrNotFound),
		errors.Is(err, playit.ErrNotInstalled),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrAlreadyRunning),
		errors.Is(err, supervisor.ErrNoInputChannel):
		return http.StatusConflict
	case errors.As(err, &launch),
		errors.Is(err, paths.ErrInvalidName),
		errors.Is(err, backup.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrNoReader):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(c *gin.Context, err error) {
	writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	writeJSON(c, http.StatusBadRequest, errorResp{Error: msg})
}
