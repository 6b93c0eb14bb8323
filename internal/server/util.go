package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/applauncher/internal/manager"
	"github.com/loykin/applauncher/internal/profile"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeAbsPath ensures the provided path is absolute and does not contain traversal.
// It must be already cleaned (no ".." segments).
func isSafeAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	sep := string(filepath.Separator)
	trimmed := strings.TrimRight(p, sep)
	if trimmed == "" {
		trimmed = p // keep root like "/" on Unix
	}
	// Reject if cleaning changes more than just trailing separators
	if !(clean == p || clean == trimmed) {
		return false
	}
	return true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// writeError maps engine errors to HTTP status codes.
func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, manager.ErrUnknownProfile):
		code = http.StatusNotFound
	case errors.Is(err, manager.ErrProfileExists):
		code = http.StatusConflict
	case errors.Is(err, manager.ErrEmptyName), errors.Is(err, profile.ErrIndexOutOfRange):
		code = http.StatusBadRequest
	case errors.Is(err, manager.ErrShuttingDown):
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}

// indexParam parses a non-negative path parameter.
func indexParam(c *gin.Context, key string) (int, bool) {
	i, err := strconv.Atoi(c.Param(key))
	if err != nil || i < 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: key + " must be a non-negative integer"})
		return 0, false
	}
	return i, true
}
