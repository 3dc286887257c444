package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/telecomverify/telecom/internal/httputil"
)

// handleLogs returns recent server log entries.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logBuffer == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"entries": []any{},
			"message": "log buffering not enabled",
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": s.logBuffer.Entries(),
	})
}

// handleRuntime returns process runtime statistics.
func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_alloc":   mem.Alloc,
		"memory_sys":     mem.Sys,
		"gc_cycles":      mem.NumGC,
		"attempts":       s.dispatcher.Repo().Len(),
	})
}
