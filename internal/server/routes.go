package server

import (
	"net/http"
	"time"

	"github.com/bobmcallan/pulse/internal/common"
)

// registerRoutes sets up the status API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)
}

// handleHealth reports liveness plus a monitoring snapshot: uptime,
// tracked market count and scheduler counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	uptime := time.Since(s.app.StartupTime).Round(time.Second)

	resp := map[string]interface{}{
		"status":     "ok",
		"version":    common.GetVersion(),
		"uptime":     uptime.String(),
		"started_at": s.app.StartupTime,
	}

	if streams, err := s.app.Storage.StreamStorage().CountStreams(r.Context()); err == nil {
		resp["streams"] = streams
	}
	if s.app.Scheduler != nil {
		resp["scheduler"] = s.app.Scheduler.Stats()
	}

	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// handleAlerts returns recently delivered alerts, newest first.
// GET /api/alerts?limit=N (default 50, max 500).
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := QueryInt(r, "limit", 50, 500)

	events, err := s.app.Storage.AlertStorage().ListAlertEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list alert events")
		WriteError(w, http.StatusInternalServerError, "Failed to list alerts")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"alerts": events,
	})
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}
