package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/overlay-core/internal/overlay"
	"github.com/nerrad567/overlay-core/internal/panel"
)

// healthCheckTimeout bounds the database ping in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/ws", s.handleWebSocket)
	if p := s.wsCfg.Path; p != "" && p != "/ws" {
		r.Get(p, s.handleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/ws", s.handleWebSocket)

		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/templates", s.handleTemplates)
		r.Get("/scenes/{id}/sync-status", s.handleSyncStatus)
		r.Post("/commands", s.handleCommand)
	})

	if s.uiCfg.Enabled {
		r.Handle("/*", panel.Handler(s.uiCfg.Dir))
	}

	return r
}

// handleHealth reports server and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}

	writeJSON(w, status, body)
}

// handleSnapshot returns the last broadcast snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	data := s.hub.Latest()
	if data == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "server not started")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck // Best-effort write to response
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": overlay.Templates()})
}

// handleSyncStatus returns the draft-vs-live report for one scene.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.registry.SyncStatus(id)
	if errors.Is(err, overlay.ErrSceneNotFound) {
		writeNotFound(w, "scene not found")
		return
	}
	if err != nil {
		writeInternalError(w, "failed to compute sync status")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleCommand applies one command through the writer goroutine and waits
// for its outcome. The resulting snapshot goes to WebSocket sessions.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	cmd, err := DecodeCommand(body)
	if err != nil {
		s.recordCommand("unknown", ErrCodeBadRequest, 0)
		writeCommandError(w, err)
		return
	}

	reply := make(chan error, 1)
	if err := s.submit(r.Context(), request{cmd: cmd, source: "rest", reply: reply}); err != nil {
		writeCommandError(w, err)
		return
	}

	select {
	case err := <-reply:
		if err != nil {
			writeCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "type": cmd.Type})
	case <-r.Context().Done():
	case <-s.stopped():
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "server is shutting down")
	}
}

func writeCommandError(w http.ResponseWriter, err error) {
	var cerr *commandError
	if !errors.As(err, &cerr) {
		writeInternalError(w, err.Error())
		return
	}
	writeError(w, cerr.httpStatus(), cerr.Code, cerr.Message)
}
