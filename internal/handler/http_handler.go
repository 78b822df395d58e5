package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/leadflow/internal/alerts"
	"github.com/gosight/gosight/leadflow/internal/engine"
	"github.com/gosight/gosight/leadflow/internal/enricher"
	"github.com/gosight/gosight/leadflow/internal/event"
	"github.com/gosight/gosight/leadflow/internal/funnel"
	"github.com/gosight/gosight/leadflow/internal/metrics"
	"github.com/gosight/gosight/leadflow/internal/scoring"
	"github.com/gosight/gosight/leadflow/internal/session"
	"github.com/gosight/gosight/leadflow/internal/storage"
	"github.com/gosight/gosight/leadflow/internal/validation"
)

const maxBodyBytes = 1 << 20

// Engine is the part of the lead engine the HTTP API drives.
type Engine interface {
	Apply(ctx context.Context, sessionID string, e event.Event) (engine.Result, error)
	RecordFunnelEvent(ctx context.Context, sessionID, stage, name string, data map[string]any) (bool, error)
	Session(ctx context.Context, id string) (*session.Session, error)
	Recommendation(ctx context.Context, id string) (scoring.Recommendation, error)
	Progress(ctx context.Context, id string) (funnel.Progress, error)
}

// AlertLog lists recently raised alerts.
type AlertLog interface {
	List(limit int) []alerts.Alert
}

// FallbackLister lists failed automation deliveries for reconciliation.
type FallbackLister interface {
	ListFallback(ctx context.Context, limit int) ([]storage.FallbackRecord, error)
}

type HTTPHandler struct {
	engine   Engine
	enricher *enricher.Enricher
	limiter  *validation.Limiter
	alerts   AlertLog
	fallback FallbackLister
}

func NewHTTPHandler(en Engine, e *enricher.Enricher, l *validation.Limiter, a AlertLog, f FallbackLister) *HTTPHandler {
	return &HTTPHandler{
		engine:   en,
		enricher: e,
		limiter:  l,
		alerts:   a,
		fallback: f,
	}
}

// NewRouter mounts the API on a chi router.
func NewRouter(h *HTTPHandler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)
	r.Use(m.Middleware)

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.HandleEvents)
		r.Post("/funnel", h.HandleFunnel)
		r.Get("/sessions/{id}", h.HandleSession)
		r.Get("/sessions/{id}/recommendation", h.HandleRecommendation)
		r.Get("/alerts", h.HandleAlerts)
		r.Get("/fallback", h.HandleFallback)
	})
	return r
}

type EventBatchRequest struct {
	SessionID string                   `json:"session_id"`
	Events    []map[string]interface{} `json:"events"`
}

type EventResponse struct {
	Success       bool     `json:"success"`
	AcceptedCount int      `json:"accepted_count"`
	RejectedCount int      `json:"rejected_count"`
	Errors        []string `json:"errors,omitempty"`
	Score         int      `json:"score"`
	Tier          string   `json:"tier,omitempty"`
}

func (h *HTTPHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var req EventBatchRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, EventResponse{Errors: []string{"session_id is required"}})
		return
	}

	if !h.limiter.Allow(r.Context(), req.SessionID, len(req.Events)) {
		writeJSON(w, http.StatusTooManyRequests, EventResponse{
			RejectedCount: len(req.Events),
			Errors:        []string{"Rate limit exceeded"},
		})
		return
	}

	// Get client IP for enrichment
	clientIP := r.Header.Get("X-Real-IP")
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}
	userAgent := r.Header.Get("User-Agent")

	resp := EventResponse{}
	for i, raw := range req.Events {
		if raw == nil {
			resp.RejectedCount++
			resp.Errors = append(resp.Errors, fmt.Sprintf("event %d: not an object", i))
			continue
		}
		raw["session_id"] = req.SessionID
		if raw["event_id"] == nil {
			raw["event_id"] = uuid.New().String()
		}
		if h.enricher != nil {
			h.enricher.Enrich(raw, userAgent, clientIP)
		}

		e, err := event.Parse(raw)
		if err != nil {
			resp.RejectedCount++
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		res, err := h.engine.Apply(r.Context(), req.SessionID, e)
		if err != nil {
			log.Error().Err(err).Str("session_id", req.SessionID).Msg("Failed to apply event")
			resp.RejectedCount++
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		resp.AcceptedCount++
		resp.Score = res.Session.Score
		resp.Tier = res.Session.Tier
	}

	resp.Success = resp.RejectedCount == 0
	writeJSON(w, http.StatusOK, resp)
}

type FunnelRequest struct {
	SessionID string                 `json:"session_id"`
	Stage     string                 `json:"stage"`
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func (h *HTTPHandler) HandleFunnel(w http.ResponseWriter, r *http.Request) {
	var req FunnelRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Stage == "" || req.Event == "" {
		writeError(w, http.StatusBadRequest, "session_id, stage and event are required")
		return
	}

	ok, err := h.engine.RecordFunnelEvent(r.Context(), req.SessionID, req.Stage, req.Event, req.Data)
	if err != nil {
		log.Error().Err(err).Str("session_id", req.SessionID).Msg("Failed to record funnel event")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"recorded": ok,
	})
}

type SessionResponse struct {
	Session  *session.Session `json:"session"`
	Progress funnel.Progress  `json:"funnel"`
}

func (h *HTTPHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.engine.Session(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	p, err := h.engine.Progress(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: s, Progress: p})
}

func (h *HTTPHandler) HandleRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Recommendation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	list := []alerts.Alert{}
	if h.alerts != nil {
		list = h.alerts.List(limitParam(r, 100))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": list})
}

func (h *HTTPHandler) HandleFallback(w http.ResponseWriter, r *http.Request) {
	if h.fallback == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"records": []storage.FallbackRecord{}})
		return
	}
	recs, err := h.fallback.ListFallback(r.Context(), limitParam(r, 100))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list fallback records")
		writeError(w, http.StatusInternalServerError, "failed to list fallback records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": recs})
}

func limitParam(r *http.Request, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		return v
	}
	return def
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	log.Error().Err(err).Msg("Session lookup failed")
	writeError(w, http.StatusInternalServerError, "session lookup failed")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
