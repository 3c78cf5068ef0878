package api

import (
	"Go2NetIDS/internal/engine/manager"
	"Go2NetIDS/internal/history"
	"Go2NetIDS/internal/model"
	"Go2NetIDS/internal/probe"
	"Go2NetIDS/internal/query"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultVerdictLimit = 100
	maxVerdictLimit     = 1000
)

type healthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Uptime  string `json:"uptime"`
}

type statsResponse struct {
	*history.StatsSnapshot
	CacheAgeSeconds float64        `json:"cache_age_seconds"`
	Pipeline        manager.Status `json:"pipeline"`
	Capture         *probe.Stats   `json:"capture,omitempty"`
	Model           ModelInfo      `json:"model"`
	Uptime          string         `json:"uptime"`
}

type verdictsResponse struct {
	Verdicts []model.Verdict `json:"verdicts"`
	Total    uint64          `json:"total"`
	Held     int             `json:"held"`
}

type testAlertResponse struct {
	Message   string   `json:"message"`
	ID        string   `json:"id"`
	Notifiers []string `json:"notifiers"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonBytes); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) uptime() string {
	return s.clock.Now().Sub(s.startedAt).Round(time.Second).String()
}

// healthHandler reports 200 while the pipeline runs and 503 otherwise.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	running := s.pipeline.Status().Running
	resp := healthResponse{Status: "ok", Running: running, Uptime: s.uptime()}
	status := http.StatusOK
	if !running {
		resp.Status = "stopped"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// statsHandler serves the cached stats snapshot along with its age.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.pipeline.History().Snapshot()
	resp := statsResponse{
		StatsSnapshot:   snap,
		CacheAgeSeconds: snap.Age(s.clock.Now()).Seconds(),
		Pipeline:        s.pipeline.Status(),
		Model:           s.model,
		Uptime:          s.uptime(),
	}
	if s.capture != nil {
		cs := s.capture()
		resp.Capture = &cs
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n > max {
		n = max
	}
	return n, nil
}

// verdictsHandler returns the most recent verdicts, newest first.
func (s *Server) verdictsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultVerdictLimit, maxVerdictLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h := s.pipeline.History()
	verdicts := h.Recent(limit)
	if verdicts == nil {
		verdicts = []model.Verdict{}
	}
	s.writeJSON(w, http.StatusOK, verdictsResponse{Verdicts: verdicts, Total: h.Total(), Held: len(verdicts)})
}

func parseTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: expected RFC3339", name, raw)
	}
	return t, nil
}

// verdictHistoryHandler queries persisted verdicts beyond the in-memory window.
func (s *Server) verdictHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if s.querier == nil {
		http.Error(w, "verdict history requires a clickhouse writer", http.StatusNotImplemented)
		return
	}
	var q query.VerdictQuery
	var err error
	if q.Since, err = parseTime(r, "since"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if q.Until, err = parseTime(r, "until"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if q.Limit, err = parseLimit(r, defaultVerdictLimit, 10000); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q.Source = r.URL.Query().Get("source")
	q.AlertsOnly = r.URL.Query().Get("alerts") == "true"

	verdicts, err := s.querier.Verdicts(r.Context(), q)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query verdicts: %v", err), http.StatusInternalServerError)
		return
	}
	if verdicts == nil {
		verdicts = []model.Verdict{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"verdicts": verdicts})
}

// testAlertHandler pushes a synthetic alert through every notifier.
func (s *Server) testAlertHandler(w http.ResponseWriter, r *http.Request) {
	d := s.pipeline.Dispatcher()
	names := d.Notifiers()
	if len(names) == 0 {
		http.Error(w, "no notifiers configured", http.StatusBadRequest)
		return
	}

	alert := model.Alert{
		ID:          uuid.NewString(),
		Flow:        "test",
		Source:      "192.168.1.100:4444",
		Destination: "192.168.1.1:80",
		Confidence:  0.95,
		Timestamp:   s.clock.Now(),
	}
	if !d.Enqueue(alert) {
		http.Error(w, "alert queue unavailable", http.StatusServiceUnavailable)
		return
	}
	s.logger.Info("Test alert queued", zap.String("id", alert.ID), zap.Strings("notifiers", names))
	s.writeJSON(w, http.StatusAccepted, testAlertResponse{Message: "Test alert queued", ID: alert.ID, Notifiers: names})
}
