package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alerta-link/alertalink/internal/engine"
	"github.com/alerta-link/alertalink/internal/store"
	"github.com/alerta-link/alertalink/internal/urlcheck"
)

type analyzeRequest struct {
	URL     string `json:"url"`
	Model   string `json:"model,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Options struct {
		EnableCrawler  bool `json:"enable_crawler,omitempty"`
		TimeoutSeconds int  `json:"timeout_seconds,omitempty"`
		MaxRedirects   int  `json:"max_redirects,omitempty"`
	} `json:"options,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model != "" && req.Model != "ml" && req.Model != "heuristic" {
		writeError(w, http.StatusBadRequest, "model must be \"ml\" or \"heuristic\"")
		return
	}

	verdict, err := s.engine.Analyze(r.Context(), req.URL, engine.Options{
		Model:         req.Model,
		Mode:          req.Mode,
		EnableCrawler: req.Options.EnableCrawler,
		Timeout:       time.Duration(req.Options.TimeoutSeconds) * time.Second,
		MaxRedirects:  req.Options.MaxRedirects,
	})
	if err != nil {
		switch {
		case errors.Is(err, urlcheck.ErrInvalidURL), errors.Is(err, urlcheck.ErrBlockedTarget):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Error().Err(err).Msg("analyze failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

var reportLabels = map[string]struct{}{
	"phishing": {}, "malware": {}, "scam": {}, "spam": {}, "unknown": {},
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string `json:"url"`
		Label   string `json:"label"`
		Comment string `json:"comment,omitempty"`
		Contact string `json:"contact,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := reportLabels[req.Label]; !ok {
		writeError(w, http.StatusBadRequest, "unknown label")
		return
	}

	hash := store.HashURL(req.URL)
	if s.engine.Store != nil {
		rec := store.Report{
			URL:       req.URL,
			URLHash:   hash,
			Label:     req.Label,
			Comment:   req.Comment,
			Contact:   req.Contact,
			Source:    "api",
			CreatedAt: time.Now().UTC(),
		}
		if err := s.engine.Store.SaveReport(r.Context(), rec); err != nil {
			s.log.Error().Err(err).Msg("save report failed")
			writeError(w, http.StatusInternalServerError, "could not store report")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "received",
		"report_id": hash[:12],
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string          `json:"url"`
		Label    *int            `json:"label"`
		Source   string          `json:"source,omitempty"`
		Metadata json.RawMessage `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Label == nil || (*req.Label != 0 && *req.Label != 1) {
		writeError(w, http.StatusBadRequest, "label must be 0 or 1")
		return
	}

	if s.engine.Store != nil {
		rec := store.IngestedURL{
			URL:        req.URL,
			URLHash:    store.HashURL(req.URL),
			Label:      *req.Label,
			Source:     req.Source,
			RawPayload: string(req.Metadata),
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.engine.Store.SaveIngested(r.Context(), rec); err != nil {
			s.log.Error().Err(err).Msg("save ingested url failed")
			writeError(w, http.StatusInternalServerError, "could not store url")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.HealthInfo())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"mode": s.engine.Mode()})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Mode {
	case "auto", "online", "offline":
	default:
		writeError(w, http.StatusBadRequest, "mode must be \"auto\", \"online\" or \"offline\"")
		return
	}
	s.engine.SetMode(req.Mode)
	writeJSON(w, http.StatusOK, map[string]string{"mode": req.Mode})
}

func (s *Server) handleWhois(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "domain")))
	if domain == "" || strings.ContainsAny(domain, "/\\ ") {
		writeError(w, http.StatusBadRequest, "invalid domain")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.WhoisDomain(r.Context(), domain))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
