package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"hashhost/internal/watch"
)

type sweepResponse struct {
	Dir    string `json:"dir"`
	Queued bool   `json:"queued"`
}

// handleSweep asks the watch session to sweep its directory. The request
// is an event like a mount notification, so it is debounced the same way;
// a request arriving while another is pending is absorbed by it.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "no_watch", "no watch session is running")
		return
	}
	queued := s.trigger.Trigger()
	s.logger.Info("sweep requested", "dir", s.sweepDir, "queued", queued)
	writeJSON(w, http.StatusAccepted, sweepResponse{Dir: s.sweepDir, Queued: queued})
}

type schedulePreviewRequest struct {
	Expr  string `json:"expr"`
	Now   string `json:"now,omitempty"`
	Count int    `json:"count,omitempty"`
}

type schedulePreviewResponse struct {
	Valid     bool     `json:"valid"`
	NextTimes []string `json:"next_times,omitempty"`
	Message   string   `json:"message,omitempty"`
}

func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req schedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}
	expr := strings.TrimSpace(req.Expr)
	if expr == "" {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Valid: false, Message: "cron expression is required"})
		return
	}
	schedule, err := watch.ParseCron(expr)
	if err != nil {
		writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Message: err.Error()})
		return
	}

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}

	base := time.Now().In(s.location)
	if req.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Now); err == nil {
			base = parsed.In(s.location)
		}
	}

	times := watch.NextOccurrences(schedule, base, count)
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, t.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: true, NextTimes: formatted})
}
