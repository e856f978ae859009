package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/promptsentry/promptsentry/internal/chread"
)

func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	params := chread.ListEventsParams{
		ProjectID: projectID,
		Page:      queryInt(q, "page", 1),
		PageSize:  queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.Page < 1 {
		params.Page = 1
	}

	if v := q.Get("risk_level"); v != "" {
		params.RiskLevel = &v
	}
	if v := q.Get("blocked"); v != "" {
		b := v == "true" || v == "1"
		params.Blocked = &b
	}
	if v := q.Get("category"); v != "" {
		params.Category = &v
	}
	if v := q.Get("pattern"); v != "" {
		params.Pattern = &v
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	events, total, err := d.Reader.ListEvents(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}

	resp := EventListResp{
		Events:   make([]EventResp, 0, len(events)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for _, e := range events {
		resp.Events = append(resp.Events, eventRowToResp(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	requestID := r.PathValue("request_id")
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	event, err := d.Reader.GetEvent(r.Context(), projectID, requestID)
	if err != nil {
		d.Logger.Error("failed to get event", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get event"})
		return
	}
	if event == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Event not found."})
		return
	}

	writeJSON(w, http.StatusOK, eventRowToResp(*event))
}

func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	days := queryInt(q, "days", 7)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	result, err := d.Reader.GetAnalytics(r.Context(), projectID, days)
	if err != nil {
		d.Logger.Error("failed to get analytics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get analytics"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// eventRowToResp converts a ClickHouse EventRow to the API response.
// Pattern and heuristic outcomes are stored as parallel arrays and
// reconstructed here.
func eventRowToResp(e chread.EventRow) EventResp {
	pats := make([]PatternMatchSummary, 0, len(e.PatternNames))
	for i, name := range e.PatternNames {
		var category string
		if i < len(e.PatternCategories) {
			category = e.PatternCategories[i]
		}
		var severity float64
		if i < len(e.PatternSeverities) {
			severity = float64(e.PatternSeverities[i])
		}
		pats = append(pats, PatternMatchSummary{
			Name:     name,
			Category: category,
			Severity: severity,
		})
	}

	heur := make([]HeuristicResultResp, 0, len(e.HeuristicNames))
	for i, name := range e.HeuristicNames {
		var triggered bool
		if i < len(e.HeuristicTriggered) {
			triggered = e.HeuristicTriggered[i] == 1
		}
		var score float64
		if i < len(e.HeuristicScores) {
			score = float64(e.HeuristicScores[i])
		}
		heur = append(heur, HeuristicResultResp{
			Name:      name,
			Triggered: triggered,
			Score:     score,
		})
	}

	changes := e.ChangesMade
	if changes == nil {
		changes = []string{}
	}

	return EventResp{
		RequestID:   e.RequestID,
		ProjectID:   e.ProjectID,
		Timestamp:   e.Timestamp,
		TextPreview: e.TextPreview,
		RiskScore:   float64(e.RiskScore),
		RiskLevel:   e.RiskLevel,
		Blocked:     e.ShouldBlock == 1,
		Warned:      e.ShouldWarn == 1,
		Patterns:    pats,
		Heuristics:  heur,
		Sanitized:   e.Sanitized == 1,
		ChangesMade: changes,
		TraceID:     nilIfEmpty(e.TraceID),
		LatencyMs:   e.LatencyMs,
		Source:      e.Source,
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func queryInt(q interface{ Get(string) string }, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
