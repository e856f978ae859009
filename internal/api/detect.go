package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/promptsentry/promptsentry/internal/detect"
	"github.com/promptsentry/promptsentry/internal/storage"
)

// maxBatchSize bounds POST /v1/detect/batch so one request cannot fan out
// unbounded goroutines.
const maxBatchSize = 100

// handleDetect implements POST /v1/detect.
// Auth middleware has already validated the Bearer token and injected the project.
func (d *Dependencies) handleDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req DetectRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "text is required"})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	det := d.Detector.Detect(req.Text)

	requestID := uuid.New().String()
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	// Fire-and-forget: write detection event to ClickHouse
	d.writeDetectionEvent(det, proj.ID, requestID, req.TraceID, req.Metadata,
		float32(latencyMs), "api")

	writeJSON(w, http.StatusOK, buildDetectResponse(det, proj, requestID, latencyMs))
}

// handleBatchDetect implements POST /v1/detect/batch.
func (d *Dependencies) handleBatchDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req BatchDetectRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if len(req.Texts) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "texts is required"})
		return
	}
	if len(req.Texts) > maxBatchSize {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "texts exceeds the batch limit of 100"})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	dets, err := d.Detector.BatchDetect(r.Context(), req.Texts)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Request cancelled"})
		return
	}

	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)
	perItemMs := latencyMs / float64(len(dets))

	results := make([]DetectResponse, 0, len(dets))
	for _, det := range dets {
		requestID := uuid.New().String()
		d.writeDetectionEvent(det, proj.ID, requestID, req.TraceID, req.Metadata,
			float32(perItemMs), "batch")
		results = append(results, buildDetectResponse(det, proj, requestID, perItemMs))
	}

	writeJSON(w, http.StatusOK, BatchDetectResponse{
		Results:   results,
		LatencyMs: latencyMs,
	})
}

// buildDetectResponse converts a detection into the API response shape,
// applying the project's shadow mode: a shadow project sees the full
// analysis but is never told to block.
func buildDetectResponse(det *detect.Detection, proj *authProject, requestID string, latencyMs float64) DetectResponse {
	blocked := det.ShouldBlock
	isShadow := false
	if proj.Mode == "shadow" && blocked {
		blocked = false
		isShadow = true
	}

	matches := make([]PatternMatchResp, 0, len(det.PatternMatches))
	for _, m := range det.PatternMatches {
		matches = append(matches, PatternMatchResp{
			Name:     m.Name,
			Category: m.Category.String(),
			Severity: m.Severity,
			Start:    m.Start,
			End:      m.End,
			Text:     m.Text,
		})
	}

	heur := make([]HeuristicResultResp, 0, len(det.HeuristicResults))
	for _, h := range det.HeuristicResults {
		heur = append(heur, HeuristicResultResp{
			Name:      h.Name,
			Triggered: h.Triggered,
			Score:     h.Score,
			Detail:    h.Detail,
		})
	}

	resp := DetectResponse{
		RequestID:  requestID,
		Blocked:    blocked,
		Flagged:    det.ShouldWarn,
		IsShadow:   isShadow,
		RiskScore:  det.RiskScore,
		RiskLevel:  det.RiskLevel.String(),
		Matches:    matches,
		Heuristics: heur,
		LatencyMs:  latencyMs,
	}
	if det.Sanitization != nil {
		changes := det.Sanitization.Changes
		if changes == nil {
			changes = []string{}
		}
		resp.Sanitization = &SanitizationResp{
			Modified: det.Sanitization.Modified(),
			Changes:  changes,
			Text:     det.Sanitization.Text,
		}
	}
	return resp
}

// writeDetectionEvent builds a DetectionEvent and fires it to the async writer.
func (d *Dependencies) writeDetectionEvent(
	det *detect.Detection,
	projectID, requestID, traceID string,
	metadata map[string]string,
	latencyMs float32,
	source string,
) {
	patNames := make([]string, len(det.PatternMatches))
	patCategories := make([]string, len(det.PatternMatches))
	patSeverities := make([]float32, len(det.PatternMatches))
	for i, m := range det.PatternMatches {
		patNames[i] = m.Name
		patCategories[i] = m.Category.String()
		patSeverities[i] = float32(m.Severity)
	}

	heurNames := make([]string, len(det.HeuristicResults))
	heurTriggered := make([]bool, len(det.HeuristicResults))
	heurScores := make([]float32, len(det.HeuristicResults))
	for i, h := range det.HeuristicResults {
		heurNames[i] = h.Name
		heurTriggered[i] = h.Triggered
		heurScores[i] = float32(h.Score)
	}

	var sanitized bool
	var changes []string
	if det.Sanitization != nil {
		sanitized = det.Sanitization.Modified()
		changes = det.Sanitization.Changes
	}

	hashBytes := sha256.Sum256([]byte(det.InputText))

	event := &storage.DetectionEvent{
		RequestID:          requestID,
		ProjectID:          projectID,
		Timestamp:          time.Now(),
		TextPreview:        storage.TruncateText(det.InputText, storage.TextPreviewLength),
		TextHash:           hex.EncodeToString(hashBytes[:]),
		TextSize:           uint32(len(det.InputText)),
		RiskScore:          float32(det.RiskScore),
		RiskLevel:          det.RiskLevel.String(),
		ShouldBlock:        det.ShouldBlock,
		ShouldWarn:         det.ShouldWarn,
		PatternNames:       patNames,
		PatternCategories:  patCategories,
		PatternSeverities:  patSeverities,
		HeuristicNames:     heurNames,
		HeuristicTriggered: heurTriggered,
		HeuristicScores:    heurScores,
		Sanitized:          sanitized,
		ChangesMade:        changes,
		TraceID:            traceID,
		Metadata:           metadata,
		LatencyMs:          latencyMs,
		Source:             source,
	}

	d.Writer.Write(event)
}
