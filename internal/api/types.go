package api

import "time"

// --- POST /v1/detect request/response ---

// DetectRequest is the JSON body for POST /v1/detect.
type DetectRequest struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	TraceID  string            `json:"trace_id,omitempty"`
}

// PatternMatchResp is one pattern occurrence in the analyzed text.
type PatternMatchResp struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Severity float64 `json:"severity"`
	Start    int     `json:"start"`
	End      int     `json:"end"`
	Text     string  `json:"text"`
}

// HeuristicResultResp is one heuristic outcome.
type HeuristicResultResp struct {
	Name      string  `json:"name"`
	Triggered bool    `json:"triggered"`
	Score     float64 `json:"score"`
	Detail    string  `json:"detail,omitempty"`
}

// SanitizationResp reports what the sanitizer changed. Omitted entirely when
// sanitization is disabled.
type SanitizationResp struct {
	Modified bool     `json:"modified"`
	Changes  []string `json:"changes"`
	Text     string   `json:"text"`
}

// DetectResponse is the JSON body returned by POST /v1/detect.
type DetectResponse struct {
	RequestID    string                `json:"request_id"`
	Blocked      bool                  `json:"blocked"`
	Flagged      bool                  `json:"flagged"`
	IsShadow     bool                  `json:"is_shadow"`
	RiskScore    float64               `json:"risk_score"`
	RiskLevel    string                `json:"risk_level"`
	Matches      []PatternMatchResp    `json:"matches"`
	Heuristics   []HeuristicResultResp `json:"heuristics"`
	Sanitization *SanitizationResp     `json:"sanitization,omitempty"`
	LatencyMs    float64               `json:"latency_ms"`
}

// BatchDetectRequest is the JSON body for POST /v1/detect/batch.
type BatchDetectRequest struct {
	Texts    []string          `json:"texts"`
	Metadata map[string]string `json:"metadata,omitempty"`
	TraceID  string            `json:"trace_id,omitempty"`
}

// BatchDetectResponse carries one result per input text, in input order.
type BatchDetectResponse struct {
	Results   []DetectResponse `json:"results"`
	LatencyMs float64          `json:"latency_ms"`
}

// --- Project CRUD ---

// CreateProjectReq is the JSON body for POST /api/projects.
type CreateProjectReq struct {
	Name string `json:"name"`
}

// CreateProjectResp includes the plaintext API key (shown once).
type CreateProjectResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	FailOpen     bool      `json:"fail_open"`
	CreatedAt    time.Time `json:"created_at"`
}

// UpdateProjectReq is the JSON body for PATCH /api/projects/{id}.
type UpdateProjectReq struct {
	Name     *string `json:"name,omitempty"`
	Mode     *string `json:"mode,omitempty"`
	FailOpen *bool   `json:"fail_open,omitempty"`
}

// ProjectResp is the project view without the plaintext key.
type ProjectResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	FailOpen     bool      `json:"fail_open"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Custom rules ---

// CreateRuleReq is the JSON body for POST /api/projects/{id}/rules.
type CreateRuleReq struct {
	Name        string  `json:"name"`
	Pattern     string  `json:"pattern"`
	Category    string  `json:"category"`
	Severity    float64 `json:"severity"`
	Description string  `json:"description,omitempty"`
}

// RuleResp is a stored custom rule.
type RuleResp struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Pattern     string    `json:"pattern"`
	Category    string    `json:"category"`
	Severity    float64   `json:"severity"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// --- Detection events ---

// EventResp is a persisted detection event.
type EventResp struct {
	RequestID   string                `json:"request_id"`
	ProjectID   string                `json:"project_id"`
	Timestamp   time.Time             `json:"timestamp"`
	TextPreview string                `json:"text_preview"`
	RiskScore   float64               `json:"risk_score"`
	RiskLevel   string                `json:"risk_level"`
	Blocked     bool                  `json:"blocked"`
	Warned      bool                  `json:"warned"`
	Patterns    []PatternMatchSummary `json:"patterns"`
	Heuristics  []HeuristicResultResp `json:"heuristics"`
	Sanitized   bool                  `json:"sanitized"`
	ChangesMade []string              `json:"changes_made"`
	TraceID     *string               `json:"trace_id"`
	LatencyMs   float32               `json:"latency_ms"`
	Source      string                `json:"source"`
}

// PatternMatchSummary is the stored view of a pattern hit (no offsets; only
// the rule identity and severity are persisted).
type PatternMatchSummary struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Severity float64 `json:"severity"`
}

// EventListResp is a page of detection events.
type EventListResp struct {
	Events   []EventResp `json:"events"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
