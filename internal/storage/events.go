package storage

import "time"

// EventWriter is the interface for persisting detection events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *DetectionEvent)
	Close()
}

// DetectionEvent is a single analysis result to be persisted. Pattern and
// heuristic outcomes are stored as parallel arrays so ClickHouse can
// aggregate per rule without JSON parsing.
type DetectionEvent struct {
	RequestID   string
	ProjectID   string
	Timestamp   time.Time
	TextPreview string // First 500 chars
	TextHash    string // SHA256 of full input
	TextSize    uint32

	RiskScore   float32
	RiskLevel   string
	ShouldBlock bool
	ShouldWarn  bool

	PatternNames      []string
	PatternCategories []string
	PatternSeverities []float32

	HeuristicNames     []string
	HeuristicTriggered []bool
	HeuristicScores    []float32

	Sanitized   bool
	ChangesMade []string

	TraceID   string
	Metadata  map[string]string
	LatencyMs float32
	Source    string // "api" or "batch"
}

// TextPreviewLength is the max chars stored in text_preview.
const TextPreviewLength = 500

// TruncateText returns the first N characters (runes) of an input for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen])
}
