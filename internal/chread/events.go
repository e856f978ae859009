package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse detection_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the detection_events table.
type EventRow struct {
	RequestID   string
	ProjectID   string
	Timestamp   time.Time
	TextPreview string

	RiskScore   float32
	RiskLevel   string
	ShouldBlock uint8
	ShouldWarn  uint8

	PatternNames      []string
	PatternCategories []string
	PatternSeverities []float32

	HeuristicNames     []string
	HeuristicTriggered []uint8
	HeuristicScores    []float32

	Sanitized   uint8
	ChangesMade []string

	TraceID   string
	LatencyMs float32
	Source    string
}

const eventColumns = "request_id, project_id, timestamp, text_preview, " +
	"risk_score, risk_level, should_block, should_warn, " +
	"pattern_names, pattern_categories, pattern_severities, " +
	"heuristic_names, heuristic_triggered, heuristic_scores, " +
	"sanitized, changes_made, trace_id, latency_ms, source"

func scanEventRow(row interface{ Scan(...any) error }, e *EventRow) error {
	return row.Scan(
		&e.RequestID, &e.ProjectID, &e.Timestamp, &e.TextPreview,
		&e.RiskScore, &e.RiskLevel, &e.ShouldBlock, &e.ShouldWarn,
		&e.PatternNames, &e.PatternCategories, &e.PatternSeverities,
		&e.HeuristicNames, &e.HeuristicTriggered, &e.HeuristicScores,
		&e.Sanitized, &e.ChangesMade, &e.TraceID, &e.LatencyMs, &e.Source,
	)
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	ProjectID string
	RiskLevel *string
	Blocked   *bool
	Category  *string
	Pattern   *string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// ListEvents returns paginated, filtered detection events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	conditions := []string{"project_id = @project_id"}
	args := []any{
		clickhouse.Named("project_id", params.ProjectID),
	}

	if params.RiskLevel != nil {
		conditions = append(conditions, "risk_level = @risk_level")
		args = append(args, clickhouse.Named("risk_level", *params.RiskLevel))
	}
	if params.Blocked != nil {
		var v uint8
		if *params.Blocked {
			v = 1
		}
		conditions = append(conditions, "should_block = @should_block")
		args = append(args, clickhouse.Named("should_block", v))
	}
	if params.Category != nil {
		conditions = append(conditions, "has(pattern_categories, @category)")
		args = append(args, clickhouse.Named("category", *params.Category))
	}
	if params.Pattern != nil {
		conditions = append(conditions, "has(pattern_names, @pattern)")
		args = append(args, clickhouse.Named("pattern", *params.Pattern))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	// Count query
	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM detection_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	// Data query
	dataQuery := fmt.Sprintf(
		"SELECT %s FROM detection_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		eventColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := scanEventRow(rows, &e); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by project ID and request ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, projectID, requestID string) (*EventRow, error) {
	row := r.conn.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM detection_events "+
			"WHERE project_id = @project_id AND request_id = @request_id", eventColumns),
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("request_id", requestID),
	)

	var e EventRow
	if err := scanEventRow(row, &e); err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	if e.RequestID == "" {
		return nil, nil
	}
	return &e, nil
}

// SummaryStats holds aggregate counts.
type SummaryStats struct {
	TotalDetections int `json:"total_detections"`
	Blocked         int `json:"blocked"`
	Warned          int `json:"warned"`
	Clean           int `json:"clean"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// CategoryCount holds an attack category and its count.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// PatternCount holds a pattern name and its count.
type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats       `json:"summary"`
	AvgRiskScore       float64            `json:"avg_risk_score"`
	BlocksOverTime     []TimeSeriesBucket `json:"blocks_over_time"`
	TopCategories      []CategoryCount    `json:"top_categories"`
	TopPatterns        []PatternCount     `json:"top_patterns"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
}

// GetAnalytics returns aggregated analytics for a project over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, projectID string, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	// Summary counts
	var total, blocked, warned, clean uint64
	var avgRisk float64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(should_block = 1) as blocked, "+
			"countIf(should_warn = 1 AND should_block = 0) as warned, "+
			"countIf(should_warn = 0) as clean, "+
			"avg(risk_score) as avg_risk "+
			"FROM detection_events "+
			"WHERE project_id = @project_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &blocked, &warned, &clean, &avgRisk)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalDetections: int(total),
		Blocked:         int(blocked),
		Warned:          int(warned),
		Clean:           int(clean),
	}
	result.AvgRiskScore = safeFloat(avgRisk)

	// Blocks over time (hourly)
	botRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM detection_events "+
			"WHERE project_id = @project_id AND should_block = 1 "+
			"AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics blocks_over_time: %w", err)
	}
	defer func() { _ = botRows.Close() }()
	for botRows.Next() {
		var hour time.Time
		var count uint64
		if err := botRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics blocks_over_time scan: %w", err)
		}
		result.BlocksOverTime = append(result.BlocksOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Top attack categories among flagged inputs
	catRows, err := r.conn.Query(ctx,
		"SELECT arrayJoin(pattern_categories) as category, count() as count "+
			"FROM detection_events "+
			"WHERE project_id = @project_id AND should_warn = 1 "+
			"AND timestamp >= @range_start "+
			"GROUP BY category ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_categories: %w", err)
	}
	defer func() { _ = catRows.Close() }()
	for catRows.Next() {
		var cat string
		var count uint64
		if err := catRows.Scan(&cat, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_categories scan: %w", err)
		}
		result.TopCategories = append(result.TopCategories, CategoryCount{
			Category: cat, Count: int(count),
		})
	}

	// Most-hit patterns among flagged inputs
	patRows, err := r.conn.Query(ctx,
		"SELECT arrayJoin(pattern_names) as pattern, count() as count "+
			"FROM detection_events "+
			"WHERE project_id = @project_id AND should_warn = 1 "+
			"AND timestamp >= @range_start "+
			"GROUP BY pattern ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_patterns: %w", err)
	}
	defer func() { _ = patRows.Close() }()
	for patRows.Next() {
		var pat string
		var count uint64
		if err := patRows.Scan(&pat, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_patterns scan: %w", err)
		}
		result.TopPatterns = append(result.TopPatterns, PatternCount{
			Pattern: pat, Count: int(count),
		})
	}

	// Latency percentiles (last 24h)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms) as p50, "+
			"quantile(0.95)(latency_ms) as p95, "+
			"quantile(0.99)(latency_ms) as p99 "+
			"FROM detection_events "+
			"WHERE project_id = @project_id AND timestamp >= @day_start",
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Ensure slices are non-nil for JSON serialization
	if result.BlocksOverTime == nil {
		result.BlocksOverTime = []TimeSeriesBucket{}
	}
	if result.TopCategories == nil {
		result.TopCategories = []CategoryCount{}
	}
	if result.TopPatterns == nil {
		result.TopPatterns = []PatternCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
