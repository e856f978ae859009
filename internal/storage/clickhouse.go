package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter writes detection events to ClickHouse asynchronously.
// Write() is non-blocking; events are buffered and batch-inserted in a
// background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *DetectionEvent
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ParseDSN enables TLS when ?secure=true is in the DSN; enforce it
	// here so managed deployments (e.g. ClickHouse Cloud on 9440) work
	// even without the flag.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *DetectionEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues a detection event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (w *ClickHouseWriter) Write(event *DetectionEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("request_id", event.RequestID),
		)
	}
}

// Close signals the flush loop to drain remaining events, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*DetectionEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			// Drain remaining events from buffer
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*DetectionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO detection_events (
			request_id, project_id, timestamp,
			text_preview, text_hash, text_size,
			risk_score, risk_level, should_block, should_warn,
			pattern_names, pattern_categories, pattern_severities,
			heuristic_names, heuristic_triggered, heuristic_scores,
			sanitized, changes_made,
			trace_id, metadata, latency_ms, source
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		// Convert bools to uint8 for ClickHouse
		triggeredUint8 := make([]uint8, len(e.HeuristicTriggered))
		for i, t := range e.HeuristicTriggered {
			if t {
				triggeredUint8[i] = 1
			}
		}

		var blockUint8, warnUint8, sanitizedUint8 uint8
		if e.ShouldBlock {
			blockUint8 = 1
		}
		if e.ShouldWarn {
			warnUint8 = 1
		}
		if e.Sanitized {
			sanitizedUint8 = 1
		}

		if err := batch.Append(
			e.RequestID,
			e.ProjectID,
			e.Timestamp,
			e.TextPreview,
			e.TextHash,
			e.TextSize,
			e.RiskScore,
			e.RiskLevel,
			blockUint8,
			warnUint8,
			e.PatternNames,
			e.PatternCategories,
			e.PatternSeverities,
			e.HeuristicNames,
			triggeredUint8,
			e.HeuristicScores,
			sanitizedUint8,
			e.ChangesMade,
			e.TraceID,
			e.Metadata,
			e.LatencyMs,
			e.Source,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("request_id", e.RequestID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback EventWriter for local development.
// It logs events as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *DetectionEvent) {
	w.logger.Info("detection_event",
		zap.String("request_id", event.RequestID),
		zap.String("project_id", event.ProjectID),
		zap.Float32("risk_score", event.RiskScore),
		zap.String("risk_level", event.RiskLevel),
		zap.Bool("should_block", event.ShouldBlock),
		zap.Bool("should_warn", event.ShouldWarn),
		zap.Strings("pattern_names", event.PatternNames),
		zap.Float32("latency_ms", event.LatencyMs),
		zap.String("text_preview", event.TextPreview),
	)
}

func (w *LogWriter) Close() {}
