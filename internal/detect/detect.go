package detect

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/promptsentry/promptsentry/internal/heuristics"
	"github.com/promptsentry/promptsentry/internal/patterns"
	"github.com/promptsentry/promptsentry/internal/sanitize"
	"github.com/promptsentry/promptsentry/internal/scoring"
)

// Detection is the full analysis outcome for one input.
type Detection struct {
	// InputText is the text as received; AnalyzedText is what the
	// pattern and heuristic stages actually saw (sanitized when
	// sanitization is enabled).
	InputText    string
	AnalyzedText string

	RiskScore float64
	RiskLevel scoring.Level

	PatternMatches   []patterns.Match
	HeuristicResults []heuristics.Result

	// Sanitization is nil when the sanitization stage is disabled.
	Sanitization *sanitize.Result

	ShouldBlock bool
	ShouldWarn  bool
}

// IsSafe reports whether the input passed without reaching the block
// threshold. Warned inputs still count as safe to pass through.
func (d *Detection) IsSafe() bool { return !d.ShouldBlock }

// HighRiskMatches returns the pattern matches whose severity alone would
// land at level high or above.
func (d *Detection) HighRiskMatches() []patterns.Match {
	var out []patterns.Match
	for _, m := range d.PatternMatches {
		if scoring.LevelForScore(m.Severity) >= scoring.LevelHigh {
			out = append(out, m)
		}
	}
	return out
}

// HighRisk filters detections to those at risk level high or critical.
func HighRisk(dets []*Detection) []*Detection {
	var out []*Detection
	for _, det := range dets {
		if det.RiskLevel >= scoring.LevelHigh {
			out = append(out, det)
		}
	}
	return out
}

// Detector runs the configured analysis pipeline. Safe for concurrent use;
// the pattern library may be mutated while detections are in flight.
type Detector struct {
	cfg       Config
	lib       *patterns.Library
	engine    *heuristics.Engine
	scorer    *scoring.Scorer
	sanitizer *sanitize.Sanitizer
	logger    *zap.Logger

	callbackFailures atomic.Uint64
}

// NewDetector builds a detector. A nil library gets the built-in default
// pattern set; a nil logger is replaced with a no-op one.
func NewDetector(cfg Config, lib *patterns.Library, logger *zap.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lib == nil {
		lib = patterns.NewDefaultLibrary()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	engine, err := heuristics.NewEngine(cfg.Heuristics)
	if err != nil {
		return nil, err
	}
	sanitizer, err := sanitize.NewSanitizer(cfg.Sanitizer)
	if err != nil {
		return nil, err
	}

	return &Detector{
		cfg:       cfg,
		lib:       lib,
		engine:    engine,
		scorer:    scoring.NewScorer(cfg.Scoring),
		sanitizer: sanitizer,
		logger:    logger,
	}, nil
}

// Detect analyzes one input. Sanitization runs first when enabled, and the
// detection stages examine the sanitized text so stripped smuggling tricks
// cannot also hide a payload from the matchers.
func (d *Detector) Detect(text string) *Detection {
	det := &Detection{InputText: text, AnalyzedText: text}

	if d.cfg.EnableSanitization {
		r := d.sanitizer.Sanitize(text)
		det.Sanitization = &r
		det.AnalyzedText = r.Text
	}

	if d.cfg.EnablePatterns {
		det.PatternMatches = d.lib.Match(det.AnalyzedText)
	}
	if d.cfg.EnableHeuristics {
		det.HeuristicResults = d.engine.Evaluate(det.AnalyzedText)
	}

	det.RiskScore = d.scorer.Score(det.PatternMatches, det.HeuristicResults)
	det.RiskLevel = scoring.LevelForScore(det.RiskScore)
	det.ShouldBlock = det.RiskScore >= d.cfg.BlockThreshold
	det.ShouldWarn = det.RiskScore >= d.cfg.WarnThreshold && !det.ShouldBlock

	d.notify(det)
	return det
}

// IsSafe is a one-call convenience: analyze text and report whether it
// passes without blocking.
func (d *Detector) IsSafe(text string) bool { return d.Detect(text).IsSafe() }

// BatchDetect analyzes the inputs concurrently and returns results in input
// order. Returns early with the context error if ctx is already done;
// in-flight analyses are not interrupted once started.
func (d *Detector) BatchDetect(ctx context.Context, texts []string) ([]*Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*Detection, len(texts))
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			out[i] = d.Detect(text)
		}(i, text)
	}
	wg.Wait()
	return out, nil
}

// AddPattern installs a detection rule into the live library.
func (d *Detector) AddPattern(p patterns.Pattern) error { return d.lib.Add(p) }

// RemovePattern removes a detection rule by name.
func (d *Detector) RemovePattern(name string) error { return d.lib.Remove(name) }

// Patterns returns the active rule set.
func (d *Detector) Patterns() []patterns.Pattern { return d.lib.Patterns() }

// CallbackFailures returns how many OnDetection invocations have panicked.
func (d *Detector) CallbackFailures() uint64 { return d.callbackFailures.Load() }

func (d *Detector) notify(det *Detection) {
	if d.cfg.OnDetection == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.callbackFailures.Add(1)
			d.logger.Warn("detection callback panicked",
				zap.Any("panic", r),
				zap.Float64("risk_score", det.RiskScore))
		}
	}()
	d.cfg.OnDetection(det)
}
