package scoring

import (
	"github.com/promptsentry/promptsentry/internal/heuristics"
	"github.com/promptsentry/promptsentry/internal/patterns"
)

// Level buckets a risk score into a coarse severity band.
type Level int

const (
	LevelSafe Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

// String returns the lowercase level name (used in JSON and event storage).
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "safe"
	}
}

// LevelForScore maps a [0,1] score onto fixed bands: [0,0.2) safe,
// [0.2,0.4) low, [0.4,0.6) medium, [0.6,0.8) high, [0.8,1] critical.
// Out-of-range scores are clamped first.
func LevelForScore(score float64) Level {
	score = clamp01(score)
	switch {
	case score < 0.2:
		return LevelSafe
	case score < 0.4:
		return LevelLow
	case score < 0.6:
		return LevelMedium
	case score < 0.8:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// defaultHeuristicWeight applies to heuristics the weight table does not
// name, so a new heuristic contributes something before it is calibrated.
const defaultHeuristicWeight = 0.1

// heuristicWeights is the relative influence of each heuristic within the
// heuristic sub-score. Calibration data, tuned alongside the thresholds.
var heuristicWeights = map[string]float64{
	heuristics.NameEntropy:            0.15,
	heuristics.NameLength:             0.10,
	heuristics.NameStructure:          0.20,
	heuristics.NameRepetition:         0.15,
	heuristics.NameSpecialChars:       0.15,
	heuristics.NameLanguageSwitch:     0.10,
	heuristics.NameInstructionDensity: 0.15,
}

// Config tunes the scorer. Weights scale the two sub-scores before fusion;
// the defaults keep both at full strength.
type Config struct {
	PatternWeight   float64
	HeuristicWeight float64
}

// DefaultConfig returns the standard scorer configuration.
func DefaultConfig() Config {
	return Config{PatternWeight: 1.0, HeuristicWeight: 1.0}
}

// Scorer fuses pattern matches and heuristic results into a single risk
// score. It is stateless and safe for concurrent use.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer. Zero or negative weights silence the
// corresponding signal entirely.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// PatternScore is the severity of the worst matching pattern. A single
// high-severity hit is conclusive on its own; summing severities would let
// many weak rules outvote one strong one.
func (s *Scorer) PatternScore(matches []patterns.Match) float64 {
	max := 0.0
	for _, m := range matches {
		if m.Severity > max {
			max = m.Severity
		}
	}
	return clamp01(max)
}

// HeuristicScore is the weighted mean of the triggered heuristics' scores.
// Untriggered heuristics are excluded so that sub-threshold noise from
// quiet checks cannot dilute a real signal.
func (s *Scorer) HeuristicScore(results []heuristics.Result) float64 {
	var weighted, total float64
	for _, r := range results {
		if !r.Triggered {
			continue
		}
		w, ok := heuristicWeights[r.Name]
		if !ok {
			w = defaultHeuristicWeight
		}
		weighted += w * r.Score
		total += w
	}
	if total == 0 {
		return 0
	}
	return clamp01(weighted / total)
}

// Score fuses the two sub-scores by taking the maximum. Either signal alone
// is sufficient evidence; averaging them would let a silent channel mask a
// loud one.
func (s *Scorer) Score(matches []patterns.Match, results []heuristics.Result) float64 {
	p := clamp01(s.PatternScore(matches) * s.cfg.PatternWeight)
	h := clamp01(s.HeuristicScore(results) * s.cfg.HeuristicWeight)
	if p > h {
		return p
	}
	return h
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
