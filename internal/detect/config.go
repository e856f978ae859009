package detect

import (
	"fmt"

	"github.com/promptsentry/promptsentry/internal/heuristics"
	"github.com/promptsentry/promptsentry/internal/sanitize"
	"github.com/promptsentry/promptsentry/internal/scoring"
)

// ConfigError reports an invalid detector configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("detector config %s: %s", e.Field, e.Reason)
}

// Config controls which analysis stages run and where the block/warn
// decision thresholds sit on the [0,1] risk score.
type Config struct {
	EnablePatterns     bool
	EnableHeuristics   bool
	EnableSanitization bool

	// BlockThreshold and WarnThreshold partition the risk score: a score
	// at or above BlockThreshold blocks, at or above WarnThreshold warns.
	BlockThreshold float64
	WarnThreshold  float64

	Heuristics heuristics.Config
	Scoring    scoring.Config
	Sanitizer  sanitize.Config

	// OnDetection, when set, is invoked synchronously after every
	// analysis. A panicking callback is recovered and counted; it never
	// fails the detection itself.
	OnDetection func(*Detection)
}

// DefaultConfig enables every stage with the standard thresholds.
func DefaultConfig() Config {
	return Config{
		EnablePatterns:     true,
		EnableHeuristics:   true,
		EnableSanitization: true,
		BlockThreshold:     0.6,
		WarnThreshold:      0.3,
		Heuristics:         heuristics.DefaultConfig(),
		Scoring:            scoring.DefaultConfig(),
		Sanitizer:          sanitize.DefaultConfig(),
	}
}

// Validate checks the decision thresholds. Stage configs are validated by
// their own packages at construction time.
func (c Config) Validate() error {
	if c.BlockThreshold < 0 || c.BlockThreshold > 1 {
		return &ConfigError{Field: "BlockThreshold", Reason: "must be in [0,1]"}
	}
	if c.WarnThreshold < 0 || c.WarnThreshold > 1 {
		return &ConfigError{Field: "WarnThreshold", Reason: "must be in [0,1]"}
	}
	if c.WarnThreshold > c.BlockThreshold {
		return &ConfigError{Field: "WarnThreshold", Reason: "must not exceed BlockThreshold"}
	}
	return nil
}
