package heuristics

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Canonical heuristic names, in evaluation order.
const (
	NameEntropy            = "entropy"
	NameLength             = "length"
	NameStructure          = "structure"
	NameRepetition         = "repetition"
	NameSpecialChars       = "special_chars"
	NameLanguageSwitch     = "language_switch"
	NameInstructionDensity = "instruction_density"
)

// Names returns the seven heuristic names in canonical order.
func Names() []string {
	return []string{
		NameEntropy,
		NameLength,
		NameStructure,
		NameRepetition,
		NameSpecialChars,
		NameLanguageSwitch,
		NameInstructionDensity,
	}
}

// Result is the outcome of one heuristic check. Score is always in [0,1];
// Triggered is true iff Score reached the heuristic's threshold. Detail is
// human-readable only — nothing downstream parses it.
type Result struct {
	Name      string
	Triggered bool
	Score     float64
	Detail    string
}

// Config holds the trigger thresholds (each on the heuristic's [0,1] score)
// and the expected-length baseline. Zero values are invalid; use
// DefaultConfig and override fields as needed.
type Config struct {
	EntropyThreshold            float64
	LengthThreshold             float64
	StructureThreshold          float64
	RepetitionThreshold         float64
	SpecialCharsThreshold       float64
	LanguageSwitchThreshold     float64
	InstructionDensityThreshold float64

	// BaselineLength is the expected input length in runes; the length
	// heuristic triggers at twice this value.
	BaselineLength int
}

// DefaultConfig returns thresholds calibrated so that ordinary prose stays
// untriggered on every heuristic.
func DefaultConfig() Config {
	return Config{
		EntropyThreshold:            0.75,
		LengthThreshold:             0.5,
		StructureThreshold:          0.2,
		RepetitionThreshold:         0.3,
		SpecialCharsThreshold:       0.5,
		LanguageSwitchThreshold:     0.5,
		InstructionDensityThreshold: 0.5,
		BaselineLength:              2000,
	}
}

// Validate checks threshold ranges and the baseline.
func (c Config) Validate() error {
	thresholds := map[string]float64{
		NameEntropy:            c.EntropyThreshold,
		NameLength:             c.LengthThreshold,
		NameStructure:          c.StructureThreshold,
		NameRepetition:         c.RepetitionThreshold,
		NameSpecialChars:       c.SpecialCharsThreshold,
		NameLanguageSwitch:     c.LanguageSwitchThreshold,
		NameInstructionDensity: c.InstructionDensityThreshold,
	}
	for name, t := range thresholds {
		if t < 0 || t > 1 {
			return fmt.Errorf("heuristic threshold %s must be in [0,1], got %v", name, t)
		}
	}
	if c.BaselineLength <= 0 {
		return fmt.Errorf("baseline length must be positive, got %d", c.BaselineLength)
	}
	return nil
}

// Engine runs the seven heuristic checks. All checks are pure functions of
// the input text and the static config; none depends on another's result.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with a validated config.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Evaluate runs every heuristic and returns exactly seven results in
// canonical order.
func (e *Engine) Evaluate(text string) []Result {
	return []Result{
		e.Entropy(text),
		e.Length(text),
		e.Structure(text),
		e.Repetition(text),
		e.SpecialChars(text),
		e.LanguageSwitch(text),
		e.InstructionDensity(text),
	}
}

// printableAlphabetBits normalizes Shannon entropy against the printable
// ASCII alphabet (94 symbols). English prose lands around 0.55–0.65 on this
// scale; dense base64/hex payloads push past 0.8.
var printableAlphabetBits = math.Log2(94)

// Entropy scores the normalized Shannon entropy of the character-frequency
// distribution. High entropy signals encoded or obfuscated payloads; pure
// repetition (very low entropy) is the repetition heuristic's job.
func (e *Engine) Entropy(text string) Result {
	runes := []rune(text)
	if len(runes) == 0 {
		return Result{Name: NameEntropy, Detail: "empty text"}
	}

	counts := make(map[rune]int, 64)
	for _, r := range runes {
		counts[r]++
	}

	total := float64(len(runes))
	entropy := 0.0
	for _, n := range counts {
		p := float64(n) / total
		entropy -= p * math.Log2(p)
	}

	score := math.Min(1, entropy/printableAlphabetBits)
	return Result{
		Name:      NameEntropy,
		Triggered: score >= e.cfg.EntropyThreshold,
		Score:     score,
		Detail:    fmt.Sprintf("shannon entropy %.2f bits (normalized %.2f)", entropy, score),
	}
}

// Length scores the excess over the expected-length baseline. The score
// reaches the 0.5 trigger threshold at exactly twice the baseline.
func (e *Engine) Length(text string) Result {
	n := len([]rune(text))
	baseline := float64(e.cfg.BaselineLength)
	score := clamp01((float64(n) - baseline) / (2 * baseline))
	return Result{
		Name:      NameLength,
		Triggered: score >= e.cfg.LengthThreshold,
		Score:     score,
		Detail:    fmt.Sprintf("length %d runes (baseline %d)", n, e.cfg.BaselineLength),
	}
}

var (
	sectionMarkerRe = regexp.MustCompile(`###|---|={3,}|\*{3,}|\n\n\n+`)
	markupTagRe     = regexp.MustCompile("[\"'`]{3,}|</?[a-zA-Z]+>|\\[/?[A-Z]+\\]")
)

// Structure scores markers of context-escape scaffolding: many section
// markers, deep delimiter nesting, and a mix of pseudo-markup delimiters.
func (e *Engine) Structure(text string) Result {
	var issues []string
	score := 0.0

	sections := len(sectionMarkerRe.FindAllString(text, -1))
	if sections > 5 {
		issues = append(issues, "many_section_markers")
		score += 0.3
	}

	depth, maxDepth := 0, 0
	for _, r := range text {
		switch r {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > 10 {
		issues = append(issues, "deep_nesting")
		score += 0.2
	}

	kinds := make(map[string]struct{})
	for _, tag := range markupTagRe.FindAllString(text, -1) {
		prefix := tag
		if len(prefix) > 3 {
			prefix = prefix[:3]
		}
		kinds[prefix] = struct{}{}
	}
	if len(kinds) > 3 {
		issues = append(issues, "mixed_delimiters")
		score += 0.3
	}

	score = clamp01(score)
	detail := "no structural issues"
	if len(issues) > 0 {
		detail = "structural issues: " + strings.Join(issues, ", ")
	}
	return Result{
		Name:      NameStructure,
		Triggered: score >= e.cfg.StructureThreshold,
		Score:     score,
		Detail:    detail,
	}
}

// minRepetitionLength is the shortest text the repetition check looks at;
// anything shorter cannot meaningfully repeat.
const minRepetitionLength = 20

// repeatedRunFloor is the run length beyond which a character run counts as
// repetition rather than styling (e.g. "...." or "!!").
const repeatedRunFloor = 5

// Repetition scores the fraction of the text covered by long single-rune
// runs, and separately the dominance of a single repeated word.
func (e *Engine) Repetition(text string) Result {
	runes := []rune(text)
	if len(runes) < minRepetitionLength {
		return Result{Name: NameRepetition, Detail: "text too short"}
	}

	covered := 0
	runLen := 1
	for i := 1; i <= len(runes); i++ {
		if i < len(runes) && runes[i] == runes[i-1] {
			runLen++
			continue
		}
		if runLen >= repeatedRunFloor {
			covered += runLen
		}
		runLen = 1
	}
	charScore := clamp01(float64(covered) / float64(len(runes)))

	words := strings.Fields(strings.ToLower(text))
	wordScore := 0.0
	if len(words) > 0 {
		counts := make(map[string]int, len(words))
		maxCount := 0
		for _, w := range words {
			counts[w]++
			if counts[w] > maxCount {
				maxCount = counts[w]
			}
		}
		ratio := float64(maxCount) / float64(len(words))
		if ratio > e.cfg.RepetitionThreshold {
			wordScore = clamp01(ratio)
		}
	}

	score := math.Max(charScore, wordScore)
	return Result{
		Name:      NameRepetition,
		Triggered: score >= e.cfg.RepetitionThreshold,
		Score:     score,
		Detail:    fmt.Sprintf("run coverage %.2f, word dominance %.2f", charScore, wordScore),
	}
}

// commonPunct is punctuation expected in ordinary prose; everything else
// non-alphanumeric counts toward the special-character ratio.
const commonPunct = `.,!?;:'"()-`

// SpecialChars scores the ratio of unusual characters to total length.
// The score hits the 0.5 trigger threshold at a 20% ratio.
func (e *Engine) SpecialChars(text string) Result {
	runes := []rune(text)
	if len(runes) == 0 {
		return Result{Name: NameSpecialChars, Detail: "empty text"}
	}

	special := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		if strings.ContainsRune(commonPunct, r) {
			continue
		}
		special++
	}
	ratio := float64(special) / float64(len(runes))
	score := clamp01(ratio * 2.5)
	return Result{
		Name:      NameSpecialChars,
		Triggered: score >= e.cfg.SpecialCharsThreshold,
		Score:     score,
		Detail:    fmt.Sprintf("special char ratio %.2f", ratio),
	}
}

// scriptNoiseFloor is the minimum letter count for a script to count as
// present; the odd foreign character in a quote is not a switch.
const scriptNoiseFloor = 3

var scriptRanges = []struct {
	name  string
	table *unicode.RangeTable
}{
	{"latin", unicode.Latin},
	{"cyrillic", unicode.Cyrillic},
	{"greek", unicode.Greek},
	{"han", unicode.Han},
	{"arabic", unicode.Arabic},
	{"hebrew", unicode.Hebrew},
	{"hangul", unicode.Hangul},
}

// LanguageSwitch scores the presence of letters from multiple scripts. Two
// active scripts reach the 0.5 trigger threshold; a mixed-script token (the
// classic homoglyph smuggle) adds an extra bump.
func (e *Engine) LanguageSwitch(text string) Result {
	counts := countScripts(text)
	active := 0
	var present []string
	for _, sr := range scriptRanges {
		if counts[sr.name] >= scriptNoiseFloor {
			active++
			present = append(present, sr.name)
		}
	}

	score := 0.0
	if active > 1 {
		score = 0.5 + 0.25*float64(active-2)
	}

	mixedToken := false
	for _, token := range strings.Fields(text) {
		if len(activeScripts(countScripts(token))) > 1 {
			mixedToken = true
			break
		}
	}
	if mixedToken {
		score += 0.25
		if score < 0.5 {
			score = 0.5
		}
	}
	score = clamp01(score)

	detail := "single script"
	if len(present) > 1 {
		detail = "scripts: " + strings.Join(present, ", ")
		if mixedToken {
			detail += " (mixed within a token)"
		}
	}
	return Result{
		Name:      NameLanguageSwitch,
		Triggered: score >= e.cfg.LanguageSwitchThreshold,
		Score:     score,
		Detail:    detail,
	}
}

func countScripts(text string) map[string]int {
	counts := make(map[string]int, len(scriptRanges))
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		for _, sr := range scriptRanges {
			if unicode.Is(sr.table, r) {
				counts[sr.name]++
				break
			}
		}
	}
	return counts
}

func activeScripts(counts map[string]int) []string {
	var out []string
	for name, n := range counts {
		if n > 0 {
			out = append(out, name)
		}
	}
	return out
}

// instructionWords is the fixed vocabulary of instruction-signaling keywords.
var instructionWords = map[string]struct{}{
	"ignore": {}, "forget": {}, "disregard": {}, "override": {}, "bypass": {},
	"pretend": {}, "imagine": {}, "act": {}, "roleplay": {}, "behave": {},
	"system": {}, "prompt": {}, "instruction": {}, "instructions": {},
	"rule": {}, "rules": {}, "guideline": {}, "guidelines": {},
	"reveal": {}, "show": {}, "display": {}, "output": {}, "print": {},
	"jailbreak": {}, "developer": {}, "unrestricted": {}, "unfiltered": {},
	"uncensored": {}, "assistant": {}, "ai": {}, "bot": {}, "model": {},
}

// InstructionDensity scores the fraction of words drawn from the
// instruction vocabulary. The score hits the 0.5 trigger threshold at a
// 10% density.
func (e *Engine) InstructionDensity(text string) Result {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return Result{Name: NameInstructionDensity, Detail: "empty text"}
	}

	hits := 0
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:'\"()[]{}")
		if _, ok := instructionWords[w]; ok {
			hits++
		}
	}
	density := float64(hits) / float64(len(words))
	score := clamp01(density * 5)
	return Result{
		Name:      NameInstructionDensity,
		Triggered: score >= e.cfg.InstructionDensityThreshold,
		Score:     score,
		Detail:    fmt.Sprintf("instruction density %.2f (%d/%d words)", density, hits, len(words)),
	}
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
