package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Config selects which sanitization stages run. Stages always apply in a
// fixed order: control-char stripping, homoglyph normalization, delimiter
// escaping, whitespace normalization, truncation.
type Config struct {
	// MaxLength is the truncation limit in runes. Zero or negative
	// disables truncation.
	MaxLength int

	StripControlChars   bool
	NormalizeHomoglyphs bool
	EscapeDelimiters    bool
	NormalizeWhitespace bool
}

// DefaultConfig returns the standard sanitizer configuration. Homoglyph
// normalization is off by default: it rewrites legitimate Cyrillic text, so
// callers opt in for Latin-only inputs.
func DefaultConfig() Config {
	return Config{
		MaxLength:           10000,
		StripControlChars:   true,
		NormalizeHomoglyphs: false,
		EscapeDelimiters:    true,
		NormalizeWhitespace: true,
	}
}

// ConfigError reports an invalid sanitizer configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sanitizer config %s: %s", e.Field, e.Reason)
}

// Result is a sanitization outcome. Changes lists one human-readable entry
// per stage that actually altered the text; an untouched input yields an
// empty Changes and Text equal to the input.
type Result struct {
	Text    string
	Changes []string
}

// Modified reports whether any stage altered the text.
func (r Result) Modified() bool { return len(r.Changes) > 0 }

// Sanitizer applies the configured stages. It is stateless and safe for
// concurrent use.
type Sanitizer struct {
	cfg Config
}

// NewSanitizer creates a sanitizer with a validated config.
func NewSanitizer(cfg Config) (*Sanitizer, error) {
	if cfg.MaxLength < 0 {
		return nil, &ConfigError{Field: "MaxLength", Reason: "must be zero or positive"}
	}
	return &Sanitizer{cfg: cfg}, nil
}

// Sanitize runs the enabled stages in order and records a change entry for
// each stage that modified the text. Sanitization is idempotent: running
// the output through again yields the same text with no changes.
func (s *Sanitizer) Sanitize(text string) Result {
	r := Result{Text: text}

	if s.cfg.StripControlChars {
		out, removed := stripControlChars(r.Text)
		if removed > 0 {
			r.Text = out
			r.Changes = append(r.Changes, fmt.Sprintf("removed %d control characters", removed))
		}
	}

	if s.cfg.NormalizeHomoglyphs {
		out, replaced := normalizeHomoglyphs(r.Text)
		if replaced > 0 {
			r.Text = out
			r.Changes = append(r.Changes, fmt.Sprintf("normalized %d homoglyph characters", replaced))
		}
	}

	if s.cfg.EscapeDelimiters {
		out, escaped := escapeDelimiters(r.Text)
		if escaped > 0 {
			r.Text = out
			r.Changes = append(r.Changes, fmt.Sprintf("escaped %d special delimiters", escaped))
		}
	}

	if s.cfg.NormalizeWhitespace {
		out := normalizeWhitespace(r.Text)
		if out != r.Text {
			r.Text = out
			r.Changes = append(r.Changes, "normalized whitespace")
		}
	}

	if s.cfg.MaxLength > 0 {
		runes := []rune(r.Text)
		if len(runes) > s.cfg.MaxLength {
			cut := string(runes[:s.cfg.MaxLength])
			if s.cfg.NormalizeWhitespace {
				// The cut can end mid-whitespace; trim again so a
				// second pass has nothing left to do.
				cut = strings.TrimSpace(cut)
			}
			r.Text = cut
			r.Changes = append(r.Changes, fmt.Sprintf("truncated to %d characters", s.cfg.MaxLength))
		}
	}

	return r
}

// stripControlChars removes non-printing characters: C0 controls other than
// tab/newline/carriage return, DEL, and the invisible unicode ranges used
// for payload smuggling.
func stripControlChars(text string) (string, int) {
	var b strings.Builder
	b.Grow(len(text))
	removed := 0
	for _, r := range text {
		if isControlRune(r) {
			removed++
			continue
		}
		b.WriteRune(r)
	}
	if removed == 0 {
		return text, 0
	}
	return b.String(), removed
}

func isControlRune(r rune) bool {
	if r < 32 && r != '\n' && r != '\r' && r != '\t' {
		return true
	}
	if r == 0x7F {
		return true
	}
	switch {
	case r >= 0x200B && r <= 0x200F:
		return true
	case r >= 0x2028 && r <= 0x202F:
		return true
	case r >= 0x2060 && r <= 0x206F:
		return true
	case r == 0xFEFF:
		return true
	}
	return false
}

// homoglyphs maps the Cyrillic letters that render identically to Latin
// ones. Only applied when NormalizeHomoglyphs is enabled.
var homoglyphs = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y', 'і': 'i',
	'А': 'A', 'Е': 'E', 'О': 'O', 'Р': 'P', 'С': 'C', 'Х': 'X', 'У': 'Y', 'І': 'I',
}

func normalizeHomoglyphs(text string) (string, int) {
	var b strings.Builder
	b.Grow(len(text))
	replaced := 0
	for _, r := range text {
		if latin, ok := homoglyphs[r]; ok {
			b.WriteRune(latin)
			replaced++
			continue
		}
		b.WriteRune(r)
	}
	if replaced == 0 {
		return text, 0
	}
	return b.String(), replaced
}

// promptDelimiters are the model conversation-format markers an attacker
// uses to fake a turn boundary. Longer tokens first so "[/INST]" is not
// half-matched via a shorter entry.
var promptDelimiters = []string{
	"<|im_start|>", "<|im_end|>",
	"<|system|>", "<|user|>", "<|assistant|>",
	"<<SYS>>", "<</SYS>>",
	"</system>", "<system>",
	"[/INST]", "[INST]",
	"[/SYS]", "[SYS]",
}

// escapedStructural are the characters inside a delimiter that get a
// backslash when escaping it.
const escapedStructural = "[]<>|"

func escapeDelimiter(d string) string {
	var b strings.Builder
	for _, r := range d {
		if strings.ContainsRune(escapedStructural, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeDelimiters backslash-escapes the structural characters of every
// known prompt delimiter. Already-escaped delimiters no longer match the
// raw token, which keeps the stage idempotent.
func escapeDelimiters(text string) (string, int) {
	escaped := 0
	for _, d := range promptDelimiters {
		n := strings.Count(text, d)
		if n == 0 {
			continue
		}
		text = strings.ReplaceAll(text, d, escapeDelimiter(d))
		escaped += n
	}
	return text, escaped
}

var (
	runSpacesRe  = regexp.MustCompile(`[ \t]{2,}`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// normalizeWhitespace collapses runs of spaces and tabs, limits consecutive
// blank lines to one, and trims the ends.
func normalizeWhitespace(text string) string {
	text = runSpacesRe.ReplaceAllString(text, " ")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
