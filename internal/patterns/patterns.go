package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Category classifies the kind of injection attack a pattern covers.
type Category int

const (
	CategoryUnspecified Category = iota
	CategoryInstructionOverride
	CategoryRoleManipulation
	CategoryContextEscape
	CategoryDataExfiltration
	CategoryJailbreak
	CategoryEncodingAbuse
)

// String returns the lowercase category name (used in JSON and event storage).
func (c Category) String() string {
	switch c {
	case CategoryInstructionOverride:
		return "instruction_override"
	case CategoryRoleManipulation:
		return "role_manipulation"
	case CategoryContextEscape:
		return "context_escape"
	case CategoryDataExfiltration:
		return "data_exfiltration"
	case CategoryJailbreak:
		return "jailbreak"
	case CategoryEncodingAbuse:
		return "encoding_abuse"
	default:
		return "unspecified"
	}
}

// ParseCategory converts a lowercase category name back into a Category.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "instruction_override":
		return CategoryInstructionOverride, nil
	case "role_manipulation":
		return CategoryRoleManipulation, nil
	case "context_escape":
		return CategoryContextEscape, nil
	case "data_exfiltration":
		return CategoryDataExfiltration, nil
	case "jailbreak":
		return CategoryJailbreak, nil
	case "encoding_abuse":
		return CategoryEncodingAbuse, nil
	default:
		return CategoryUnspecified, fmt.Errorf("unknown pattern category %q", s)
	}
}

// Pattern is a named detection rule. Severity is an a priori calibration
// value in [0,1], not computed. Patterns are immutable once added.
type Pattern struct {
	Name        string
	Expr        string
	Category    Category
	Severity    float64
	Description string
}

// Match is a single occurrence of a pattern in the input. Start and End are
// byte offsets into the analyzed text.
type Match struct {
	Name     string
	Category Category
	Severity float64
	Start    int
	End      int
	Text     string
}

// ValidationError reports a pattern that was rejected by Add.
type ValidationError struct {
	Name   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid pattern %q: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid pattern %q: %s", e.Name, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports a Remove for a name that is not in the library.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pattern %q not found", e.Name)
}

// compiled pairs a pattern with its compiled expression. Expressions are
// compiled exactly once, at Add/NewLibrary time, never during Match.
type compiled struct {
	Pattern
	re *regexp.Regexp
}

// Library holds the active pattern set. Reads go through an immutable
// snapshot swapped atomically, so Match never blocks on a concurrent
// Add/Remove; mutation is serialized by the mutex.
type Library struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]compiled]
}

// NewLibrary builds a library from the given patterns.
func NewLibrary(pats []Pattern) (*Library, error) {
	l := &Library{}
	empty := make([]compiled, 0, len(pats))
	l.snapshot.Store(&empty)
	for _, p := range pats {
		if err := l.Add(p); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// NewDefaultLibrary builds a library with the built-in pattern set.
// The defaults are maintained by hand; a failure to load them is a bug.
func NewDefaultLibrary() *Library {
	l, err := NewLibrary(Defaults())
	if err != nil {
		panic(fmt.Sprintf("default pattern set invalid: %v", err))
	}
	return l
}

func compilePattern(p Pattern) (compiled, error) {
	if p.Name == "" {
		return compiled{}, &ValidationError{Name: p.Name, Reason: "name is required"}
	}
	if p.Severity < 0 || p.Severity > 1 {
		return compiled{}, &ValidationError{Name: p.Name, Reason: "severity must be in [0,1]"}
	}
	expr := p.Expr
	if !strings.HasPrefix(expr, "(?i)") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return compiled{}, &ValidationError{Name: p.Name, Reason: "expression does not compile", Err: err}
	}
	return compiled{Pattern: p, re: re}, nil
}

// Add compiles and installs a pattern. Fails with *ValidationError if the
// name is already taken or the expression does not compile; the library is
// unchanged on failure.
func (l *Library) Add(p Pattern) error {
	c, err := compilePattern(p)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur := *l.snapshot.Load()
	for _, existing := range cur {
		if existing.Name == p.Name {
			return &ValidationError{Name: p.Name, Reason: "name already exists"}
		}
	}

	next := make([]compiled, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, c)
	l.snapshot.Store(&next)
	return nil
}

// Remove deletes a pattern by name. Fails with *NotFoundError if absent.
func (l *Library) Remove(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := *l.snapshot.Load()
	next := make([]compiled, 0, len(cur))
	found := false
	for _, c := range cur {
		if c.Name == name {
			found = true
			continue
		}
		next = append(next, c)
	}
	if !found {
		return &NotFoundError{Name: name}
	}
	l.snapshot.Store(&next)
	return nil
}

// Match runs every pattern against text and returns all non-overlapping
// occurrences per pattern, sorted by start offset; ties are broken by
// descending severity so the worst rule surfaces first.
func (l *Library) Match(text string) []Match {
	snap := *l.snapshot.Load()

	var matches []Match
	for _, c := range snap {
		for _, loc := range c.re.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{
				Name:     c.Name,
				Category: c.Category,
				Severity: c.Severity,
				Start:    loc[0],
				End:      loc[1],
				Text:     text[loc[0]:loc[1]],
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].Severity > matches[j].Severity
	})
	return matches
}

// Patterns returns a copy of the current pattern set, in insertion order.
func (l *Library) Patterns() []Pattern {
	snap := *l.snapshot.Load()
	out := make([]Pattern, len(snap))
	for i, c := range snap {
		out[i] = c.Pattern
	}
	return out
}

// Len returns the number of installed patterns.
func (l *Library) Len() int {
	return len(*l.snapshot.Load())
}
