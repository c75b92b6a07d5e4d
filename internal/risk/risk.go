package risk

import (
	"fmt"
	"strings"
)

// Level is the risk tier attached to a regulatory change.
type Level string

const (
	Low      Level = "low"
	Medium   Level = "medium"
	High     Level = "high"
	Critical Level = "critical"
)

// Levels lists every level from least to most severe.
var Levels = []Level{Low, Medium, High, Critical}

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case Low:
		return Low, nil
	case Medium:
		return Medium, nil
	case High:
		return High, nil
	case Critical:
		return Critical, nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// Rank orders levels; unknown levels rank below Low.
func (l Level) Rank() int {
	for i, lv := range Levels {
		if lv == l {
			return i
		}
	}
	return -1
}

// AtLeast reports whether l is as severe as min.
func (l Level) AtLeast(min Level) bool {
	return l.Rank() >= 0 && l.Rank() >= min.Rank()
}

// Title returns the capitalized level name ("High").
func (l Level) Title() string {
	if l == "" {
		return ""
	}
	return strings.ToUpper(string(l[:1])) + string(l[1:])
}

// DefaultCriticalTerms are the enforcement-related terms that escalate a change to critical.
var DefaultCriticalTerms = []string{"breach", "penalty", "violation", "enforcement", "compliance"}

// Thresholds holds the keyword-count cutoffs for each tier.
type Thresholds struct {
	Critical     int // matched keywords needed for critical
	High         int
	Medium       int
	CriticalHits int // distinct critical terms needed for critical
}

// DefaultThresholds returns the standard cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 5, High: 3, Medium: 2, CriticalHits: 2}
}

// Classifier assigns risk levels to changes.
type Classifier struct {
	terms      []string
	thresholds Thresholds
}

// NewClassifier creates a classifier. Nil terms or zero thresholds fall back to defaults.
func NewClassifier(terms []string, t Thresholds) *Classifier {
	if len(terms) == 0 {
		terms = DefaultCriticalTerms
	}
	def := DefaultThresholds()
	if t.Critical <= 0 {
		t.Critical = def.Critical
	}
	if t.High <= 0 {
		t.High = def.High
	}
	if t.Medium <= 0 {
		t.Medium = def.Medium
	}
	if t.CriticalHits <= 0 {
		t.CriticalHits = def.CriticalHits
	}
	lower := make([]string, len(terms))
	for i, term := range terms {
		lower[i] = strings.ToLower(term)
	}
	return &Classifier{terms: lower, thresholds: t}
}

// Classify scores a change from its matched topic keywords and its text.
// The result depends only on the inputs.
func (c *Classifier) Classify(matched []string, title, content string) Level {
	n := len(matched)
	combined := strings.ToLower(title + " " + content)

	hits := 0
	for _, term := range c.terms {
		if strings.Contains(combined, term) {
			hits++
		}
	}

	switch {
	case hits >= c.thresholds.CriticalHits || n >= c.thresholds.Critical:
		return Critical
	case n >= c.thresholds.High:
		return High
	case n >= c.thresholds.Medium:
		return Medium
	default:
		return Low
	}
}

// CriticalHits returns the critical terms found in the text, in term order.
func (c *Classifier) CriticalHits(title, content string) []string {
	combined := strings.ToLower(title + " " + content)
	found := []string{}
	for _, term := range c.terms {
		if strings.Contains(combined, term) {
			found = append(found, term)
		}
	}
	return found
}
