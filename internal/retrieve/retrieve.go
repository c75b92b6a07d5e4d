package retrieve

import (
	"strings"

	"github.com/TobiSchelling/RegWatch/internal/knowledge"
)

// Score weights.
const (
	RuleWeight        = 3
	TitleWeight       = 2
	DescriptionWeight = 1
	CategoryWeight    = 2
)

// Score is the per-obligation breakdown for a piece of text.
type Score struct {
	ObligationID string   `json:"obligation_id"`
	Rules        []string `json:"matched_rules,omitempty"`
	Title        bool     `json:"title_match"`
	Description  bool     `json:"description_match"`
	Category     bool     `json:"category_match"`
	Total        int      `json:"total"`
}

// Engine picks the single most relevant obligation for a text.
type Engine struct {
	catalog *knowledge.Catalog
}

// NewEngine creates an engine over a catalog.
func NewEngine(catalog *knowledge.Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Retrieve returns the highest-scoring obligation. Ties go to the earliest
// obligation in catalog order, so an all-zero score yields the first one.
// It returns false only when the catalog is empty.
func (e *Engine) Retrieve(text string) (knowledge.Obligation, bool) {
	if e.catalog == nil {
		return knowledge.Obligation{}, false
	}
	return Retrieve(text, e.catalog.Obligations(), e.catalog.Rules())
}

// Scores returns the score breakdown for every obligation in catalog order.
func (e *Engine) Scores(text string) []Score {
	if e.catalog == nil {
		return nil
	}
	return score(text, e.catalog.Obligations(), e.catalog.Rules())
}

// Retrieve scores text against obligations and rules directly.
func Retrieve(text string, obligations []knowledge.Obligation, rules []knowledge.Rule) (knowledge.Obligation, bool) {
	if len(obligations) == 0 {
		return knowledge.Obligation{}, false
	}

	scores := score(text, obligations, rules)
	best := 0
	for i, s := range scores {
		if s.Total > scores[best].Total {
			best = i
		}
	}
	return obligations[best], true
}

func score(text string, obligations []knowledge.Obligation, rules []knowledge.Rule) []Score {
	lower := strings.ToLower(text)

	scores := make([]Score, len(obligations))
	for i, o := range obligations {
		s := Score{ObligationID: o.ID}

		for _, r := range rules {
			if r.ObligationID == o.ID && strings.Contains(lower, strings.ToLower(r.Keyword)) {
				s.Rules = append(s.Rules, r.Keyword)
				s.Total += RuleWeight
			}
		}
		if anyTokenIn(o.Title, lower) {
			s.Title = true
			s.Total += TitleWeight
		}
		if anyTokenIn(o.Description, lower) {
			s.Description = true
			s.Total += DescriptionWeight
		}
		// An empty category is a substring of every text and scores.
		if strings.Contains(lower, strings.ToLower(o.Category)) {
			s.Category = true
			s.Total += CategoryWeight
		}

		scores[i] = s
	}
	return scores
}

// anyTokenIn reports whether any whitespace-separated token of field occurs
// in text as a substring.
func anyTokenIn(field, text string) bool {
	for _, tok := range strings.Fields(strings.ToLower(field)) {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}
