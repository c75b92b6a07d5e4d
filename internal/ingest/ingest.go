// Package ingest turns raw source records into canonical Change records:
// it normalizes text, applies the topic-keyword relevance gate, attaches a
// risk level and drops duplicates within a batch.
package ingest

import (
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TobiSchelling/RegWatch/internal/risk"
)

// DefaultKeywords is the topic vocabulary for the DPDP domain.
var DefaultKeywords = []string{
	"data", "digital", "personal", "protection", "privacy",
	"breach", "consent", "security", "reporting", "fiduciary",
	"board", "penalty", "dpdp", "dpdpa",
}

// Defaults for Options.
const (
	DefaultMinTitleLength   = 20
	DefaultMaxContentLength = 500
	DefaultMinKeywordHits   = 2
)

// RawRecord is a record as delivered by a source, before any filtering.
// Every field may be empty.
type RawRecord struct {
	ID          string
	Title       string
	Excerpt     string
	Body        string
	Link        string
	PublishedAt string
	SourceID    string
	SourceName  string
	Sector      string
}

// Change is a regulatory update that passed the relevance gate.
type Change struct {
	ID              string     `json:"id"`
	SourceID        string     `json:"sourceId"`
	SourceName      string     `json:"sourceName"`
	Title           string     `json:"changeSummary"`
	Content         string     `json:"content"`
	MatchedKeywords []string   `json:"matchedKeywords"`
	RiskLevel       risk.Level `json:"riskLevel"`
	DetectedAt      string     `json:"detectedAt"`
	AffectedSector  string     `json:"affectedSector"`
	Link            string     `json:"link"`
}

// Options tunes the pipeline. Zero values take the defaults.
type Options struct {
	Keywords         []string
	MinTitleLength   int
	MaxContentLength int
	MinKeywordHits   int
}

// BatchStats counts what happened to each record of a batch.
type BatchStats struct {
	Seen       int
	Kept       int
	Duplicates int
	Rejected   int
}

// Pipeline normalizes and filters raw records.
type Pipeline struct {
	keywords   []string
	minTitle   int
	maxContent int
	minHits    int
	classifier *risk.Classifier
}

// NewPipeline creates an ingestion pipeline using classifier for risk levels.
func NewPipeline(opts Options, classifier *risk.Classifier) *Pipeline {
	p := &Pipeline{
		keywords:   opts.Keywords,
		minTitle:   opts.MinTitleLength,
		maxContent: opts.MaxContentLength,
		minHits:    opts.MinKeywordHits,
		classifier: classifier,
	}
	if len(p.keywords) == 0 {
		p.keywords = DefaultKeywords
	}
	if p.minTitle <= 0 {
		p.minTitle = DefaultMinTitleLength
	}
	if p.maxContent <= 0 {
		p.maxContent = DefaultMaxContentLength
	}
	if p.minHits <= 0 {
		p.minHits = DefaultMinKeywordHits
	}
	if p.classifier == nil {
		p.classifier = risk.NewClassifier(nil, risk.DefaultThresholds())
	}
	return p
}

// Ingest converts one raw record. It returns false when the record is
// noise: no id, a short title, or too few topic keywords.
func (p *Pipeline) Ingest(r RawRecord) (Change, bool) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return Change{}, false
	}

	title := normalizeSpace(r.Title)
	if utf8.RuneCountInString(title) < p.minTitle {
		return Change{}, false
	}

	raw := r.Excerpt
	if strings.TrimSpace(raw) == "" {
		raw = r.Body
	}
	content := StripTags(raw)

	matched := p.MatchKeywords(title, content)
	if len(matched) < p.minHits {
		return Change{}, false
	}

	return Change{
		ID:              id,
		SourceID:        r.SourceID,
		SourceName:      r.SourceName,
		Title:           title,
		Content:         truncateRunes(content, p.maxContent),
		MatchedKeywords: matched,
		RiskLevel:       p.classifier.Classify(matched, title, content),
		DetectedAt:      ParseTimestamp(r.PublishedAt),
		AffectedSector:  r.Sector,
		Link:            strings.TrimSpace(r.Link),
	}, true
}

// MatchKeywords returns the topic keywords found in title and content, in
// keyword-list order.
func (p *Pipeline) MatchKeywords(title, content string) []string {
	combined := strings.ToLower(title + " " + content)
	matched := []string{}
	for _, kw := range p.keywords {
		if strings.Contains(combined, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// Batch ingests seed records followed by live records. A record whose id
// was already seen in the batch is dropped, so seed records win over live
// records sharing an id.
func (p *Pipeline) Batch(seed, live []RawRecord) ([]Change, BatchStats) {
	var stats BatchStats
	seen := make(map[string]struct{}, len(seed)+len(live))
	changes := []Change{}

	for _, group := range [][]RawRecord{seed, live} {
		for _, r := range group {
			stats.Seen++
			id := strings.TrimSpace(r.ID)
			if id != "" {
				if _, dup := seen[id]; dup {
					stats.Duplicates++
					continue
				}
				seen[id] = struct{}{}
			}

			c, ok := p.Ingest(r)
			if !ok {
				stats.Rejected++
				continue
			}
			changes = append(changes, c)
			stats.Kept++
		}
	}

	return changes, stats
}

// StripTags removes markup tags, decodes entities and collapses whitespace.
// A '<' with no closing '>' is kept as text.
func StripTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] == '<' {
			end := strings.IndexByte(s[i+1:], '>')
			if end >= 0 {
				b.WriteByte(' ')
				i += end + 2
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}

	return normalizeSpace(html.UnescapeString(b.String()))
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"02-01-2006",
	"2006-01-02",
}

// ParseTimestamp returns the timestamp in RFC3339 UTC when it matches a
// known layout, and the raw text otherwise.
func ParseTimestamp(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return raw
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return raw
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
