// Package knowledge holds the compliance obligation catalog, the keyword
// retrieval rules that point into it, and the company profile handed to the
// analyst.
package knowledge

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TobiSchelling/RegWatch/internal/risk"
)

const (
	catalogFile = "compliance_knowledge.json"
	profileFile = "company_profile.json"
)

//go:embed data/*.json
var dataFS embed.FS

// Obligation is a single compliance requirement.
type Obligation struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Severity    risk.Level `json:"severity"`
}

// Rule maps a trigger keyword to the obligation it points at.
type Rule struct {
	Keyword      string `json:"keyword"`
	ObligationID string `json:"obligation_id"`
}

// Profile is the company profile. Its fields are opaque to this program
// and forwarded verbatim to the analyst.
type Profile map[string]any

// Name returns the company name, if present.
func (p Profile) Name() string {
	if name, ok := p["company_name"].(string); ok {
		return name
	}
	return ""
}

// Catalog is a validated, ordered set of obligations plus retrieval rules.
type Catalog struct {
	Framework   string
	obligations []Obligation
	rules       []Rule
	byID        map[string]int
}

// NewCatalog validates obligations and rules and builds a catalog.
// Order is preserved; it decides retrieval ties.
func NewCatalog(framework string, obligations []Obligation, rules []Rule) (*Catalog, error) {
	c := &Catalog{
		Framework: framework,
		byID:      make(map[string]int, len(obligations)),
	}

	for _, o := range obligations {
		o.ID = strings.TrimSpace(o.ID)
		if o.ID == "" {
			return nil, fmt.Errorf("obligation %q has no id", o.Title)
		}
		if _, dup := c.byID[o.ID]; dup {
			return nil, fmt.Errorf("duplicate obligation id %s", o.ID)
		}
		sev, err := risk.ParseLevel(string(o.Severity))
		if err != nil {
			return nil, fmt.Errorf("obligation %s: %w", o.ID, err)
		}
		o.Severity = sev
		c.byID[o.ID] = len(c.obligations)
		c.obligations = append(c.obligations, o)
	}

	for _, r := range rules {
		kw := strings.ToLower(strings.TrimSpace(r.Keyword))
		if kw == "" {
			return nil, fmt.Errorf("rule for %s has an empty keyword", r.ObligationID)
		}
		if _, ok := c.byID[r.ObligationID]; !ok {
			return nil, fmt.Errorf("rule %q points at unknown obligation %s", r.Keyword, r.ObligationID)
		}
		c.rules = append(c.rules, Rule{Keyword: kw, ObligationID: r.ObligationID})
	}

	return c, nil
}

// Obligations returns the obligations in catalog order.
func (c *Catalog) Obligations() []Obligation {
	out := make([]Obligation, len(c.obligations))
	copy(out, c.obligations)
	return out
}

// Rules returns the retrieval rules.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Len returns the number of obligations.
func (c *Catalog) Len() int {
	return len(c.obligations)
}

// Get returns the obligation with the given id.
func (c *Catalog) Get(id string) (Obligation, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Obligation{}, false
	}
	return c.obligations[i], true
}

// Critical returns the obligations with critical severity.
func (c *Catalog) Critical() []Obligation {
	var out []Obligation
	for _, o := range c.obligations {
		if o.Severity == risk.Critical {
			out = append(out, o)
		}
	}
	return out
}

// Knowledge bundles the catalog with the company profile.
type Knowledge struct {
	Catalog *Catalog
	Profile Profile
}

type catalogDoc struct {
	Framework   string       `json:"framework"`
	Obligations []Obligation `json:"obligations"`
	Rules       []Rule       `json:"retrieval_rules"`
}

// Default returns the built-in DPDP catalog and sample company profile.
func Default() (*Knowledge, error) {
	catalogData, err := dataFS.ReadFile("data/" + catalogFile)
	if err != nil {
		return nil, fmt.Errorf("reading embedded catalog: %w", err)
	}
	profileData, err := dataFS.ReadFile("data/" + profileFile)
	if err != nil {
		return nil, fmt.Errorf("reading embedded profile: %w", err)
	}
	return parse(catalogData, profileData)
}

// Load reads the catalog and profile from dir. Files missing from dir fall
// back to the built-in versions.
func Load(dir string) (*Knowledge, error) {
	if dir == "" {
		return Default()
	}

	catalogData, err := readOrEmbedded(dir, catalogFile)
	if err != nil {
		return nil, err
	}
	profileData, err := readOrEmbedded(dir, profileFile)
	if err != nil {
		return nil, err
	}
	return parse(catalogData, profileData)
}

func readOrEmbedded(dir, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return dataFS.ReadFile("data/" + name)
}

func parse(catalogData, profileData []byte) (*Knowledge, error) {
	var doc catalogDoc
	if err := json.Unmarshal(catalogData, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", catalogFile, err)
	}
	catalog, err := NewCatalog(doc.Framework, doc.Obligations, doc.Rules)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}

	profile := Profile{}
	if err := json.Unmarshal(profileData, &profile); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", profileFile, err)
	}

	return &Knowledge{Catalog: catalog, Profile: profile}, nil
}
