package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/RegWatch/internal/ingest"
)

const (
	pibListingURL  = "https://pib.gov.in/allRel.aspx"
	pibSourceID    = "pib"
	pibSourceName  = "PIB Press Release"
	pibSector      = "Technology, Data Protection"
	pibReleaseLink = "a[href*='PRID=']"
)

var pibDateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// PIBSource scrapes the Press Information Bureau release listing for one
// ministry. The listing carries titles and dates only; bodies are left to
// the content fetcher.
type PIBSource struct {
	listingURL string
	ministryID int
	client     *http.Client
}

// NewPIBSource creates a PIB scraper. ministryID 0 lists all ministries.
func NewPIBSource(listingURL string, ministryID int, client *http.Client) *PIBSource {
	if listingURL == "" {
		listingURL = pibListingURL
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &PIBSource{listingURL: listingURL, ministryID: ministryID, client: client}
}

func (p *PIBSource) Info() SourceInfo {
	return SourceInfo{ID: pibSourceID, Name: pibSourceName, Kind: "html", URL: p.listingURL}
}

// Fetch downloads and parses the listing page.
func (p *PIBSource) Fetch(ctx context.Context) ([]ingest.RawRecord, error) {
	pageURL, err := p.pageURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "RegWatch/1.0 (regulatory monitor)")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pib returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	base, _ := url.Parse(pageURL)
	return parsePIBListing(doc, base), nil
}

func (p *PIBSource) pageURL() (string, error) {
	parsed, err := url.Parse(p.listingURL)
	if err != nil {
		return "", fmt.Errorf("invalid pib url %s: %w", p.listingURL, err)
	}
	if p.ministryID > 0 {
		q := parsed.Query()
		q.Set("MinId", strconv.Itoa(p.ministryID))
		parsed.RawQuery = q.Encode()
	}
	return parsed.String(), nil
}

func parsePIBListing(doc *goquery.Document, base *url.URL) []ingest.RawRecord {
	var records []ingest.RawRecord
	seen := map[string]struct{}{}

	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		a := li.Find(pibReleaseLink).First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		id := releaseID(href)
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}

		title := strings.TrimSpace(a.AttrOr("title", ""))
		if title == "" {
			title = strings.TrimSpace(a.Text())
		}

		link := href
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				link = base.ResolveReference(ref).String()
			}
		}

		records = append(records, ingest.RawRecord{
			ID:          "pib-" + id,
			Title:       title,
			Link:        link,
			PublishedAt: parsePIBDate(li.Text()),
			SourceID:    pibSourceID,
			SourceName:  pibSourceName,
			Sector:      pibSector,
		})
	})

	return records
}

func releaseID(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	for key, vals := range u.Query() {
		if strings.EqualFold(key, "PRID") && len(vals) > 0 {
			return strings.TrimSpace(vals[0])
		}
	}
	return ""
}

// parsePIBDate extracts a "12 FEB 2026" style date as YYYY-MM-DD, or "".
func parsePIBDate(text string) string {
	match := pibDateExpr.FindString(text)
	if match == "" {
		return ""
	}
	t, err := time.Parse("2 Jan 2006", match)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}
