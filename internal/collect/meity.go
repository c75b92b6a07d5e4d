package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/RegWatch/internal/ingest"
)

const (
	meityBaseURL      = "https://www.meity.gov.in"
	meityDocumentsAPI = "/cms/wp-json/document/documents"
	meitySourceID     = "meity"
	meitySourceName   = "MeitY Press Release"
	meitySector       = "Technology, Data Protection"
	findPages         = 3
	findPageSize      = 10
)

// MeityPost is one document as returned by the MeitY WordPress API.
type MeityPost struct {
	ID          json.Number `json:"ID"`
	PostTitle   string      `json:"post_title"`
	PostDate    string      `json:"post_date"`
	PostSlug    string      `json:"post_slug"`
	GUID        string      `json:"guid"`
	PostExcerpt string      `json:"post_excerpt"`
	PostContent string      `json:"post_content"`
}

// MeityPage is one page of press releases.
type MeityPage struct {
	Posts       []MeityPost `json:"posts"`
	TotalItems  int         `json:"total_items"`
	TotalPages  int         `json:"total_pages"`
	CurrentPage int         `json:"current_page"`
}

// MeityClient reads press releases from the MeitY documents API.
type MeityClient struct {
	baseURL  string
	pageSize int
	pages    int
	client   *http.Client
}

// NewMeityClient creates a client. Zero pageSize and pages default to 20 and 1.
func NewMeityClient(baseURL string, pageSize, pages int, client *http.Client) *MeityClient {
	if baseURL == "" {
		baseURL = meityBaseURL
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pages <= 0 {
		pages = 1
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &MeityClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: pageSize,
		pages:    pages,
		client:   client,
	}
}

func (c *MeityClient) Info() SourceInfo {
	return SourceInfo{ID: meitySourceID, Name: meitySourceName, Kind: "api", URL: c.baseURL + meityDocumentsAPI}
}

// Fetch returns the configured number of pages of press releases.
func (c *MeityClient) Fetch(ctx context.Context) ([]ingest.RawRecord, error) {
	var records []ingest.RawRecord
	for page := 1; page <= c.pages; page++ {
		p, err := c.FetchPage(ctx, page, c.pageSize)
		if err != nil {
			return records, err
		}
		for _, post := range p.Posts {
			records = append(records, c.toRecord(post))
		}
		if page >= p.TotalPages {
			break
		}
	}
	return records, nil
}

// FetchPage requests one page of press releases.
func (c *MeityClient) FetchPage(ctx context.Context, page, limit int) (*MeityPage, error) {
	params := url.Values{
		"type":  {"Press Release"},
		"limit": {strconv.Itoa(limit)},
		"page":  {strconv.Itoa(page)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+meityDocumentsAPI+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building meity request: %w", err)
	}
	req.Header.Set("User-Agent", "RegWatch/1.0 (regulatory monitor)")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meity request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meity returned %s", resp.Status)
	}

	var result MeityPage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding meity response: %w", err)
	}
	return &result, nil
}

// FindByID scans the most recent pages for a press release. Returns nil if
// it is not among them.
func (c *MeityClient) FindByID(ctx context.Context, id string) (*ingest.RawRecord, error) {
	for page := 1; page <= findPages; page++ {
		p, err := c.FetchPage(ctx, page, findPageSize)
		if err != nil {
			return nil, err
		}
		for _, post := range p.Posts {
			if post.ID.String() == id {
				rec := c.toRecord(post)
				return &rec, nil
			}
		}
		if page >= p.TotalPages {
			break
		}
	}
	return nil, nil
}

func (c *MeityClient) toRecord(p MeityPost) ingest.RawRecord {
	link := p.GUID
	if p.PostSlug != "" {
		link = c.baseURL + "/documents/press-release/" + p.PostSlug
	}
	return ingest.RawRecord{
		ID:          p.ID.String(),
		Title:       p.PostTitle,
		Excerpt:     p.PostExcerpt,
		Body:        p.PostContent,
		Link:        link,
		PublishedAt: p.PostDate,
		SourceID:    meitySourceID,
		SourceName:  meitySourceName,
		Sector:      meitySector,
	}
}
