package collect

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/TobiSchelling/RegWatch/internal/ingest"
)

const minExtractedLength = 100

// FetchResult holds the results of a content fetch pass.
type FetchResult struct {
	Fetched int
	Skipped int
	Failed  int
}

// ContentFetcher fills empty record bodies from the linked page via
// readability extraction.
type ContentFetcher struct {
	client *http.Client
	logger *zap.Logger
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(timeout time.Duration, logger *zap.Logger) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger: logger,
	}
}

// FillMissing fetches the page body for records that have neither excerpt
// nor body. After the first HTTP error from a domain, remaining records
// from that domain are skipped.
func (f *ContentFetcher) FillMissing(ctx context.Context, records []ingest.RawRecord) FetchResult {
	var result FetchResult
	failedDomains := make(map[string]struct{})

	for i := range records {
		rec := &records[i]
		if rec.Excerpt != "" || rec.Body != "" || rec.Link == "" {
			continue
		}

		domain := ""
		if u, err := url.Parse(rec.Link); err == nil {
			domain = strings.ToLower(u.Host)
		}
		if _, failed := failedDomains[domain]; failed {
			result.Skipped++
			continue
		}

		content, err := f.fetchContent(ctx, rec.Link)
		if err != nil {
			result.Failed++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			f.logger.Warn("HTTP error, skipping remaining pages from domain",
				zap.String("url", rec.Link), zap.String("domain", domain), zap.Error(err))
			continue
		}

		if content == "" {
			result.Failed++
			f.logger.Debug("No extractable content", zap.String("url", rec.Link))
			continue
		}
		rec.Body = content
		result.Fetched++
	}

	if result.Fetched+result.Failed+result.Skipped > 0 {
		f.logger.Info("Content fetch complete",
			zap.Int("fetched", result.Fetched), zap.Int("failed", result.Failed), zap.Int("skipped", result.Skipped))
	}
	return result
}

func (f *ContentFetcher) fetchContent(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "RegWatch/1.0 (regulatory monitor)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil // connection error, not HTTP error
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil
	}

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return "", nil
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > minExtractedLength {
		return text, nil
	}
	return "", nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
