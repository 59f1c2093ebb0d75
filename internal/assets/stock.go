package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPStockSearcher queries a stock-footage search service over HTTP. The
// service takes `q` and `kind` query parameters and answers with a JSON
// object carrying the best match's media URL.
type HTTPStockSearcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStockSearcher builds a searcher against baseURL. An empty baseURL
// returns nil so callers can pass the result straight to NewResolver.
func NewHTTPStockSearcher(baseURL string, timeout time.Duration) *HTTPStockSearcher {
	if baseURL == "" {
		return nil
	}
	return &HTTPStockSearcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Search returns the media URL of the best match, or "" when the service
// found nothing.
func (s *HTTPStockSearcher) Search(ctx context.Context, query string, kind Kind) (string, error) {
	u := fmt.Sprintf("%s?q=%s&kind=%s", s.baseURL, url.QueryEscape(query), url.QueryEscape(string(kind)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stock search returned status %d", resp.StatusCode)
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode stock search response: %w", err)
	}
	return body.URL, nil
}
