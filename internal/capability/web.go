package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ciro-tutor/internal/config"
)

// WebResult is one web-search result.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearcher is the web-lookup port. Failures surface as ErrWebLookup so
// handlers can degrade on a single errors.Is check.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]WebResult, error)
	Available() bool
}

// NewWebSearcher builds the adapter selected by config.
func NewWebSearcher(cfg config.WebLookupConfig) (WebSearcher, error) {
	switch cfg.Mode {
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("web lookup: base_url required for http mode")
		}
		return &HTTPWebSearch{
			baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			apiKey:     cfg.APIKey,
			httpClient: &http.Client{Timeout: 15 * time.Second},
		}, nil
	case "off":
		return unavailableWeb{}, nil
	default:
		return nil, fmt.Errorf("web lookup: unknown mode %q", cfg.Mode)
	}
}

// HTTPWebSearch queries a search service over HTTP.
type HTTPWebSearch struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func (h *HTTPWebSearch) Available() bool { return true }

func (h *HTTPWebSearch) Search(ctx context.Context, query string) ([]WebResult, error) {
	endpoint := h.baseURL + "/search?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrWebLookup, err)
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebLookup, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrWebLookup, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrWebLookup, resp.StatusCode, string(body))
	}

	var result struct {
		Results []WebResult `json:"results"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: unmarshal results: %v", ErrWebLookup, err)
	}
	return result.Results, nil
}

type unavailableWeb struct{}

func (unavailableWeb) Available() bool { return false }

func (unavailableWeb) Search(context.Context, string) ([]WebResult, error) {
	return nil, fmt.Errorf("%w: %w", ErrWebLookup, ErrUnavailable)
}
