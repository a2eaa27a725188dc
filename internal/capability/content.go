package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ciro-tutor/internal/config"
)

// SourceMetadata describes where a retrieved chunk came from.
type SourceMetadata struct {
	SourceName string   `json:"source_name"`
	Page       int      `json:"page"`
	Keywords   []string `json:"keywords,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// ContentHit is one ranked result from the course-material index.
type ContentHit struct {
	Text   string         `json:"text"`
	Score  float64        `json:"score"`
	Source SourceMetadata `json:"source_metadata"`
}

// ContentSearcher is the content-lookup port. An empty result set is not an
// error: it means the index has nothing for the query (or no index exists).
type ContentSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]ContentHit, error)
	Available() bool
}

// NewContentSearcher builds the adapter selected by config.
func NewContentSearcher(cfg config.ContentLookupConfig) (ContentSearcher, error) {
	switch cfg.Mode {
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("content lookup: base_url required for http mode")
		}
		return &HTTPContentIndex{
			baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			apiKey:     cfg.APIKey,
			httpClient: &http.Client{Timeout: 15 * time.Second},
		}, nil
	case "static":
		return &StaticContentIndex{}, nil
	case "off":
		return unavailableContent{}, nil
	default:
		return nil, fmt.Errorf("content lookup: unknown mode %q", cfg.Mode)
	}
}

// HTTPContentIndex queries a vector-index service over HTTP.
type HTTPContentIndex struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func (h *HTTPContentIndex) Available() bool { return true }

func (h *HTTPContentIndex) Search(ctx context.Context, query string, topK int) ([]ContentHit, error) {
	payload, err := json.Marshal(map[string]any{"query": query, "top_k": topK})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content query: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		// No index provisioned. Contract says empty results, not an error.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content query status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Matches []ContentHit `json:"matches"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal matches: %w", err)
	}
	return result.Matches, nil
}

// StaticContentIndex serves a fixed in-memory corpus. Used for local runs
// and tests; selected explicitly via mode "static".
type StaticContentIndex struct {
	Hits []ContentHit
}

func (s *StaticContentIndex) Available() bool { return true }

func (s *StaticContentIndex) Search(_ context.Context, query string, topK int) ([]ContentHit, error) {
	lower := strings.ToLower(query)
	var out []ContentHit
	for _, hit := range s.Hits {
		if strings.Contains(strings.ToLower(hit.Text), lower) || anyKeywordMatch(hit.Source.Keywords, lower) {
			out = append(out, hit)
		}
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func anyKeywordMatch(keywords []string, lowerQuery string) bool {
	for _, kw := range keywords {
		if strings.Contains(lowerQuery, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

type unavailableContent struct{}

func (unavailableContent) Available() bool { return false }

func (unavailableContent) Search(context.Context, string, int) ([]ContentHit, error) {
	// Empty, not an error: the teacher handler falls through to web lookup.
	return nil, nil
}
