package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rentloop/lease-coordinator/internal/storage"
)

// Analyzer extracts sentiment, keywords and abuse flags from review text
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*storage.ReviewAnalysis, error)
}

// HTTPAnalyzer calls an external text-analysis endpoint
type HTTPAnalyzer struct {
	endpoint   string
	headers    map[string]string
	httpClient *http.Client
}

// NewHTTPAnalyzer creates an analyzer posting to endpoint
func NewHTTPAnalyzer(endpoint string, headers map[string]string, timeout time.Duration) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAnalyzer{
		endpoint: endpoint,
		headers:  headers,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type analysisResponse struct {
	Sentiment string   `json:"sentiment"`
	Keywords  []string `json:"keywords"`
	Flagged   bool     `json:"flagged"`
}

// Analyze posts {"text": ...} and decodes the enrichment result
func (a *HTTPAnalyzer) Analyze(ctx context.Context, text string) (*storage.ReviewAnalysis, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call analyzer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("analyzer returned status %d", resp.StatusCode)
	}

	var out analysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}

	return &storage.ReviewAnalysis{
		Sentiment: out.Sentiment,
		Keywords:  strings.Join(out.Keywords, ","),
		Flagged:   out.Flagged,
	}, nil
}
