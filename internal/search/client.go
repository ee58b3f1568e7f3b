// Package search provides best-effort web-search enrichment via the
// DuckDuckGo Instant Answer API. Failures here degrade drafting
// quality; they never fail the pipeline.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"mailpilot/internal/domain"
)

const (
	defaultAPIBase = "https://api.duckduckgo.com"
	searchTimeout  = 15 * time.Second
	userAgent      = "MailPilot/0.1"
)

// Client implements domain.Search.
type Client struct {
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

func New(apiBase string, logger *slog.Logger) *Client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiBase: apiBase,
		client:  &http.Client{Timeout: searchTimeout},
		logger:  logger,
	}
}

type ddgResponse struct {
	Abstract      string `json:"Abstract"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search runs the query and returns up to max snippets. Every error is
// tagged Degraded: the caller proceeds without the enrichment.
func (c *Client) Search(ctx context.Context, query string, max int) ([]domain.Snippet, error) {
	if max <= 0 {
		max = 3
	}
	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1",
		c.apiBase, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, domain.Degraded(err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.Degraded(fmt.Errorf("%w: %v", domain.ErrSearchUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.Degraded(fmt.Errorf("%w: HTTP %d", domain.ErrSearchUnavailable, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Degraded(fmt.Errorf("%w: read response: %v", domain.ErrSearchUnavailable, err))
	}

	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, domain.Degraded(fmt.Errorf("%w: parse response: %v", domain.ErrSearchUnavailable, err))
	}

	var snippets []domain.Snippet
	if ddg.Abstract != "" {
		snippets = append(snippets, domain.Snippet{
			Title: ddg.Heading,
			Text:  ddg.Abstract,
			URL:   ddg.AbstractURL,
		})
	}
	if ddg.Answer != "" {
		snippets = append(snippets, domain.Snippet{Text: ddg.Answer})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(snippets) >= max {
			break
		}
		if topic.Text != "" {
			snippets = append(snippets, domain.Snippet{Text: topic.Text, URL: topic.FirstURL})
		}
	}
	if len(snippets) > max {
		snippets = snippets[:max]
	}
	return snippets, nil
}
