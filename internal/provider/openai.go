package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mailpilot/internal/domain"
	"mailpilot/internal/metrics"
)

// OpenAI implements domain.Inference for OpenAI-compatible
// chat-completions APIs. It classifies failures but never retries —
// the pipeline coordinator owns the retry policy.
type OpenAI struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIKey      string
	APIBase     string
	Model       string
	HTTPTimeout int // seconds
	Logger      *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		client:  sharedHTTPClient(0),
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("openai: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai returned %d", resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *OpenAI) Generate(ctx context.Context, prompt string, params domain.GenerateParams) (string, error) {
	model := params.Model
	if model == "" {
		model = o.model
	}
	body := oaiRequest{
		Model:    model,
		Messages: []oaiMessage{{Role: "user", Content: prompt}},
	}
	if params.MaxTokens > 0 {
		body.MaxTokens = params.MaxTokens
	}
	if params.Temperature > 0 {
		t := params.Temperature
		body.Temperature = &t
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", domain.Terminal(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", domain.Terminal(err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := o.client.Do(req)
	metrics.InferenceLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		return "", domain.Transient(fmt.Errorf("%w: %v", domain.ErrInferenceUnavailable, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.Transient(fmt.Errorf("%w: read response: %v", domain.ErrInferenceUnavailable, err))
	}

	if err := classifyInferenceStatus(resp.StatusCode, raw); err != nil {
		return "", err
	}

	var parsed oaiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", domain.Terminal(fmt.Errorf("parse response: %w", err))
	}
	if parsed.Error != nil {
		return "", domain.Terminal(fmt.Errorf("%w: %s", domain.ErrInferenceRejected, parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", domain.Terminal(fmt.Errorf("%w: no choices returned", domain.ErrInferenceRejected))
	}
	return parsed.Choices[0].Message.Content, nil
}

// classifyInferenceStatus maps an HTTP status to the failure taxonomy:
// rate limits and server errors are transient, client errors are a
// rejection and must not be retried.
func classifyInferenceStatus(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.Transient(fmt.Errorf("%w: HTTP %d: %s", domain.ErrInferenceUnavailable, status, trimBody(body)))
	default:
		return domain.Terminal(fmt.Errorf("%w: HTTP %d: %s", domain.ErrInferenceRejected, status, trimBody(body)))
	}
}

func trimBody(body []byte) string {
	const max = 300
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
