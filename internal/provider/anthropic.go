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

const (
	anthropicAPIBase    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
)

// Anthropic implements domain.Inference for the Anthropic messages
// API.
type Anthropic struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type AnthropicConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Logger  *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.APIBase == "" {
		cfg.APIBase = anthropicAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-20241022"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Anthropic{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		client:  sharedHTTPClient(0),
		logger:  cfg.Logger,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Healthy(ctx context.Context) error {
	if a.apiKey == "" {
		return fmt.Errorf("anthropic: no API key configured")
	}
	return nil
}

type anthropicRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Messages    []anthropicMsg `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (a *Anthropic) Generate(ctx context.Context, prompt string, params domain.GenerateParams) (string, error) {
	model := params.Model
	if model == "" {
		model = a.model
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	body := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  []anthropicMsg{{Role: "user", Content: prompt}},
	}
	if params.Temperature > 0 {
		t := params.Temperature
		body.Temperature = &t
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", domain.Terminal(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.apiBase+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", domain.Terminal(err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := a.client.Do(req)
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

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", domain.Terminal(fmt.Errorf("parse response: %w", err))
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", domain.Terminal(fmt.Errorf("%w: no text content returned", domain.ErrInferenceRejected))
}
