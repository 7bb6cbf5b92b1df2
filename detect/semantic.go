package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultSemanticBaseURL = "https://api.openai.com"
	defaultSemanticModel   = "gpt-4o-mini"
	defaultSemanticTimeout = 5 * time.Second
)

const semanticSystemPrompt = `You analyze CLI output from an AI coding assistant to determine if it's waiting for user input.

Respond ONLY with a JSON object (no markdown, no explanation):
{"waiting": true/false, "response": "suggested input if waiting, else empty string"}

WAITING signals (respond with "continue" or appropriate action):
- Questions: "Next step?", "What would you like?", "Should I...", "How should I proceed?"
- Explicit prompts ending with "?"
- Requests for confirmation or direction
- Idle state after completing a task

NOT WAITING signals (respond with empty string):
- Active tool execution (Read, Write, Edit, Bash, etc.)
- Code generation in progress
- Thinking/processing indicators
- Partial output still streaming
- Error messages being displayed

For most waiting cases, respond with "continue" to let the agent proceed autonomously.`

// SemanticConfig holds configuration for the semantic detector.
type SemanticConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// SemanticDetector classifies waiting state via an OpenAI-compatible Chat
// Completions call. Every call is time-bounded; any failure (network, HTTP,
// malformed reply) degrades to a zero Verdict so the engine loop is never
// blocked on classification.
type SemanticDetector struct {
	config SemanticConfig
}

// NewSemanticDetector creates a semantic detector with the given config.
func NewSemanticDetector(cfg SemanticConfig) *SemanticDetector {
	if cfg.Model == "" {
		cfg.Model = defaultSemanticModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSemanticBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSemanticTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SemanticDetector{config: cfg}
}

// Available reports whether the detector has credentials to call out with.
func (d *SemanticDetector) Available() bool { return d.config.APIKey != "" }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Detect implements Detector.
func (d *SemanticDetector) Detect(ctx context.Context, tail string) Verdict {
	if !d.Available() || strings.TrimSpace(tail) == "" {
		return Verdict{}
	}
	if len(tail) > DefaultWindowBytes {
		tail = tail[len(tail)-DefaultWindowBytes:]
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	v, err := d.classify(ctx, tail)
	if err != nil {
		d.config.Logger.Debug("semantic detection degraded", "error", err)
		return Verdict{}
	}
	return v
}

func (d *SemanticDetector) classify(ctx context.Context, tail string) (Verdict, error) {
	reqBody := chatRequest{
		Model: d.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: semanticSystemPrompt},
			{Role: "user", Content: "Recent CLI output:\n\n" + tail},
		},
		MaxTokens:   100,
		Temperature: 0,
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return Verdict{}, fmt.Errorf("semantic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.BaseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return Verdict{}, fmt.Errorf("semantic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.config.APIKey)

	resp, err := d.config.HTTPClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("semantic: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, fmt.Errorf("semantic: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("semantic: API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return Verdict{}, fmt.Errorf("semantic: unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return Verdict{}, fmt.Errorf("semantic: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return Verdict{}, fmt.Errorf("semantic: empty response")
	}

	return parseClassification(apiResp.Choices[0].Message.Content)
}

// parseClassification extracts the {"waiting","response"} object from the
// model reply, tolerating markdown code fences.
func parseClassification(content string) (Verdict, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if i := strings.Index(content, "```"); i >= 0 {
			content = content[:i]
		}
		content = strings.TrimSpace(content)
	}

	var parsed struct {
		Waiting  bool   `json:"waiting"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return Verdict{}, fmt.Errorf("semantic: parse classification %q: %w", content, err)
	}
	if !parsed.Waiting {
		return Verdict{}, nil
	}
	resp := parsed.Response
	if resp == "" {
		resp = "continue"
	}
	return Verdict{Waiting: true, Kind: KindQuestion, Response: resp}, nil
}
