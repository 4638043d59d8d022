// Package oracle implements the page-analysis oracle on any
// OpenAI-compatible chat-completions endpoint. The adapter never
// interprets the model's answer. It returns the raw JSON bytes and the
// session core validates them against its envelope schema.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ambit-sec/ambit/internal/port/outbound"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultKeyEnv    = "OPENAI_API_KEY"
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second

	// maxErrorBody caps how much of a provider error response is quoted
	// in the returned error. Provider errors can echo the prompt.
	maxErrorBody = 512
)

const systemPrompt = `You are a web page analysis engine inside an authorized security assessment tool. You receive a task, a list of interactive elements, and the visible page text. Return ONLY valid JSON matching the ANSWER FORMAT stated with the task. No markdown fences, no commentary.`

// Config selects the provider endpoint and model. Zero values fall back
// to OpenAI defaults, so a bare Config works against api.openai.com.
type Config struct {
	// BaseURL is the provider root, e.g. https://api.groq.com/openai/v1.
	BaseURL string
	// Model is the chat model name.
	Model string
	// APIKeyEnv names the environment variable holding the API key. The
	// key itself is read per request, never stored on the client.
	APIKeyEnv string
	// MaxTokens bounds the completion length.
	MaxTokens int
	// Temperature is passed through verbatim; 0 keeps answers stable.
	Temperature float64
	// Timeout bounds one completion call end to end. Ignored when
	// HTTPClient is set.
	Timeout time.Duration
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// Client calls a chat-completions endpoint and returns the model's answer
// as raw bytes.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

var _ outbound.PageOracle = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = defaultKeyEnv
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:    cfg,
		client: httpClient,
		logger: logger.With("component", "oracle_client"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Analyze sends one page-analysis task and returns the model's raw JSON
// answer with markdown fences stripped. Schema validation is the caller's
// responsibility.
func (c *Client) Analyze(ctx context.Context, req outbound.OracleRequest) ([]byte, error) {
	apiKey := os.Getenv(c.cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("oracle api key: environment variable %s is not set", c.cfg.APIKeyEnv)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build oracle request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read oracle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("oracle request failed",
			"status", resp.StatusCode,
			"elapsed", time.Since(start))
		return nil, fmt.Errorf("oracle returned HTTP %d: %s",
			resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), maxErrorBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("oracle returned no choices")
	}
	answer := stripFences(parsed.Choices[0].Message.Content)
	if answer == "" {
		return nil, fmt.Errorf("oracle returned an empty answer")
	}

	c.logger.Debug("oracle answered",
		"model", c.cfg.Model,
		"answer_bytes", len(answer),
		"finish_reason", parsed.Choices[0].FinishReason,
		"elapsed", time.Since(start))
	return []byte(answer), nil
}

// userPrompt renders the task, the expected answer envelope, the
// interactive elements, and the page text into one message. Element
// indexes let the model reference elements even when selectors collide.
func userPrompt(req outbound.OracleRequest) string {
	var b strings.Builder
	b.WriteString("TASK:\n")
	b.WriteString(req.Task)
	if req.AnswerFormat != "" {
		b.WriteString("\n\nANSWER FORMAT:\n")
		b.WriteString(req.AnswerFormat)
	}
	b.WriteString("\n\nINTERACTIVE ELEMENTS:\n")
	if len(req.Elements) == 0 {
		b.WriteString("(none)\n")
	}
	for i, el := range req.Elements {
		fmt.Fprintf(&b, "%d. tag=%s", i+1, el.Tag)
		if el.Type != "" {
			fmt.Fprintf(&b, " type=%s", el.Type)
		}
		if el.Name != "" {
			fmt.Fprintf(&b, " name=%q", el.Name)
		}
		if el.Text != "" {
			fmt.Fprintf(&b, " text=%q", el.Text)
		}
		if el.Href != "" {
			fmt.Fprintf(&b, " href=%q", el.Href)
		}
		fmt.Fprintf(&b, " selector=%q\n", el.Selector)
	}
	b.WriteString("\nPAGE TEXT:\n")
	b.WriteString(req.PageText)
	return b.String()
}

// stripFences removes a markdown code fence if the model wrapped the
// answer anyway.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
