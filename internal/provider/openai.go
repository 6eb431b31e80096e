package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hyfa/internal/domain"
)

const defaultHTTPTimeout = 120 * time.Second

// ErrNoChoices is returned when the backend answers without any completion.
var ErrNoChoices = errors.New("llm response has no choices")

// OpenAI implements domain.LLMGateway for OpenAI-compatible chat completion
// endpoints, including hosted agent endpoints that accept the include_*_info flags.
type OpenAI struct {
	endpoint   string
	authToken  string
	model      string
	client     *http.Client
	logger     *slog.Logger
	maxRetries int
	backoff    backoffFunc

	includeFunctionsInfo  bool
	includeRetrievalInfo  bool
	includeGuardrailsInfo bool
}

type OpenAIConfig struct {
	Endpoint   string // full chat completions URL
	AuthToken  string
	Model      string // optional; agent endpoints pick their own model
	Timeout    time.Duration
	MaxRetries int // negative disables retries
	Logger     *slog.Logger

	IncludeFunctionsInfo  bool
	IncludeRetrievalInfo  bool
	IncludeGuardrailsInfo bool
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		endpoint:              cfg.Endpoint,
		authToken:             cfg.AuthToken,
		model:                 cfg.Model,
		client:                SharedHTTPClient(cfg.Timeout),
		logger:                cfg.Logger,
		maxRetries:            cfg.MaxRetries,
		backoff:               jitteredBackoff,
		includeFunctionsInfo:  cfg.IncludeFunctionsInfo,
		includeRetrievalInfo:  cfg.IncludeRetrievalInfo,
		includeGuardrailsInfo: cfg.IncludeGuardrailsInfo,
	}
}

type oaiRequest struct {
	Model                 string       `json:"model,omitempty"`
	Messages              []oaiMessage `json:"messages"`
	Stream                bool         `json:"stream"`
	IncludeFunctionsInfo  bool         `json:"include_functions_info"`
	IncludeRetrievalInfo  bool         `json:"include_retrieval_info"`
	IncludeGuardrailsInfo bool         `json:"include_guardrails_info"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Generate sends history followed by prompt as a user turn and returns the
// first choice's content.
func (o *OpenAI) Generate(ctx context.Context, prompt string, history []domain.ConversationMessage) (string, error) {
	msgs := make([]oaiMessage, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, oaiMessage{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, oaiMessage{Role: string(domain.RoleUser), Content: prompt})

	body, err := json.Marshal(oaiRequest{
		Model:                 o.model,
		Messages:              msgs,
		Stream:                false,
		IncludeFunctionsInfo:  o.includeFunctionsInfo,
		IncludeRetrievalInfo:  o.includeRetrievalInfo,
		IncludeGuardrailsInfo: o.includeGuardrailsInfo,
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if o.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+o.authToken)
		}
		return req, nil
	}, o.maxRetries, o.backoff, o.logger)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return "", ErrNoChoices
	}

	o.logger.Debug("llm completion",
		"latency_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", oaiResp.Usage.PromptTokens,
		"completion_tokens", oaiResp.Usage.CompletionTokens,
		"finish_reason", oaiResp.Choices[0].FinishReason,
	)

	return stripThinking(oaiResp.Choices[0].Message.Content), nil
}

// stripThinking drops a leading reasoning block that ends with a "</think>" line.
func stripThinking(content string) string {
	if !strings.Contains(content, "\n</think>\n") {
		return content
	}
	parts := strings.SplitN(content, "</think>", 3)
	return strings.TrimSpace(parts[1])
}

// Healthy checks that the endpoint is reachable and accepts the token.
// Statuses other than 401, 403 and 5xx count as healthy.
func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
	if err != nil {
		return err
	}
	if o.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+o.authToken)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("llm endpoint not reachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("llm endpoint rejected the auth token (HTTP %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("llm endpoint returned %d", resp.StatusCode)
	}
	return nil
}
