// internal/llmclient/responses.go
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ehr-cua/internal/config"
)

// ResponseRequest is the body of a Responses API call. Input items and tools
// are pre-encoded so callers keep full control of their wire shape.
type ResponseRequest struct {
	Model      string            `json:"model"`
	Input      []json.RawMessage `json:"input"`
	Tools      []json.RawMessage `json:"tools,omitempty"`
	Truncation string            `json:"truncation,omitempty"`
}

// Usage reports token accounting for one response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the subset of a Responses API result the agent consumes.
type Response struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Output []json.RawMessage `json:"output"`
	Usage  Usage             `json:"usage"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ResponsesClient calls the OpenAI Responses API through openai-go, which
// supplies authentication, retries and timeouts.
type ResponsesClient struct {
	client openai.Client
	logger *zap.Logger
}

// NewResponsesClient builds a client from configuration. An API key is required.
func NewResponsesClient(cfg config.OpenAIConfig, logger *zap.Logger, extra ...option.RequestOption) (*ResponsesClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	opts = append(opts, extra...)

	return &ResponsesClient{
		client: openai.NewClient(opts...),
		logger: logger.Named("llm_client.openai"),
	}, nil
}

// CreateResponse posts one request and returns the decoded response.
func (c *ResponsesClient) CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error) {
	var resp Response
	start := time.Now()
	if err := c.client.Post(ctx, "responses", req, &resp); err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			c.logger.Error("Responses API returned error status",
				zap.Int("status", apiErr.StatusCode),
				zap.String("code", apiErr.Code),
				zap.String("message", apiErr.Message))
		}
		return nil, fmt.Errorf("responses API request failed: %w", err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return nil, fmt.Errorf("responses API reported an error (%s): %s", resp.Error.Code, resp.Error.Message)
	}

	c.logger.Info("LLM generation complete (OpenAI)",
		zap.String("model", req.Model),
		zap.String("response_id", resp.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Int("input_items", len(req.Input)),
		zap.Int("output_items", len(resp.Output)),
		zap.Int("prompt_tokens", resp.Usage.InputTokens),
		zap.Int("completion_tokens", resp.Usage.OutputTokens),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return &resp, nil
}
