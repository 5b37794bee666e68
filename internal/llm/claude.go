package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Claude defaults.
const (
	DefaultClaudeModel     = "claude-sonnet-4-5"
	DefaultClaudeMaxTokens = 1024
)

// ClaudeConfig configures a ClaudeCompleter.
type ClaudeConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// ClaudeCompleter generates text with the Anthropic Messages API.
type ClaudeCompleter struct {
	client anthropic.Client
	config ClaudeConfig
}

// NewClaudeCompleter creates an Anthropic client for the configured model.
func NewClaudeCompleter(cfg ClaudeConfig) (*ClaudeCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("claude: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultClaudeModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultClaudeMaxTokens
	}
	return &ClaudeCompleter{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		config: cfg,
	}, nil
}

// Name returns the provider and model.
func (c *ClaudeCompleter) Name() string {
	return "claude/" + c.config.Model
}

// Complete sends req as a single user message.
func (c *ClaudeCompleter) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := c.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(UserMessage(req))),
		},
		Temperature: anthropic.Float(c.config.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", ClassifyError("completion", fmt.Errorf("claude messages: %w", err))
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("claude: empty response")
	}
	return out.String(), nil
}
