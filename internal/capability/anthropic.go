package capability

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/starford/vaultkeeper/internal/apperr"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

// Anthropic is a Completer backed by the Claude Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates an Anthropic completer. An empty apiKey falls back to
// ANTHROPIC_API_KEY.
func NewAnthropic(apiKey, model, baseURL string) (*Anthropic, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, apperr.New("capability: anthropic API key is required (llm.api_key or ANTHROPIC_API_KEY)")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 1024,
	}, nil
}

// Name implements Completer.
func (a *Anthropic) Name() string { return "anthropic/" + a.model }

// Complete implements Completer.
func (a *Anthropic) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		switch {
		case apperr.As(err, &apiErr):
			if retryableStatus(apiErr.StatusCode) {
				return "", apperr.Transient(apperr.Wrap(err, "anthropic"))
			}
			return "", apperr.Wrap(err, "anthropic")
		case ctx.Err() == nil:
			// Transport failures (resets, timeouts) are worth another try.
			return "", apperr.Transient(apperr.Wrap(err, "anthropic"))
		default:
			return "", apperr.Wrap(err, "anthropic")
		}
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
