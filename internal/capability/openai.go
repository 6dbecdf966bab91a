package capability

import (
	"context"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/starford/vaultkeeper/internal/apperr"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI is a Completer for the OpenAI chat completions API and compatible
// servers (Ollama, vLLM, LM Studio) reached through baseURL.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI completer. An empty apiKey falls back to
// OPENAI_API_KEY; local servers accept any non-empty key.
func NewOpenAI(apiKey, model, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if apiKey == "" && baseURL == "" {
		return nil, apperr.New("capability: openai API key is required (llm.api_key or OPENAI_API_KEY)")
	}
	if apiKey == "" {
		apiKey = "local"
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// Name implements Completer.
func (o *OpenAI) Name() string { return "openai/" + o.model }

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if apperr.As(err, &apiErr) {
			if retryableStatus(apiErr.StatusCode) {
				return "", apperr.Transient(apperr.Wrap(err, "openai"))
			}
			return "", apperr.Wrap(err, "openai")
		}
		if ctx.Err() == nil {
			return "", apperr.Transient(apperr.Wrap(err, "openai"))
		}
		return "", apperr.Wrap(err, "openai")
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Transient(apperr.New("openai: empty response"))
	}
	return resp.Choices[0].Message.Content, nil
}
