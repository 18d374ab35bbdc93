package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"relay/internal/app/store"
)

// DefaultSystemPrompt frames every conversation sent to the model.
const DefaultSystemPrompt = "You are a concise assistant taking part in a group chat. Reply in at most a few sentences."

// OpenAIConfig configures the chat-completions adapter.
type OpenAIConfig struct {
	APIKey       string
	Model        string
	BaseURL      string
	BotID        string
	SystemPrompt string
}

// OpenAI is a Responder backed by the OpenAI chat-completions API (or any compatible endpoint).
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI builds the adapter. The SDK's own retries are disabled; wrap with Retrying instead.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

// messages turns the window into a chat transcript: the bot's own lines become assistant
// turns, everyone else's are user turns prefixed with the author.
func (o *OpenAI) messages(prompt string, window []store.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(window)+2)
	out = append(out, openai.SystemMessage(o.cfg.SystemPrompt))
	for _, m := range window {
		if m.AuthorID == o.cfg.BotID {
			out = append(out, openai.AssistantMessage(m.Body))
			continue
		}
		out = append(out, openai.UserMessage(m.AuthorID+": "+m.Body))
	}
	return append(out, openai.UserMessage(prompt))
}

func (o *OpenAI) Generate(ctx context.Context, prompt string, window []store.Message) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.cfg.Model),
		Messages: o.messages(prompt, window),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	reply := strings.TrimSpace(completion.Choices[0].Message.Content)
	if reply == "" {
		return "", errors.New("chat completion returned an empty reply")
	}
	return reply, nil
}

var _ Responder = (*OpenAI)(nil)
