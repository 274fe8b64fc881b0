package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider streams chat completions from OpenAI or a compatible server.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider. baseURL selects an OpenAI-compatible
// server; empty uses api.openai.com.
func NewOpenAIProvider(apiKey, model, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("openai: no API key configured (set openai.api_key or OPENAI_API_KEY)")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model}, nil
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("OpenAI (%s)", p.model)
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		messages := buildOpenAIMessages(req.Messages)
		if len(messages) == 0 {
			return fmt.Errorf("no user content provided")
		}
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(chooseModel(req.Model, p.model)),
			Messages: messages,
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		}
		if req.MaxOutputTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
		}
		if req.Temperature > 0 {
			params.Temperature = openai.Float(float64(req.Temperature))
		}

		if req.Debug {
			fmt.Fprintln(os.Stderr, "=== DEBUG: OpenAI Stream Request ===")
			fmt.Fprintf(os.Stderr, "Provider: %s\n", p.Name())
			fmt.Fprintf(os.Stderr, "Messages: %d\n", len(messages))
			fmt.Fprintln(os.Stderr, "===================================")
		}

		var messageID string
		var usage *Usage
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if messageID == "" {
				messageID = chunk.ID
			}
			if chunk.Usage.TotalTokens > 0 {
				usage = &Usage{
					InputTokens:       int(chunk.Usage.PromptTokens),
					OutputTokens:      int(chunk.Usage.CompletionTokens),
					CachedInputTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if err := send(ctx, events, Event{Type: EventTextDelta, Text: text}); err != nil {
					return err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai streaming error: %w", err)
		}
		if usage != nil {
			if err := send(ctx, events, Event{Type: EventUsage, Use: usage}); err != nil {
				return err
			}
		}
		return send(ctx, events, Event{Type: EventDone, MessageID: messageID})
	}), nil
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	system, turns := splitSystem(messages)
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range turns {
		text := msg.Text()
		if text == "" {
			continue
		}
		if msg.Role == RoleAssistant {
			out = append(out, openai.AssistantMessage(text))
		} else {
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}
