package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Google Gemini API.
type GeminiProvider struct {
	apiKey   string
	model    string
	thinking bool
}

// NewGeminiProvider creates a provider. A "-thinking" model suffix asks
// for thought summaries, which stream as reasoning.
func NewGeminiProvider(apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: no API key configured (set gemini.api_key or GEMINI_API_KEY)")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{
		apiKey:   apiKey,
		model:    strings.TrimSuffix(model, "-thinking"),
		thinking: strings.HasSuffix(model, "-thinking"),
	}, nil
}

func (p *GeminiProvider) Name() string {
	if p.thinking {
		return fmt.Sprintf("Gemini (%s, thinking)", p.model)
	}
	return fmt.Sprintf("Gemini (%s)", p.model)
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}

		system, contents := buildGeminiContents(req.Messages)
		if len(contents) == 0 {
			return fmt.Errorf("no user content provided")
		}

		config := &genai.GenerateContentConfig{}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if p.thinking {
			config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
		}
		if req.MaxOutputTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxOutputTokens)
		}

		if req.Debug {
			fmt.Fprintln(os.Stderr, "=== DEBUG: Gemini Stream Request ===")
			fmt.Fprintf(os.Stderr, "Provider: %s\n", p.Name())
			fmt.Fprintf(os.Stderr, "System: %s\n", truncate(system, 200))
			fmt.Fprintf(os.Stderr, "Input Items: %d\n", len(contents))
			fmt.Fprintln(os.Stderr, "====================================")
		}

		var messageID string
		var lastResp *genai.GenerateContentResponse
		for resp, err := range client.Models.GenerateContentStream(ctx, chooseModel(req.Model, p.model), contents, config) {
			if err != nil {
				return fmt.Errorf("gemini streaming error: %w", err)
			}
			lastResp = resp
			if messageID == "" {
				messageID = resp.ResponseID
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part == nil || part.Text == "" {
					continue
				}
				ev := Event{Type: EventTextDelta, Text: part.Text}
				if part.Thought {
					ev.Type = EventReasoningDelta
				}
				if err := send(ctx, events, ev); err != nil {
					return err
				}
			}
		}
		if lastResp != nil && lastResp.UsageMetadata != nil && lastResp.UsageMetadata.TotalTokenCount > 0 {
			if err := send(ctx, events, Event{Type: EventUsage, Use: &Usage{
				InputTokens:       int(lastResp.UsageMetadata.PromptTokenCount),
				OutputTokens:      int(lastResp.UsageMetadata.CandidatesTokenCount),
				CachedInputTokens: int(lastResp.UsageMetadata.CachedContentTokenCount),
			}}); err != nil {
				return err
			}
		}
		return send(ctx, events, Event{Type: EventDone, MessageID: messageID})
	}), nil
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	system, turns := splitSystem(messages)
	contents := make([]*genai.Content, 0, len(turns))
	for _, msg := range turns {
		text := msg.Text()
		if text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	return system, contents
}
