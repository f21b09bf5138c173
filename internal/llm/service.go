package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/davidmrtz/parley/internal/db"
	"github.com/davidmrtz/parley/internal/models"
	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// historyTokenBudget bounds how much conversation history is sent per turn.
const historyTokenBudget = 4096

const completionTimeout = 60 * time.Second

type Service struct {
	llm llms.Model
	db  *db.Database
	enc *tiktoken.Tiktoken
}

// New builds a Service over an OpenAI-compatible endpoint such as OpenRouter.
// An empty model selects the catalog default.
func New(baseURL, token, model string, database *db.Database) (*Service, error) {
	if model == "" {
		def, err := LookupModel("")
		if err != nil {
			return nil, err
		}
		model = def.Slug
	}

	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
		openai.WithHTTPClient(&http.Client{Transport: &attributionTransport{}}),
	)
	if err != nil {
		return nil, err
	}

	// Best effort: without the encoding, token counts fall back to an
	// approximation in tokenCount.
	enc, _ := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)

	return &Service{llm: llm, db: database, enc: enc}, nil
}

// NewWithModel wires an already-built model, used by tests.
func NewWithModel(model llms.Model, database *db.Database) *Service {
	return &Service{llm: model, db: database}
}

// attributionTransport adds the optional OpenRouter attribution headers.
type attributionTransport struct{}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("HTTP-Referer", "https://github.com/davidmrtz/parley")
	req.Header.Set("X-Title", "Parley")
	return http.DefaultTransport.RoundTrip(req)
}

// Reply generates and persists the assistant's answer for a chat whose latest
// message is the user's turn. imageURL, when non-empty, is a data URL attached
// to that turn; it requires a vision-capable model.
func (s *Service) Reply(ctx context.Context, chatID int64, modelKey, imageURL string) (*models.Message, error) {
	model, err := LookupModel(modelKey)
	if err != nil {
		return nil, err
	}
	if imageURL != "" && !model.Vision {
		return nil, fmt.Errorf("model %q does not accept images", model.Key)
	}

	persona, err := s.db.EffectivePersona(chatID)
	if err != nil {
		return nil, err
	}

	history, err := s.db.GetMessages(chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	if len(history) == 0 || history[len(history)-1].Role != "user" {
		return nil, fmt.Errorf("chat %d has no pending user message", chatID)
	}

	content := s.buildContent(persona, history, imageURL)

	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	completion, err := s.llm.GenerateContent(ctx, content, llms.WithModel(model.Slug))
	if err != nil {
		return nil, fmt.Errorf("failed to generate completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	response := &models.Message{
		ChatID:  chatID,
		Role:    "assistant",
		Content: completion.Choices[0].Content,
		Model:   model.Slug,
	}
	if err := s.db.SaveMessage(response); err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}
	return response, nil
}

// buildContent assembles the role-tagged request: persona as a system message,
// then the token-bounded history, with the image attached to the final turn.
func (s *Service) buildContent(persona string, history []models.Message, imageURL string) []llms.MessageContent {
	history = s.trimHistory(history)

	content := make([]llms.MessageContent, 0, len(history)+1)
	if persona != "" {
		content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, persona))
	}

	for i, msg := range history {
		role := schema.ChatMessageTypeHuman
		if msg.Role == "assistant" {
			role = schema.ChatMessageTypeAI
		}
		parts := []llms.ContentPart{llms.TextPart(msg.Content)}
		if i == len(history)-1 && imageURL != "" {
			parts = append(parts, llms.ImageURLPart(imageURL))
		}
		content = append(content, llms.MessageContent{Role: role, Parts: parts})
	}
	return content
}

// trimHistory drops the oldest messages once the token budget is exceeded,
// always keeping the final user turn.
func (s *Service) trimHistory(history []models.Message) []models.Message {
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		total += s.tokenCount(history[i].Content)
		if total > historyTokenBudget && i < len(history)-1 {
			return history[i+1:]
		}
	}
	return history
}

func (s *Service) tokenCount(text string) int {
	if s.enc == nil {
		// Rough heuristic when the BPE encoding is unavailable.
		return len(text) / 4
	}
	return len(s.enc.Encode(text, nil, nil))
}
