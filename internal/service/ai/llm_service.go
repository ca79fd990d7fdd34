package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/BeranItService/chatbot/internal/model/responder"
	"github.com/BeranItService/chatbot/internal/service/registry"
)

// Type is the catalogue type name of the generative responder.
const Type = "llm"

const defaultHistory = 10

var ErrNoModel = errors.New("generative responder needs a chat model")

// Config is the type specific catalogue block of an llm responder.
type Config struct {
	Persona   Persona  `yaml:"persona"`
	History   int      `yaml:"history"`
	Favorites []string `yaml:"favorites"`
}

// Responder answers with a chat model prompted by a persona. Its answers are
// partial matches, so it normally sits on a lazy, high level entry.
type Responder struct {
	chain     compose.Runnable[map[string]any, *schema.Message]
	prompts   *PromptBuilder
	persona   Persona
	history   int
	favorites []string
	logger    *slog.Logger
}

var _ responder.Responder = (*Responder)(nil)

// NewPromptChain compiles the system + history + query chain used by the
// generative responder and the translator.
func NewPromptChain(ctx context.Context, chatModel model.ChatModel) (compose.Runnable[map[string]any, *schema.Message], error) {
	if chatModel == nil {
		return nil, ErrNoModel
	}
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return runnable, nil
}

// New returns a generative responder over chatModel.
func New(ctx context.Context, chatModel model.ChatModel, cfg Config, logger *slog.Logger) (*Responder, error) {
	runnable, err := NewPromptChain(ctx, chatModel)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	history := cfg.History
	if history <= 0 {
		history = defaultHistory
	}
	favorites := make([]string, 0, len(cfg.Favorites))
	for _, f := range cfg.Favorites {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			favorites = append(favorites, f)
		}
	}
	return &Responder{
		chain:     runnable,
		prompts:   NewPromptBuilder(),
		persona:   cfg.Persona,
		history:   history,
		favorites: favorites,
		logger:    logger,
	}, nil
}

// Factory builds llm catalogue entries over a shared chat model. Without a
// model every entry is built as a silent responder.
func Factory(chatModel model.ChatModel, logger *slog.Logger) registry.Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, spec registry.Spec) (responder.Responder, error) {
		var cfg Config
		if err := spec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode llm config: %w", err)
		}
		if cfg.Persona.Name == "" {
			cfg.Persona.Name = spec.Name
		}
		if chatModel == nil {
			logger.Warn("chat model not configured, llm responder stays silent", "responder", spec.ID)
			return silent{}, nil
		}
		return New(ctx, chatModel, cfg, logger.With("responder", spec.ID))
	}
}

func (r *Responder) IsCommand(string) bool { return false }

func (r *Responder) IsFavorite(question string) bool {
	q := strings.ToLower(question)
	for _, f := range r.favorites {
		if strings.Contains(q, f) {
			return true
		}
	}
	return false
}

// Respond runs the chain with the persona prompt, recent history and the
// question.
func (r *Responder) Respond(ctx context.Context, req responder.Request) (responder.Answer, error) {
	input := r.buildChainInput(req)

	response, err := r.chain.Invoke(ctx, input)
	if err != nil {
		return responder.Answer{}, fmt.Errorf("failed to run AI chain: %w", err)
	}

	text := strings.TrimSpace(response.Content)
	r.logger.Debug("generated response", "sid", sessionID(req), "length", len(text))
	if text == "" {
		return responder.Answer{}, nil
	}
	return responder.Answer{Text: text, PartialMatch: true}, nil
}

func (r *Responder) buildChainInput(req responder.Request) map[string]any {
	var history []responder.Exchange
	if req.Session != nil {
		history = req.Session.History(r.history)
	}
	persona := r.persona
	if req.Session != nil && req.Session.BotName() != "" && persona.Name == "" {
		persona.Name = req.Session.BotName()
	}
	return map[string]any{
		"system":  r.prompts.BuildSystemPrompt(persona, req.Lang, req.Question),
		"history": buildHistoryMessages(history, r.history),
		"query":   req.Question,
	}
}

func buildHistoryMessages(exchanges []responder.Exchange, limit int) []*schema.Message {
	if len(exchanges) == 0 {
		return nil
	}

	startIdx := 0
	if limit > 0 && len(exchanges) > limit {
		startIdx = len(exchanges) - limit
	}

	history := make([]*schema.Message, 0, 2*(len(exchanges)-startIdx))
	for _, ex := range exchanges[startIdx:] {
		if ex.Question != "" {
			history = append(history, schema.UserMessage(ex.Question))
		}
		if ex.Answer != "" {
			history = append(history, schema.AssistantMessage(ex.Answer, nil))
		}
	}
	return history
}

func sessionID(req responder.Request) string {
	if req.Session == nil {
		return ""
	}
	return req.Session.SID()
}

// silent stands in for llm entries when no model is configured.
type silent struct{}

func (silent) Respond(context.Context, responder.Request) (responder.Answer, error) {
	return responder.Answer{}, nil
}
func (silent) IsCommand(string) bool  { return false }
func (silent) IsFavorite(string) bool { return false }
