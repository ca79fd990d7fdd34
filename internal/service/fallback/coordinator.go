package fallback

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BeranItService/chatbot/internal/model/chat"
	"github.com/BeranItService/chatbot/internal/model/responder"
	"github.com/BeranItService/chatbot/internal/observability"
)

// DefaultMediumLang is the language used when the requested one has no
// responders.
const DefaultMediumLang = "en-US"

// Translator converts text into the target locale. wasTranslated is false
// when the text was returned unchanged.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (wasTranslated bool, translated string, err error)
}

// Catalogue yields the applicable responders of a bot.
type Catalogue interface {
	Applicable(bot, lang, user string) []responder.Entry
}

// Options configures a Coordinator.
type Options struct {
	MediumLang string
	// Translator may be nil, which disables fallback mode.
	Translator Translator
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Coordinator resolves responders for a turn and switches to the medium
// language, translating at the boundary, when the requested one has none.
type Coordinator struct {
	medium     string
	translator Translator
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func New(opts Options) *Coordinator {
	if opts.MediumLang == "" {
		opts.MediumLang = DefaultMediumLang
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		medium:     opts.MediumLang,
		translator: opts.Translator,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "fallback"),
	}
}

// Plan is the resolved language context of one turn.
type Plan struct {
	// Lang is the language the caller asked in.
	Lang string
	// EngineLang is the language the responders run in.
	EngineLang string
	Fallback   bool
	// Question is the question in EngineLang.
	Question         string
	OriginalQuestion string
	TranslatedInput  bool
	TranslatedOutput bool
	Responders       []responder.Entry
}

// Prepare picks the responders for bot in lang, falling back to the medium
// language and translating the question when lang has none.
func (c *Coordinator) Prepare(ctx context.Context, cat Catalogue, bot, user, lang, question string) (Plan, chat.Outcome) {
	plan := Plan{Lang: lang, EngineLang: lang, Question: question, OriginalQuestion: question}
	plan.Responders = cat.Applicable(bot, lang, user)
	if len(plan.Responders) > 0 {
		return plan, chat.Success
	}
	if strings.EqualFold(lang, c.medium) || c.translator == nil {
		return plan, chat.WrongResponderName
	}

	plan.Responders = cat.Applicable(bot, c.medium, user)
	if len(plan.Responders) == 0 {
		return plan, chat.WrongResponderName
	}
	c.logger.Warn("no responders for language, using medium language", "lang", lang, "medium", c.medium, "bot", bot)
	plan.Fallback = true
	plan.EngineLang = c.medium

	translated, text, err := c.translator.Translate(ctx, question, c.medium)
	c.metrics.RecordTranslation("input", err)
	if err != nil {
		c.logger.Error("translate question failed", "lang", lang, "medium", c.medium, "error", err)
		return plan, chat.TranslateError
	}
	plan.TranslatedInput = translated
	plan.Question = text
	return plan, chat.Success
}

// Finish translates an answer chosen in the medium language back to the
// requested language. The decision's answer is replaced, never mutated.
func (c *Coordinator) Finish(ctx context.Context, plan *Plan, decision *chat.Decision) chat.Outcome {
	if !plan.Fallback || !decision.Answered() {
		return chat.Success
	}
	translated, text, err := c.translator.Translate(ctx, decision.Answer.Text, plan.Lang)
	c.metrics.RecordTranslation("output", err)
	if err != nil {
		c.logger.Error("translate answer failed", "lang", plan.Lang, "error", err)
		return chat.TranslateError
	}
	answer := *decision.Answer
	answer.Text = text
	decision.Answer = &answer
	plan.TranslatedOutput = translated
	return chat.Success
}
