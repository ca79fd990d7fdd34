// Package translate provides the chat model backed translator used for
// medium language fallback.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/BeranItService/chatbot/internal/service/ai"
)

const systemPrompt = "You are a translation engine. Translate the user's message into %s. " +
	"Reply with the translation only, without quotes or explanations. " +
	"If the message is already written in %s, repeat it unchanged."

// languages maps a language name to the locale tags it covers.
var languages = map[string][]string{
	"Amharic":             {"am-ET"},
	"Arabic":              {"ar-IL", "ar-JO", "ar-AE", "ar-BH", "ar-DZ", "ar-SA", "ar-IQ", "ar-KW", "ar-MA", "ar-TN", "ar-OM", "ar-PS", "ar-QA", "ar-LB", "ar-EG"},
	"Simplified Chinese":  {"cmn-Hans-CN", "cmn-Hans-HK", "zh-CN"},
	"Traditional Chinese": {"cmn-Hant-TW", "yue-Hant-HK", "zh-TW"},
	"Dutch":               {"nl-NL"},
	"English":             {"en-AU", "en-CA", "en-GH", "en-GB", "en-IN", "en-IE", "en-KE", "en-NZ", "en-NG", "en-PH", "en-ZA", "en-TZ", "en-US"},
	"French":              {"fr-CA", "fr-FR"},
	"German":              {"de-DE"},
	"Hindi":               {"hi-IN"},
	"Italian":             {"it-IT"},
	"Japanese":            {"ja-JP"},
	"Korean":              {"ko-KR"},
	"Lithuanian":          {"lt-LT"},
	"Portuguese":          {"pt-BR", "pt-PT"},
	"Russian":             {"ru-RU"},
	"Spanish":             {"es-AR", "es-BO", "es-CL", "es-CO", "es-CR", "es-EC", "es-SV", "es-ES", "es-US", "es-GT", "es-HN", "es-MX", "es-NI", "es-PA", "es-PY", "es-PE", "es-PR", "es-DO", "es-UY", "es-VE"},
	"Turkish":             {"tr-TR"},
}

// LanguageName returns the language a locale tag belongs to.
func LanguageName(tag string) (string, bool) {
	for name, tags := range languages {
		for _, t := range tags {
			if strings.EqualFold(t, tag) {
				return name, true
			}
		}
	}
	return "", false
}

// Translator translates text with a chat model.
type Translator struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *slog.Logger
}

// New compiles the translation chain over chatModel.
func New(ctx context.Context, chatModel model.ChatModel, logger *slog.Logger) (*Translator, error) {
	chain, err := ai.NewPromptChain(ctx, chatModel)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{chain: chain, logger: logger}, nil
}

// Translate renders text in targetLang. Unsupported targets and replies equal
// to the input come back untranslated.
func (t *Translator) Translate(ctx context.Context, text, targetLang string) (bool, string, error) {
	name, ok := LanguageName(targetLang)
	if !ok {
		t.logger.Warn("target language not supported", "lang", targetLang)
		return false, text, nil
	}
	if strings.TrimSpace(text) == "" {
		return false, text, nil
	}

	reply, err := t.chain.Invoke(ctx, map[string]any{
		"system": fmt.Sprintf(systemPrompt, name, name),
		"query":  text,
	})
	if err != nil {
		return false, text, fmt.Errorf("translate to %s: %w", targetLang, err)
	}

	translated := strings.TrimSpace(reply.Content)
	if translated == "" || strings.EqualFold(translated, strings.TrimSpace(text)) {
		t.logger.Debug("no translation needed", "lang", targetLang)
		return false, text, nil
	}
	t.logger.Debug("translated", "lang", targetLang, "source_length", len(text), "length", len(translated))
	return true, translated, nil
}
