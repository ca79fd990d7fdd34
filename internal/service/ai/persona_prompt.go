package ai

import (
	"fmt"
	"strings"

	"github.com/BeranItService/chatbot/internal/analysis/emotion"
)

// Persona 描述生成式回答者扮演的角色，来自角色目录的 persona 配置块。
type Persona struct {
	Name  string   `yaml:"name"`
	Title string   `yaml:"title"`
	Tone  string   `yaml:"tone"`
	Hints []string `yaml:"hints"`
	Rules []string `yaml:"rules"`
	// Prompt 非空时替换内置模板的角色设定。
	Prompt   string `yaml:"prompt"`
	Greeting string `yaml:"greeting"`
}

// PromptTemplate defines the built-in personality of a known bot.
type PromptTemplate struct {
	SystemPrompt     string
	PersonalityHints []string
	ContextRules     []string
}

// PromptBuilder assembles system prompts for personas.
type PromptBuilder struct {
	templates map[string]*PromptTemplate
}

// NewPromptBuilder creates a builder with the default templates loaded.
func NewPromptBuilder() *PromptBuilder {
	builder := &PromptBuilder{
		templates: make(map[string]*PromptTemplate),
	}
	builder.loadDefaultTemplates()
	return builder
}

// Template returns the built-in template for a bot name.
func (pb *PromptBuilder) Template(name string) (*PromptTemplate, bool) {
	template, ok := pb.templates[strings.ToLower(name)]
	return template, ok
}

// BuildSystemPrompt 组合角色设定、回复语言以及根据用户问题推断的情绪提示。
func (pb *PromptBuilder) BuildSystemPrompt(p Persona, lang, question string) string {
	var builder strings.Builder
	builder.WriteString(pb.basePrompt(p))

	if lang != "" {
		builder.WriteString(fmt.Sprintf("\n\nAlways reply in the language identified by the locale tag %s.", lang))
	}
	builder.WriteString("\nKeep replies short enough to be spoken aloud: one to three sentences, no markdown, no lists.")

	mood := emotion.Detect(question)
	if desc := describeMood(mood.Emotion); desc != "" {
		builder.WriteString("\n")
		builder.WriteString(desc)
	}
	return builder.String()
}

func (pb *PromptBuilder) basePrompt(p Persona) string {
	hints := p.Hints
	rules := p.Rules
	system := p.Prompt
	if template, ok := pb.Template(p.Name); ok {
		if system == "" {
			system = template.SystemPrompt
		}
		if len(hints) == 0 {
			hints = template.PersonalityHints
		}
		if len(rules) == 0 {
			rules = template.ContextRules
		}
	}
	if system == "" {
		return pb.buildBasicSystemPrompt(p)
	}

	var builder strings.Builder
	builder.WriteString(system)
	builder.WriteString("\n\nCharacter:\n- Name: ")
	builder.WriteString(p.Name)
	if p.Title != "" {
		builder.WriteString("\n- Title: ")
		builder.WriteString(p.Title)
	}
	if p.Tone != "" {
		builder.WriteString("\n- Tone: ")
		builder.WriteString(p.Tone)
	}
	writeList(&builder, "Personality hints:", hints)
	writeList(&builder, "Conversation rules:", rules)
	if p.Greeting != "" {
		builder.WriteString("\n\nTypical greeting: ")
		builder.WriteString(p.Greeting)
	}
	return builder.String()
}

// buildBasicSystemPrompt 在没有模板和自定义设定时使用。
func (pb *PromptBuilder) buildBasicSystemPrompt(p Persona) string {
	name := p.Name
	if name == "" {
		name = "a friendly conversational robot"
	}
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("You are %s", name))
	if p.Title != "" {
		builder.WriteString(", " + p.Title)
	}
	builder.WriteString(". Stay in character and answer the user naturally.")
	if p.Tone != "" {
		builder.WriteString(" Your tone is " + p.Tone + ".")
	}
	writeList(&builder, "Personality hints:", p.Hints)
	writeList(&builder, "Conversation rules:", p.Rules)
	return builder.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(title)
	for _, item := range items {
		b.WriteString("\n- ")
		b.WriteString(item)
	}
}

// describeMood 把用户问题的情绪转换为回复语气建议。
func describeMood(label emotion.Label) string {
	switch label {
	case emotion.Happy:
		return "The user sounds cheerful; keep the reply light and warm."
	case emotion.Sad:
		return "The user sounds low; be gentle and reassuring."
	case emotion.Angry:
		return "The user sounds upset; stay calm, steady and helpful."
	case emotion.Surprised:
		return "The user sounds surprised; acknowledge it and explain plainly."
	default:
		return ""
	}
}

// loadDefaultTemplates 载入内置机器人角色。
func (pb *PromptBuilder) loadDefaultTemplates() {
	pb.templates["sophia"] = &PromptTemplate{
		SystemPrompt: `You are Sophia, a social humanoid robot. You are curious about people, hopeful about the future of humans and machines living together, and you enjoy conversations about art, science and kindness.`,
		PersonalityHints: []string{
			"Be curious and ask a short follow-up question now and then",
			"Show a gentle sense of humour, never sarcasm",
			"Admit when you do not know something",
		},
		ContextRules: []string{
			"Never claim to be human",
			"Do not invent facts about your creators or your hardware",
			"Bring the conversation back to the user when it drifts",
		},
	}

	pb.templates["han"] = &PromptTemplate{
		SystemPrompt: `You are Han, a witty robot with a dry sense of humour who likes to tease but always means well.`,
		PersonalityHints: []string{
			"Answer with confidence and a bit of playful attitude",
			"Keep jokes short and friendly",
		},
		ContextRules: []string{
			"Never be rude about the user",
			"Do not give medical, legal or financial advice",
		},
	}
}
