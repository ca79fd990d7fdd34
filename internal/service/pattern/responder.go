// Package pattern implements the rule based responder type. Rules are
// declared in the catalogue and matched against the preprocessed question.
package pattern

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/BeranItService/chatbot/internal/model/responder"
	"github.com/BeranItService/chatbot/internal/service/registry"
)

// Type is the catalogue type name of this responder.
const Type = "pattern"

// Match strength of a rule.
const (
	MatchExact   = "exact"
	MatchPartial = "partial"
	MatchNone    = "none"
)

var ErrNoRules = errors.New("pattern responder needs at least one rule")

// Rule maps a question pattern to candidate answers.
type Rule struct {
	// Pattern is a case-insensitive regular expression. Exact rules must
	// match the whole question.
	Pattern string   `yaml:"pattern"`
	Match   string   `yaml:"match"`
	Answers []string `yaml:"answers"`
	Gambit  bool     `yaml:"gambit"`
	Quibble bool     `yaml:"quibble"`
	Bad     bool     `yaml:"bad"`
	Emotion string   `yaml:"emotion"`
	Topic   string   `yaml:"topic"`
	// Confidence weights the answer when it competes in the cache stage.
	Confidence float64 `yaml:"confidence"`
}

// Config is the type specific catalogue block.
type Config struct {
	Rules     []Rule            `yaml:"rules"`
	Favorites []string          `yaml:"favorites"`
	Commands  map[string]string `yaml:"commands"`
}

type compiled struct {
	Rule
	re      *regexp.Regexp
	answers []*template.Template
}

// Responder answers from an ordered rule list. The first matching rule
// wins; answers rotate per session so repeated questions vary.
type Responder struct {
	id        string
	rules     []compiled
	favorites []string
	commands  map[string]string
}

var _ responder.Responder = (*Responder)(nil)

// New compiles cfg for the responder id.
func New(id string, cfg Config) (*Responder, error) {
	if len(cfg.Rules) == 0 && len(cfg.Commands) == 0 {
		return nil, ErrNoRules
	}
	r := &Responder{id: id, commands: make(map[string]string, len(cfg.Commands))}
	for i, rule := range cfg.Rules {
		c, err := compile(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %d of %s: %w", i, id, err)
		}
		r.rules = append(r.rules, c)
	}
	for _, f := range cfg.Favorites {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			r.favorites = append(r.favorites, f)
		}
	}
	for cmd, answer := range cfg.Commands {
		r.commands[strings.TrimSpace(cmd)] = answer
	}
	return r, nil
}

func compile(rule Rule) (compiled, error) {
	if len(rule.Answers) == 0 {
		return compiled{}, errors.New("rule has no answers")
	}
	switch rule.Match {
	case "":
		rule.Match = MatchPartial
	case MatchExact, MatchPartial, MatchNone:
	default:
		return compiled{}, fmt.Errorf("unknown match %q", rule.Match)
	}
	expr := "(?i)" + rule.Pattern
	if rule.Match == MatchExact {
		expr = "(?i)^(?:" + rule.Pattern + ")$"
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return compiled{}, err
	}
	c := compiled{Rule: rule, re: re}
	for i, text := range rule.Answers {
		tpl, err := template.New(strconv.Itoa(i)).Option("missingkey=zero").Parse(text)
		if err != nil {
			return compiled{}, fmt.Errorf("answer %d: %w", i, err)
		}
		c.answers = append(c.answers, tpl)
	}
	return c, nil
}

// Factory builds pattern responders from catalogue specs.
func Factory(_ context.Context, spec registry.Spec) (responder.Responder, error) {
	var cfg Config
	if err := spec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode pattern config: %w", err)
	}
	return New(spec.ID, cfg)
}

func (r *Responder) IsCommand(question string) bool {
	_, ok := r.commands[strings.TrimSpace(question)]
	return ok
}

func (r *Responder) IsFavorite(question string) bool {
	q := strings.ToLower(question)
	for _, f := range r.favorites {
		if strings.Contains(q, f) {
			return true
		}
	}
	return false
}

// Respond matches req.Question against the rules. A question nothing matches
// yields an empty answer.
func (r *Responder) Respond(ctx context.Context, req responder.Request) (responder.Answer, error) {
	if err := ctx.Err(); err != nil {
		return responder.Answer{}, err
	}
	if answer, ok := r.commands[strings.TrimSpace(req.Question)]; ok {
		return responder.Answer{Text: answer, ExactMatch: true}, nil
	}

	question := strings.TrimSpace(req.Question)
	for i := range r.rules {
		rule := &r.rules[i]
		if !rule.re.MatchString(question) {
			continue
		}
		return r.answer(i, rule, req.Session), nil
	}
	return responder.Answer{}, nil
}

// answer picks the next answer of rule for the session, skipping one equal
// to the previous turn's answer when another is available.
func (r *Responder) answer(idx int, rule *compiled, view responder.SessionView) responder.Answer {
	var vars map[string]string
	var last string
	cursor := 0
	key := "_rule." + strconv.Itoa(idx)
	if view != nil {
		vars = view.Context()
		last = view.LastAnswer()
		cursor, _ = strconv.Atoi(vars[key])
	}

	out := responder.Answer{
		ExactMatch:   rule.Match == MatchExact,
		PartialMatch: rule.Match == MatchPartial,
		Gambit:       rule.Gambit,
		Quibble:      rule.Quibble,
		Bad:          rule.Bad,
		Emotion:      rule.Emotion,
		Topic:        rule.Topic,
		Confidence:   rule.Confidence,
		LineRef:      r.id + ":" + strconv.Itoa(idx),
	}

	n := len(rule.answers)
	var text string
	for step := range n {
		pos := (cursor + step) % n
		text = render(rule.answers[pos], vars)
		if !strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(last)) {
			if view != nil {
				view.SetContext(key, strconv.Itoa(pos+1))
			}
			out.Text = text
			return out
		}
	}
	out.Repeat = text
	return out
}

var leftover = regexp.MustCompile(`\{\{.*?\}\}`)

// render executes tpl against the session context. Rendering errors fall
// back to the raw text with template actions removed.
func render(tpl *template.Template, vars map[string]string) string {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, vars); err != nil {
		return strings.TrimSpace(leftover.ReplaceAllString(tpl.Root.String(), ""))
	}
	return strings.TrimSpace(buf.String())
}
