package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultLang 是未指定 lang 时使用的语言。
const DefaultLang = "en-US"

var validate = validator.New()

// AskQuery 是 /chat 与 /stream 的查询参数。
// 缺失的 question 与 session 交给服务层返回对应的 ret 码。
type AskQuery struct {
	Question string
	Session  string
	Lang     string `validate:"required,bcp47_language_tag"`
	BotName  string
	Query    bool
	Marker   string
	RunID    string
}

// ParseAskQuery 解析并校验提问参数，/ws 的文本帧也复用同样的校验。
func ParseAskQuery(r *http.Request) (AskQuery, error) {
	q := r.URL.Query()
	req := AskQuery{
		Question: q.Get("question"),
		Session:  q.Get("session"),
		Lang:     valueOr(q.Get("lang"), DefaultLang),
		BotName:  q.Get("botname"),
		Query:    parseBool(q.Get("query")),
		Marker:   valueOr(q.Get("marker"), "default"),
		RunID:    q.Get("run_id"),
	}
	return req, Validate(req)
}

type sessionQuery struct {
	Session string `validate:"required"`
}

type contextQuery struct {
	Session   string `validate:"required"`
	Responder string
	Context   map[string]string `validate:"required,min=1"`
}

type removeContextQuery struct {
	Session   string `validate:"required"`
	Responder string
	Keys      []string `validate:"required,min=1,dive,required"`
}

type langQuery struct {
	Session string `validate:"required"`
	Lang    string `validate:"required,bcp47_language_tag"`
}

type rateQuery struct {
	Session string `validate:"required"`
	Index   int
	Rate    string `validate:"required"`
}

type feedbackQuery struct {
	Session string `validate:"required"`
	Text    string `validate:"required"`
	Label   string
}

// Validate 校验请求结构，并把校验错误转换成可读的字段列表。
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("invalid parameters: %s", strings.Join(fields, ", "))
}

// parseContext 解析 "k=v,k2=v2" 形式的上下文参数。
func parseContext(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	kv := make(map[string]string)
	for _, tok := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(tok, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid context pair %q", tok)
		}
		kv[k] = strings.TrimSpace(v)
	}
	return kv, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseBool(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "true")
}

func parseIndex(raw string) (int, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", raw)
	}
	return idx, nil
}

func valueOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
