package chat

import "time"

// Turn persists one answered question for audit and feedback.
type Turn struct {
	Index              int          `json:"index"`
	SID                string       `json:"sid"`
	Datetime           time.Time    `json:"datetime"`
	Question           string       `json:"question"`
	ModQuestion        string       `json:"mod_question,omitempty"`
	NormQuestion       string       `json:"norm_question,omitempty"`
	Answer             string       `json:"answer"`
	OriginalAnswer     string       `json:"original_answer,omitempty"`
	NormAnswer         string       `json:"norm_answer,omitempty"`
	AnsweredBy         string       `json:"answered_by"`
	Stage              Stage        `json:"stage,omitempty"`
	Category           string       `json:"category,omitempty"`
	Emotion            string       `json:"emotion,omitempty"`
	Topic              string       `json:"topic,omitempty"`
	LineRef            string       `json:"lineno,omitempty"`
	Lang               string       `json:"lang"`
	ClientID           string       `json:"client_id,omitempty"`
	User               string       `json:"user,omitempty"`
	BotName            string       `json:"bot_name,omitempty"`
	RequestID          string       `json:"request_id,omitempty"`
	Marker             string       `json:"marker,omitempty"`
	RunID              string       `json:"run_id,omitempty"`
	TranslateInput     bool         `json:"translate_input,omitempty"`
	TranslateOutput    bool         `json:"translate_output,omitempty"`
	TranslatedQuestion string       `json:"translated_question,omitempty"`
	Trace              []TraceEntry `json:"trace,omitempty"`
	Rate               string       `json:"rate,omitempty"`
	Feedback           string       `json:"feedback,omitempty"`
	Label              string       `json:"label,omitempty"`
}
