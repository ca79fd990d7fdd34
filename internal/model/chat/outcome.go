package chat

// Outcome is the turn-level result code surfaced to callers.
type Outcome int

const (
	Success Outcome = iota
	WrongResponderName
	NoPatternMatch
	InvalidSession
	InvalidQuestion
	TranslateError
)

var outcomeMessages = map[Outcome]string{
	Success:            "Success",
	WrongResponderName: "Wrong character name",
	NoPatternMatch:     "No pattern matched",
	InvalidSession:     "Invalid session",
	InvalidQuestion:    "Invalid question",
	TranslateError:     "Translate error",
}

var outcomeNames = map[Outcome]string{
	Success:            "SUCCESS",
	WrongResponderName: "WRONG_RESPONDER_NAME",
	NoPatternMatch:     "NO_PATTERN_MATCH",
	InvalidSession:     "INVALID_SESSION",
	InvalidQuestion:    "INVALID_QUESTION",
	TranslateError:     "TRANSLATE_ERROR",
}

// Message returns the human readable description of the outcome.
func (o Outcome) Message() string {
	if msg, ok := outcomeMessages[o]; ok {
		return msg
	}
	return "Unknown"
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}
