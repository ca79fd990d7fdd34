package responder

import (
	"context"
	"strings"
)

// Responder is an independent backend able to produce a candidate answer.
// Implementations must be safe for concurrent use across sessions.
type Responder interface {
	Respond(ctx context.Context, req Request) (Answer, error)
	// IsCommand reports whether the question is a control command handled
	// by this responder outside arbitration.
	IsCommand(question string) bool
	// IsFavorite reports whether the responder claims the question.
	IsFavorite(question string) bool
}

// Request is the per-consultation input handed to a responder.
type Request struct {
	Question  string
	Lang      string
	Session   SessionView
	IsQuery   bool
	RequestID string
}

// SessionView is the read-mostly slice of session state a responder sees.
// Context writes are staged and applied only when the consultation's answer
// is the one surfaced for the turn.
type SessionView interface {
	SID() string
	User() string
	BotName() string
	// Context returns a copy of the responder's own context namespace.
	Context() map[string]string
	SetContext(key, value string)
	// History returns up to n most recent question/answer pairs, oldest first.
	History(n int) []Exchange
	// LastAnswer is the answer surfaced on the previous turn.
	LastAnswer() string
}

// StagedView is a SessionView whose context writes are applied on Commit.
type StagedView interface {
	SessionView
	Commit()
}

// Exchange is one past question/answer pair.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Descriptor carries the static attributes of a responder.
type Descriptor struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Type         string   `json:"type" yaml:"type"`
	Level        int      `json:"level" yaml:"level"`
	Weight       float64  `json:"weight" yaml:"weight"`
	DynamicLevel bool     `json:"dynamic_level" yaml:"dynamic_level"`
	Lazy         bool     `json:"lazy" yaml:"lazy"`
	Languages    []string `json:"languages" yaml:"languages"`
	User         string   `json:"user,omitempty" yaml:"user,omitempty"`
}

// Supports reports whether lang is one of the responder's locale tags.
// Matching is case-insensitive.
func (d Descriptor) Supports(lang string) bool {
	for _, l := range d.Languages {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

// Entry pairs a descriptor with the live implementation.
type Entry struct {
	Descriptor
	Responder Responder
}
