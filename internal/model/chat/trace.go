package chat

import (
	"time"

	"github.com/BeranItService/chatbot/internal/model/responder"
)

// Stage names one step of the arbitration protocol.
type Stage string

const (
	StagePinned     Stage = "pinned"
	StagePriority   Stage = "priority"
	StagePreference Stage = "preference"
	StageContinuity Stage = "continuity"
	StageRoundRobin Stage = "roundrobin"
	StageCache      Stage = "cache"
	StageCommand    Stage = "command"
)

// TraceOutcome describes what happened to one consultation.
type TraceOutcome string

const (
	TraceAdmitted TraceOutcome = "admitted"
	TracePassed   TraceOutcome = "passed"
	TraceFiled    TraceOutcome = "filed"
	TraceNoAnswer TraceOutcome = "no answer"
	TraceTimeout  TraceOutcome = "timeout"
	TraceError    TraceOutcome = "error"
	TracePicked   TraceOutcome = "picked"
	TraceCommand  TraceOutcome = "command"
)

// TraceEntry is one record of the per-turn audit log.
type TraceEntry struct {
	Stage       Stage              `json:"stage"`
	ResponderID string             `json:"responder"`
	Outcome     TraceOutcome       `json:"outcome"`
	Category    responder.Category `json:"category,omitempty"`
	Text        string             `json:"text,omitempty"`
	Detail      string             `json:"detail,omitempty"`
	Elapsed     time.Duration      `json:"elapsed_ns,omitempty"`
}

// Candidate is an answer filed under a category for the cache-pick stage.
type Candidate struct {
	ResponderID string           `json:"responder"`
	Answer      responder.Answer `json:"answer"`
	Weight      float64          `json:"weight"`
}

// Decision is the result of one arbitration run.
type Decision struct {
	Answer     *responder.Answer                  `json:"answer,omitempty"`
	AnsweredBy string                             `json:"answered_by,omitempty"`
	Stage      Stage                              `json:"stage,omitempty"`
	Category   responder.Category                 `json:"category,omitempty"`
	Admitted   bool                               `json:"admitted"`
	Trace      []TraceEntry                       `json:"trace"`
	Filed      map[responder.Category][]Candidate `json:"categorized,omitempty"`
}

// Answered reports whether a chosen answer exists.
func (d Decision) Answered() bool {
	return d.Answer != nil
}
