package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BeranItService/chatbot/internal/analysis/emotion"
	"github.com/BeranItService/chatbot/internal/analysis/textnorm"
	"github.com/BeranItService/chatbot/internal/model/chat"
	"github.com/BeranItService/chatbot/internal/model/responder"
	"github.com/BeranItService/chatbot/internal/observability"
	"github.com/BeranItService/chatbot/internal/service/arbiter"
	"github.com/BeranItService/chatbot/internal/service/fallback"
	"github.com/BeranItService/chatbot/internal/service/registry"
	"github.com/BeranItService/chatbot/internal/service/session"
)

// ResetCommand resets the session before answering.
const ResetCommand = ":reset"

// SystemResponder is the answeredBy value of turns handled by the service
// itself.
const SystemResponder = "system"

var (
	ErrSessionNotFound  = session.ErrSessionNotFound
	ErrInvalidWeight    = registry.ErrInvalidWeight
	ErrUnknownResponder = registry.ErrUnknownResponder
	ErrWeightFormat     = errors.New("wrong weight format")
	ErrNoHistory        = errors.New("no history for session")
)

// Catalogue is the source of responder snapshots.
type Catalogue interface {
	Snapshot() *registry.Snapshot
	SetWeight(id string, weight float64) error
}

// Engine arbitrates turns and runs control commands.
type Engine interface {
	Run(ctx context.Context, turn arbiter.Turn) chat.Decision
	Command(ctx context.Context, turn arbiter.Turn) (chat.Decision, bool)
}

// HistoryLoader reads exported turns of sessions no longer in memory.
type HistoryLoader interface {
	Load(ctx context.Context, sid string) ([]chat.Turn, error)
}

// Options wires a Service.
type Options struct {
	Sessions  *session.Store
	Catalogue Catalogue
	Engine    Engine
	Fallback  *fallback.Coordinator
	History   HistoryLoader
	// ClearPinOnMiss drops the open responder pin when a turn goes
	// unanswered.
	ClearPinOnMiss bool
	Metrics        *observability.Metrics
	Logger         *slog.Logger
	Now            func() time.Time
}

// Service orchestrates turns and the administrative session surface.
type Service struct {
	sessions       *session.Store
	catalogue      Catalogue
	engine         Engine
	fallback       *fallback.Coordinator
	history        HistoryLoader
	clearPinOnMiss bool
	metrics        *observability.Metrics
	logger         *slog.Logger
	now            func() time.Time
}

// NewService assembles the chat service.
func NewService(opts Options) *Service {
	if opts.Fallback == nil {
		opts.Fallback = fallback.New(fallback.Options{Metrics: opts.Metrics, Logger: opts.Logger})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		sessions:       opts.Sessions,
		catalogue:      opts.Catalogue,
		engine:         opts.Engine,
		fallback:       opts.Fallback,
		history:        opts.History,
		clearPinOnMiss: opts.ClearPinOnMiss,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With("component", "chat"),
		now:            opts.Now,
	}
}

// AskRequest is one user turn.
type AskRequest struct {
	SID      string
	Question string
	Lang     string
	// BotName overrides the session's bot for this and later turns.
	BotName   string
	IsQuery   bool
	RequestID string
	Marker    string
	RunID     string
	// Observer receives trace entries as the engine produces them.
	Observer func(chat.TraceEntry) `json:"-"`
}

// Response is the result of one turn.
type Response struct {
	Outcome          chat.Outcome       `json:"-"`
	Ret              int                `json:"ret"`
	Message          string             `json:"message"`
	Text             string             `json:"text"`
	AnsweredBy       string             `json:"botid,omitempty"`
	OriginalAnswer   string             `json:"OriginalAnswer,omitempty"`
	OriginalQuestion string             `json:"OriginalQuestion"`
	ModQuestion      string             `json:"ModQuestion,omitempty"`
	YouSaid          string             `json:"yousaid,omitempty"`
	Stage            chat.Stage         `json:"stage,omitempty"`
	Category         responder.Category `json:"category,omitempty"`
	Emotion          string             `json:"emotion,omitempty"`
	Topic            string             `json:"topic,omitempty"`
	LineRef          string             `json:"lineno,omitempty"`
	Lang             string             `json:"lang"`
	SID              string             `json:"sid"`
	BotName          string             `json:"botname,omitempty"`
	User             string             `json:"user,omitempty"`
	ClientID         string             `json:"client_id,omitempty"`
	RequestID        string             `json:"request_id,omitempty"`
	Marker           string             `json:"marker,omitempty"`
	RunID            string             `json:"run_id,omitempty"`
	TranslateInput   bool               `json:"translate_input,omitempty"`
	TranslateOutput  bool               `json:"translate_output,omitempty"`
	Datetime         time.Time          `json:"datetime"`
	Trace            []chat.TraceEntry  `json:"trace,omitempty"`
}

func (r *Response) finish(outcome chat.Outcome) Response {
	r.Outcome = outcome
	r.Ret = int(outcome)
	r.Message = outcome.Message()
	return *r
}

// Ask runs one turn for req.SID.
func (s *Service) Ask(ctx context.Context, req AskRequest) Response {
	resp := &Response{
		SID:              req.SID,
		Lang:             req.Lang,
		RequestID:        req.RequestID,
		Marker:           req.Marker,
		RunID:            req.RunID,
		OriginalQuestion: req.Question,
		Datetime:         s.now(),
	}
	out := s.ask(ctx, req, resp)
	s.metrics.RecordTurn(out.Outcome.String())
	return out
}

func (s *Service) ask(ctx context.Context, req AskRequest, resp *Response) Response {
	sess, ok := s.sessions.Get(req.SID)
	if !ok {
		return resp.finish(chat.InvalidSession)
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return resp.finish(chat.InvalidQuestion)
	}

	sess.Lock()
	defer sess.Unlock()
	if sess.Closed() {
		return resp.finish(chat.InvalidSession)
	}
	if req.BotName != "" {
		sess.SetBotName(req.BotName)
	}
	bot := sess.BotName()
	resp.BotName, resp.User, resp.ClientID = bot, sess.User(), sess.ClientID()
	logger := s.logger.With("sid", sess.SID(), "bot", bot, "request_id", req.RequestID)

	plan, outcome := s.fallback.Prepare(ctx, s.catalogue.Snapshot(), bot, sess.User(), req.Lang, question)
	resp.TranslateInput = plan.TranslatedInput
	if outcome != chat.Success {
		logger.Warn("turn rejected", "outcome", outcome.String(), "lang", req.Lang)
		return resp.finish(outcome)
	}

	if question == ResetCommand {
		sess.Reset(ctx)
		logger.Warn("session reset by command")
		resp.AnsweredBy = SystemResponder
		return resp.finish(chat.Success)
	}

	if cmd, ok := s.engine.Command(ctx, arbiter.Turn{
		Question:   plan.Question,
		Lang:       plan.EngineLang,
		Responders: plan.Responders,
		Session:    sess,
		IsQuery:    req.IsQuery,
		RequestID:  req.RequestID,
		Observer:   req.Observer,
	}); ok {
		return s.command(logger, cmd, resp)
	}

	resp.YouSaid = question
	modQuestion := textnorm.Preprocess(plan.Question)
	resp.ModQuestion = modQuestion

	decision := s.engine.Run(ctx, arbiter.Turn{
		Question:    modQuestion,
		RawQuestion: plan.Question,
		Lang:        plan.EngineLang,
		Responders:  plan.Responders,
		Weights:     sess.Weights(),
		Session:     sess,
		IsQuery:     req.IsQuery,
		RequestID:   req.RequestID,
		Observer:    req.Observer,
	})
	resp.Trace = decision.Trace
	if !decision.Answered() {
		if s.clearPinOnMiss {
			sess.ClearOpen()
		}
		logger.Error("no pattern match", "question", question)
		return resp.finish(chat.NoPatternMatch)
	}

	originalAnswer := decision.Answer.Text
	if outcome := s.fallback.Finish(ctx, &plan, &decision); outcome != chat.Success {
		return resp.finish(outcome)
	}
	answer := *decision.Answer
	answer.Text = textnorm.Cleanup(answer.Text)
	if answer.Emotion == "" {
		answer.Emotion = string(emotion.Analyze(question, answer.Text).Emotion)
	}

	resp.Text = answer.Text
	resp.AnsweredBy = decision.AnsweredBy
	resp.OriginalAnswer = originalAnswer
	resp.Stage = decision.Stage
	resp.Category = decision.Category
	resp.Emotion = answer.Emotion
	resp.Topic = answer.Topic
	resp.LineRef = answer.LineRef
	resp.TranslateOutput = plan.TranslatedOutput

	sess.Add(ctx, chat.Turn{
		Datetime:           resp.Datetime,
		Question:           req.Question,
		ModQuestion:        modQuestion,
		NormQuestion:       textnorm.Norm2(req.Question),
		Answer:             answer.Text,
		OriginalAnswer:     originalAnswer,
		NormAnswer:         textnorm.Norm2(answer.Text),
		AnsweredBy:         decision.AnsweredBy,
		Stage:              decision.Stage,
		Category:           string(decision.Category),
		Emotion:            answer.Emotion,
		Topic:              answer.Topic,
		LineRef:            answer.LineRef,
		Lang:               req.Lang,
		ClientID:           sess.ClientID(),
		User:               sess.User(),
		BotName:            bot,
		RequestID:          req.RequestID,
		Marker:             req.Marker,
		RunID:              req.RunID,
		TranslateInput:     plan.TranslatedInput,
		TranslateOutput:    plan.TranslatedOutput,
		TranslatedQuestion: plan.Question,
		Trace:              decision.Trace,
	}, s.now())

	logger.Info("turn answered", "answered_by", decision.AnsweredBy, "stage", decision.Stage, "category", decision.Category)
	return resp.finish(chat.Success)
}

// command reports a control command answered outside arbitration.
func (s *Service) command(logger *slog.Logger, cmd chat.Decision, resp *Response) Response {
	resp.Trace = cmd.Trace
	resp.Stage = chat.StageCommand
	if !cmd.Answered() {
		last := cmd.Trace[len(cmd.Trace)-1]
		logger.Warn("command not answered", "responder", last.ResponderID, "outcome", last.Outcome)
		return resp.finish(chat.NoPatternMatch)
	}
	resp.Text = textnorm.Cleanup(cmd.Answer.Text)
	resp.AnsweredBy = cmd.AnsweredBy
	resp.Emotion = cmd.Answer.Emotion
	return resp.finish(chat.Success)
}

// StartSession returns the live session of (clientID, user), creating it if
// needed, and records botName on it.
func (s *Service) StartSession(ctx context.Context, req session.StartRequest) string {
	return s.sessions.Start(ctx, req)
}

func (s *Service) ListSessions() []chat.SessionInfo {
	return s.sessions.List()
}

// SessionInfo returns the listing view of one session.
func (s *Service) SessionInfo(sid string) (chat.SessionInfo, error) {
	var info chat.SessionInfo
	err := s.withSession(sid, func(sess *session.Session) error {
		info = sess.Info()
		return nil
	})
	return info, err
}

// ResetSession clears the ledger and pins of sid. It reports false when the
// session has not answered anything yet.
func (s *Service) ResetSession(ctx context.Context, sid string) (bool, error) {
	return s.sessions.Reset(ctx, sid)
}

// RemoveSession dumps then removes sid, returning the turns it had.
func (s *Service) RemoveSession(ctx context.Context, sid string) ([]chat.Turn, error) {
	var turns []chat.Turn
	if err := s.withSession(sid, func(sess *session.Session) error {
		turns = sess.Ledger().Turns()
		return nil
	}); err != nil {
		return nil, err
	}
	if err := s.sessions.Remove(ctx, sid); err != nil {
		return nil, err
	}
	return turns, nil
}

// ResponderWeight is one applicable responder with its effective weight.
type ResponderWeight struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Weight       float64 `json:"weight"`
	Level        int     `json:"level"`
	DynamicLevel bool    `json:"dynamic_level"`
}

// Weights lists the applicable responders of sid in lang with session
// overrides applied.
func (s *Service) Weights(sid, lang string) ([]ResponderWeight, error) {
	var out []ResponderWeight
	err := s.withSession(sid, func(sess *session.Session) error {
		overrides := sess.Weights()
		for _, e := range s.catalogue.Snapshot().Applicable(sess.BotName(), lang, sess.User()) {
			w := e.Weight
			if o, ok := overrides[e.ID]; ok {
				w = o
			}
			out = append(out, ResponderWeight{ID: e.ID, Name: e.Name, Weight: w, Level: e.Level, DynamicLevel: e.DynamicLevel})
		}
		return nil
	})
	return out, err
}

// SetWeights replaces the weight overrides of sid. param is either "reset"
// or a comma list of key=value pairs where key is a responder id or an index
// into the applicable list of lang.
func (s *Service) SetWeights(sid, lang, param string) error {
	return s.withSession(sid, func(sess *session.Session) error {
		if strings.TrimSpace(param) == "reset" {
			sess.ResetWeights()
			return nil
		}
		applicable := s.catalogue.Snapshot().Applicable(sess.BotName(), lang, sess.User())
		weights, err := parseWeights(param, applicable)
		if err != nil {
			return err
		}
		sess.ResetWeights()
		for id, w := range weights {
			sess.SetWeight(id, w)
		}
		return nil
	})
}

// SetGlobalWeight changes the catalogue weight of responderID for every
// session without an override. A catalogue reload restores the file value.
func (s *Service) SetGlobalWeight(responderID string, weight float64) error {
	if err := s.catalogue.SetWeight(responderID, weight); err != nil {
		return err
	}
	s.logger.Info("global weight updated", "responder", responderID, "weight", weight)
	return nil
}

func parseWeights(param string, applicable []responder.Entry) (map[string]float64, error) {
	weights := make(map[string]float64)
	for _, pair := range strings.Split(param, ",") {
		key, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrWeightFormat, pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrWeightFormat, pair)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidWeight, key, v)
		}
		if idx, err := strconv.Atoi(key); err == nil {
			if idx < 0 || idx >= len(applicable) {
				return nil, fmt.Errorf("%w: index %d", ErrWeightFormat, idx)
			}
			key = applicable[idx].ID
		}
		weights[key] = v
	}
	return weights, nil
}

// SetContext writes kv into the namespace of responderID, or of every
// catalogued responder when responderID is empty.
func (s *Service) SetContext(sid, responderID string, kv map[string]string) error {
	return s.withSession(sid, func(sess *session.Session) error {
		for _, ns := range s.namespaces(responderID) {
			for k, v := range kv {
				sess.SetContext(ns, k, v)
			}
		}
		return nil
	})
}

// RemoveContext deletes keys like SetContext writes them and reports how
// many entries were removed.
func (s *Service) RemoveContext(sid, responderID string, keys []string) (int, error) {
	removed := 0
	err := s.withSession(sid, func(sess *session.Session) error {
		for _, ns := range s.namespaces(responderID) {
			removed += sess.RemoveContext(ns, keys...)
		}
		return nil
	})
	return removed, err
}

func (s *Service) namespaces(responderID string) []string {
	if responderID != "" {
		return []string{responderID}
	}
	chars := s.catalogue.Snapshot().Characters("")
	ids := make([]string, 0, len(chars))
	for _, d := range chars {
		ids = append(ids, d.ID)
	}
	return ids
}

// Context merges the context of every applicable responder of sid in lang.
// Keys starting with "_" are private and never returned.
func (s *Service) Context(sid, lang string) (map[string]string, error) {
	merged := make(map[string]string)
	err := s.withSession(sid, func(sess *session.Session) error {
		for _, e := range s.catalogue.Snapshot().Applicable(sess.BotName(), lang, sess.User()) {
			for k, v := range sess.Context(e.ID) {
				if strings.HasPrefix(k, "_") {
					continue
				}
				merged[k] = v
			}
		}
		return nil
	})
	return merged, err
}

// Rate attaches rating to the turn at idx; negative indexes count from the
// end.
func (s *Service) Rate(sid string, idx int, rating string) error {
	return s.withSession(sid, func(sess *session.Session) error {
		return sess.Ledger().Rate(rating, idx)
	})
}

// Feedback annotates the last turn of sid.
func (s *Service) Feedback(sid, text, label string) error {
	return s.withSession(sid, func(sess *session.Session) error {
		return sess.Ledger().Feedback(text, label)
	})
}

// History returns the turns of sid from memory, or from the history store
// once the session is gone.
func (s *Service) History(ctx context.Context, sid string) ([]chat.Turn, error) {
	var turns []chat.Turn
	err := s.withSession(sid, func(sess *session.Session) error {
		turns = sess.Ledger().Turns()
		return nil
	})
	if err == nil {
		return turns, nil
	}
	if !errors.Is(err, ErrSessionNotFound) || s.history == nil {
		return nil, err
	}
	turns, err = s.history.Load(ctx, sid)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, ErrNoHistory
	}
	return turns, nil
}

// DumpAll flushes every live session to the history store.
func (s *Service) DumpAll(ctx context.Context) {
	s.sessions.DumpAll(ctx)
}

// Characters lists the catalogued responders speaking lang, or every one of
// them when lang is empty.
func (s *Service) Characters(lang string) []responder.Descriptor {
	return s.catalogue.Snapshot().Characters(lang)
}

// BotNames lists the catalogued bot namespaces.
func (s *Service) BotNames() []string {
	return s.catalogue.Snapshot().BotNames()
}

// withSession runs fn under the session lock of sid.
func (s *Service) withSession(sid string, fn func(*session.Session) error) error {
	sess, err := s.sessions.Lookup(sid)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()
	if sess.Closed() {
		return ErrSessionNotFound
	}
	return fn(sess)
}
