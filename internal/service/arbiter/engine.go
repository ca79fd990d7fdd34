package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BeranItService/chatbot/internal/analysis/textnorm"
	"github.com/BeranItService/chatbot/internal/model/chat"
	"github.com/BeranItService/chatbot/internal/model/responder"
	"github.com/BeranItService/chatbot/internal/observability"
)

const (
	DefaultTimeout           = 5 * time.Second
	DefaultGambitDismissRate = 0.3
)

const tracerName = "github.com/BeranItService/chatbot/internal/service/arbiter"

// Session is the per-turn session state the engine reads and updates.
// The caller holds the session lock for the whole Run.
type Session interface {
	OpenResponder() string
	LastUsedResponder() string
	SetPins(lastUsed, open string)
	ResponderView(responderID string) responder.StagedView
}

// Options configures an Engine.
type Options struct {
	Rand    Rand
	Timeout time.Duration
	// CategoryWeights defaults to DefaultCategoryWeights.
	CategoryWeights CategoryWeights
	// QuibbleSuppression files quibble answers instead of admitting them.
	QuibbleSuppression bool
	// GambitDismissRate is the chance a good-match gambit is filed instead
	// of admitted. Zero or less selects DefaultGambitDismissRate.
	GambitDismissRate float64
	// DisableGambitDismissal admits good-match gambits like any answer.
	DisableGambitDismissal bool
	Metrics                *observability.Metrics
	Logger                 *slog.Logger
	Tracer                 trace.Tracer
}

// Engine runs the staged selection protocol over a set of responders.
type Engine struct {
	rand          Rand
	timeout       time.Duration
	weights       CategoryWeights
	quibbles      bool
	gambitDismiss float64
	metrics       *observability.Metrics
	logger        *slog.Logger
	tracer        trace.Tracer
}

// New returns an engine. A nil Rand is seeded from the clock.
func New(opts Options) *Engine {
	e := &Engine{
		rand:          opts.Rand,
		timeout:       opts.Timeout,
		weights:       opts.CategoryWeights,
		quibbles:      opts.QuibbleSuppression,
		gambitDismiss: opts.GambitDismissRate,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		tracer:        opts.Tracer,
	}
	if e.rand == nil {
		e.rand = NewRand(uint64(time.Now().UnixNano()))
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.weights == nil {
		e.weights = DefaultCategoryWeights
	}
	switch {
	case opts.DisableGambitDismissal:
		e.gambitDismiss = 0
	case e.gambitDismiss <= 0:
		e.gambitDismiss = DefaultGambitDismissRate
	case e.gambitDismiss > 1:
		e.gambitDismiss = 1
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "arbiter")
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Turn is the input of one arbitration run.
type Turn struct {
	// Question is the normalised question text.
	Question string
	// RawQuestion is checked for a terminal question mark; Question is
	// used when empty.
	RawQuestion string
	Lang        string
	// Responders are the applicable responders; order among equal levels
	// is kept.
	Responders []responder.Entry
	// Weights overrides registry weights by responder id.
	Weights   map[string]float64
	Session   Session
	IsQuery   bool
	RequestID string
	// Observer, when set, receives every trace entry as it is appended.
	Observer func(chat.TraceEntry)
}

type candidate struct {
	responder.Entry
	weight float64
}

type run struct {
	e         *Engine
	turn      Turn
	cands     []candidate
	consulted map[string]bool
	// filed maps a filed candidate's key to the view of the consultation
	// that produced it.
	filed    map[string]responder.StagedView
	decision chat.Decision
}

// Run executes the protocol once. It never returns an error: responder
// faults degrade to trace entries, exhaustion to an unanswered Decision.
func (e *Engine) Run(ctx context.Context, turn Turn) chat.Decision {
	ctx, span := e.tracer.Start(ctx, "arbiter.Run", trace.WithAttributes(
		attribute.String("chatbot.lang", turn.Lang),
		attribute.String("chatbot.request_id", turn.RequestID),
		attribute.Int("chatbot.responders", len(turn.Responders)),
	))
	defer span.End()

	r := &run{
		e:         e,
		turn:      turn,
		consulted: make(map[string]bool),
		filed:     make(map[string]responder.StagedView),
		decision: chat.Decision{
			Trace: make([]chat.TraceEntry, 0, len(turn.Responders)+1),
			Filed: make(map[responder.Category][]chat.Candidate),
		},
	}
	r.cands = e.eligible(turn)

	if len(r.cands) > 0 {
		stages := []func(context.Context) bool{
			r.pinnedStage,
			r.priorityStage,
			r.preferenceStage,
			r.continuityStage,
			r.roundRobinStage,
		}
		decided := false
		for _, stage := range stages {
			if stage(ctx) {
				decided = true
				break
			}
		}
		if !decided {
			r.cachePick()
		}
	}

	if d := r.decision; d.Answered() {
		span.SetAttributes(
			attribute.String("chatbot.answered_by", d.AnsweredBy),
			attribute.String("chatbot.stage", string(d.Stage)),
		)
		e.metrics.RecordDecision(string(d.Stage), string(d.Category))
		if d.Admitted && !turn.IsQuery && turn.Session != nil {
			r.pin()
		}
	} else {
		span.SetAttributes(attribute.Bool("chatbot.exhausted", true))
	}
	if len(r.decision.Filed) == 0 {
		r.decision.Filed = nil
	}
	return r.decision
}

// eligible applies the weight snapshot and drops disabled responders.
func (e *Engine) eligible(turn Turn) []candidate {
	cands := make([]candidate, 0, len(turn.Responders))
	for _, entry := range turn.Responders {
		weight := entry.Weight
		if override, ok := turn.Weights[entry.ID]; ok {
			weight = override
		}
		if weight <= 0 {
			e.logger.Debug("responder disabled", "responder", entry.ID, "request_id", turn.RequestID)
			continue
		}
		if weight > 1 {
			weight = 1
		}
		cands = append(cands, candidate{Entry: entry, weight: weight})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Level < cands[j].Level })
	return cands
}

func (r *run) find(id string) (candidate, bool) {
	if id == "" {
		return candidate{}, false
	}
	for _, c := range r.cands {
		if c.ID == id {
			return c, true
		}
	}
	return candidate{}, false
}

func (r *run) pinnedStage(ctx context.Context) bool {
	if r.turn.Session == nil {
		return false
	}
	c, ok := r.find(r.turn.Session.OpenResponder())
	if !ok || r.consulted[c.ID] {
		return false
	}
	return r.consult(ctx, chat.StagePinned, c, true)
}

// priorityStage consults the top responder only. It is skipped when that
// responder already answered as the pinned one.
func (r *run) priorityStage(ctx context.Context) bool {
	top := r.cands[0]
	if r.consulted[top.ID] {
		return false
	}
	return r.consult(ctx, chat.StagePriority, top, true)
}

func (r *run) preferenceStage(ctx context.Context) bool {
	for _, c := range r.cands {
		if r.consulted[c.ID] {
			continue
		}
		if r.favorite(c) {
			return r.consult(ctx, chat.StagePreference, c, false)
		}
	}
	return false
}

func (r *run) continuityStage(ctx context.Context) bool {
	if r.turn.Session == nil {
		return false
	}
	c, ok := r.find(r.turn.Session.LastUsedResponder())
	if !ok || !c.DynamicLevel || r.consulted[c.ID] {
		return false
	}
	return r.consult(ctx, chat.StageContinuity, c, true)
}

// roundRobinStage may consult responders again.
func (r *run) roundRobinStage(ctx context.Context) bool {
	for _, c := range r.cands {
		if c.Lazy && len(r.decision.Filed) > 0 {
			continue
		}
		if r.consult(ctx, chat.StageRoundRobin, c, true) {
			return true
		}
	}
	return false
}

func (r *run) favorite(c candidate) (fav bool) {
	defer func() {
		if p := recover(); p != nil {
			r.e.logger.Warn("responder IsFavorite panicked", "responder", c.ID, "panic", fmt.Sprint(p))
			fav = false
		}
	}()
	return c.Responder.IsFavorite(r.turn.Question)
}

// Command lets the first responder that claims turn.Question as a control
// command answer it outside arbitration. The call is bounded and recovered
// like any consultation. ok is false when no responder claims the question.
func (e *Engine) Command(ctx context.Context, turn Turn) (decision chat.Decision, ok bool) {
	r := &run{e: e, turn: turn}
	for _, en := range turn.Responders {
		c := candidate{Entry: en, weight: 1}
		if !r.command(c) {
			continue
		}
		ctx, span := e.tracer.Start(ctx, "arbiter.Command", trace.WithAttributes(
			attribute.String("chatbot.responder", c.ID),
			attribute.String("chatbot.request_id", turn.RequestID),
		))
		defer span.End()

		var view responder.StagedView
		if turn.Session != nil {
			view = turn.Session.ResponderView(c.ID)
		}
		start := time.Now()
		answer, err := r.call(ctx, c, view)
		entry := chat.TraceEntry{Stage: chat.StageCommand, ResponderID: c.ID, Elapsed: time.Since(start)}
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			entry.Outcome = chat.TraceTimeout
			entry.Detail = "no answer: " + err.Error()
			span.SetStatus(codes.Error, "timeout")
			e.logger.Warn("command timed out", "responder", c.ID, "request_id", turn.RequestID)
		case err != nil:
			entry.Outcome = chat.TraceError
			entry.Detail = "no answer: " + err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Warn("command failed", "responder", c.ID, "request_id", turn.RequestID, "error", err)
		case textnorm.Cleanup(answer.Text) == "":
			entry.Outcome = chat.TraceNoAnswer
		default:
			if view != nil {
				view.Commit()
			}
			entry.Outcome = chat.TraceCommand
			entry.Text = answer.Text
			r.decision.Answer = &answer
			r.decision.AnsweredBy = c.ID
			r.decision.Stage = chat.StageCommand
			r.decision.Admitted = true
		}
		e.metrics.RecordConsultation(string(chat.StageCommand), string(entry.Outcome), c.ID, entry.Elapsed.Seconds())
		r.appendTrace(entry)
		return r.decision, true
	}
	return chat.Decision{}, false
}

func (r *run) command(c candidate) (cmd bool) {
	defer func() {
		if p := recover(); p != nil {
			r.e.logger.Warn("responder IsCommand panicked", "responder", c.ID, "panic", fmt.Sprint(p))
			cmd = false
		}
	}()
	return c.Responder.IsCommand(r.turn.Question)
}

type result struct {
	answer responder.Answer
	err    error
}

var errPanic = errors.New("responder panicked")

// call runs one consultation bounded by the engine timeout. Context writes
// stay staged in view; only the surfaced answer's view is committed.
func (r *run) call(ctx context.Context, c candidate, view responder.StagedView) (responder.Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, r.e.timeout)
	defer cancel()

	req := responder.Request{
		Question:  r.turn.Question,
		Lang:      r.turn.Lang,
		Session:   view,
		IsQuery:   r.turn.IsQuery,
		RequestID: r.turn.RequestID,
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("%w: %v", errPanic, p)}
			}
		}()
		answer, err := c.Responder.Respond(ctx, req)
		done <- result{answer: answer, err: err}
	}()

	select {
	case res := <-done:
		return res.answer, res.err
	case <-ctx.Done():
		return responder.Answer{}, ctx.Err()
	}
}

// consult asks c for an answer, files or admits it, and reports admission.
func (r *run) consult(ctx context.Context, stage chat.Stage, c candidate, requireGood bool) bool {
	r.consulted[c.ID] = true

	ctx, span := r.e.tracer.Start(ctx, "arbiter.consult", trace.WithAttributes(
		attribute.String("chatbot.responder", c.ID),
		attribute.String("chatbot.stage", string(stage)),
	))
	defer span.End()

	var view responder.StagedView
	if r.turn.Session != nil {
		view = r.turn.Session.ResponderView(c.ID)
	}
	start := time.Now()
	answer, err := r.call(ctx, c, view)
	elapsed := time.Since(start)

	entry := chat.TraceEntry{Stage: stage, ResponderID: c.ID, Elapsed: elapsed}
	admitted := false
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		entry.Outcome = chat.TraceTimeout
		entry.Detail = "no answer: " + err.Error()
		span.SetStatus(codes.Error, "timeout")
		r.e.logger.Warn("responder timed out", "responder", c.ID, "stage", stage, "request_id", r.turn.RequestID)
	case err != nil:
		entry.Outcome = chat.TraceError
		entry.Detail = "no answer: " + err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.e.logger.Warn("responder failed", "responder", c.ID, "stage", stage, "request_id", r.turn.RequestID, "error", err)
	default:
		admitted = r.classify(stage, c, answer, view, requireGood, &entry)
	}

	span.SetAttributes(attribute.String("chatbot.outcome", string(entry.Outcome)))
	r.e.metrics.RecordConsultation(string(stage), string(entry.Outcome), c.ID, elapsed.Seconds())
	r.appendTrace(entry)
	return admitted
}

// classify applies the filing rules to a returned answer.
func (r *run) classify(stage chat.Stage, c candidate, answer responder.Answer, view responder.StagedView, requireGood bool, entry *chat.TraceEntry) bool {
	answer.Text = textnorm.Cleanup(answer.Text)
	answer.Repeat = textnorm.Cleanup(answer.Repeat)
	entry.Text = answer.Text

	if answer.Empty() {
		entry.Outcome = chat.TraceNoAnswer
		return false
	}
	if answer.Text == "" {
		answer.Text = answer.Repeat
		entry.Text = answer.Repeat
		r.file(responder.CategoryRepeat, c, answer, view, entry)
		return false
	}
	if answer.Bad {
		r.file(responder.CategoryBad, c, answer, view, entry)
		return false
	}
	if answer.Quibble && r.e.quibbles {
		r.file(responder.CategoryQuibble, c, answer, view, entry)
		return false
	}
	if !answer.GoodMatch() && requireGood {
		r.file(responder.CategoryNoGoodMatch, c, answer, view, entry)
		return false
	}
	if answer.GoodMatch() && answer.Gambit && r.e.rand.Float64() < r.e.gambitDismiss {
		r.file(responder.CategoryGambit, c, answer, view, entry)
		return false
	}

	if r.e.rand.Float64() >= c.weight {
		r.file(responder.CategoryPass, c, answer, view, entry)
		entry.Outcome = chat.TracePassed
		return false
	}

	entry.Outcome = chat.TraceAdmitted
	if view != nil {
		view.Commit()
	}
	chosen := answer
	r.decision.Answer = &chosen
	r.decision.AnsweredBy = c.ID
	r.decision.Stage = stage
	r.decision.Admitted = true
	return true
}

// file stores a candidate for the cache-pick stage. The same responder
// filing the same text twice, as on re-consultation, is kept once.
func (r *run) file(cat responder.Category, c candidate, answer responder.Answer, view responder.StagedView, entry *chat.TraceEntry) {
	entry.Outcome = chat.TraceFiled
	entry.Category = cat
	key := filedKey(cat, c.ID, answer.Text)
	if _, dup := r.filed[key]; dup {
		return
	}
	r.filed[key] = view
	weight := answer.Confidence
	if weight <= 0 {
		weight = c.weight
	}
	r.decision.Filed[cat] = append(r.decision.Filed[cat], chat.Candidate{
		ResponderID: c.ID,
		Answer:      answer,
		Weight:      weight,
	})
}

func filedKey(cat responder.Category, id, text string) string {
	return string(cat) + "\x00" + id + "\x00" + text
}

// cachePick draws a category by weight, then a candidate within it.
func (r *run) cachePick() {
	cats := orderedCategories(r.decision.Filed)
	if len(cats) == 0 {
		return
	}
	weights := make([]float64, len(cats))
	for i, cat := range cats {
		weights[i] = r.e.weights[cat]
	}
	idx := pickWeighted(weights, r.e.rand.Float64())
	if idx < 0 {
		return
	}
	cat := cats[idx]
	pool := r.decision.Filed[cat]

	poolWeights := make([]float64, len(pool))
	for i, cand := range pool {
		poolWeights[i] = cand.Weight
	}
	pick := pickWeighted(poolWeights, r.e.rand.Float64())
	if pick < 0 {
		pick = 0
	}
	chosen := pool[pick]
	if view := r.filed[filedKey(cat, chosen.ResponderID, chosen.Answer.Text)]; view != nil {
		view.Commit()
	}
	answer := chosen.Answer
	r.decision.Answer = &answer
	r.decision.AnsweredBy = chosen.ResponderID
	r.decision.Stage = chat.StageCache
	r.decision.Category = cat
	r.appendTrace(chat.TraceEntry{
		Stage:       chat.StageCache,
		ResponderID: chosen.ResponderID,
		Outcome:     chat.TracePicked,
		Category:    cat,
		Text:        answer.Text,
	})
}

// pin updates the session pins after an admitted answer.
func (r *run) pin() {
	winner, ok := r.find(r.decision.AnsweredBy)
	if !ok {
		return
	}
	question := r.turn.RawQuestion
	if question == "" {
		question = r.turn.Question
	}
	open := ""
	if winner.DynamicLevel && textnorm.IsQuestion(question) {
		open = winner.ID
	}
	r.turn.Session.SetPins(winner.ID, open)
}

func (r *run) appendTrace(entry chat.TraceEntry) {
	r.decision.Trace = append(r.decision.Trace, entry)
	if r.turn.Observer != nil {
		r.turn.Observer(entry)
	}
}
