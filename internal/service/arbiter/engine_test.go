package arbiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeranItService/chatbot/internal/model/chat"
	"github.com/BeranItService/chatbot/internal/model/responder"
)

type fakeResponder struct {
	answer   responder.Answer
	err      error
	delay    time.Duration
	panicMsg string
	favorite bool
	command  string
	context  map[string]string
	calls    atomic.Int32
}

func (f *fakeResponder) Respond(_ context.Context, req responder.Request) (responder.Answer, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	for k, v := range f.context {
		req.Session.SetContext(k, v)
	}
	return f.answer, f.err
}

func (f *fakeResponder) IsCommand(q string) bool { return f.command != "" && q == f.command }
func (f *fakeResponder) IsFavorite(string) bool  { return f.favorite }

type fakeView struct {
	mu        sync.Mutex
	staged    map[string]string
	committed map[string]string
}

func (v *fakeView) SID() string                      { return "sid" }
func (v *fakeView) User() string                     { return "user" }
func (v *fakeView) BotName() string                  { return "bot" }
func (v *fakeView) LastAnswer() string               { return "" }
func (v *fakeView) History(int) []responder.Exchange { return nil }
func (v *fakeView) Context() map[string]string       { return nil }
func (v *fakeView) SetContext(key, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.staged == nil {
		v.staged = map[string]string{}
	}
	v.staged[key] = value
}
func (v *fakeView) Commit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.committed == nil {
		v.committed = map[string]string{}
	}
	for k, val := range v.staged {
		v.committed[k] = val
	}
}

type fakeSession struct {
	open  string
	last  string
	views map[string]*fakeView
}

func (s *fakeSession) OpenResponder() string     { return s.open }
func (s *fakeSession) LastUsedResponder() string { return s.last }
func (s *fakeSession) SetPins(last, open string) { s.last, s.open = last, open }
func (s *fakeSession) ResponderView(id string) responder.StagedView {
	if s.views == nil {
		s.views = map[string]*fakeView{}
	}
	v, ok := s.views[id]
	if !ok {
		v = &fakeView{}
		s.views[id] = v
	}
	return v
}

// seqRand replays draws, repeating the last one when exhausted.
type seqRand struct {
	mu    sync.Mutex
	draws []float64
	idx   int
}

func (s *seqRand) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.draws) == 0 {
		return 0
	}
	if s.idx >= len(s.draws) {
		return s.draws[len(s.draws)-1]
	}
	v := s.draws[s.idx]
	s.idx++
	return v
}

func entry(id string, level int, weight float64, impl responder.Responder) responder.Entry {
	return responder.Entry{
		Descriptor: responder.Descriptor{ID: id, Name: "bot", Level: level, Weight: weight, Languages: []string{"en-US"}},
		Responder:  impl,
	}
}

func exact(text string) responder.Answer {
	return responder.Answer{Text: text, ExactMatch: true}
}

func newEngine(r Rand) *Engine {
	return New(Options{Rand: r, Timeout: time.Second, QuibbleSuppression: true})
}

func outcomes(trace []chat.TraceEntry, id string) []chat.TraceOutcome {
	var out []chat.TraceOutcome
	for _, e := range trace {
		if e.ResponderID == id {
			out = append(out, e.Outcome)
		}
	}
	return out
}

func TestPriorityResponderWins(t *testing.T) {
	a := &fakeResponder{answer: exact("Hi")}
	b := &fakeResponder{}
	sess := &fakeSession{}

	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Lang:       "en-US",
		Responders: []responder.Entry{entry("B", 1, 1, b), entry("A", 0, 1, a)},
		Session:    sess,
	})

	require.True(t, d.Answered())
	assert.Equal(t, "A", d.AnsweredBy)
	assert.Equal(t, "Hi", d.Answer.Text)
	assert.Equal(t, chat.StagePriority, d.Stage)
	assert.True(t, d.Admitted)
	assert.GreaterOrEqual(t, len(d.Trace), 1)
	assert.Equal(t, "A", sess.last)
	assert.Zero(t, b.calls.Load())
}

func TestZeroWeightResponderIsNeverConsulted(t *testing.T) {
	c := &fakeResponder{answer: exact("X")}

	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "y",
		Responders: []responder.Entry{entry("C", 0, 0, c)},
		Session:    &fakeSession{},
	})

	assert.False(t, d.Answered())
	assert.Empty(t, d.Trace)
	assert.Zero(t, c.calls.Load())
}

func TestSessionWeightOverrideDisables(t *testing.T) {
	a := &fakeResponder{answer: exact("Hi")}
	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("A", 0, 1, a)},
		Weights:    map[string]float64{"A": 0},
	})
	assert.False(t, d.Answered())
	assert.Zero(t, a.calls.Load())
}

func TestRepeatIsPickedFromCache(t *testing.T) {
	d1 := &fakeResponder{answer: responder.Answer{Repeat: "same as before"}}
	quiet := &fakeResponder{}

	d := newEngine(NewRand(7)).Run(context.Background(), Turn{
		Question:   "again",
		Responders: []responder.Entry{entry("D", 0, 1, d1), entry("Q", 1, 1, quiet)},
		Session:    &fakeSession{},
	})

	require.True(t, d.Answered())
	assert.Equal(t, "same as before", d.Answer.Text)
	assert.Equal(t, responder.CategoryRepeat, d.Category)
	assert.Equal(t, chat.StageCache, d.Stage)
	assert.False(t, d.Admitted)
	assert.Len(t, d.Filed[responder.CategoryRepeat], 1, "re-consultation files once")
}

func TestSeededSingleResponderAlwaysAdmitted(t *testing.T) {
	e := newEngine(NewRand(42))
	for i := 0; i < 100; i++ {
		sess := &fakeSession{}
		d := e.Run(context.Background(), Turn{
			Question:   "hello",
			Responders: []responder.Entry{entry("A", 0, 1, &fakeResponder{answer: exact("Hi")})},
			Session:    sess,
		})
		require.True(t, d.Admitted)
		require.Equal(t, "A", sess.last)
	}
}

func TestTimedOutResponderIsNoAnswer(t *testing.T) {
	slow := &fakeResponder{answer: exact("late"), delay: 200 * time.Millisecond, context: map[string]string{"k": "v"}}
	fast := &fakeResponder{answer: exact("fast")}
	sess := &fakeSession{}

	e := New(Options{Rand: NewRand(1), Timeout: 20 * time.Millisecond})
	d := e.Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("slow", 0, 1, slow), entry("fast", 1, 1, fast)},
		Session:    sess,
	})

	require.True(t, d.Answered())
	assert.Equal(t, "fast", d.AnsweredBy)
	assert.Contains(t, outcomes(d.Trace, "slow"), chat.TraceTimeout)
	assert.Empty(t, sess.views["slow"].committed, "timed out writes are dropped")
}

func TestFaultyRespondersAreIsolated(t *testing.T) {
	boom := &fakeResponder{panicMsg: "kaboom"}
	failing := &fakeResponder{err: errors.New("backend down")}
	good := &fakeResponder{answer: exact("ok")}

	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question: "hello",
		Responders: []responder.Entry{
			entry("boom", 0, 1, boom),
			entry("failing", 1, 1, failing),
			entry("good", 2, 1, good),
		},
	})

	require.True(t, d.Answered())
	assert.Equal(t, "good", d.AnsweredBy)
	assert.Contains(t, outcomes(d.Trace, "boom"), chat.TraceError)
	assert.Contains(t, outcomes(d.Trace, "failing"), chat.TraceError)
}

func TestRejectedAdmissionIsFiledAsPass(t *testing.T) {
	a := &fakeResponder{answer: exact("maybe")}
	sess := &fakeSession{last: "prev"}

	d := newEngine(&seqRand{draws: []float64{0.9}}).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("A", 0, 0.5, a)},
		Session:    sess,
	})

	require.True(t, d.Answered())
	assert.Equal(t, chat.StageCache, d.Stage)
	assert.Equal(t, responder.CategoryPass, d.Category)
	assert.False(t, d.Admitted)
	assert.Equal(t, "prev", sess.last, "cache picks do not move pins")
	assert.Equal(t, []chat.TraceOutcome{chat.TracePassed, chat.TracePassed, chat.TracePicked}, outcomes(d.Trace, "A"))
}

func TestPinnedResponderIsConsultedFirst(t *testing.T) {
	a := &fakeResponder{answer: exact("from A")}
	b := &fakeResponder{answer: exact("from B")}
	b2 := entry("B", 1, 1, b)
	b2.DynamicLevel = true
	sess := &fakeSession{open: "B"}
	e := newEngine(NewRand(1))

	d := e.Run(context.Background(), Turn{
		Question:   "and then?",
		Responders: []responder.Entry{entry("A", 0, 1, a), b2},
		Session:    sess,
	})
	assert.Equal(t, "B", d.AnsweredBy)
	assert.Equal(t, chat.StagePinned, d.Stage)
	assert.Equal(t, "B", sess.open, "dynamic winner of a question keeps the pin")

	d = e.Run(context.Background(), Turn{
		Question:   "ok",
		Responders: []responder.Entry{entry("A", 0, 1, a), b2},
		Session:    sess,
	})
	assert.Equal(t, "B", d.AnsweredBy)
	assert.Equal(t, "B", sess.last)
	assert.Empty(t, sess.open, "statement clears the pin")
}

func TestPinSurvivesExhaustion(t *testing.T) {
	b := entry("B", 0, 1, &fakeResponder{})
	b.DynamicLevel = true
	sess := &fakeSession{open: "B", last: "B"}

	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "what?",
		Responders: []responder.Entry{b},
		Session:    sess,
	})
	assert.False(t, d.Answered())
	assert.Equal(t, "B", sess.open)
}

func TestPreferenceStageSkipsGoodMatchRequirement(t *testing.T) {
	a := &fakeResponder{answer: responder.Answer{Text: "vague"}}
	f := &fakeResponder{answer: responder.Answer{Text: "my favourite topic"}, favorite: true}

	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "tell me about robots",
		Responders: []responder.Entry{entry("A", 0, 1, a), entry("F", 1, 1, f)},
		Session:    &fakeSession{},
	})

	require.True(t, d.Answered())
	assert.Equal(t, "F", d.AnsweredBy)
	assert.Equal(t, chat.StagePreference, d.Stage)
	assert.Len(t, d.Filed[responder.CategoryNoGoodMatch], 1)
}

func TestContinuityStageUsesDynamicLastResponder(t *testing.T) {
	a := &fakeResponder{}
	m := &fakeResponder{}
	l := entry("L", 2, 1, &fakeResponder{answer: exact("continuing")})
	l.DynamicLevel = true
	sess := &fakeSession{last: "L"}

	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "go on",
		Responders: []responder.Entry{entry("A", 0, 1, a), entry("M", 1, 1, m), l},
		Session:    sess,
	})

	require.True(t, d.Answered())
	assert.Equal(t, "L", d.AnsweredBy)
	assert.Equal(t, chat.StageContinuity, d.Stage)
	assert.Zero(t, m.calls.Load(), "continuity decides before round-robin")
}

func TestLazyResponderSkippedOnceSomethingFiled(t *testing.T) {
	a := &fakeResponder{answer: responder.Answer{Text: "hmm"}}
	z := entry("Z", 1, 1, &fakeResponder{answer: exact("generated")})
	z.Lazy = true

	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("A", 0, 1, a), z},
	})

	require.True(t, d.Answered())
	assert.Equal(t, "A", d.AnsweredBy)
	assert.Equal(t, responder.CategoryNoGoodMatch, d.Category)
	assert.Zero(t, z.Responder.(*fakeResponder).calls.Load())
}

func TestLazyResponderConsultedWhenNothingElseAnswers(t *testing.T) {
	z := entry("Z", 1, 1, &fakeResponder{answer: exact("generated")})
	z.Lazy = true

	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("A", 0, 1, &fakeResponder{}), z},
	})

	require.True(t, d.Answered())
	assert.Equal(t, "Z", d.AnsweredBy)
	assert.Equal(t, chat.StageRoundRobin, d.Stage)
}

func TestGambitDismissalThenRetry(t *testing.T) {
	g := &fakeResponder{answer: responder.Answer{Text: "new topic", ExactMatch: true, Gambit: true}}

	d := newEngine(&seqRand{draws: []float64{0.1, 0.5, 0.0}}).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("G", 0, 1, g)},
	})

	require.True(t, d.Answered())
	assert.True(t, d.Admitted)
	assert.Equal(t, chat.StageRoundRobin, d.Stage)
	assert.Len(t, d.Filed[responder.CategoryGambit], 1)
}

func TestQuibbleSuppression(t *testing.T) {
	q := responder.Answer{Text: "well...", PartialMatch: true, Quibble: true}

	suppressed := New(Options{Rand: NewRand(1), QuibbleSuppression: true}).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("Q", 0, 1, &fakeResponder{answer: q})},
	})
	assert.Equal(t, responder.CategoryQuibble, suppressed.Category)
	assert.False(t, suppressed.Admitted)

	admitted := New(Options{Rand: NewRand(1)}).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("Q", 0, 1, &fakeResponder{answer: q})},
	})
	assert.True(t, admitted.Admitted)
}

func TestBadAnswersAreNeverSurfaced(t *testing.T) {
	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("X", 0, 1, &fakeResponder{answer: responder.Answer{Text: "rude", ExactMatch: true, Bad: true}})},
	})
	assert.False(t, d.Answered())
	assert.Len(t, d.Filed[responder.CategoryBad], 1)
}

func TestQueryModeLeavesPins(t *testing.T) {
	sess := &fakeSession{last: "old"}
	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("A", 0, 1, &fakeResponder{answer: exact("Hi")})},
		Session:    sess,
		IsQuery:    true,
	})
	assert.True(t, d.Admitted)
	assert.Equal(t, "old", sess.last)
}

func TestObserverSeesEveryTraceEntry(t *testing.T) {
	var seen []chat.TraceEntry
	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("A", 0, 1, &fakeResponder{}), entry("B", 1, 1, &fakeResponder{answer: exact("b")})},
		Observer:   func(e chat.TraceEntry) { seen = append(seen, e) },
	})
	assert.Equal(t, d.Trace, seen)
}

func TestContextWritesCommittedOnSuccess(t *testing.T) {
	sess := &fakeSession{}
	newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("A", 0, 1, &fakeResponder{answer: exact("Hi"), context: map[string]string{"topic": "robots"}})},
		Session:    sess,
	})
	assert.Equal(t, "robots", sess.views["A"].committed["topic"])
}

func TestPickWeighted(t *testing.T) {
	assert.Equal(t, -1, pickWeighted([]float64{0, 0}, 0.5))
	assert.Equal(t, 0, pickWeighted([]float64{1, 1}, 0.0))
	assert.Equal(t, 1, pickWeighted([]float64{1, 1}, 0.6))
	assert.Equal(t, 2, pickWeighted([]float64{1, 0, 1}, 0.99))
	assert.Equal(t, 0, pickWeighted([]float64{100, 20}, 0.5))
}

func TestSameSeedSameDecisions(t *testing.T) {
	run := func() []string {
		e := newEngine(NewRand(99))
		var winners []string
		for i := 0; i < 20; i++ {
			d := e.Run(context.Background(), Turn{
				Question: "hello",
				Responders: []responder.Entry{
					entry("A", 0, 0.3, &fakeResponder{answer: exact("a")}),
					entry("B", 1, 0.3, &fakeResponder{answer: exact("b")}),
				},
			})
			winners = append(winners, d.AnsweredBy+string(d.Stage))
		}
		return winners
	}
	assert.Equal(t, run(), run())
}

func TestWhitespaceAnswerIsNoAnswer(t *testing.T) {
	blank := &fakeResponder{answer: responder.Answer{Text: "   ", ExactMatch: true}}
	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("X", 0, 1, blank)},
	})
	assert.False(t, d.Answered())
	assert.Empty(t, d.Filed)
	assert.Equal(t, []chat.TraceOutcome{chat.TraceNoAnswer, chat.TraceNoAnswer}, outcomes(d.Trace, "X"))

	d = newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("X", 0, 1, &fakeResponder{answer: responder.Answer{Text: " \t", Repeat: " I said hi. "}})},
	})
	require.True(t, d.Answered())
	assert.Equal(t, responder.CategoryRepeat, d.Category)
	assert.Equal(t, "I said hi.", d.Answer.Text)
}

func TestPriorityStageSkippedWhenTopIsPinned(t *testing.T) {
	top := entry("T", 0, 1, &fakeResponder{answer: responder.Answer{Text: "hmm"}})
	top.DynamicLevel = true
	next := &fakeResponder{answer: exact("from next")}
	sess := &fakeSession{open: "T"}

	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "why?",
		Responders: []responder.Entry{top, entry("N", 1, 1, next)},
		Session:    sess,
	})

	require.True(t, d.Answered())
	assert.Equal(t, "N", d.AnsweredBy)
	assert.Equal(t, chat.StageRoundRobin, d.Stage)
	for _, e := range d.Trace {
		assert.NotEqual(t, chat.StagePriority, e.Stage)
	}
}

func TestGambitDismissalCanBeDisabled(t *testing.T) {
	g := &fakeResponder{answer: responder.Answer{Text: "new topic", ExactMatch: true, Gambit: true}}
	e := New(Options{Rand: &seqRand{draws: []float64{0.0}}, DisableGambitDismissal: true})
	d := e.Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("G", 0, 1, g)},
	})
	assert.True(t, d.Admitted)
	assert.Equal(t, chat.StagePriority, d.Stage)
	assert.InDelta(t, DefaultGambitDismissRate, New(Options{}).gambitDismiss, 1e-9)
}

type panickyCommand struct{ fakeResponder }

func (p *panickyCommand) IsCommand(string) bool { panic("bad matcher") }

func TestCommandAnswersOutsideArbitration(t *testing.T) {
	status := &fakeResponder{command: ":status", answer: responder.Answer{Text: "all good"}, context: map[string]string{"k": "v"}}
	sess := &fakeSession{last: "old"}
	var seen []chat.TraceEntry

	d, ok := newEngine(NewRand(1)).Command(context.Background(), Turn{
		Question: ":status",
		Responders: []responder.Entry{
			entry("broken", 0, 1, &panickyCommand{}),
			entry("other", 1, 1, &fakeResponder{}),
			entry("status", 2, 1, status),
		},
		Session:  sess,
		Observer: func(e chat.TraceEntry) { seen = append(seen, e) },
	})

	require.True(t, ok)
	require.True(t, d.Answered())
	assert.Equal(t, "status", d.AnsweredBy)
	assert.Equal(t, chat.StageCommand, d.Stage)
	assert.Equal(t, "all good", d.Answer.Text)
	assert.Equal(t, d.Trace, seen)
	assert.Equal(t, "v", sess.views["status"].committed["k"])
	assert.Equal(t, "old", sess.last, "commands leave pins alone")

	_, ok = newEngine(NewRand(1)).Command(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("status", 0, 1, status)},
	})
	assert.False(t, ok)
}

func TestCommandFaultsAreContained(t *testing.T) {
	boom := &fakeResponder{command: ":boom", panicMsg: "boom"}
	slow := &fakeResponder{command: ":slow", answer: responder.Answer{Text: "late"}, delay: time.Second}
	e := New(Options{Rand: NewRand(1), Timeout: 50 * time.Millisecond})

	d, ok := e.Command(context.Background(), Turn{Question: ":boom", Responders: []responder.Entry{entry("boom", 0, 1, boom)}})
	require.True(t, ok)
	assert.False(t, d.Answered())
	assert.Equal(t, []chat.TraceOutcome{chat.TraceError}, outcomes(d.Trace, "boom"))

	start := time.Now()
	d, ok = e.Command(context.Background(), Turn{Question: ":slow", Responders: []responder.Entry{entry("slow", 0, 1, slow)}})
	require.True(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, d.Answered())
	assert.Equal(t, []chat.TraceOutcome{chat.TraceTimeout}, outcomes(d.Trace, "slow"))
}

func TestOnlySurfacedAnswerCommitsContext(t *testing.T) {
	vague := &fakeResponder{answer: responder.Answer{Text: "vague"}, context: map[string]string{"cursor": "1"}}
	sure := &fakeResponder{answer: exact("sure"), context: map[string]string{"cursor": "2"}}
	sess := &fakeSession{}

	d := newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("V", 0, 1, vague), entry("S", 1, 1, sure)},
		Session:    sess,
	})
	require.Equal(t, "S", d.AnsweredBy)
	assert.EqualValues(t, 2, vague.calls.Load(), "re-consulted in round robin")
	assert.Empty(t, sess.views["V"].committed)
	assert.Equal(t, "2", sess.views["S"].committed["cursor"])

	sess = &fakeSession{}
	d = newEngine(NewRand(1)).Run(context.Background(), Turn{
		Question:   "hello",
		Responders: []responder.Entry{entry("V", 0, 1, vague)},
		Session:    sess,
	})
	require.Equal(t, chat.StageCache, d.Stage)
	assert.Equal(t, "1", sess.views["V"].committed["cursor"], "cache pick commits its candidate")
}
