package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeranItService/chatbot/internal/model/responder"
)

type stubResponder struct{ text string }

func (s stubResponder) Respond(context.Context, responder.Request) (responder.Answer, error) {
	return responder.Answer{Text: s.text, ExactMatch: true}, nil
}
func (stubResponder) IsCommand(string) bool  { return false }
func (stubResponder) IsFavorite(string) bool { return false }

func stubFactories() map[string]Factory {
	return map[string]Factory{
		"stub": func(_ context.Context, spec Spec) (responder.Responder, error) {
			var cfg struct {
				Text string `yaml:"text"`
			}
			if err := spec.Decode(&cfg); err != nil {
				return nil, err
			}
			return stubResponder{text: cfg.Text}, nil
		},
	}
}

const catalogueYAML = `
characters:
  - id: chat
    name: sophia
    type: stub
    level: 50
    weight: 1
    languages: [en-US]
    config:
      text: hi
  - id: pattern
    name: sophia
    type: stub
    level: 10
    weight: 0.5
    dynamic_level: true
    languages: [en-US, zh-CN]
  - id: private
    name: sophia
    type: stub
    level: 5
    weight: 1
    user: alice
    languages: [en-US]
  - id: fallback
    name: generic
    type: stub
    level: 100
    weight: 1
    lazy: true
    languages: [en-US]
  - id: han
    name: han
    type: stub
    level: 1
    weight: 1
    languages: [en-US]
`

func writeCatalogue(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "characters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func ids(entries []responder.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestReloadBuildsSnapshot(t *testing.T) {
	r := New(Options{Path: writeCatalogue(t, catalogueYAML), Factories: stubFactories()})
	require.NoError(t, r.Reload(context.Background()))

	snap := r.Snapshot()
	assert.Equal(t, 5, snap.Len())
	assert.Equal(t, 1, snap.Version())

	entry, ok := snap.Get("chat")
	require.True(t, ok)
	answer, err := entry.Responder.Respond(context.Background(), responder.Request{})
	require.NoError(t, err)
	assert.Equal(t, "hi", answer.Text)

	_, ok = snap.Get("alice/private")
	assert.True(t, ok, "user scoped ids are prefixed")
	assert.Equal(t, []string{"han", "sophia"}, snap.BotNames())
}

func TestApplicableOrdersByLevelAndAppendsGeneric(t *testing.T) {
	r := New(Options{Path: writeCatalogue(t, catalogueYAML), Factories: stubFactories()})
	require.NoError(t, r.Reload(context.Background()))
	snap := r.Snapshot()

	assert.Equal(t, []string{"pattern", "chat", "fallback"}, ids(snap.Applicable("sophia", "en-US", "bob")))
	assert.Equal(t, []string{"alice/private", "pattern", "chat", "fallback"}, ids(snap.Applicable("Sophia", "en-us", "alice")))
	assert.Equal(t, []string{"pattern"}, ids(snap.Applicable("sophia", "zh-CN", "bob")))
	assert.Empty(t, snap.Applicable("unknown", "en-US", "bob"), "generic alone does not make a bot")
	assert.Empty(t, snap.Applicable("sophia", "fr-FR", "bob"))
}

func TestSetWeightIsCopyOnWrite(t *testing.T) {
	r := New(Options{Path: writeCatalogue(t, catalogueYAML), Factories: stubFactories()})
	require.NoError(t, r.Reload(context.Background()))
	before := r.Snapshot()

	require.NoError(t, r.SetWeight("chat", 0.2))
	after := r.Snapshot()

	old, _ := before.Get("chat")
	updated, _ := after.Get("chat")
	assert.Equal(t, 1.0, old.Weight)
	assert.Equal(t, 0.2, updated.Weight)

	assert.ErrorIs(t, r.SetWeight("chat", 1.5), ErrInvalidWeight)
	assert.ErrorIs(t, r.SetWeight("nobody", 0.5), ErrUnknownResponder)
}

func TestReloadErrorKeepsPreviousSnapshot(t *testing.T) {
	path := writeCatalogue(t, catalogueYAML)
	r := New(Options{Path: path, Factories: stubFactories()})
	require.NoError(t, r.Reload(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte("characters:\n  - id: x\n    name: y\n    type: missing\n"), 0o644))
	err := r.Reload(context.Background())
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, 5, r.Snapshot().Len())
}

func TestBuildRejectsInvalidEntries(t *testing.T) {
	r := New(Options{Factories: stubFactories()})
	cases := map[string]string{
		"missing id":   "characters:\n  - name: a\n    type: stub\n",
		"missing name": "characters:\n  - id: a\n    type: stub\n",
		"bad weight":   "characters:\n  - id: a\n    name: a\n    type: stub\n    weight: 2\n",
		"duplicate":    "characters:\n  - id: a\n    name: a\n    type: stub\n  - id: a\n    name: a\n    type: stub\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Build(context.Background(), []byte(content))
			assert.Error(t, err)
		})
	}
	assert.ErrorIs(t, r.Reload(context.Background()), ErrNoCatalogue)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := writeCatalogue(t, catalogueYAML)
	r := New(Options{Path: path, Factories: stubFactories()})
	require.NoError(t, r.Reload(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, 10*time.Millisecond) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	single := "characters:\n  - id: only\n    name: sophia\n    type: stub\n    weight: 1\n    languages: [en-US]\n"
	require.NoError(t, os.WriteFile(path, []byte(single), 0o644))

	require.Eventually(t, func() bool { return r.Snapshot().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
