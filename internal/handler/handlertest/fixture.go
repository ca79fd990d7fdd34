// Package handlertest builds a chat service over a small pattern catalogue
// for handler tests.
package handlertest

import (
	"context"
	"testing"
	"time"

	"github.com/BeranItService/chatbot/internal/service/arbiter"
	chatService "github.com/BeranItService/chatbot/internal/service/chat"
	"github.com/BeranItService/chatbot/internal/service/fallback"
	"github.com/BeranItService/chatbot/internal/service/pattern"
	"github.com/BeranItService/chatbot/internal/service/registry"
	"github.com/BeranItService/chatbot/internal/service/session"
)

// Catalogue is the YAML catalogue the fixture loads.
const Catalogue = `
characters:
  - id: sophia.pattern
    name: sophia
    type: pattern
    level: 0
    weight: 1
    languages: [en-US]
    config:
      rules:
        - pattern: "hello|hi"
          match: exact
          answers: ["Hi there."]
          emotion: happy
          topic: greeting
      commands:
        ":status": "all good"
  - id: generic.pattern
    name: generic
    type: pattern
    level: 10
    weight: 1
    languages: [en-US]
    config:
      rules:
        - pattern: "weather"
          answers: ["It looks sunny."]
          topic: weather
`

// Fixture is a chat service with its collaborators.
type Fixture struct {
	Service  *chatService.Service
	Registry *registry.Registry
	Sessions *session.Store
}

// New loads Catalogue and wires a chat service without translation.
func New(t testing.TB) *Fixture {
	t.Helper()
	reg := registry.New(registry.Options{Factories: map[string]registry.Factory{pattern.Type: pattern.Factory}})
	entries, err := reg.Build(context.Background(), []byte(Catalogue))
	if err != nil {
		t.Fatalf("build catalogue: %v", err)
	}
	reg.Replace(entries)

	store := session.NewStore(session.Options{IdleTimeout: -1})
	svc := chatService.NewService(chatService.Options{
		Sessions:  store,
		Catalogue: reg,
		Engine:    arbiter.New(arbiter.Options{Rand: arbiter.NewRand(1), Timeout: time.Second, DisableGambitDismissal: true}),
		Fallback:  fallback.New(fallback.Options{}),
	})
	return &Fixture{Service: svc, Registry: reg, Sessions: store}
}

// Start opens a session on the sophia bot.
func (f *Fixture) Start() string {
	return f.Service.StartSession(context.Background(), session.StartRequest{ClientID: "test", User: "tester", BotName: "sophia"})
}
