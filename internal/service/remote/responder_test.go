package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeranItService/chatbot/internal/model/responder"
)

type view struct{}

func (view) SID() string                { return "sid-1" }
func (view) User() string               { return "ann" }
func (view) BotName() string            { return "sophia" }
func (view) Context() map[string]string { return nil }
func (view) SetContext(string, string)  {}
func (view) LastAnswer() string         { return "" }
func (view) History(n int) []responder.Exchange {
	return []responder.Exchange{{Question: "hi", Answer: "hello"}}[:min(n, 1)]
}

func TestRespondMapsReply(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "req-1", r.Header.Get("X-Request-Id"))
		assert.Equal(t, "secret", r.Header.Get("X-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ret":0,"response":{"text":"Paris.","ok_match":true,"topic":"geo","confidence":0.8}}`))
	}))
	defer srv.Close()

	r, err := New(Config{Endpoint: srv.URL, Headers: map[string]string{"X-Key": "secret"}, History: 3}, srv.Client())
	require.NoError(t, err)

	answer, err := r.Respond(context.Background(), responder.Request{Question: "capital of france", Lang: "en-US", Session: view{}, RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", answer.Text)
	assert.True(t, answer.PartialMatch)
	assert.Equal(t, "geo", answer.Topic)
	assert.InDelta(t, 0.8, answer.Confidence, 1e-9)

	assert.Equal(t, "capital of france", got.Question)
	assert.Equal(t, "sid-1", got.SessionID)
	assert.Equal(t, "sophia", got.BotName)
	assert.Len(t, got.History, 1)
}

func TestRespondNonZeroRetIsNoAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ret":2,"response":{"text":"ignored"}}`))
	}))
	defer srv.Close()

	r, err := New(Config{Endpoint: srv.URL}, srv.Client())
	require.NoError(t, err)
	answer, err := r.Respond(context.Background(), responder.Request{Question: "x"})
	require.NoError(t, err)
	assert.True(t, answer.Empty())
}

func TestRespondErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	r, err := New(Config{Endpoint: srv.URL}, srv.Client())
	require.NoError(t, err)
	_, err = r.Respond(context.Background(), responder.Request{Question: "x"})
	assert.ErrorContains(t, err, "status 502")

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()
	r, err = New(Config{Endpoint: slow.URL}, slow.Client())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Respond(ctx, responder.Request{Question: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestIsFavorite(t *testing.T) {
	r, err := New(Config{Endpoint: "http://localhost", Favorites: []string{"Capital"}}, nil)
	require.NoError(t, err)
	assert.True(t, r.IsFavorite("what is the capital of Peru"))
	assert.False(t, r.IsCommand("anything"))
}
