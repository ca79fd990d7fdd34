// Package remote implements a responder backed by an HTTP question
// answering service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BeranItService/chatbot/internal/model/responder"
	"github.com/BeranItService/chatbot/internal/service/registry"
)

// Type is the catalogue type name of this responder.
const Type = "remote"

const defaultTimeout = 3 * time.Second

var ErrNoEndpoint = errors.New("remote responder needs an endpoint")

// Config is the type specific catalogue block.
type Config struct {
	Endpoint  string            `yaml:"endpoint"`
	Timeout   time.Duration     `yaml:"timeout"`
	Headers   map[string]string `yaml:"headers"`
	Favorites []string          `yaml:"favorites"`
	// History is how many past exchanges are forwarded.
	History int `yaml:"history"`
}

type request struct {
	Question  string               `json:"question"`
	Lang      string               `json:"lang"`
	SessionID string               `json:"session,omitempty"`
	User      string               `json:"user,omitempty"`
	BotName   string               `json:"botname,omitempty"`
	Query     bool                 `json:"query,omitempty"`
	History   []responder.Exchange `json:"history,omitempty"`
}

type reply struct {
	Ret      int              `json:"ret"`
	Response responder.Answer `json:"response"`
}

// Responder forwards questions to an HTTP endpoint.
type Responder struct {
	endpoint  string
	headers   map[string]string
	favorites []string
	history   int
	client    *http.Client
}

var _ responder.Responder = (*Responder)(nil)

// New returns a remote responder. A nil client uses one with cfg.Timeout.
func New(cfg Config, client *http.Client) (*Responder, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrNoEndpoint
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	favorites := make([]string, 0, len(cfg.Favorites))
	for _, f := range cfg.Favorites {
		favorites = append(favorites, strings.ToLower(f))
	}
	return &Responder{
		endpoint:  cfg.Endpoint,
		headers:   cfg.Headers,
		favorites: favorites,
		history:   cfg.History,
		client:    client,
	}, nil
}

// Factory builds remote responders from catalogue specs.
func Factory(_ context.Context, spec registry.Spec) (responder.Responder, error) {
	var cfg Config
	if err := spec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode remote config: %w", err)
	}
	return New(cfg, nil)
}

func (r *Responder) IsCommand(string) bool { return false }

func (r *Responder) IsFavorite(question string) bool {
	q := strings.ToLower(question)
	for _, f := range r.favorites {
		if strings.Contains(q, f) {
			return true
		}
	}
	return false
}

// Respond posts the question and maps the reply to an answer. A non-zero
// ret in the reply means the service had nothing to say.
func (r *Responder) Respond(ctx context.Context, req responder.Request) (responder.Answer, error) {
	body := request{Question: req.Question, Lang: req.Lang, Query: req.IsQuery}
	if req.Session != nil {
		body.SessionID = req.Session.SID()
		body.User = req.Session.User()
		body.BotName = req.Session.BotName()
		if r.history > 0 {
			body.History = req.Session.History(r.history)
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return responder.Answer{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return responder.Answer{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-Id", req.RequestID)
	}
	for k, v := range r.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return responder.Answer{}, fmt.Errorf("call %s: %w", r.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return responder.Answer{}, fmt.Errorf("call %s: status %d: %s", r.endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out reply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return responder.Answer{}, fmt.Errorf("decode reply: %w", err)
	}
	if out.Ret != 0 {
		return responder.Answer{}, nil
	}
	return out.Response, nil
}
