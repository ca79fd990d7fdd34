package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type client struct {
	base string
	auth string
	http *http.Client
}

type reply struct {
	Ret      int `json:"ret"`
	Response struct {
		Message    string `json:"message"`
		Text       string `json:"text"`
		AnsweredBy string `json:"botid"`
	} `json:"response"`
}

func newClient() *client {
	return &client{
		base: strings.TrimRight(serverURL, "/") + "/v2.0",
		auth: authKey,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) Start(ctx context.Context, bot string) (string, error) {
	var out struct {
		Ret int    `json:"ret"`
		SID string `json:"sid"`
	}
	if err := c.get(ctx, "/start_session", url.Values{"botname": {bot}}, &out); err != nil {
		return "", err
	}
	if out.SID == "" {
		return "", fmt.Errorf("start_session returned no sid (ret %d)", out.Ret)
	}
	return out.SID, nil
}

func (c *client) Ask(ctx context.Context, sid, question, lang string) (reply, error) {
	var out reply
	err := c.get(ctx, "/chat", url.Values{"session": {sid}, "question": {question}, "lang": {lang}}, &out)
	return out, err
}

func (c *client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.auth != "" {
		params.Set("Auth", c.auth)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Response struct {
				Text string `json:"text"`
			} `json:"response"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %s %s", path, resp.Status, e.Response.Text)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
