package chat

import "time"

// SessionInfo is the listing view of one live session.
type SessionInfo struct {
	SID          string    `json:"sid"`
	ClientID     string    `json:"client_id"`
	User         string    `json:"user"`
	BotName      string    `json:"bot_name"`
	Test         bool      `json:"test"`
	Turns        int       `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	LastUsed     string    `json:"last_used_responder,omitempty"`
	Open         string    `json:"open_responder,omitempty"`
}
