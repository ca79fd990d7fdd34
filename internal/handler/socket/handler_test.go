package socket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeranItService/chatbot/internal/handler/handlertest"
	chatModel "github.com/BeranItService/chatbot/internal/model/chat"
)

type received struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	fixture := handlertest.New(t)
	sid := fixture.Start()

	r := chi.NewRouter()
	New(fixture.Service, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=" + sid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, sid
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) (received, []received) {
	t.Helper()
	var before []received
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg received
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg, before
		}
		before = append(before, msg)
	}
}

func TestTextFrameAnswers(t *testing.T) {
	conn, sid := dial(t)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: TypeText, Question: "hello", ID: "q1"}))
	answer, before := readUntil(t, conn, TypeAnswer)

	assert.Equal(t, "q1", answer.ID)
	require.NotEmpty(t, before)
	assert.Equal(t, TypeTrace, before[0].Type)

	var env struct {
		Ret      int `json:"ret"`
		Response struct {
			Text string `json:"text"`
			SID  string `json:"sid"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(answer.Data, &env))
	assert.Equal(t, 0, env.Ret)
	assert.Equal(t, "Hi there.", env.Response.Text)
	assert.Equal(t, sid, env.Response.SID)
}

func TestPingAndUnsupportedType(t *testing.T) {
	conn, _ := dial(t)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: TypePing, ID: "p1"}))
	pong, _ := readUntil(t, conn, TypePong)
	assert.Equal(t, "p1", pong.ID)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "audio", ID: "a1"}))
	errMsg, _ := readUntil(t, conn, TypeError)
	assert.Equal(t, "a1", errMsg.ID)
	assert.Contains(t, string(errMsg.Data), "unsupported message type")
}

func TestTextFrameValidation(t *testing.T) {
	conn, _ := dial(t)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: TypeText, Question: "hello", Lang: "not a tag", ID: "q2"}))
	errMsg, _ := readUntil(t, conn, TypeError)
	assert.Equal(t, "q2", errMsg.ID)
	assert.Contains(t, string(errMsg.Data), "lang")

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: TypeText, ID: "q3"}))
	answer, _ := readUntil(t, conn, TypeAnswer)
	assert.Equal(t, "q3", answer.ID)
	var env struct {
		Ret int `json:"ret"`
	}
	require.NoError(t, json.Unmarshal(answer.Data, &env))
	assert.Equal(t, int(chatModel.InvalidQuestion), env.Ret)
}
