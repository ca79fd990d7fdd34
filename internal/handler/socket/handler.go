package socket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	chatHandler "github.com/BeranItService/chatbot/internal/handler/chat"
	chatModel "github.com/BeranItService/chatbot/internal/model/chat"
	chatService "github.com/BeranItService/chatbot/internal/service/chat"
	"github.com/BeranItService/chatbot/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// 消息类型
const (
	TypeText   = "text"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeTrace  = "trace"
	TypeAnswer = "answer"
	TypeError  = "error"
)

// Handler WebSocket对话处理器，每个文本帧对应一轮对话
type Handler struct {
	chatSvc  *chatService.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(chatSvc *chatService.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.With("component", "handler.socket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// InboundMessage 客户端发来的消息
type InboundMessage struct {
	Type     string `json:"type"`
	Session  string `json:"session"`
	Question string `json:"question"`
	Lang     string `json:"lang"`
	BotName  string `json:"botname"`
	Query    bool   `json:"query"`
	Marker   string `json:"marker"`
	RunID    string `json:"run_id"`
	ID       string `json:"id"`
}

// OutgoingMessage 发给客户端的消息
type OutgoingMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// conn 串行化对同一连接的写操作
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	logger *slog.Logger
}

func (c *conn) send(msg OutgoingMessage) {
	msg.Timestamp = time.Now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Warn("write failed", "type", msg.Type, "error", err)
	}
}

func (c *conn) sendError(id, message string) {
	c.send(OutgoingMessage{Type: TypeError, ID: id, Data: map[string]string{"message": message}})
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := &conn{ws: ws, logger: h.logger}
	defaultSession := r.URL.Query().Get("session")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, ws)

	for {
		var msg InboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("read error", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case TypePing:
			c.send(OutgoingMessage{Type: TypePong, ID: msg.ID})
		case TypeText, "":
			if msg.Session == "" {
				msg.Session = defaultSession
			}
			h.handleText(ctx, c, msg)
		default:
			c.sendError(msg.ID, "unsupported message type: "+msg.Type)
		}
	}
}

func (h *Handler) handleText(ctx context.Context, c *conn, msg InboundMessage) {
	query := chatHandler.AskQuery{
		Question: msg.Question,
		Session:  msg.Session,
		Lang:     msg.Lang,
		BotName:  msg.BotName,
		Query:    msg.Query,
		Marker:   msg.Marker,
		RunID:    msg.RunID,
	}
	if query.Lang == "" {
		query.Lang = chatHandler.DefaultLang
	}
	if query.Marker == "" {
		query.Marker = "default"
	}
	if err := chatHandler.Validate(query); err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}

	requestID := msg.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req := query.AskRequest(requestID)
	req.Observer = func(entry chatModel.TraceEntry) {
		c.send(OutgoingMessage{Type: TypeTrace, ID: msg.ID, Data: entry})
	}

	resp := h.chatSvc.Ask(ctx, req)
	c.send(OutgoingMessage{Type: TypeAnswer, ID: msg.ID, Data: utils.Envelope{Response: resp, Ret: resp.Ret}})
	h.logger.Info("ws turn", "sid", query.Session, "outcome", resp.Outcome.String(), "request_id", requestID)
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
