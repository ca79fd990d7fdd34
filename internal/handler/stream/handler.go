package stream

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatHandler "github.com/BeranItService/chatbot/internal/handler/chat"
	chatModel "github.com/BeranItService/chatbot/internal/model/chat"
	chatService "github.com/BeranItService/chatbot/internal/service/chat"
	"github.com/BeranItService/chatbot/pkg/utils"
)

// SSE 事件类型
const (
	EventTrace  = "trace"
	EventAnswer = "answer"
	EventError  = "error"
	EventEnd    = "end"
)

// Handler 以 Server-Sent Events 推送一轮对话的仲裁过程与最终回答
type Handler struct {
	chatSvc *chatService.Service
	logger  *slog.Logger
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chatSvc: chatSvc, logger: logger.With("component", "handler.stream")}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string                `json:"event"`
	SessionID string                `json:"sid,omitempty"`
	Trace     *chatModel.TraceEntry `json:"trace,omitempty"`
	Answer    *utils.Envelope       `json:"answer,omitempty"`
	Finished  bool                  `json:"finished,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// RegisterRoutes 注册流式路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	query, err := chatHandler.ParseAskQuery(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	send := func(resp StreamResponse) {
		if err := sse.Event(resp.Event, resp); err != nil {
			h.logger.Warn("failed to write sse event", "event", resp.Event, "error", err)
		}
	}

	req := query.AskRequest(chatHandler.RequestID(r))
	req.Observer = func(entry chatModel.TraceEntry) {
		if r.Context().Err() != nil {
			return
		}
		send(StreamResponse{Event: EventTrace, SessionID: query.Session, Trace: &entry})
	}

	resp := h.chatSvc.Ask(r.Context(), req)
	if r.Context().Err() != nil {
		h.logger.Debug("client went away", "sid", query.Session, "request_id", req.RequestID)
		return
	}

	if resp.Outcome != chatModel.Success {
		send(StreamResponse{Event: EventError, SessionID: query.Session, Error: resp.Message})
	}
	send(StreamResponse{
		Event:     EventAnswer,
		SessionID: query.Session,
		Answer:    &utils.Envelope{Response: resp, Ret: resp.Ret},
	})
	send(StreamResponse{Event: EventEnd, SessionID: query.Session, Finished: true})

	h.logger.Info("stream completed", "sid", query.Session, "outcome", resp.Outcome.String(), "request_id", req.RequestID)
}
