package chat

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	chatService "github.com/BeranItService/chatbot/internal/service/chat"
	"github.com/BeranItService/chatbot/internal/service/session"
	"github.com/BeranItService/chatbot/pkg/utils"
)

// 布尔型结果沿用 0 表示成功、1 表示失败。
const (
	retOK   = 0
	retFail = 1
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	logger  *slog.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.With("component", "handler.chat"),
	}
}

// RegisterRoutes 注册聊天与会话管理相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat", h.handleChat)
	r.Get("/start_session", h.handleStartSession)
	r.Get("/sessions", h.handleSessions)
	r.Get("/session_history", h.handleSessionHistory)
	r.Get("/reset_session", h.handleResetSession)
	r.Get("/dump_session", h.handleDumpSession)
	r.Get("/set_context", h.handleSetContext)
	r.Get("/remove_context", h.handleRemoveContext)
	r.Get("/get_context", h.handleGetContext)
	r.Get("/rate", h.handleRate)
	r.Get("/feedback", h.handleFeedback)
}

// RequestID 取 X-Request-Id 请求头，其次是 chi 生成的请求 ID，都没有时生成一个新的。
func RequestID(r *http.Request) string {
	if id := r.Header.Get(middleware.RequestIDHeader); id != "" {
		return id
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

// AskRequest 把查询参数转换为一次提问。
func (q AskQuery) AskRequest(requestID string) chatService.AskRequest {
	return chatService.AskRequest{
		SID:       q.Session,
		Question:  q.Question,
		Lang:      q.Lang,
		BotName:   q.BotName,
		IsQuery:   q.Query,
		RequestID: requestID,
		Marker:    q.Marker,
		RunID:     q.RunID,
	}
}

// handleChat 处理一轮对话
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	query, err := ParseAskQuery(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := h.chatSvc.Ask(r.Context(), query.AskRequest(RequestID(r)))
	h.logger.Info("chat", "sid", query.Session, "lang", query.Lang, "outcome", resp.Outcome.String(), "request_id", resp.RequestID)
	utils.RespondEnvelope(w, resp.Ret, resp)
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sid := h.chatSvc.StartSession(r.Context(), session.StartRequest{
		ClientID: q.Get("client_id"),
		User:     q.Get("user"),
		BotName:  q.Get("botname"),
		Test:     parseBool(q.Get("test")),
		Refresh:  parseBool(q.Get("refresh")),
	})
	utils.RespondJSON(w, http.StatusOK, map[string]any{"ret": retOK, "sid": sid})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondEnvelope(w, retOK, h.chatSvc.ListSessions())
}

func (h *Handler) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	req := sessionQuery{Session: r.URL.Query().Get("session")}
	if err := Validate(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	turns, err := h.chatSvc.History(r.Context(), req.Session)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondEnvelope(w, retOK, turns)
}

func (h *Handler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	req := sessionQuery{Session: r.URL.Query().Get("session")}
	if err := Validate(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.chatSvc.ResetSession(r.Context(), req.Session); err != nil {
		utils.RespondEnvelope(w, retFail, "No such session")
		return
	}
	utils.RespondEnvelope(w, retOK, "Session reset")
}

// handleDumpSession 返回会话记录，然后移除会话
func (h *Handler) handleDumpSession(w http.ResponseWriter, r *http.Request) {
	req := sessionQuery{Session: r.URL.Query().Get("session")}
	if err := Validate(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	turns, err := h.chatSvc.RemoveSession(r.Context(), req.Session)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondEnvelope(w, retOK, turns)
}

func (h *Handler) handleSetContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kv, err := parseContext(q.Get("context"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := contextQuery{Session: q.Get("session"), Responder: q.Get("responder"), Context: kv}
	if err := Validate(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.chatSvc.SetContext(req.Session, req.Responder, req.Context); err != nil {
		utils.RespondEnvelope(w, retFail, err.Error())
		return
	}
	utils.RespondEnvelope(w, retOK, "Context is updated")
}

func (h *Handler) handleRemoveContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := removeContextQuery{Session: q.Get("session"), Responder: q.Get("responder"), Keys: splitList(q.Get("keys"))}
	if err := Validate(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	removed, err := h.chatSvc.RemoveContext(req.Session, req.Responder, req.Keys)
	if err != nil {
		utils.RespondEnvelope(w, retFail, err.Error())
		return
	}
	utils.RespondEnvelope(w, retOK, map[string]int{"removed": removed})
}

func (h *Handler) handleGetContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := langQuery{Session: q.Get("session"), Lang: valueOr(q.Get("lang"), DefaultLang)}
	if err := Validate(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, err := h.chatSvc.Context(req.Session, req.Lang)
	if err != nil {
		utils.RespondEnvelope(w, retFail, map[string]string{})
		return
	}
	utils.RespondEnvelope(w, retOK, ctx)
}

func (h *Handler) handleRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	idx, err := parseIndex(q.Get("index"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := rateQuery{Session: q.Get("session"), Index: idx, Rate: q.Get("rate")}
	if err := Validate(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.chatSvc.Rate(req.Session, req.Index, req.Rate); err != nil {
		utils.RespondEnvelope(w, retFail, err.Error())
		return
	}
	utils.RespondEnvelope(w, retOK, "")
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := feedbackQuery{Session: q.Get("session"), Text: q.Get("text"), Label: q.Get("label")}
	if err := Validate(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.chatSvc.Feedback(req.Session, req.Text, req.Label); err != nil {
		utils.RespondEnvelope(w, retFail, err.Error())
		return
	}
	utils.RespondEnvelope(w, retOK, "Feedback recorded")
}

// respondServiceError 把服务层错误映射为 HTTP 状态码
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound), errors.Is(err, chatService.ErrNoHistory):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
