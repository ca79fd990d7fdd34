package character

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	chatHandler "github.com/BeranItService/chatbot/internal/handler/chat"
	chatService "github.com/BeranItService/chatbot/internal/service/chat"
	"github.com/BeranItService/chatbot/pkg/utils"
)

var validate = validator.New()

type listQuery struct {
	Session string
	Lang    string `validate:"omitempty,bcp47_language_tag"`
}

type weightsQuery struct {
	Session string `validate:"required"`
	Lang    string `validate:"required,bcp47_language_tag"`
	Param   string `validate:"required"`
}

type globalWeightQuery struct {
	Responder string `validate:"required"`
	Weight    string `validate:"required,numeric"`
}

// Handler 提供角色目录与权重相关的接口。
type Handler struct {
	chatSvc *chatService.Service
	logger  *slog.Logger
}

func New(chatSvc *chatService.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chatSvc: chatSvc, logger: logger.With("component", "handler.character")}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chatbots", h.handleChatbots)
	r.Get("/bot_names", h.handleBotNames)
	r.Get("/weights", h.handleWeights)
	r.Get("/set_weights", h.handleSetWeights)
	r.Get("/set_global_weight", h.handleSetGlobalWeight)
}

// handleChatbots 列出角色；带 session 时返回该会话可用的回答者及其生效权重。
func (h *Handler) handleChatbots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := listQuery{Session: q.Get("session"), Lang: q.Get("lang")}
	if err := validate.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Session == "" {
		utils.RespondEnvelope(w, 0, h.chatSvc.Characters(req.Lang))
		return
	}
	weights, err := h.chatSvc.Weights(req.Session, langOrDefault(req.Lang))
	if err != nil {
		h.respondError(w, err)
		return
	}
	utils.RespondEnvelope(w, 0, weights)
}

func (h *Handler) handleBotNames(w http.ResponseWriter, r *http.Request) {
	utils.RespondEnvelope(w, 0, h.chatSvc.BotNames())
}

func (h *Handler) handleWeights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := listQuery{Session: q.Get("session"), Lang: q.Get("lang")}
	if req.Session == "" {
		utils.RespondError(w, http.StatusBadRequest, "session is required")
		return
	}
	if err := validate.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	weights, err := h.chatSvc.Weights(req.Session, langOrDefault(req.Lang))
	if err != nil {
		h.respondError(w, err)
		return
	}
	utils.RespondEnvelope(w, 0, weights)
}

// handleSetWeights 设置会话级权重，param 为 "reset" 或 "id=0.5,1=0.2"。
func (h *Handler) handleSetWeights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := weightsQuery{Session: q.Get("session"), Lang: q.Get("lang"), Param: q.Get("param")}
	req.Lang = langOrDefault(req.Lang)
	if err := validate.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.chatSvc.SetWeights(req.Session, req.Lang, req.Param); err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			utils.RespondEnvelope(w, 1, "No such session")
			return
		}
		utils.RespondEnvelope(w, 1, err.Error())
		return
	}
	h.logger.Info("weights updated", "sid", req.Session, "param", req.Param)
	utils.RespondEnvelope(w, 0, "Weights are updated")
}

// handleSetGlobalWeight 修改目录中回答者的默认权重，对所有未覆盖权重的会话生效。
func (h *Handler) handleSetGlobalWeight(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := globalWeightQuery{Responder: q.Get("responder"), Weight: q.Get("weight")}
	if err := validate.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	weight, err := strconv.ParseFloat(req.Weight, 64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid weight "+req.Weight)
		return
	}

	if err := h.chatSvc.SetGlobalWeight(req.Responder, weight); err != nil {
		if errors.Is(err, chatService.ErrUnknownResponder) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondEnvelope(w, 1, err.Error())
		return
	}
	utils.RespondEnvelope(w, 0, "Weight is updated")
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, chatService.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error("request failed", "error", err)
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}

func langOrDefault(lang string) string {
	if lang == "" {
		return chatHandler.DefaultLang
	}
	return lang
}
