package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BeranItService/chatbot/internal/handler/character"
	"github.com/BeranItService/chatbot/internal/handler/chat"
	"github.com/BeranItService/chatbot/internal/handler/socket"
	"github.com/BeranItService/chatbot/internal/handler/stream"
	middlewarePkg "github.com/BeranItService/chatbot/internal/middleware"
	chatService "github.com/BeranItService/chatbot/internal/service/chat"
	"github.com/BeranItService/chatbot/pkg/utils"
)

// APIPrefix is the version prefix of every chatbot route.
const APIPrefix = "/v2.0"

// Options configures the router.
type Options struct {
	ChatService *chatService.Service
	// AuthKey enables the Auth query parameter check when non-empty.
	AuthKey string
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// AccessLog enables chi's request logger.
	AccessLog bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(opts.ChatService, logger)
	characterHandler := character.New(opts.ChatService, logger)
	streamHandler := stream.New(opts.ChatService, logger)
	socketHandler := socket.New(opts.ChatService, logger)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route(APIPrefix, func(api chi.Router) {
		api.Get("/ping", handlePing)

		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.Auth(opts.AuthKey))

			chatHandler.RegisterRoutes(authed)
			characterHandler.RegisterRoutes(authed)
			streamHandler.RegisterRoutes(authed)
			socketHandler.RegisterRoutes(authed)
		})
	})

	return r
}

func handlePing(w http.ResponseWriter, _ *http.Request) {
	utils.RespondEnvelope(w, 0, "pong")
}
