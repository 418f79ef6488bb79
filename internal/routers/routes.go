package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/manoj8260/ConnectSphere/internal/handlers"
	"github.com/manoj8260/ConnectSphere/internal/metrics"
)

// New assembles the gateway router. No request timeout middleware: chat
// sockets are long-lived and liveness comes from socket close signals only.
func New(logger *zap.Logger, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(metrics.Middleware("chat-gateway"))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/ws/chat", h.ChatWS)

	r.Route("/message", func(r chi.Router) {
		r.Get("/messages/{room_name}", h.GetMessages)
		r.Post("/send_msg", h.SendMessage)
	})
	r.Get("/room/rooms", h.ListRooms)

	return r
}
