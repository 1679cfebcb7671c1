package server

import (
	"net/http"

	"github.com/Tyrowin/palmchat/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	muxHandlers "github.com/gorilla/handlers"
)

// Routes builds the application router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/", s.HealthHandler)
	r.Get("/ws", s.WebSocketHandler)
	r.Get("/test", s.TestPageHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(muxHandlers.CORS(
			muxHandlers.AllowedOrigins(s.origins.corsOrigins()),
			muxHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			muxHandlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
			muxHandlers.AllowCredentials(),
		))

		api.Get("/chat/stats", s.handleStats)
		api.Post("/users/register", s.handleRegister)
		api.Post("/users/login", s.handleLogin)

		api.Group(func(authed chi.Router) {
			authed.Use(s.requireUser)
			authed.Get("/chat/history", s.handleHistory)
			authed.Get("/users/me", s.handleMe)
			authed.Put("/users/{id}", s.handleUpdateUser)

			authed.With(s.requireAdmin).Get("/users", s.handleListUsers)
			authed.With(s.requireAdmin).Delete("/users/{id}", s.handleDeleteUser)
		})
	})

	return r
}
