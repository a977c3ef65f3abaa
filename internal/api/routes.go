package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	admin := AuthMiddleware(h.opts.APIKey)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(CORSMiddleware(h.opts.AllowedOrigin))

		// Public routes
		r.Get("/health", h.Health)
		r.Get("/decks", h.ListDecks)
		r.Post("/chat/legacy", h.LegacyChat)

		r.Route("/decks/{deck}", func(r chi.Router) {
			r.Get("/cards", h.ListCards)
			r.Get("/cards/{number}", h.GetCard)
			r.Get("/cards/{number}/image", h.CardImage)
			r.Get("/draw", h.DrawCard)
			r.With(admin).Post("/import", h.ImportDeck)
		})

		// Admin routes (static API key)
		r.With(admin).Post("/decks", h.CreateDeck)

		// User routes (identity service bearer token)
		r.Group(func(r chi.Router) {
			r.Use(JWTMiddleware(h.verifier))
			r.Post("/chat", h.Chat)
			r.Post("/protocols", h.SaveProtocol)
			r.Get("/protocols", h.ListProtocols)
		})
	})

	return r
}
