// Package http provides HTTP routing and middleware configuration
// for the shopping list service.
package http

import (
	"net/http"

	"github.com/atinyakov/shoplist/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves
// the shopping list API.
//
// Routes:
//
//	POST /api/register                           → authHandler.Register
//	POST /api/login                              → authHandler.Login
//	POST /api/login/federated                    → authHandler.LoginFederated
//	POST /api/logout                             → authHandler.Logout            (session)
//	GET  /api/documents/{collection}/{id}        → docHandler.Get                (session)
//	PUT  /api/documents/{collection}/{id}        → docHandler.Put                (session)
//	GET  /api/documents/{collection}/{id}/watch  → docHandler.Watch, WebSocket   (session)
//
// Middleware chain (applied in order):
//  1. RequestID, Recoverer
//  2. AllowContentType("application/json"), rejecting non-JSON bodies
//  3. WithRequestLogging(logger)
//  4. SessionAuth(auth) on the protected group
func NewRouter(
	authHandler *AuthHandler,
	docHandler *DocumentHandler,
	auth middleware.Authenticator,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)

	// Only allow requests with Content-Type: application/json
	r.Use(chiMiddleware.AllowContentType("application/json"))

	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))

	r.Route("/api", func(r chi.Router) {
		// Public endpoints
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/login/federated", authHandler.LoginFederated)

		// Protected group: requires a valid session token
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(auth))
			r.Post("/logout", authHandler.Logout)
			r.Get("/documents/{collection}/{id}", docHandler.Get)
			r.Put("/documents/{collection}/{id}", docHandler.Put)
			r.Get("/documents/{collection}/{id}/watch", docHandler.Watch)
		})
	})

	return r
}
