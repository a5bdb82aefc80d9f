package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tallyhq/tally/internal/http/auth"
	ledgerapi "github.com/tallyhq/tally/internal/http/ledger"
	matchingapi "github.com/tallyhq/tally/internal/http/matching"
	"github.com/tallyhq/tally/internal/http/statement"
	transferapi "github.com/tallyhq/tally/internal/http/transfer"
)

func New(
	ledgerV1 *ledgerapi.Handler,
	statementV1 *statement.Handler,
	matchingV1 *matchingapi.Handler,
	transferV1 *transferapi.Handler,
	jwtSecret []byte,
	allowedOrigins []string,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(jwtSecret))

		r.Route("/ledger", func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			ledgerV1.Routes(r)
		})

		r.Route("/statements", statementV1.Routes)

		r.Route("/matches", func(r chi.Router) {
			matchingV1.Routes(r)
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			transferV1.Routes(r)
		})
	})

	return router
}
