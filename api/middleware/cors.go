package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

const localDevOrigin = "http://localhost:3000"

// CORS returns middleware that admits the storefront origin plus any extra origins.
func CORS(storefrontOrigin string, extra ...string) func(http.Handler) http.Handler {
	origins := []string{localDevOrigin}
	if storefrontOrigin != "" {
		origins = append(origins, storefrontOrigin)
	}
	origins = append(origins, extra...)

	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"Retry-After", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
