package util

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSOptions lists the origins allowed to call the API from a browser.
// An empty AllowedOrigins allows any origin without credentials.
type CORSOptions struct {
	AllowedOrigins []string
	MaxAgeSeconds  int
}

// WithCORS answers preflight requests and decorates responses with CORS headers.
func WithCORS(opts CORSOptions, next http.Handler) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         opts.MaxAgeSeconds,
	})
	return c.Handler(next)
}
