package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"loopcard/internal/httpapi/handlers"
	"loopcard/internal/httpkit"
)

type Deps = handlers.Deps

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	allowedOrigins := envCSV("CORS_ALLOWED_ORIGINS", []string{
		"http://localhost:5173",
		"http://localhost:8080",
	})
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAgeSeconds:  600,
	}))

	h := handlers.New(d)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Post("/jobs", h.PostJob)
	r.Get("/jobs/{jobID}", h.GetJob)

	r.Get("/cards/{user}/{composition}", h.GetCard)
	r.Get("/artifacts/*", h.StreamArtifact)

	return r
}

func envCSV(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
