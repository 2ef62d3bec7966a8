package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"framepipe/internal/httpapi/handlers"
	"framepipe/internal/httpkit"
	"framepipe/internal/pkg/errors"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/pkg/middleware"
)

type Deps struct {
	Handlers *handlers.Handler
	// Events serves the websocket event channel on GET /ws.
	Events         http.Handler
	CORSOrigins    []string
	RequestTimeout time.Duration
	Log            *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	h := d.Handlers
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.CORSOrigins,
		ExposedHeaders: []string{"X-Request-ID"},
	}))

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- RENDER WORKERS ----
	r.Post("/image", wrap(h.PostImage))
	if d.Events != nil {
		r.Get("/ws", d.Events.ServeHTTP)
	}

	// ---- API ----
	r.Route("/api/v1", func(r chi.Router) {
		// long-lived, no timeout
		r.Get("/status/stream", wrap(h.StreamStatus))

		r.Group(func(r chi.Router) {
			if d.RequestTimeout > 0 {
				r.Use(middleware.Timeout(d.RequestTimeout))
			}
			r.Get("/status", wrap(h.GetStatus))
			r.Post("/renders", wrap(h.PostRenders))
			r.Get("/runs", wrap(h.ListRuns))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, errors.CodeNotFound, "route not found", nil)
	})

	return r
}
