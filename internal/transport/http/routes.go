package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// after RequestID
	r.Use(RequestLogger(h.log.Named("http")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", h.ListModels)
		r.Get("/formats", h.ListFormats)

		r.Post("/transcribe", h.Transcribe)
		r.Post("/transcribe/batch", h.TranscribeBatch)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Get("/{id}", h.GetJob)
			r.Delete("/{id}", h.DeleteJob)
			r.Get("/{id}/download/{format}", h.Download)
		})

		r.Route("/watch", func(r chi.Router) {
			r.Post("/start", h.StartWatch)
			r.Post("/stop", h.StopWatch)
			r.Get("/status", h.WatchStatus)
		})
	})

	r.Get("/ws", h.Events)

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}

// NewServer is the http.Server used by the serve command.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, log *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		ErrorLog:          zap.NewStdLog(log.Named("http")),
	}
}
