// Package api serves a small read-only HTTP view of the agent: health,
// the current affective state, persona memory and ad-hoc scoring.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/mind"
	"github.com/keshon/sable/internal/storage"
	st "github.com/keshon/sable/internal/storagetypes"
)

// Health reports the storage mode.
type Health interface {
	Status() (storage.Mode, time.Time, error)
}

// Transients reads persona memory for a subject.
type Transients interface {
	Transients(ctx context.Context, subjectID string) ([]st.Transient, error)
}

// Deps are the collaborators the handlers read from.
type Deps struct {
	Session           *affect.Session
	Scorer            mind.Scorer
	Health            Health
	Store             Transients
	Temperature       affect.TemperatureBounds
	FactMinConfidence int
	Log               zerolog.Logger
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(Logger(d.Log))
	r.Use(middleware.Recoverer)

	h := &handler{Deps: d}
	r.Get("/healthz", h.Healthz)
	r.Get("/affect", h.Affect)
	r.Post("/score", h.Score)
	if d.Store != nil {
		r.Get("/persona/{subject}", h.Persona)
	}
	return r
}

// Serve runs the API on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("api listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Logger logs request method, path, status, and duration.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}
