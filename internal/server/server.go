package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshp123/thinq/internal/command"
	"github.com/joshp123/thinq/internal/facade"
	"github.com/joshp123/thinq/internal/rate"
	"github.com/joshp123/thinq/internal/thinq"
)

// Server exposes the facade over HTTP: inventory, last state, remote start,
// plus health and metrics.
type Server struct {
	httpServer *http.Server
}

func New(addr string, f *facade.Facade, registry *prometheus.Registry) *Server {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/api/devices", func(r chi.Router) {
		r.Get("/", listDevicesHandler(f))
		r.Get("/{deviceID}/state", getStateHandler(f))
		r.Post("/{deviceID}/start", startHandler(f))
	})

	return &Server{httpServer: &http.Server{Addr: addr, Handler: r}}
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type deviceSummary struct {
	ID        string `json:"id"`
	Alias     string `json:"alias"`
	Type      string `json:"type"`
	ModelName string `json:"model_name"`
	Online    bool   `json:"online"`
}

func listDevicesHandler(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		devices := f.Devices()
		out := make([]deviceSummary, 0, len(devices))
		for _, dev := range devices {
			summary := deviceSummary{
				ID:        dev.ID,
				Alias:     dev.Alias,
				Type:      dev.Type.String(),
				ModelName: dev.ModelName,
				Online:    dev.Online,
			}
			if state, err := f.GetState(dev.ID); err == nil {
				summary.Online = state.Online
			}
			out = append(out, summary)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getStateHandler(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := chi.URLParam(r, "deviceID")
		state, err := f.GetState(deviceID)
		switch {
		case errors.Is(err, facade.ErrUnknownDevice):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, facade.ErrNoState):
			writeError(w, http.StatusServiceUnavailable, err)
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeJSON(w, http.StatusOK, state)
		}
	}
}

type startResponse struct {
	Status  string            `json:"status"`
	Dropped []command.Dropped `json:"dropped,omitempty"`
}

func startHandler(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := chi.URLParam(r, "deviceID")

		var cmd command.PendingCommand
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		dropped, err := f.SubmitCommand(r.Context(), deviceID, cmd)
		var unknownCourse *command.UnknownCourseError
		var invalidValue *command.InvalidOptionValueError
		var limited rate.LimitError
		switch {
		case errors.Is(err, facade.ErrUnknownDevice):
			writeError(w, http.StatusNotFound, err)
		case errors.As(err, &unknownCourse), errors.As(err, &invalidValue):
			writeError(w, http.StatusBadRequest, err)
		case errors.As(err, &limited):
			writeError(w, http.StatusTooManyRequests, err)
		case thinq.IsTransient(err):
			writeError(w, http.StatusBadGateway, err)
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeJSON(w, http.StatusOK, startResponse{Status: "accepted", Dropped: dropped})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
