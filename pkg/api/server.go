// Package api exposes the review queue and job submission over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/intake/pkg/buildinfo"
	"github.com/otherjamesbrown/intake/pkg/db"
	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/queues"
	"github.com/otherjamesbrown/intake/pkg/review"
)

const maxRequestBodySize = 64 << 10

// Reviews is the review queue surface the API needs. *review.Service satisfies it.
type Reviews interface {
	List(ctx context.Context, orgID, cursor string, limit int) (*review.Page, error)
	Get(ctx context.Context, orgID, id string) (*review.Item, error)
	Resolve(ctx context.Context, req review.ResolveRequest) (*review.Item, error)
}

// Enqueuer submits pipeline jobs. *dispatch.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queues.JobType, orgID, entityID string) (string, error)
}

// Deps wires the handlers.
type Deps struct {
	Reviews  Reviews
	Jobs     Enqueuer
	Health   db.Pinger // nil when running on the memory store
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logging.MustGlobal()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	log := deps.Logger.With(logging.F("component", "api"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", handleHealth(deps))
	r.Get("/version", buildinfo.Handler("intake"))
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/orgs/{orgID}", func(r chi.Router) {
		r.Get("/reviews", handleListReviews(deps))
		r.Get("/reviews/{id}", handleGetReview(deps))
		r.Post("/reviews/{id}/resolve", handleResolveReview(deps))
		r.Post("/jobs/{jobType}/{entityID}", handleEnqueue(deps))
	})
	return r
}

func requestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("HTTP request",
				logging.F("method", r.Method),
				logging.F("path", r.URL.Path),
				logging.F("status", ww.Status()),
				logging.F("duration", time.Since(start)),
				logging.F("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Health == nil {
			writeJSON(w, http.StatusOK, map[string]any{"healthy": true, "store": "memory"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := db.Check(ctx, deps.Health)
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

func handleListReviews(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", raw)
				return
			}
			limit = n
		}

		page, err := deps.Reviews.List(r.Context(), chi.URLParam(r, "orgID"), r.URL.Query().Get("cursor"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func handleGetReview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := deps.Reviews.Get(r.Context(), chi.URLParam(r, "orgID"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// ResolveBody is the payload of POST /reviews/{id}/resolve.
type ResolveBody struct {
	Resolution string  `json:"resolution"`
	PropertyID *string `json:"property_id,omitempty"`
	Note       string  `json:"note,omitempty"`
}

func handleResolveReview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var body ResolveBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		resolution, ok := review.ParseResolution(body.Resolution)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown resolution %q", body.Resolution)
			return
		}

		item, err := deps.Reviews.Resolve(r.Context(), review.ResolveRequest{
			OrgID:      chi.URLParam(r, "orgID"),
			ID:         chi.URLParam(r, "id"),
			Resolution: resolution,
			PropertyID: body.PropertyID,
			Note:       body.Note,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleEnqueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobType, ok := parseJobType(chi.URLParam(r, "jobType"))
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown job type %q", chi.URLParam(r, "jobType"))
			return
		}

		id, err := deps.Jobs.Enqueue(r.Context(), jobType, chi.URLParam(r, "orgID"), chi.URLParam(r, "entityID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "job_type": string(jobType)})
	}
}

func parseJobType(s string) (queues.JobType, bool) {
	for _, t := range queues.JobTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case intakeerrors.IsNotFound(err):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case intakeerrors.IsValidation(err), queues.IsInvalidJob(err):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case intakeerrors.IsConflict(err), intakeerrors.IsInvalidState(err):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) // nolint: errcheck
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
