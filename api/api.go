// Package api provides the HTTP management surface: job admission and
// inspection, schedule management, and aggregate statistics.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/darkroomhq/darkroom"
	"github.com/darkroomhq/darkroom/bus"
	"github.com/darkroomhq/darkroom/schedule"
	"github.com/darkroomhq/darkroom/scheduler"
)

// API wires the HTTP handlers together.
type API struct {
	sched  *scheduler.Scheduler
	runner *schedule.Runner
	store  schedule.Store
	broker *bus.Broker
	logger *slog.Logger
}

// New creates an API. The runner and broker are optional; their routes
// return 404 when absent.
func New(sched *scheduler.Scheduler, runner *schedule.Runner, store schedule.Store, broker *bus.Broker, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{sched: sched, runner: runner, store: store, broker: broker, logger: logger}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all management routes on the given router.
func (a *API) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/jobs", a.enqueueJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", a.listJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/counts", a.jobCounts).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{jobId}", a.getJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{jobId}/attempts", a.jobAttempts).Methods(http.MethodGet)

	if a.runner != nil && a.store != nil {
		v1.HandleFunc("/schedules", a.registerSchedule).Methods(http.MethodPost)
		v1.HandleFunc("/schedules", a.listSchedules).Methods(http.MethodGet)
		v1.HandleFunc("/schedules/{scheduleId}", a.getSchedule).Methods(http.MethodGet)
		v1.HandleFunc("/schedules/{scheduleId}/enable", a.enableSchedule).Methods(http.MethodPost)
		v1.HandleFunc("/schedules/{scheduleId}/disable", a.disableSchedule).Methods(http.MethodPost)
		v1.HandleFunc("/schedules/{scheduleId}", a.deleteSchedule).Methods(http.MethodDelete)
	}

	v1.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
}

// ── Response helpers ────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("encode response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps sentinel errors to HTTP status codes.
func (a *API) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, darkroom.ErrJobNotFound),
		errors.Is(err, darkroom.ErrScheduleNotFound):
		a.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, darkroom.ErrDuplicateSchedule),
		errors.Is(err, darkroom.ErrJobAlreadyExists):
		a.writeError(w, http.StatusConflict, err.Error())
	default:
		a.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

const maxListLimit = 500

func defaultLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return 100
	}
	return limit
}
