package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/schedule"
)

// RegisterScheduleRequest creates a recurring job schedule.
type RegisterScheduleRequest struct {
	Name     string          `json:"name"`
	Spec     string          `json:"spec"`
	Payload  json.RawMessage `json:"payload"`
	Priority string          `json:"priority,omitempty"`
}

func (a *API) registerSchedule(w http.ResponseWriter, r *http.Request) {
	var req RegisterScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Spec == "" {
		a.writeError(w, http.StatusBadRequest, "name and spec are required")
		return
	}
	if _, err := schedule.ParseSpec(req.Spec); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid spec: "+err.Error())
		return
	}

	entry, err := a.runner.Register(r.Context(), req.Name, req.Spec, req.Payload, job.ParsePriority(req.Priority))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusCreated, entry)
}

func (a *API) listSchedules(w http.ResponseWriter, r *http.Request) {
	entries, err := a.store.ListSchedules(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := id.ParseScheduleID(mux.Vars(r)["scheduleId"])
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid schedule ID: "+err.Error())
		return
	}

	entry, err := a.store.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entry)
}

func (a *API) enableSchedule(w http.ResponseWriter, r *http.Request) {
	a.setScheduleEnabled(w, r, true)
}

func (a *API) disableSchedule(w http.ResponseWriter, r *http.Request) {
	a.setScheduleEnabled(w, r, false)
}

func (a *API) setScheduleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	scheduleID, err := id.ParseScheduleID(mux.Vars(r)["scheduleId"])
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid schedule ID: "+err.Error())
		return
	}

	entry, err := a.store.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	entry.Enabled = enabled
	entry.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateSchedule(r.Context(), entry); err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, entry)
}

func (a *API) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := id.ParseScheduleID(mux.Vars(r)["scheduleId"])
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid schedule ID: "+err.Error())
		return
	}

	if err := a.store.DeleteSchedule(r.Context(), scheduleID); err != nil {
		a.writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
