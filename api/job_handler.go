package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/scheduler"
)

// EnqueueJobRequest submits a development job.
type EnqueueJobRequest struct {
	Payload  json.RawMessage `json:"payload"`
	Priority string          `json:"priority,omitempty"`
	JobID    string          `json:"job_id,omitempty"`
	RunAt    *time.Time      `json:"run_at,omitempty"`
}

func (a *API) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var opts []scheduler.EnqueueOption
	if req.JobID != "" {
		jobID, err := id.ParseJobID(req.JobID)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid job ID: "+err.Error())
			return
		}
		opts = append(opts, scheduler.WithJobID(jobID))
	}
	if req.RunAt != nil {
		opts = append(opts, scheduler.WithRunAt(*req.RunAt))
	}

	j, err := a.sched.Enqueue(r.Context(), req.Payload, job.ParsePriority(req.Priority), opts...)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a.writeJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	state := job.State(q.Get("state"))
	switch state {
	case job.StatePending, job.StateClaimed, job.StateProcessing, job.StateCompleted, job.StateFailed:
	default:
		a.writeError(w, http.StatusBadRequest, "invalid or missing state parameter")
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	jobs, err := a.sched.List(r.Context(), state, job.ListOpts{
		Limit:  defaultLimit(limit),
		Offset: offset,
	})
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(mux.Vars(r)["jobId"])
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid job ID: "+err.Error())
		return
	}

	j, err := a.sched.Get(r.Context(), jobID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, j)
}

// JobCountsResponse groups job counts by state.
type JobCountsResponse struct {
	Pending    int64 `json:"pending"`
	Claimed    int64 `json:"claimed"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := a.sched.Counts(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, JobCountsResponse{
		Pending:    counts[job.StatePending],
		Claimed:    counts[job.StateClaimed],
		Processing: counts[job.StateProcessing],
		Completed:  counts[job.StateCompleted],
		Failed:     counts[job.StateFailed],
	})
}

func (a *API) jobAttempts(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(mux.Vars(r)["jobId"])
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid job ID: "+err.Error())
		return
	}

	j, err := a.sched.Get(r.Context(), jobID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":   j.ID.String(),
		"attempts": j.Attempts,
		"log":      j.AttemptLog,
	})
}
