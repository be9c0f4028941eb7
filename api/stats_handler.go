package api

import (
	"net/http"

	"github.com/darkroomhq/darkroom/bus"
	"github.com/darkroomhq/darkroom/job"
)

// StatsResponse aggregates statistics for jobs and the event broker.
type StatsResponse struct {
	Jobs   JobCountsResponse `json:"jobs"`
	Broker *bus.BrokerStats  `json:"broker,omitempty"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.sched.Counts(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	resp := StatsResponse{
		Jobs: JobCountsResponse{
			Pending:    counts[job.StatePending],
			Claimed:    counts[job.StateClaimed],
			Processing: counts[job.StateProcessing],
			Completed:  counts[job.StateCompleted],
			Failed:     counts[job.StateFailed],
		},
	}
	if a.broker != nil {
		stats := a.broker.Stats()
		resp.Broker = &stats
	}

	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
