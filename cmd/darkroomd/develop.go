package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/worker"
)

// developRequest is the body posted to the editing host.
type developRequest struct {
	JobID   string          `json:"job_id"`
	Attempt int             `json:"attempt"`
	Recipe  json.RawMessage `json:"recipe"`
}

// developResponse is the editing host's reply for a finished run.
type developResponse struct {
	Result json.RawMessage `json:"result"`
	// Condition names the failure condition when the host rejects or
	// aborts the run.
	Condition string `json:"condition,omitempty"`
	Message   string `json:"message,omitempty"`
}

// hostProcessFunc returns a ProcessFunc that hands each claimed recipe
// to the editing host over HTTP and maps transport-level trouble onto
// the failure taxonomy.
func hostProcessFunc(cfg HostConfig) worker.ProcessFunc {
	client := &http.Client{Timeout: cfg.Timeout.Std()}

	return func(ctx context.Context, j *job.Job, progress worker.ProgressFunc) ([]byte, *failure.Failure) {
		progress("develop", 0, "submitting recipe to editing host")

		body, err := json.Marshal(developRequest{
			JobID:   j.ID.String(),
			Attempt: j.Attempts + 1,
			Recipe:  j.Payload,
		})
		if err != nil {
			return nil, failure.New(failure.CondUnknown, "encode develop request: %v", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, failure.New(failure.CondUnknown, "build develop request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				return nil, failure.New(failure.CondInferenceTimeout, "editing host timed out: %v", err)
			}
			return nil, failure.New(failure.CondRemoteSync, "editing host unreachable: %v", err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, failure.New(failure.CondRemoteSync, "read develop response: %v", err)
		}

		if cond := conditionForStatus(resp.StatusCode); cond != "" {
			return nil, failure.New(cond, "editing host returned %d: %s", resp.StatusCode, payload)
		}

		var dr developResponse
		if err := json.Unmarshal(payload, &dr); err != nil {
			return nil, failure.New(failure.CondUnknown, "decode develop response: %v", err)
		}
		if dr.Condition != "" {
			return nil, failure.New(failure.Condition(dr.Condition), "%s", dr.Message)
		}

		progress("develop", 100, "run finished")
		return dr.Result, nil
	}
}

// conditionForStatus maps host HTTP status codes onto failure
// conditions. Empty means success.
func conditionForStatus(status int) failure.Condition {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusLocked:
		return failure.CondCatalogLock
	case status == http.StatusInsufficientStorage:
		return failure.CondDiskSpace
	case status == http.StatusGatewayTimeout:
		return failure.CondInferenceTimeout
	case status == http.StatusTooManyRequests:
		return failure.CondCPUOverload
	case status >= 500:
		return failure.CondRemoteSync
	default:
		return failure.CondUnknown
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// simulateProcessFunc develops recipes locally when no editing host is
// configured. Each pipeline step takes a beat and reports progress, so
// a bare darkroomd is enough to watch the full lifecycle on the feed.
func simulateProcessFunc() worker.ProcessFunc {
	return func(ctx context.Context, j *job.Job, progress worker.ProgressFunc) ([]byte, *failure.Failure) {
		var rec struct {
			Pipeline []struct {
				Kind string `json:"kind"`
			} `json:"pipeline"`
		}
		if err := json.Unmarshal(j.Payload, &rec); err != nil {
			return nil, failure.New(failure.CondUnknown, "decode recipe: %v", err)
		}

		steps := len(rec.Pipeline)
		for i, step := range rec.Pipeline {
			select {
			case <-ctx.Done():
				return nil, failure.New(failure.CondInferenceTimeout, "cancelled during %q", step.Kind)
			case <-time.After(50 * time.Millisecond):
			}
			progress(step.Kind, float64(i+1)/float64(steps)*100, fmt.Sprintf("applied %s", step.Kind))
		}

		result, _ := json.Marshal(map[string]any{ //nolint:errcheck // fixed-shape map
			"steps_applied": steps,
			"developed_at":  time.Now().UTC(),
		})
		return result, nil
	}
}
