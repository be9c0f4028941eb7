package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/wsfeed"
)

// EnqueueOption tunes a single Enqueue call.
type EnqueueOption func(*wsfeed.JobEnqueueRequest)

// WithJobID requests a specific job ID, making the submission
// idempotent.
func WithJobID(jobID string) EnqueueOption {
	return func(req *wsfeed.JobEnqueueRequest) { req.JobID = jobID }
}

// Enqueue submits a development recipe and returns the admitted job.
func (c *Client) Enqueue(ctx context.Context, payload json.RawMessage, priority string, opts ...EnqueueOption) (*wsfeed.JobEnqueueResponse, error) {
	req := wsfeed.JobEnqueueRequest{Payload: payload, Priority: priority}
	for _, opt := range opts {
		opt(&req)
	}

	frame, err := c.request(ctx, wsfeed.MethodJobEnqueue, req)
	if err != nil {
		return nil, err
	}

	var res wsfeed.JobEnqueueResponse
	if err := json.Unmarshal(frame.Data, &res); err != nil {
		return nil, fmt.Errorf("darkroom/client: decode enqueue response: %w", err)
	}
	return &res, nil
}

// Job retrieves a job by ID.
func (c *Client) Job(ctx context.Context, jobID string) (*job.Job, error) {
	frame, err := c.request(ctx, wsfeed.MethodJobGet, wsfeed.JobGetRequest{JobID: jobID})
	if err != nil {
		return nil, err
	}

	var j job.Job
	if err := json.Unmarshal(frame.Data, &j); err != nil {
		return nil, fmt.Errorf("darkroom/client: decode job: %w", err)
	}
	return &j, nil
}

// Jobs lists jobs in the given state.
func (c *Client) Jobs(ctx context.Context, state string, limit, offset int) ([]*job.Job, error) {
	frame, err := c.request(ctx, wsfeed.MethodJobList, wsfeed.JobListRequest{
		State:  state,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}

	var res struct {
		Jobs []*job.Job `json:"jobs"`
	}
	if err := json.Unmarshal(frame.Data, &res); err != nil {
		return nil, fmt.Errorf("darkroom/client: decode job list: %w", err)
	}
	return res.Jobs, nil
}

// Counts returns the number of jobs per lifecycle state.
func (c *Client) Counts(ctx context.Context) (map[job.State]int64, error) {
	frame, err := c.request(ctx, wsfeed.MethodJobCounts, nil)
	if err != nil {
		return nil, err
	}

	var counts map[job.State]int64
	if err := json.Unmarshal(frame.Data, &counts); err != nil {
		return nil, fmt.Errorf("darkroom/client: decode counts: %w", err)
	}
	return counts, nil
}

// Stats returns raw server statistics (broker and job counts).
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	frame, err := c.request(ctx, wsfeed.MethodStats, nil)
	if err != nil {
		return nil, err
	}
	return frame.Data, nil
}
