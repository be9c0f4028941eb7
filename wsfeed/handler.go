package wsfeed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/darkroomhq/darkroom/bus"
	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/scheduler"
)

// Handler dispatches feed frames to scheduler operations.
type Handler struct {
	sched  *scheduler.Scheduler
	broker *bus.Broker
	logger *slog.Logger
}

// NewHandler creates a feed method handler.
func NewHandler(sched *scheduler.Scheduler, broker *bus.Broker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sched: sched, broker: broker, logger: logger}
}

// Handle processes a single request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame) *Frame {
	switch frame.Method {
	case MethodJobEnqueue:
		return h.handleJobEnqueue(ctx, frame)
	case MethodJobGet:
		return h.handleJobGet(ctx, frame)
	case MethodJobList:
		return h.handleJobList(ctx, frame)
	case MethodJobCounts:
		return h.handleJobCounts(ctx, frame)
	case MethodSubscribe:
		return h.handleSubscribe(frame)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame)
	case MethodStats:
		return h.handleStats(ctx, frame)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame
// on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

func (h *Handler) handleJobEnqueue(ctx context.Context, frame *Frame) *Frame {
	var req JobEnqueueRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	var opts []scheduler.EnqueueOption
	if req.JobID != "" {
		jobID, err := id.ParseJobID(req.JobID)
		if err != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
		}
		opts = append(opts, scheduler.WithJobID(jobID))
	}

	j, err := h.sched.Enqueue(ctx, req.Payload, job.ParsePriority(req.Priority), opts...)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "enqueue failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, JobEnqueueResponse{
		JobID:    j.ID.String(),
		Priority: j.Priority.String(),
		State:    string(j.State),
	})
}

func (h *Handler) handleJobGet(ctx context.Context, frame *Frame) *Frame {
	var req JobGetRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}

	j, err := h.sched.Get(ctx, jobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeNotFound, "job not found")
	}

	return mustResponseFrame(frame.ID, j)
}

func (h *Handler) handleJobList(ctx context.Context, frame *Frame) *Frame {
	var req JobListRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	state := job.State(req.State)
	switch state {
	case job.StatePending, job.StateClaimed, job.StateProcessing, job.StateCompleted, job.StateFailed:
	default:
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid state: "+req.State)
	}

	jobs, err := h.sched.List(ctx, state, job.ListOpts{Limit: req.Limit, Offset: req.Offset})
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "list failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, map[string]any{
		"state": string(state),
		"jobs":  jobs,
	})
}

func (h *Handler) handleJobCounts(ctx context.Context, frame *Frame) *Frame {
	counts, err := h.sched.Counts(ctx)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "counts failed: "+err.Error())
	}
	return mustResponseFrame(frame.ID, counts)
}

func (h *Handler) handleSubscribe(frame *Frame) *Frame {
	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	if err := bus.ValidateTopic(req.Channel); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	// The actual subscription happens in the server loop after the
	// response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "subscribed",
	})
}

func (h *Handler) handleUnsubscribe(frame *Frame) *Frame {
	var req UnsubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "unsubscribed",
	})
}

func (h *Handler) handleStats(ctx context.Context, frame *Frame) *Frame {
	counts, err := h.sched.Counts(ctx)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "counts failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, map[string]any{
		"broker": h.broker.Stats(),
		"jobs":   counts,
	})
}
