package wsfeed_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/darkroomhq/darkroom/backoff"
	"github.com/darkroomhq/darkroom/bus"
	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/hook"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/retry"
	"github.com/darkroomhq/darkroom/scheduler"
	"github.com/darkroomhq/darkroom/store/memory"
	"github.com/darkroomhq/darkroom/wsfeed"
)

var validPayload = []byte(`{
	"version": "1.0",
	"pipeline": [{"kind": "tone-curve", "params": {"shadows": 12}}],
	"safety": {"snapshot": true, "dry_run": false}
}`)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T) (*wsfeed.Handler, *scheduler.Scheduler, *bus.Broker) {
	t.Helper()

	logger := testLogger()
	broker := bus.NewBroker(logger)
	hooks := hook.NewRegistry(logger)
	hooks.Register(broker)

	policy := retry.NewPolicy(
		retry.WithBackoff(backoff.NewExponential(time.Second, time.Minute)),
	)
	sched := scheduler.New(memory.New(), failure.NewClassifier(nil), policy, hooks, logger)
	return wsfeed.NewHandler(sched, broker, logger), sched, broker
}

func request(t *testing.T, method string, data any) *wsfeed.Frame {
	t.Helper()
	frame, err := wsfeed.NewRequestFrame("req-1", method, data)
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}
	return frame
}

func TestHandleJobEnqueue(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := h.Handle(context.Background(), request(t, wsfeed.MethodJobEnqueue, wsfeed.JobEnqueueRequest{
		Payload:  validPayload,
		Priority: "high",
	}))
	if resp.Type != wsfeed.FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", resp.Type, resp.Error)
	}
	if resp.CorrelID != "req-1" {
		t.Errorf("correl_id = %q, want req-1", resp.CorrelID)
	}

	var out wsfeed.JobEnqueueResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if out.State != string(job.StatePending) {
		t.Errorf("state = %q, want pending", out.State)
	}
	if out.Priority != "high" {
		t.Errorf("priority = %q, want high", out.Priority)
	}
	if out.JobID == "" {
		t.Error("expected a job ID")
	}
}

func TestHandleJobEnqueueRejectsBadPayload(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := h.Handle(context.Background(), request(t, wsfeed.MethodJobEnqueue, wsfeed.JobEnqueueRequest{
		Payload: []byte(`{"version":"9.9"}`),
	}))
	if resp.Type != wsfeed.FrameErr {
		t.Fatalf("frame type = %s, want error", resp.Type)
	}
	if resp.Error.Code != wsfeed.ErrCodeBadRequest {
		t.Errorf("code = %d, want 400", resp.Error.Code)
	}
}

func TestHandleJobGet(t *testing.T) {
	h, sched, _ := newTestHandler(t)
	ctx := context.Background()

	j, err := sched.Enqueue(ctx, validPayload, job.PriorityMedium)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	resp := h.Handle(ctx, request(t, wsfeed.MethodJobGet, wsfeed.JobGetRequest{JobID: j.ID.String()}))
	if resp.Type != wsfeed.FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	var got job.Job
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("job ID = %s, want %s", got.ID, j.ID)
	}
}

func TestHandleJobGetErrors(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()

	resp := h.Handle(ctx, request(t, wsfeed.MethodJobGet, wsfeed.JobGetRequest{JobID: "not-an-id"}))
	if resp.Type != wsfeed.FrameErr || resp.Error.Code != wsfeed.ErrCodeBadRequest {
		t.Errorf("malformed ID: got %s/%+v, want 400 error", resp.Type, resp.Error)
	}

	resp = h.Handle(ctx, request(t, wsfeed.MethodJobGet, wsfeed.JobGetRequest{JobID: "job_01h455vb4pex5vsknk084sn02q"}))
	if resp.Type != wsfeed.FrameErr || resp.Error.Code != wsfeed.ErrCodeNotFound {
		t.Errorf("missing job: got %s/%+v, want 404 error", resp.Type, resp.Error)
	}
}

func TestHandleJobList(t *testing.T) {
	h, sched, _ := newTestHandler(t)
	ctx := context.Background()

	for range 3 {
		if _, err := sched.Enqueue(ctx, validPayload, job.PriorityLow); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	resp := h.Handle(ctx, request(t, wsfeed.MethodJobList, wsfeed.JobListRequest{State: "pending"}))
	if resp.Type != wsfeed.FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	var out struct {
		State string     `json:"state"`
		Jobs  []*job.Job `json:"jobs"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(out.Jobs) != 3 {
		t.Errorf("listed %d jobs, want 3", len(out.Jobs))
	}

	resp = h.Handle(ctx, request(t, wsfeed.MethodJobList, wsfeed.JobListRequest{State: "paused"}))
	if resp.Type != wsfeed.FrameErr || resp.Error.Code != wsfeed.ErrCodeBadRequest {
		t.Errorf("invalid state: got %s/%+v, want 400 error", resp.Type, resp.Error)
	}
}

func TestHandleJobCounts(t *testing.T) {
	h, sched, _ := newTestHandler(t)
	ctx := context.Background()

	if _, err := sched.Enqueue(ctx, validPayload, job.PriorityMedium); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	resp := h.Handle(ctx, request(t, wsfeed.MethodJobCounts, nil))
	if resp.Type != wsfeed.FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	var counts map[job.State]int64
	if err := json.Unmarshal(resp.Data, &counts); err != nil {
		t.Fatalf("unmarshal counts: %v", err)
	}
	if counts[job.StatePending] != 1 {
		t.Errorf("pending count = %d, want 1", counts[job.StatePending])
	}
}

func TestHandleSubscribeValidatesTopic(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()

	resp := h.Handle(ctx, request(t, wsfeed.MethodSubscribe, wsfeed.SubscribeRequest{Channel: "jobs"}))
	if resp.Type != wsfeed.FrameResponse {
		t.Fatalf("valid topic: frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	resp = h.Handle(ctx, request(t, wsfeed.MethodSubscribe, wsfeed.SubscribeRequest{Channel: "bogus"}))
	if resp.Type != wsfeed.FrameErr || resp.Error.Code != wsfeed.ErrCodeBadRequest {
		t.Errorf("invalid topic: got %s/%+v, want 400 error", resp.Type, resp.Error)
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := h.Handle(context.Background(), request(t, "workflow.start", nil))
	if resp.Type != wsfeed.FrameErr || resp.Error.Code != wsfeed.ErrCodeMethodNotFound {
		t.Errorf("got %s/%+v, want 405 error", resp.Type, resp.Error)
	}
}

func TestHandleStats(t *testing.T) {
	h, _, broker := newTestHandler(t)

	sub := broker.Subscribe("stats-observer", bus.TopicFirehose)
	defer broker.RemoveSubscriber(sub.ID())

	resp := h.Handle(context.Background(), request(t, wsfeed.MethodStats, nil))
	if resp.Type != wsfeed.FrameResponse {
		t.Fatalf("frame type = %s, error = %+v", resp.Type, resp.Error)
	}

	var out struct {
		Broker bus.BrokerStats     `json:"broker"`
		Jobs   map[job.State]int64 `json:"jobs"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if out.Broker.SubscriberCount != 1 {
		t.Errorf("subscriber count = %d, want 1", out.Broker.SubscriberCount)
	}
}
