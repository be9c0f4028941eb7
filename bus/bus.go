package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/hook"
	"github.com/darkroomhq/darkroom/job"
)

// Compile-time interface checks.
var (
	_ hook.Extension         = (*Broker)(nil)
	_ hook.JobCreated        = (*Broker)(nil)
	_ hook.JobStarted        = (*Broker)(nil)
	_ hook.JobProgress       = (*Broker)(nil)
	_ hook.JobCompleted      = (*Broker)(nil)
	_ hook.JobRetryScheduled = (*Broker)(nil)
	_ hook.JobFailed         = (*Broker)(nil)
	_ hook.Shutdown          = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker is the real-time event broker. It implements the hook
// extension interfaces to receive lifecycle events and fans them out
// to subscribers via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new event broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Extension.
func (b *Broker) Name() string { return "event-bus" }

// Topics returns the topic registry for external use (e.g., the
// websocket feed server).
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	var dropped int64
	b.subscribers.Range(func(_, value any) bool {
		count++
		dropped += value.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    dropped,
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish broadcasts an event to all matching topics.
func (b *Broker) publish(evt *Event) {
	topics := ResolveTopics(evt)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("bus: marshal event data: " + err.Error())
	}
	return data
}

func (b *Broker) jobEvent(t EventType, j *job.Job, data JobEventData) *Event {
	data.JobID = j.ID.String()
	return &Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Priority:  j.Priority.String(),
		Data:      mustMarshal(data),
	}
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobCreated(_ context.Context, j *job.Job) error {
	b.publish(b.jobEvent(EventJobCreated, j, JobEventData{
		Priority: j.Priority.String(),
	}))
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publish(b.jobEvent(EventJobStarted, j, JobEventData{
		WorkerID: j.WorkerID.String(),
	}))
	return nil
}

func (b *Broker) OnJobProgress(_ context.Context, j *job.Job, stage string, percent float64, message string) error {
	b.publish(b.jobEvent(EventJobProgress, j, JobEventData{
		Stage:   stage,
		Percent: percent,
		Message: message,
	}))
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.publish(b.jobEvent(EventJobCompleted, j, JobEventData{
		ElapsedMs: elapsed.Milliseconds(),
		Result:    j.Result,
	}))
	return nil
}

func (b *Broker) OnJobRetryScheduled(_ context.Context, j *job.Job, attempt int, delay time.Duration, cl failure.Classification) error {
	b.publish(b.jobEvent(EventJobRetryScheduled, j, JobEventData{
		Attempt:  attempt,
		DelayMs:  delay.Milliseconds(),
		Category: string(cl.Category),
	}))
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, cl failure.Classification) error {
	b.publish(b.jobEvent(EventJobFailed, j, JobEventData{
		Category: string(cl.Category),
		Severity: cl.Severity.String(),
	}))
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("event bus shut down")
	return nil
}
