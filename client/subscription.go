package client

import (
	"context"
	"fmt"

	"github.com/darkroomhq/darkroom/bus"
	"github.com/darkroomhq/darkroom/wsfeed"
)

// subBuffer is the per-subscription channel depth. Events past this
// are dropped rather than blocking the read loop.
const subBuffer = 64

// Subscribe registers for events on a channel and returns a stream of
// them. The channel is closed by Unsubscribe or Close.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan *bus.Event, error) {
	if _, exists := c.subs.Load(channel); exists {
		return nil, fmt.Errorf("darkroom/client: already subscribed to %q", channel)
	}

	ch := make(chan *bus.Event, subBuffer)
	c.subs.Store(channel, ch)

	if _, err := c.request(ctx, wsfeed.MethodSubscribe, wsfeed.SubscribeRequest{Channel: channel}); err != nil {
		c.subs.Delete(channel)
		close(ch)
		return nil, err
	}
	return ch, nil
}

// Unsubscribe removes a subscription and closes its event channel.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	val, ok := c.subs.LoadAndDelete(channel)
	if !ok {
		return fmt.Errorf("darkroom/client: not subscribed to %q", channel)
	}

	_, err := c.request(ctx, wsfeed.MethodUnsubscribe, wsfeed.UnsubscribeRequest{Channel: channel})
	close(val.(chan *bus.Event)) //nolint:errcheck // subs map always stores chan *bus.Event
	return err
}

// WatchJob subscribes to the lifecycle events of a single job.
func (c *Client) WatchJob(ctx context.Context, jobID string) (<-chan *bus.Event, error) {
	return c.Subscribe(ctx, bus.JobTopic(jobID))
}
