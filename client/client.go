// Package client provides a Go client for the darkroom live feed: frame
// RPC and lifecycle event subscriptions over WebSocket.
//
// Usage:
//
//	c, err := client.Dial("ws://localhost:8080/feed",
//	    client.WithToken("operator-token"),
//	)
//	defer c.Close()
//
//	// Enqueue a recipe and watch its lifecycle.
//	res, err := c.Enqueue(ctx, recipe, "high")
//	ch, err := c.Subscribe(ctx, "job:"+res.JobID)
//	for evt := range ch {
//	    fmt.Println(evt.Type)
//	}
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/darkroomhq/darkroom/bus"
	"github.com/darkroomhq/darkroom/wsfeed"
)

// Client talks to a darkroom feed server over WebSocket.
type Client struct {
	url    string
	token  string
	logger *slog.Logger

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	// Connection state.
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	sessionID string

	// Request-response correlation.
	nextID  atomic.Uint64
	pending sync.Map // frame ID → chan *wsfeed.Frame

	// Subscriptions.
	subs sync.Map // channel → chan *bus.Event
}

// Dial connects to a feed server and authenticates.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to a feed server with a context.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:        url,
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("darkroom/client: dial: %w", err)
	}
	go c.readLoop()
	return c, nil
}

// connect establishes the WebSocket connection and performs the auth
// handshake. The auth response is read inline because the read loop has
// not started yet.
func (c *Client) connect(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close() //nolint:errcheck // handshake response body
	}
	c.conn = conn

	authFrame, err := wsfeed.NewRequestFrame(c.frameID(), wsfeed.MethodAuth, wsfeed.AuthRequest{
		Token: c.token,
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("build auth frame: %w", err)
	}
	if writeErr := c.writeFrame(authFrame); writeErr != nil {
		_ = conn.Close()
		return writeErr
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck // handshake bound
	_, data, readErr := conn.ReadMessage()
	_ = conn.SetReadDeadline(time.Time{}) //nolint:errcheck // clear handshake bound
	if readErr != nil {
		_ = conn.Close()
		return fmt.Errorf("read auth response: %w", readErr)
	}

	var frame wsfeed.Frame
	if unmarshalErr := json.Unmarshal(data, &frame); unmarshalErr != nil {
		_ = conn.Close()
		return fmt.Errorf("unmarshal auth response: %w", unmarshalErr)
	}
	if frame.Type == wsfeed.FrameErr {
		_ = conn.Close()
		msg := "unknown error"
		if frame.Error != nil {
			msg = frame.Error.Message
		}
		return fmt.Errorf("auth failed: %s", msg)
	}

	var authResp wsfeed.AuthResponse
	if len(frame.Data) > 0 {
		if unmarshalErr := json.Unmarshal(frame.Data, &authResp); unmarshalErr != nil {
			c.logger.Warn("bad auth response payload", slog.String("error", unmarshalErr.Error()))
		}
	}
	c.sessionID = authResp.SessionID
	return nil
}

// readLoop reads frames and routes them to pending requests or
// subscription channels.
func (c *Client) readLoop() {
	for {
		if c.closed.Load() {
			return
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("feed read error", slog.String("error", err.Error()))
			if c.reconnect {
				c.tryReconnect()
			}
			return
		}

		var frame wsfeed.Frame
		if unmarshalErr := json.Unmarshal(data, &frame); unmarshalErr != nil {
			c.logger.Warn("invalid frame", slog.String("error", unmarshalErr.Error()))
			continue
		}

		switch frame.Type {
		case wsfeed.FrameResponse, wsfeed.FrameErr:
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *wsfeed.Frame) //nolint:errcheck // pending map always stores chan *wsfeed.Frame
				select {
				case ch <- &frame:
				default:
				}
			}
		case wsfeed.FrameEvent:
			var evt bus.Event
			if json.Unmarshal(frame.Data, &evt) != nil {
				continue
			}
			// Server frames carry the entity topic; aggregate
			// subscriptions (jobs, firehose, priority bands) match by
			// the same resolution the broker publishes with.
			for _, topic := range bus.ResolveTopics(&evt) {
				if val, ok := c.subs.Load(topic); ok {
					ch := val.(chan *bus.Event) //nolint:errcheck // subs map always stores chan *bus.Event
					select {
					case ch <- &evt:
					default:
						// Drop if the subscriber is slow.
					}
				}
			}
		case wsfeed.FramePong:
			// Ignore.
		}
	}
}

// tryReconnect re-dials with exponential backoff and replays
// subscriptions.
func (c *Client) tryReconnect() {
	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("feed reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("feed reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		go c.readLoop()
		c.resubscribe()
		return
	}
	c.logger.Error("feed client: max reconnection attempts reached")
}

// resubscribe replays all live subscriptions on a fresh connection.
func (c *Client) resubscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.subs.Range(func(key, _ any) bool {
		channel := key.(string) //nolint:errcheck // subs map keys are channel strings
		if _, err := c.request(ctx, wsfeed.MethodSubscribe, wsfeed.SubscribeRequest{Channel: channel}); err != nil {
			c.logger.Warn("resubscribe failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
		return true
	})
}

// request sends a request frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, method string, data any) (*wsfeed.Frame, error) {
	frame, err := wsfeed.NewRequestFrame(c.frameID(), method, data)
	if err != nil {
		return nil, fmt.Errorf("build request frame: %w", err)
	}

	respCh := make(chan *wsfeed.Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == wsfeed.FrameErr {
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return nil, fmt.Errorf("feed error: %s", msg)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeFrame JSON-encodes and sends a frame. gorilla permits only one
// concurrent writer.
func (c *Client) writeFrame(frame *wsfeed.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) frameID() string {
	return "c-" + strconv.FormatUint(c.nextID.Add(1), 10)
}

// SessionID returns the session ID assigned by the server.
func (c *Client) SessionID() string { return c.sessionID }

// Close closes the client connection and all subscription channels.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.subs.Range(func(key, val any) bool {
		ch := val.(chan *bus.Event) //nolint:errcheck // subs map always stores chan *bus.Event
		close(ch)
		c.subs.Delete(key)
		return true
	})

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
