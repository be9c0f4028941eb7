package wsfeed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/darkroomhq/darkroom/bus"
)

// Option configures a feed Server.
type Option func(*Server)

// WithAuth sets the authenticator. If not set, NoopAuthenticator is
// used (development mode).
func WithAuth(auth Authenticator) Option {
	return func(s *Server) { s.auth = auth }
}

// WithCodec sets the default codec. Clients can override via the auth
// frame's format field.
func WithCodec(codec Codec) Option {
	return func(s *Server) { s.defaultCodec = codec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPath sets the base path for feed endpoints. Default is "/feed".
func WithPath(path string) Option {
	return func(s *Server) { s.basePath = path }
}

// Server handles WebSocket, SSE, and HTTP RPC connections, bridging
// clients to the event broker and scheduler.
type Server struct {
	broker       *bus.Broker
	handler      *Handler
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	basePath     string
}

// NewServer creates a feed server.
func NewServer(broker *bus.Broker, handler *Handler, opts ...Option) *Server {
	s := &Server{
		broker:       broker,
		handler:      handler,
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:   slog.Default(),
		basePath: "/feed",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	return s
}

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// RegisterRoutes mounts feed endpoints on a mux router.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc(s.basePath, s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc(s.basePath+"/sse", s.handleSSE).Methods(http.MethodGet)
	r.HandleFunc(s.basePath+"/rpc", s.handleHTTPRPC).Methods(http.MethodPost)
}

// wsWriter serializes writes to a WebSocket connection. The event
// forwarder and the request loop both write, and gorilla permits only
// one concurrent writer.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(codec Codec, frame *Frame) error {
	data, err := codec.Encode(frame)
	if err != nil {
		return err
	}
	msgType := websocket.TextMessage
	if codec.Name() == CodecNameMsgpack {
		msgType = websocket.BinaryMessage
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(msgType, data)
}

func (s *Server) handleWebSocket(rw http.ResponseWriter, req *http.Request) {
	wsConn, err := s.upgrader.Upgrade(rw, req, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer wsConn.Close()

	connID := "ws-" + newFrameID()
	writer := &wsWriter{conn: wsConn}
	s.logger.Info("feed connected", slog.String("conn_id", connID))

	// Wait for the auth frame. Auth frames are always JSON, before
	// codec negotiation.
	_, authData, readErr := wsConn.ReadMessage()
	if readErr != nil {
		return
	}

	var authFrame Frame
	if err := json.Unmarshal(authData, &authFrame); err != nil {
		_ = writer.write(&JSONCodec{}, NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame"))
		return
	}
	if authFrame.Method != MethodAuth {
		_ = writer.write(&JSONCodec{}, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return
	}

	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			_ = writer.write(&JSONCodec{}, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return
		}
	}

	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, authErr := s.auth.Authenticate(req.Context(), token)
	if authErr != nil {
		_ = writer.write(&JSONCodec{}, NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return
	}

	codec := s.defaultCodec
	if authReq.Format != "" {
		codec = GetCodec(authReq.Format)
	}

	conn := NewConnection(connID, identity, codec)
	s.conns.Add(conn)
	defer func() {
		s.broker.RemoveSubscriber(connID)
		s.conns.Remove(connID)
		s.logger.Info("feed disconnected", slog.String("conn_id", connID))
	}()

	resp, respErr := NewResponseFrame(authFrame.ID, AuthResponse{
		Format:    codec.Name(),
		SessionID: connID,
	})
	if respErr != nil {
		return
	}
	if err := writer.write(codec, resp); err != nil {
		return
	}

	s.logger.Info("feed authenticated",
		slog.String("conn_id", connID),
		slog.String("subject", identity.Subject),
		slog.String("codec", codec.Name()),
	)

	// Forward broker events to the socket until the subscriber closes.
	sub := s.broker.Subscribe(connID)
	go s.forwardEvents(writer, codec, sub)

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			return // Connection closed.
		}

		conn.Touch()

		frame, decErr := codec.Decode(data)
		if decErr != nil {
			_ = writer.write(codec, NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error()))
			continue
		}

		if frame.Type == FramePing {
			pong := &Frame{
				ID:        newFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: frame.Timestamp,
			}
			_ = writer.write(codec, pong)
			continue
		}

		if frame.Method != "" {
			reqScope := RequiredScope(frame.Method)
			if reqScope != "" && !identity.HasScope(reqScope) {
				_ = writer.write(codec, NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions"))
				continue
			}
		}

		respFrame := s.handler.Handle(req.Context(), frame)
		if respFrame == nil {
			continue
		}

		// Subscribe/unsubscribe take effect after the handler
		// validates the request.
		if frame.Method == MethodSubscribe && respFrame.Type == FrameResponse {
			var subReq SubscribeRequest
			if json.Unmarshal(frame.Data, &subReq) == nil {
				s.broker.SubscribeTo(connID, subReq.Channel)
				conn.AddSubscription(subReq.Channel)
			}
		} else if frame.Method == MethodUnsubscribe && respFrame.Type == FrameResponse {
			var unsubReq UnsubscribeRequest
			if json.Unmarshal(frame.Data, &unsubReq) == nil {
				s.broker.Unsubscribe(connID, unsubReq.Channel)
				conn.RemoveSubscription(unsubReq.Channel)
			}
		}

		if writeErr := writer.write(codec, respFrame); writeErr != nil {
			s.logger.Warn("write response frame", slog.String("error", writeErr.Error()))
		}
	}
}

// forwardEvents reads from the subscriber channel and writes events to
// the socket.
func (s *Server) forwardEvents(writer *wsWriter, codec Codec, sub *bus.Subscriber) {
	for evt := range sub.C() {
		evtFrame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if writeErr := writer.write(codec, evtFrame); writeErr != nil {
			return // Connection gone.
		}
	}
}

// handleSSE serves read-only Server-Sent Events for clients that
// cannot establish WebSocket connections.
func (s *Server) handleSSE(rw http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")
	identity, err := s.auth.Authenticate(req.Context(), token)
	if err != nil {
		http.Error(rw, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !identity.HasScope(ScopeSubscribe) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}

	channel := req.URL.Query().Get("channel")
	if channel == "" {
		http.Error(rw, "channel parameter required", http.StatusBadRequest)
		return
	}
	if err := bus.ValidateTopic(channel); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)
	flusher.Flush()

	connID := "sse-" + newFrameID()
	sub := s.broker.Subscribe(connID, channel)
	defer s.broker.RemoveSubscriber(connID)

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, marshalErr := json.Marshal(evt)
			if marshalErr != nil {
				continue
			}
			fmt.Fprintf(rw, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		case <-req.Context().Done():
			return
		}
	}
}

// handleHTTPRPC handles one-shot HTTP RPC requests. Frames are always
// JSON over this endpoint.
func (s *Server) handleHTTPRPC(rw http.ResponseWriter, req *http.Request) {
	var frame Frame
	if err := json.NewDecoder(req.Body).Decode(&frame); err != nil {
		writeJSON(rw, http.StatusBadRequest, NewErrorFrame("", ErrCodeBadRequest, "invalid request body"))
		return
	}

	token := frame.Token
	if token == "" {
		token = req.Header.Get("Authorization")
	}
	identity, err := s.auth.Authenticate(req.Context(), token)
	if err != nil {
		writeJSON(rw, http.StatusUnauthorized, NewErrorFrame(frame.ID, ErrCodeUnauthorized, "unauthorized"))
		return
	}

	reqScope := RequiredScope(frame.Method)
	if reqScope != "" && !identity.HasScope(reqScope) {
		writeJSON(rw, http.StatusForbidden, NewErrorFrame(frame.ID, ErrCodeForbidden, "forbidden"))
		return
	}

	resp := s.handler.Handle(req.Context(), &frame)
	if resp == nil {
		rw.WriteHeader(http.StatusNoContent)
		return
	}

	status := http.StatusOK
	if resp.Type == FrameErr && resp.Error != nil {
		status = resp.Error.Code
		if status < 100 || status > 599 {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(rw, status, resp)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
