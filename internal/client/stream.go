package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/api"
)

// Stream is a prediction session over one websocket connection. Calls are
// serialized; responses arrive in request order.
type Stream struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

// Stream opens a websocket session to the server.
func (c *Client) Stream(ctx context.Context) (*Stream, error) {
	url := "ws" + strings.TrimPrefix(c.base, "http") + api.PathStream
	log.Debug().Str("url", url).Msg("Opening prediction stream")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return &Stream{conn: conn, timeout: c.rest.GetClient().Timeout}, nil
}

// Predict sends one feature vector and waits for its answer. Server-side
// errors come back as *APIError with StatusCode 0; the stream stays usable.
func (s *Stream) Predict(features []float64) (*api.PredictResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timeout > 0 {
		deadline := time.Now().Add(s.timeout)
		_ = s.conn.SetWriteDeadline(deadline)
		_ = s.conn.SetReadDeadline(deadline)
	}
	if err := s.conn.WriteJSON(api.PredictRequest{Features: features}); err != nil {
		return nil, fmt.Errorf("stream write: %w", err)
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("stream read: %w", err)
	}

	var msg struct {
		api.PredictResponse
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("stream decode: %w", err)
	}
	if msg.Error != "" {
		return nil, &APIError{Message: msg.Error, Kind: msg.Kind, RequestID: msg.RequestID}
	}
	return &msg.PredictResponse, nil
}

// Close sends a close frame and releases the connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
