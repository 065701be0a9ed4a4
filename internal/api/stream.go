package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const streamIdleTimeout = 5 * time.Minute

// handleStream answers each text message holding a PredictRequest with a
// PredictResponse or ErrorResponse. Errors never close the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.StreamOpened()
		defer s.metrics.StreamClosed()
	}

	connID := RequestIDFrom(r.Context())
	log.Info().Str("conn", connID).Str("remote", r.RemoteAddr).Msg("Prediction stream opened")

	conn.SetReadLimit(s.cfg.MaxBodyBytes)
	served := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("conn", connID).Msg("Prediction stream closed unexpectedly")
			}
			break
		}
		if mt != websocket.TextMessage {
			continue
		}

		var out interface{}
		var req PredictRequest
		if err := json.Unmarshal(data, &req); err != nil {
			out = ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err), RequestID: connID}
		} else if resp, err := s.predict(req); err != nil {
			out = ErrorResponse{Error: err.Error(), Kind: kindName(err), RequestID: req.RequestID}
		} else {
			out = resp
			served++
		}

		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := conn.WriteJSON(out); err != nil {
			log.Warn().Err(err).Str("conn", connID).Msg("Failed to write stream response")
			break
		}
	}
	log.Info().Str("conn", connID).Int("served", served).Msg("Prediction stream closed")
}
