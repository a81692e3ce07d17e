package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/livevoice/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
	wsCloseGrace   = time.Second
)

// handleAudioWS runs one voice conversation. The handler goroutine owns the
// connection lifecycle; a reader feeds inbound frames, a single writer
// drains outbound events, and the orchestrator sits between them.
func (s *Server) handleAudioWS(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", errNoOrchestrator.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sess := s.registry.Create()
	logger := s.logger.With().Str("session_id", sess.ID()).Logger()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 16)

	runDone := make(chan error, 1)
	go func() {
		err := s.orchestrator.RunConnection(ctx, sess, inbound, outbound)
		close(outbound)
		runDone <- err
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, outbound, cancel)
	}()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(inbound)
		s.readLoop(ctx, conn, inbound, logger)
	}()

	<-writerDone
	cancel()
	_ = conn.Close()
	<-readerDone
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("connection terminated")
	}
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// readLoop turns websocket frames into orchestrator input. It returns on the
// first read error; the deferred close of inbound signals the disconnect.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, inbound chan<- any, logger zerolog.Logger) {
	if s.cfg.MaxAudioChunkBytes > 0 {
		conn.SetReadLimit(int64(s.cfg.MaxAudioChunkBytes))
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var frame any
		switch msgType {
		case websocket.BinaryMessage:
			frame = protocol.AudioChunk{Data: data}
		case websocket.TextMessage:
			parsed, err := protocol.ParseClientMessage(data)
			if err != nil {
				// The orchestrator decides: unsupported types are reported,
				// malformed JSON ends the connection.
				frame = err
				s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
			} else {
				frame = parsed
			}
		default:
			continue
		}
		if t, ok := protocol.TypeOf(frame); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		select {
		case inbound <- frame:
		case <-ctx.Done():
			return
		}
		if errors.Is(asError(frame), protocol.ErrMalformed) {
			return
		}
	}
}

// writeLoop is the only writer on conn. When outbound closes it sends a
// normal close frame.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan any, cancel context.CancelFunc) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-outbound:
			if !ok {
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsCloseGrace),
				)
				return
			}
			if err := writeFrame(conn, msg); err != nil {
				s.metrics.WSWriteErrors.WithLabelValues(frameKind(msg)).Inc()
				cancel()
				return
			}
			if t, ok := protocol.TypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				s.metrics.WSWriteErrors.WithLabelValues("ping").Inc()
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if frame, ok := msg.(protocol.AudioFrame); ok {
		return conn.WriteMessage(websocket.BinaryMessage, frame.Data)
	}
	return conn.WriteJSON(msg)
}

func frameKind(msg any) string {
	if _, ok := msg.(protocol.AudioFrame); ok {
		return "binary"
	}
	return "json"
}

func asError(v any) error {
	err, _ := v.(error)
	return err
}
