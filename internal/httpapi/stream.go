package httpapi

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/spdci/registry-mock/internal/recorder"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

type streamReady struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// handleRequestStream pushes recorder events over a websocket, starting
// with a ready frame once the subscription is live.
func (s *Server) handleRequestStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn().Err(err).Msg("recording stream upgrade failed")
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.recordings.Subscribe(streamBuffer)
	defer unsubscribe()

	if err := wsjson.Write(ctx, conn, streamReady{Type: "ready", Count: s.recordings.Count()}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "write_failed")
		return
	}

	// Reads only detect the peer closing; clients send nothing.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			if err := s.writeEvent(ctx, conn, ev); err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev recorder.Event) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
