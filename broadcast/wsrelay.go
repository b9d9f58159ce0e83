package broadcast

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/pipeline"
)

// EventEncoder shapes a ProgressEvent into whatever the transport layer
// sends on the wire (the API layer wraps events in its response envelope).
type EventEncoder func(event pipeline.ProgressEvent) any

// WSRelay bridges a Hub subscription onto a WebSocket connection. It is a
// pure transport adapter: one subscription per accepted connection, events
// forwarded in publish order, connection closed when the task reaches a
// terminal event.
type WSRelay struct {
	hub     *Hub
	encode  EventEncoder
	timeout time.Duration
	logger  *zap.Logger
}

// NewWSRelay constructs a relay over hub. encode may be nil, in which case
// raw ProgressEvents are sent.
func NewWSRelay(hub *Hub, encode EventEncoder, logger *zap.Logger) *WSRelay {
	if encode == nil {
		encode = func(event pipeline.ProgressEvent) any { return event }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSRelay{hub: hub, encode: encode, timeout: 10 * time.Second, logger: logger.With(zap.String("component", "wsrelay"))}
}

// ServeTask upgrades r to a WebSocket and forwards taskID's progress
// events until the stream terminates or the client disconnects.
func (rl *WSRelay) ServeTask(w http.ResponseWriter, r *http.Request, taskID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		rl.logger.Debug("websocket accept failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	sub := rl.hub.Subscribe(r.Context(), taskID)
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case event, open := <-sub.Events:
			if !open {
				conn.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, rl.timeout)
			err := wsjson.Write(writeCtx, conn, rl.encode(event))
			cancel()
			if err != nil {
				rl.logger.Debug("websocket write failed, dropping subscriber",
					zap.String("task_id", taskID), zap.Error(err))
				return
			}
			if event.Type == pipeline.EventCompleted || event.Type == pipeline.EventError {
				conn.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
		}
	}
}
