package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
)

const wsWriteTimeout = 20 * time.Second

// Event stream type tags.
const (
	eventDevices   = "devices"
	eventTransfer  = "transfer"
	eventClipboard = "clipboard"
	eventSyncJob   = "sync_job"
)

// wsEvent is the envelope every event stream message rides in.
type wsEvent struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

type eventsHandler struct {
	topics EventTopics
}

func newEventsHandler(topics EventTopics) *eventsHandler {
	return &eventsHandler{topics: topics}
}

// Stream upgrades to a websocket and forwards daemon events until the
// client goes away. The stream is one-way, anything the client sends
// only serves to keep the connection's read side drained.
func (h *eventsHandler) Stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("events accept", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutdown")

	ctx := conn.CloseRead(c.Request.Context())

	devices, cancelDevices := h.topics.Devices.Subscribe()
	defer cancelDevices()
	transfers, cancelTransfers := h.topics.Transfers.Subscribe()
	defer cancelTransfers()
	clips, cancelClips := h.topics.Clipboard.Subscribe()
	defer cancelClips()
	jobs, cancelJobs := h.topics.SyncJobs.Subscribe()
	defer cancelJobs()

	slog.Debug("events stream open", "remote", c.ClientIP())

	for {
		var evt wsEvent
		select {
		case <-ctx.Done():
			slog.Debug("events stream closed", "remote", c.ClientIP())
			return
		case d := <-devices:
			evt = wsEvent{Type: eventDevices, Data: d}
		case t := <-transfers:
			evt = wsEvent{Type: eventTransfer, Data: t}
		case e := <-clips:
			evt = wsEvent{Type: eventClipboard, Data: e}
		case j := <-jobs:
			evt = wsEvent{Type: eventSyncJob, Data: j}
		}
		evt.Time = time.Now().UTC()

		writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		err := wsjson.Write(writeCtx, conn, evt)
		cancel()
		if err != nil {
			slog.Warn("events write", "type", evt.Type, "error", err)
			return
		}
	}
}
