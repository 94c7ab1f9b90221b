package server

import (
	"github.com/lanbeam/lanbeam/internal/clipboard"
	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/events"
	"github.com/lanbeam/lanbeam/internal/probe"
	"github.com/lanbeam/lanbeam/internal/syncengine"
	"github.com/lanbeam/lanbeam/internal/transfer"
	"github.com/lanbeam/lanbeam/internal/workspace"
)

// Services are the components the peer API serves. The server owns none of
// them, it only routes requests into them.
type Services struct {
	Identity  *device.Identity
	Registry  *device.Registry
	Prober    *probe.Prober
	Tracker   *transfer.Tracker
	Receiver  *transfer.Receiver
	Inbox     *clipboard.Inbox
	Workspace *workspace.Workspace
	Topics    EventTopics
}

// EventTopics are the bus topics fanned out on the events websocket.
type EventTopics struct {
	Devices   *events.Topic[[]device.Device]
	Transfers *events.Topic[transfer.Transfer]
	Clipboard *events.Topic[clipboard.Entry]
	SyncJobs  *events.Topic[syncengine.Job]
}
