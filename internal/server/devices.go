package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/peerapi"
	"github.com/lanbeam/lanbeam/internal/probe"
)

type deviceHandler struct {
	identity *device.Identity
	registry *device.Registry
	prober   *probe.Prober
}

func newDeviceHandler(identity *device.Identity, registry *device.Registry, prober *probe.Prober) *deviceHandler {
	return &deviceHandler{
		identity: identity,
		registry: registry,
		prober:   prober,
	}
}

func (h *deviceHandler) List(c *gin.Context) {
	known := h.registry.Snapshot()
	out := make([]peerapi.DeviceStatus, 0, len(known))
	for _, d := range known {
		rtt, ok := h.prober.RTT(d.ID)
		out = append(out, peerapi.DeviceStatus{Device: d, AvgRttMs: rtt, Reachable: ok})
	}

	c.JSON(http.StatusOK, peerapi.DevicesResponse{
		Self:    h.identity.Snapshot(),
		Devices: out,
	})
}
