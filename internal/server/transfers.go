package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/peerapi"
	"github.com/lanbeam/lanbeam/internal/transfer"
)

type transferHandler struct {
	identity *device.Identity
	registry *device.Registry
	tracker  *transfer.Tracker
	receiver *transfer.Receiver
}

func newTransferHandler(identity *device.Identity, registry *device.Registry, tracker *transfer.Tracker, receiver *transfer.Receiver) *transferHandler {
	return &transferHandler{
		identity: identity,
		registry: registry,
		tracker:  tracker,
		receiver: receiver,
	}
}

func (h *transferHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, h.identity.Snapshot())
}

// SendRequest is the transfer handshake. The acceptance policy decides, the
// answer always carries a transfer id, accepted or not.
func (h *transferHandler) SendRequest(c *gin.Context) {
	var req peerapi.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}

	// a sender that can reach us is by definition on the network
	if req.SenderIP != "" {
		h.registry.Upsert(device.Device{
			ID:       req.SenderID,
			Name:     req.SenderName,
			IP:       req.SenderIP,
			Port:     req.SenderPort,
			Platform: req.SenderPlatform,
			Version:  req.SenderVersion,
		})
	}

	snap := h.tracker.Offer(&req)
	c.JSON(http.StatusOK, peerapi.SendResponse{
		Accepted:   snap.Status == transfer.StatusAccepted,
		TransferID: snap.ID,
		Reason:     snap.Error,
	})
}

// Upload streams the raw request body into the workspace. Unknown and
// already-finished ids are indistinguishable on purpose.
func (h *transferHandler) Upload(c *gin.Context) {
	id := c.Param("transferId")

	snap, err := h.receiver.Receive(c.Request.Context(), id, c.Request.Body)
	if err != nil {
		switch {
		case errors.Is(err, transfer.ErrUnknownTransfer):
			abortError(c, http.StatusNotFound, err)
		case errors.Is(err, transfer.ErrTransferActive):
			abortError(c, http.StatusConflict, err)
		case errors.Is(err, transfer.ErrSizeMismatch):
			abortError(c, http.StatusBadRequest, err)
		default:
			abortError(c, http.StatusInternalServerError, err)
		}
		return
	}

	c.JSON(http.StatusOK, peerapi.UploadResponse{
		Status:     "ok",
		TransferID: snap.ID,
		SavePath:   snap.SavePath,
	})
}

func (h *transferHandler) Status(c *gin.Context) {
	id := c.Param("transferId")

	snap, ok := h.tracker.Get(id)
	if !ok {
		abortError(c, http.StatusNotFound, transfer.ErrUnknownTransfer)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *transferHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"transfers": h.tracker.Snapshot()})
}
