package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lanbeam/lanbeam/internal/clipboard"
	"github.com/lanbeam/lanbeam/internal/peerapi"
)

type clipboardHandler struct {
	inbox *clipboard.Inbox
}

func newClipboardHandler(inbox *clipboard.Inbox) *clipboardHandler {
	return &clipboardHandler{inbox: inbox}
}

func (h *clipboardHandler) Push(c *gin.Context) {
	var payload peerapi.ClipboardPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}

	entry, err := h.inbox.Push(&payload)
	if err != nil {
		if errors.Is(err, clipboard.ErrEmptyContent) || errors.Is(err, clipboard.ErrBadPayload) {
			abortError(c, http.StatusBadRequest, err)
		} else {
			abortError(c, http.StatusInternalServerError, err)
		}
		return
	}

	c.JSON(http.StatusOK, peerapi.ClipboardResponse{
		Status:    "ok",
		ImagePath: entry.ImagePath,
	})
}

func (h *clipboardHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": h.inbox.History()})
}
