package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/lanbeam/lanbeam/internal/peerapi"
	"github.com/lanbeam/lanbeam/internal/utils"
	"github.com/lanbeam/lanbeam/internal/workspace"
)

type syncHandler struct {
	workspace *workspace.Workspace
}

func newSyncHandler(ws *workspace.Workspace) *syncHandler {
	return &syncHandler{workspace: ws}
}

// Upload writes one mirrored file under the sender's sync root. The relative
// path and sender name ride in headers so the body stays a plain multipart
// file.
func (h *syncHandler) Upload(c *gin.Context) {
	relPath := c.GetHeader(peerapi.HeaderSyncPath)
	senderName := c.GetHeader(peerapi.HeaderSyncDeviceName)
	if relPath == "" || senderName == "" {
		abortError(c, http.StatusBadRequest, fmt.Errorf("missing %s or %s header", peerapi.HeaderSyncPath, peerapi.HeaderSyncDeviceName))
		return
	}

	target, err := h.workspace.SyncTargetPath(senderName, relPath)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		abortError(c, http.StatusBadRequest, fmt.Errorf("missing file part: %w", err))
		return
	}

	if err := utils.EnsureDir(filepath.Dir(target)); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	if err := c.SaveUploadedFile(file, target); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, peerapi.SyncPathResponse{Status: "ok", Path: relPath})
}

// Delete removes a mirrored file or directory. Deleting something already
// gone succeeds, the sender only cares that it no longer exists.
func (h *syncHandler) Delete(c *gin.Context) {
	var req peerapi.SyncDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}

	target, err := h.workspace.SyncTargetPath(req.SenderName, req.RelativePath)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}

	if err := os.RemoveAll(target); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, peerapi.SyncPathResponse{Status: "deleted", Path: req.RelativePath})
}

// Check reports whether the mirrored copy of a file exists, and its size and
// mtime when it does. Senders use this to skip uploads of files the peer
// already has.
func (h *syncHandler) Check(c *gin.Context) {
	relPath := c.Query("path")
	senderName := c.Query("sender")
	if relPath == "" || senderName == "" {
		abortError(c, http.StatusBadRequest, errors.New("missing path or sender query param"))
		return
	}

	target, err := h.workspace.SyncTargetPath(senderName, relPath)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}

	info, err := os.Stat(target)
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusOK, peerapi.SyncCheckResponse{Exists: false})
	case err != nil:
		abortError(c, http.StatusInternalServerError, err)
	case info.IsDir():
		// a directory where a file is expected counts as absent
		c.JSON(http.StatusOK, peerapi.SyncCheckResponse{Exists: false})
	default:
		c.JSON(http.StatusOK, peerapi.SyncCheckResponse{
			Exists:       true,
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
	}
}
