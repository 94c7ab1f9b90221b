package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/lanbeam/lanbeam/internal/peerapi"
	"github.com/lanbeam/lanbeam/internal/server/middleware"
)

// Handshake and clipboard are the cheap-to-spam routes; uploads are
// self-limiting through the transfer state machine.
const burstRate = "20-S"

func setupRoutes(svc *Services) http.Handler {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	transfersH := newTransferHandler(svc.Identity, svc.Registry, svc.Tracker, svc.Receiver)
	clipboardH := newClipboardHandler(svc.Inbox)
	syncH := newSyncHandler(svc.Workspace)
	devicesH := newDeviceHandler(svc.Identity, svc.Registry, svc.Prober)
	eventsH := newEventsHandler(svc.Topics)

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())

	r.GET(peerapi.PathPing, Ping)
	r.GET(peerapi.PathInfo, transfersH.Info)

	r.POST(peerapi.PathSendRequest, middleware.RateLimit(burstRate), transfersH.SendRequest)
	r.POST(peerapi.PathUpload+"/:transferId", transfersH.Upload)
	r.GET(peerapi.PathStatus+"/:transferId", transfersH.Status)
	r.GET(peerapi.PathTransfers, transfersH.List)

	r.POST(peerapi.PathClipboard, middleware.RateLimit(burstRate), clipboardH.Push)
	r.GET(peerapi.PathClipboardHistory, clipboardH.History)

	r.POST(peerapi.PathSyncUpload, syncH.Upload)
	r.POST(peerapi.PathSyncDelete, syncH.Delete)
	r.GET(peerapi.PathSyncCheck, syncH.Check)

	r.GET(peerapi.PathDevices, devicesH.List)
	r.GET(peerapi.PathEvents, eventsH.Stream)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, peerapi.PingResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

// abortError ends the request with the wire error shape peers parse.
func abortError(c *gin.Context, status int, err error) {
	c.Abort()
	c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
