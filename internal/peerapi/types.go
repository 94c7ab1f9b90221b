package peerapi

import (
	"time"

	"github.com/lanbeam/lanbeam/internal/device"
)

// Headers shared by the client and the embedded server.
const (
	HeaderDeviceId       = "X-LanBeam-Device-Id"
	HeaderVersion        = "X-LanBeam-Version"
	HeaderSyncPath       = "X-Sync-Path"
	HeaderSyncDeviceId   = "X-Device-Id"
	HeaderSyncDeviceName = "X-Device-Name"
)

// Route paths of the peer API.
const (
	PathPing        = "/api/ping"
	PathInfo        = "/api/info"
	PathSendRequest = "/api/send-request"
	PathUpload      = "/api/upload"
	PathStatus      = "/api/status"
	PathClipboard   = "/api/clipboard"
	PathSyncUpload  = "/api/sync/upload"
	PathSyncDelete  = "/api/sync/delete"
	PathSyncCheck   = "/api/sync/check"
)

// Local control routes, served on the same port but meant for this
// machine's own tooling rather than peers.
const (
	PathDevices          = "/api/devices"
	PathTransfers        = "/api/transfers"
	PathClipboardHistory = "/api/clipboard/history"
	PathEvents           = "/api/events"
)

// Clipboard payload types.
const (
	ClipboardText  = "text"
	ClipboardImage = "image"
)

type PingResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// SendRequest is the transfer handshake offer. The sender identity fields
// double as an implicit presence hint for the receiver's registry.
type SendRequest struct {
	SenderID       string `json:"senderId" binding:"required"`
	SenderName     string `json:"senderName" binding:"required"`
	SenderIP       string `json:"senderIp,omitempty"`
	SenderPort     int    `json:"senderPort,omitempty"`
	SenderPlatform string `json:"senderPlatform,omitempty"`
	SenderVersion  string `json:"senderVersion,omitempty"`
	FileName       string `json:"fileName" binding:"required"`
	FileSize       int64  `json:"fileSize" binding:"required,gt=0"`
	FileType       string `json:"fileType,omitempty"`
}

// SendResponse is the receiver's verdict on a handshake.
type SendResponse struct {
	Accepted   bool   `json:"accepted"`
	TransferID string `json:"transferId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type UploadResponse struct {
	Status     string `json:"status"`
	TransferID string `json:"transferId"`
	SavePath   string `json:"savePath"`
}

// TransferInfo mirrors the receiver's transfer record as served by the
// status endpoint.
type TransferInfo struct {
	ID         string  `json:"id"`
	FileName   string  `json:"fileName"`
	FileSize   int64   `json:"fileSize"`
	SenderID   string  `json:"senderId"`
	SenderName string  `json:"senderName"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	Bytes      int64   `json:"bytes"`
	SavePath   string  `json:"savePath,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type ClipboardPayload struct {
	Text           string    `json:"text,omitempty"`
	ImageBase64    string    `json:"imageBase64,omitempty"`
	Sender         string    `json:"sender" binding:"required"`
	SenderDeviceID string    `json:"senderDeviceId" binding:"required"`
	Type           string    `json:"type" binding:"required,oneof=text image"`
	Timestamp      time.Time `json:"timestamp"`
}

type ClipboardResponse struct {
	Status    string `json:"status"`
	ImagePath string `json:"imagePath,omitempty"`
}

type SyncDeleteRequest struct {
	RelativePath   string `json:"relativePath" binding:"required"`
	SenderName     string `json:"senderName" binding:"required"`
	SenderDeviceID string `json:"senderDeviceId"`
}

// SyncPathResponse answers sync uploads and deletes.
type SyncPathResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

type SyncCheckResponse struct {
	Exists       bool  `json:"exists"`
	Size         int64 `json:"size"`
	LastModified int64 `json:"lastModified"`
}

// DeviceStatus is a registry entry joined with its probe state.
type DeviceStatus struct {
	device.Device
	AvgRttMs  int64 `json:"avgRttMs"`
	Reachable bool  `json:"reachable"`
}

// DevicesResponse answers the local device listing.
type DevicesResponse struct {
	Self    device.Device  `json:"self"`
	Devices []DeviceStatus `json:"devices"`
}
