package peerapi

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/imroc/req/v3"

	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/jsonc"
	"github.com/lanbeam/lanbeam/internal/utils"
	"github.com/lanbeam/lanbeam/internal/version"
)

var userAgent = fmt.Sprintf("LanBeam/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// Client talks to peer devices. One instance serves all peers, the
// base URL is supplied per call. Retry policy deliberately lives with
// the callers, every request here is single-shot.
type Client struct {
	http *req.Client
}

func New() *Client {
	c := req.C().
		SetTimeout(30 * time.Second).
		SetUserAgent(userAgent).
		SetCommonHeader(HeaderVersion, version.Version).
		SetCommonHeader(HeaderDeviceId, utils.HWID).
		SetJsonMarshal(jsonc.Marshal).
		SetJsonUnmarshal(jsonc.Unmarshal)

	return &Client{http: c}
}

// Ping checks liveness and returns the round-trip time.
func (c *Client) Ping(ctx context.Context, baseURL string) (time.Duration, error) {
	var out PingResponse
	var apiErr APIError

	start := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Get(baseURL + PathPing)

	if err := handleAPIError(res, err, "ping"); err != nil {
		return 0, err
	}
	if out.Status != "ok" {
		return 0, fmt.Errorf("ping: unexpected status %q", out.Status)
	}
	return time.Since(start), nil
}

// DeviceInfo fetches the peer's identity record.
func (c *Client) DeviceInfo(ctx context.Context, baseURL string) (device.Device, error) {
	var out device.Device
	var apiErr APIError

	res, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Get(baseURL + PathInfo)

	if err := handleAPIError(res, err, "device info"); err != nil {
		return device.Device{}, err
	}
	return out, nil
}

// RequestSend offers a transfer to the peer and returns its verdict.
func (c *Client) RequestSend(ctx context.Context, baseURL string, payload *SendRequest) (*SendResponse, error) {
	var out SendResponse
	var apiErr APIError

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Post(baseURL + PathSendRequest)

	if err := handleAPIError(res, err, "send request"); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransferStatus fetches the receiver-side state of a transfer.
func (c *Client) TransferStatus(ctx context.Context, baseURL, transferID string) (*TransferInfo, error) {
	var out TransferInfo
	var apiErr APIError

	res, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Get(baseURL + PathStatus + "/" + transferID)

	if err := handleAPIError(res, err, "transfer status"); err != nil {
		return nil, err
	}
	return &out, nil
}

// PushClipboard delivers a clipboard entry to the peer.
func (c *Client) PushClipboard(ctx context.Context, baseURL string, payload *ClipboardPayload) (*ClipboardResponse, error) {
	var out ClipboardResponse
	var apiErr APIError

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Post(baseURL + PathClipboard)

	if err := handleAPIError(res, err, "push clipboard"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Devices fetches a daemon's device table. This is a local control call,
// baseURL normally points at this machine's own daemon.
func (c *Client) Devices(ctx context.Context, baseURL string) (*DevicesResponse, error) {
	var out DevicesResponse
	var apiErr APIError

	res, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Get(baseURL + PathDevices)

	if err := handleAPIError(res, err, "devices"); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncCheck asks the peer about its copy of a synced file.
func (c *Client) SyncCheck(ctx context.Context, baseURL, relPath, senderName string) (*SyncCheckResponse, error) {
	var out SyncCheckResponse
	var apiErr APIError

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("path", relPath).
		SetQueryParam("sender", senderName).
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Get(baseURL + PathSyncCheck)

	if err := handleAPIError(res, err, "sync check"); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncDelete mirrors a local deletion to the peer.
func (c *Client) SyncDelete(ctx context.Context, baseURL string, payload *SyncDeleteRequest) (*SyncPathResponse, error) {
	var out SyncPathResponse
	var apiErr APIError

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Post(baseURL + PathSyncDelete)

	if err := handleAPIError(res, err, "sync delete"); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncUpload pushes one synced file to the peer as multipart form data.
func (c *Client) SyncUpload(ctx context.Context, baseURL, localPath, relPath, deviceID, deviceName string) (*SyncPathResponse, error) {
	var out SyncPathResponse
	var apiErr APIError

	res, err := c.http.R().
		SetContext(ctx).
		SetFile("file", localPath).
		SetHeader(HeaderSyncPath, relPath).
		SetHeader(HeaderSyncDeviceId, deviceID).
		SetHeader(HeaderSyncDeviceName, deviceName).
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Post(baseURL + PathSyncUpload)

	if err := handleAPIError(res, err, "sync upload"); err != nil {
		return nil, err
	}
	return &out, nil
}
