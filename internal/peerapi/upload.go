package peerapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/lanbeam/lanbeam/internal/jsonc"
	"github.com/lanbeam/lanbeam/internal/utils"
	"github.com/lanbeam/lanbeam/internal/version"
)

/*
not using the req client for the payload stream:
- SetBody() reads the whole io.Reader into memory
- SetFile() wraps the body in multipart, the upload route wants raw bytes
- Content-Length must equal the exact file size for receiver-side verification
*/

// no global timeout, large files stream for minutes. Cancellation and
// deadlines come in through ctx.
var uploadHTTPClient = &http.Client{}

type UploadOpts struct {
	// Progress is invoked with (sent, total) while the body streams.
	Progress ProgressCallback
	// RateKBps caps the upload throughput. 0 means unthrottled.
	RateKBps int
}

// Upload streams the file body of an accepted transfer to the peer.
func (c *Client) Upload(ctx context.Context, baseURL, transferID, filePath string, opts *UploadOpts) (*UploadResponse, error) {
	if opts == nil {
		opts = &UploadOpts{}
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", filePath, err)
	}

	var body io.Reader = file
	if opts.RateKBps > 0 {
		body = newThrottleReader(ctx, body, opts.RateKBps)
	}
	body = &progressReader{
		reader:   body,
		total:    info.Size(),
		callback: opts.Progress,
	}

	url := fmt.Sprintf("%s%s/%s", baseURL, PathUpload, transferID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	httpReq.ContentLength = info.Size()
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set(HeaderVersion, version.Version)
	httpReq.Header.Set(HeaderDeviceId, utils.HWID)

	resp, err := uploadHTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", transferID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var peerErr APIError
		if jsonc.Unmarshal(raw, &peerErr) == nil && peerErr.Message != "" {
			apiErr.Message = peerErr.Message
		}
		return nil, fmt.Errorf("upload %s: %w", transferID, apiErr)
	}

	var out UploadResponse
	if err := jsonc.Decode(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &out, nil
}
