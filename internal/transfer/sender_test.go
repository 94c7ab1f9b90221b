package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/peerapi"
)

// fakePeer is a scripted receiver. Zero values mean every request succeeds;
// the fail counters make the next n requests answer 500.
type fakePeer struct {
	t   *testing.T
	srv *httptest.Server

	mu             sync.Mutex
	pings          int
	handshakes     int
	uploads        int
	inflight       int
	maxInflight    int
	names          []string
	uploaded       map[string][]byte
	pingFails      int
	handshakeFails int
	handshakeCode  int
	uploadFails    int
	accept         bool
	reason         string

	uploadGate    chan struct{}
	uploadStarted chan struct{}
}

func newFakePeer(t *testing.T) *fakePeer {
	p := &fakePeer{
		t:             t,
		accept:        true,
		uploaded:      make(map[string][]byte),
		uploadStarted: make(chan struct{}, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+peerapi.PathPing, p.handlePing)
	mux.HandleFunc("POST "+peerapi.PathSendRequest, p.handleSendRequest)
	mux.HandleFunc("POST "+peerapi.PathUpload+"/{id}", p.handleUpload)

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePeer) handlePing(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.pings++
	fail := p.pingFails > 0
	if fail {
		p.pingFails--
	}
	p.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "down"})
		return
	}
	json.NewEncoder(w).Encode(peerapi.PingResponse{Status: "ok", Timestamp: time.Now().UTC()})
}

func (p *fakePeer) handleSendRequest(w http.ResponseWriter, r *http.Request) {
	var req peerapi.SendRequest
	require.NoError(p.t, json.NewDecoder(r.Body).Decode(&req))

	p.mu.Lock()
	p.handshakes++
	fail := p.handshakeFails > 0
	if fail {
		p.handshakeFails--
	}
	code := p.handshakeCode
	accept, reason := p.accept, p.reason
	if !fail && code == 0 && accept {
		p.names = append(p.names, req.FileName)
	}
	p.mu.Unlock()

	switch {
	case fail:
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
	case code != 0:
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"error": "denied"})
	default:
		json.NewEncoder(w).Encode(peerapi.SendResponse{
			Accepted:   accept,
			TransferID: "srv-" + req.FileName,
			Reason:     reason,
		})
	}
}

func (p *fakePeer) handleUpload(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.uploads++
	p.inflight++
	if p.inflight > p.maxInflight {
		p.maxInflight = p.inflight
	}
	fail := p.uploadFails > 0
	if fail {
		p.uploadFails--
	}
	gate := p.uploadGate
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inflight--
		p.mu.Unlock()
	}()

	select {
	case p.uploadStarted <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}
	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
		return
	}

	id := r.PathValue("id")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return
	}

	p.mu.Lock()
	p.uploaded[id] = body
	p.mu.Unlock()

	json.NewEncoder(w).Encode(peerapi.UploadResponse{
		Status:     "completed",
		TransferID: id,
		SavePath:   "/downloads/" + filepath.Base(id),
	})
}

func (p *fakePeer) target() device.Device {
	u, err := url.Parse(p.srv.URL)
	require.NoError(p.t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(p.t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(p.t, err)

	return device.Device{ID: "peer-1", Name: "peer", IP: host, Port: port}
}

func (p *fakePeer) counts() (pings, handshakes, uploads int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings, p.handshakes, p.uploads
}

func (p *fakePeer) handshakeNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...)
}

func testIdentity() *device.Identity {
	return device.NewIdentity(&config.Config{
		DeviceID:     "self-id",
		DeviceName:   "self",
		TransferPort: 38900,
	})
}

func newTestSender(rate int) *Sender {
	s := NewSender(peerapi.New(), testIdentity(), rate)
	s.retryDelay = 5 * time.Millisecond
	return s
}

func outgoingFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, size), 0o644))
	return path
}

func outgoingTransfer(t *testing.T, name string, size int) Transfer {
	t.Helper()
	now := time.Now().UTC()
	return Transfer{
		ID:         uuid.NewString(),
		Direction:  Outgoing,
		FileName:   name,
		FileSize:   int64(size),
		SenderID:   "self-id",
		SenderName: "self",
		Status:     StatusPending,
		SourcePath: outgoingFile(t, name, size),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestSendHappyPath(t *testing.T) {
	peer := newFakePeer(t)
	s := newTestSender(0)

	var statuses []Status
	done := s.Send(context.Background(), outgoingTransfer(t, "payload.bin", 64*1024), peer.target(),
		func(tr Transfer) { statuses = append(statuses, tr.Status) })

	require.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 1.0, done.Progress)
	assert.Equal(t, int64(64*1024), done.Bytes)
	assert.Equal(t, "srv-payload.bin", done.RemoteID)
	assert.NotEmpty(t, done.SavePath)
	assert.Empty(t, done.Error)

	assert.Contains(t, statuses, StatusAccepted)
	assert.Contains(t, statuses, StatusTransferring)
	assert.Equal(t, StatusCompleted, statuses[len(statuses)-1])

	pings, handshakes, uploads := peer.counts()
	assert.Equal(t, 1, pings)
	assert.Equal(t, 1, handshakes)
	assert.Equal(t, 1, uploads)

	peer.mu.Lock()
	assert.Len(t, peer.uploaded["srv-payload.bin"], 64*1024)
	peer.mu.Unlock()
}

func TestSendProbeFailureShortCircuits(t *testing.T) {
	peer := newFakePeer(t)
	peer.pingFails = 99
	s := newTestSender(0)

	done := s.Send(context.Background(), outgoingTransfer(t, "a.bin", 128), peer.target(), nil)

	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Error, "unreachable")

	// the probe is a single shot, it never consumes the retry budget
	pings, handshakes, uploads := peer.counts()
	assert.Equal(t, 1, pings)
	assert.Zero(t, handshakes)
	assert.Zero(t, uploads)
}

func TestSendRejectedNeverUploads(t *testing.T) {
	peer := newFakePeer(t)
	peer.accept = false
	peer.reason = "receiver busy"
	s := newTestSender(0)

	done := s.Send(context.Background(), outgoingTransfer(t, "a.bin", 128), peer.target(), nil)

	assert.Equal(t, StatusRejected, done.Status)
	assert.Equal(t, "receiver busy", done.Error)

	_, handshakes, uploads := peer.counts()
	assert.Equal(t, 1, handshakes)
	assert.Zero(t, uploads, "a rejected handshake must never be followed by an upload")
}

func TestSendHandshakeRetriesServerErrors(t *testing.T) {
	peer := newFakePeer(t)
	peer.handshakeFails = 2
	s := newTestSender(0)

	done := s.Send(context.Background(), outgoingTransfer(t, "a.bin", 128), peer.target(), nil)

	assert.Equal(t, StatusCompleted, done.Status)
	_, handshakes, uploads := peer.counts()
	assert.Equal(t, 3, handshakes)
	assert.Equal(t, 1, uploads)
}

func TestSendHandshakeClientErrorNotRetried(t *testing.T) {
	peer := newFakePeer(t)
	peer.handshakeCode = http.StatusConflict
	s := newTestSender(0)

	done := s.Send(context.Background(), outgoingTransfer(t, "a.bin", 128), peer.target(), nil)

	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Error, "denied")
	_, handshakes, _ := peer.counts()
	assert.Equal(t, 1, handshakes)
}

func TestSendUploadRetriesServerErrors(t *testing.T) {
	peer := newFakePeer(t)
	peer.uploadFails = 1
	s := newTestSender(0)

	done := s.Send(context.Background(), outgoingTransfer(t, "a.bin", 2048), peer.target(), nil)

	assert.Equal(t, StatusCompleted, done.Status)
	_, _, uploads := peer.counts()
	assert.Equal(t, 2, uploads)

	peer.mu.Lock()
	assert.Len(t, peer.uploaded["srv-a.bin"], 2048)
	peer.mu.Unlock()
}

func TestSendCancelResolvesCancelled(t *testing.T) {
	peer := newFakePeer(t)
	s := newTestSender(1) // 1 KB/s forces the upload to outlive the cancel

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := s.Send(ctx, outgoingTransfer(t, "big.bin", 8*1024), peer.target(), nil)

	assert.Equal(t, StatusCancelled, done.Status)
	assert.Empty(t, done.Error)
	_, _, uploads := peer.counts()
	assert.Equal(t, 1, uploads, "cancellation must not trigger a retry")
}

func TestSendMissingSourceFails(t *testing.T) {
	peer := newFakePeer(t)
	s := newTestSender(0)

	tr := outgoingTransfer(t, "gone.bin", 128)
	require.NoError(t, os.Remove(tr.SourcePath))

	done := s.Send(context.Background(), tr, peer.target(), nil)

	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Error, "upload failed")
	_, _, uploads := peer.counts()
	assert.Zero(t, uploads)
}
