package clipboard

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lanbeam/lanbeam/internal/events"
	"github.com/lanbeam/lanbeam/internal/peerapi"
	"github.com/lanbeam/lanbeam/internal/utils"
	"github.com/lanbeam/lanbeam/internal/workspace"
)

const (
	historySize = 128
	historyTTL  = 24 * time.Hour
)

var (
	ErrEmptyContent = errors.New("clipboard payload has no content")
	ErrBadPayload   = errors.New("bad clipboard payload")
)

// Entry is one clipboard item pushed by a peer.
type Entry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Text       string    `json:"text,omitempty"`
	ImagePath  string    `json:"imagePath,omitempty"`
	Sender     string    `json:"sender"`
	SenderID   string    `json:"senderDeviceId"`
	SentAt     time.Time `json:"sentAt"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Inbox holds clipboard pushes from peers. Text lands in an expiring
// history keyed by content hash, so identical re-pushes collapse into one
// entry; images are decoded onto disk and referenced by path.
type Inbox struct {
	mu      sync.Mutex
	history *expirable.LRU[string, Entry]
	dir     string
	updates *events.Topic[Entry]
}

// NewInbox builds an inbox writing images under dir. updates may be nil.
func NewInbox(dir string, updates *events.Topic[Entry]) *Inbox {
	return &Inbox{
		history: expirable.NewLRU[string, Entry](historySize, nil, historyTTL),
		dir:     dir,
		updates: updates,
	}
}

// Push ingests a peer payload and returns the stored entry.
func (i *Inbox) Push(p *peerapi.ClipboardPayload) (Entry, error) {
	switch p.Type {
	case peerapi.ClipboardText:
		return i.pushText(p)
	case peerapi.ClipboardImage:
		return i.pushImage(p)
	default:
		return Entry{}, fmt.Errorf("%w: unsupported clipboard type %q", ErrBadPayload, p.Type)
	}
}

func (i *Inbox) pushText(p *peerapi.ClipboardPayload) (Entry, error) {
	if p.Text == "" {
		return Entry{}, ErrEmptyContent
	}

	e := i.store(contentKey([]byte(p.Text)), Entry{
		ID:         uuid.NewString(),
		Type:       peerapi.ClipboardText,
		Text:       p.Text,
		Sender:     p.Sender,
		SenderID:   p.SenderDeviceID,
		SentAt:     p.Timestamp,
		ReceivedAt: time.Now().UTC(),
	})

	slog.Info("clipboard received", "type", "text", "from", p.Sender, "chars", len(p.Text))
	return e, nil
}

func (i *Inbox) pushImage(p *peerapi.ClipboardPayload) (Entry, error) {
	raw := p.ImageBase64
	if raw == "" {
		return Entry{}, ErrEmptyContent
	}
	// tolerate data-URL framed payloads
	if strings.HasPrefix(raw, "data:") {
		if idx := strings.Index(raw, ","); idx >= 0 {
			raw = raw[idx+1:]
		}
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: decode clipboard image: %v", ErrBadPayload, err)
	}
	if len(data) == 0 {
		return Entry{}, ErrEmptyContent
	}

	if err := utils.EnsureDir(i.dir); err != nil {
		return Entry{}, fmt.Errorf("create clipboard dir: %w", err)
	}
	path := workspace.NextFreePath(filepath.Join(i.dir,
		fmt.Sprintf("clip_%s%s", time.Now().Format("20060102_150405"), utils.DetectImageExt(data))))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Entry{}, fmt.Errorf("write clipboard image: %w", err)
	}

	e := i.store(contentKey(data), Entry{
		ID:         uuid.NewString(),
		Type:       peerapi.ClipboardImage,
		ImagePath:  path,
		Sender:     p.Sender,
		SenderID:   p.SenderDeviceID,
		SentAt:     p.Timestamp,
		ReceivedAt: time.Now().UTC(),
	})

	slog.Info("clipboard received", "type", "image", "from", p.Sender, "path", path, "bytes", len(data))
	return e, nil
}

// store adds the entry under its content key. A repeated push of the same
// content refreshes the existing entry instead of duplicating it.
func (i *Inbox) store(key string, e Entry) Entry {
	i.mu.Lock()
	defer i.mu.Unlock()

	if prev, ok := i.history.Get(key); ok {
		e.ID = prev.ID
	}
	i.history.Add(key, e)

	if i.updates != nil {
		i.updates.Publish(e)
	}
	return e
}

// History returns entries newest first.
func (i *Inbox) History() []Entry {
	i.mu.Lock()
	defer i.mu.Unlock()

	values := i.history.Values()
	out := make([]Entry, 0, len(values))
	for idx := len(values) - 1; idx >= 0; idx-- {
		out = append(out, values[idx])
	}
	return out
}

// Latest returns the newest entry, if any.
func (i *Inbox) Latest() (Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	values := i.history.Values()
	if len(values) == 0 {
		return Entry{}, false
	}
	return values[len(values)-1], true
}

func contentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
