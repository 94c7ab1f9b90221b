package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/lanbeam/lanbeam/internal/utils"
)

const (
	syncDir      = "Sync"
	clipboardDir = "Clipboard"
	metadataDir  = ".lanbeam"
	lockFile     = "lanbeam.lock"
	dbFile       = "lanbeam.db"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
	ErrPathEscapes     = errors.New("path escapes its sync root")
)

// Workspace is the download root of a device. Incoming files land directly
// under Root, clipboard images under ClipboardDir, and mirrored folders under
// SyncDir/<sender>/. MetadataDir holds the lock file and the sqlite database.
type Workspace struct {
	Root         string
	SyncDir      string
	ClipboardDir string
	MetadataDir  string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	lockFilePath := filepath.Join(root, metadataDir, lockFile)
	flock := flock.New(lockFilePath)

	return &Workspace{
		Root:         root,
		SyncDir:      filepath.Join(root, syncDir),
		ClipboardDir: filepath.Join(root, clipboardDir),
		MetadataDir:  filepath.Join(root, metadataDir),
		flock:        flock,
	}, nil
}

func (w *Workspace) Lock() error {
	// create a .lanbeam/lanbeam.lock file so that other instances cannot use the same root
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// if this process hasn't locked the workspace, then don't delete the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return os.Remove(w.flock.Path())
}

func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)

	dirs := []string{w.Root, w.SyncDir, w.ClipboardDir, w.MetadataDir}
	for _, dir := range dirs {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the path of the sqlite database shared by the
// transfer history and the sync job store.
func (w *Workspace) DatabasePath() string {
	return filepath.Join(w.MetadataDir, dbFile)
}

// ResolveIncoming returns the final path for an incoming file. The name is
// stripped to its base, so a sender cannot place files outside the root.
// Unless overwrite is set, taken names get a " (n)" suffix before the
// extension until a free one is found.
func (w *Workspace) ResolveIncoming(fileName string, overwrite bool) (string, error) {
	name := filepath.Base(filepath.FromSlash(fileName))
	if name == "." || name == ".." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("invalid file name %q", fileName)
	}

	target := filepath.Join(w.Root, name)
	if overwrite {
		return target, nil
	}
	return NextFreePath(target), nil
}

// SenderSyncRoot returns the directory mirrored folders from the given sender
// land in. The sender name comes off the wire, so it is reduced to a single
// safe path element first.
func (w *Workspace) SenderSyncRoot(senderName string) string {
	return filepath.Join(w.SyncDir, safeName(senderName))
}

// SyncTargetPath maps a forward-slash relative path from a sync upload to an
// absolute path under the sender's sync root. Paths that resolve outside that
// root are rejected with ErrPathEscapes.
func (w *Workspace) SyncTargetPath(senderName, relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("relative path cannot be empty")
	}

	base := w.SenderSyncRoot(senderName)
	target := filepath.Join(base, filepath.FromSlash(relPath))

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapes, relPath)
	}

	return target, nil
}

// NextFreePath returns path unchanged if nothing exists there, otherwise the
// first "name (n).ext" variant that is free.
func NextFreePath(path string) string {
	if !pathTaken(path) {
		return path
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !pathTaken(candidate) {
			return candidate
		}
	}
}

func pathTaken(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func safeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.TrimSpace(strings.Trim(name, "."))
	if name == "" {
		return "unknown"
	}
	return name
}
