package syncengine

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lanbeam/lanbeam/internal/utils"
)

// localFile is one file discovered under the sync source.
type localFile struct {
	RelPath string
	AbsPath string
	Size    int64
	ModTime time.Time
}

// scanSource walks the source directory and returns every regular,
// non-ignored file keyed by its forward-slash relative path.
func scanSource(sourceDir string, ignore *IgnoreList) ([]localFile, error) {
	var files []localFile

	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk %s: %w", path, walkErr)
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := utils.SlashRel(sourceDir, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		if ignore.ShouldIgnore(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("sync scan stat failed, skipping", "path", path, "error", err)
			return nil
		}

		files = append(files, localFile{
			RelPath: rel,
			AbsPath: path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	return files, nil
}

// statLocal refreshes one file's metadata ahead of an incremental upload.
func statLocal(sourceDir, relPath string) (localFile, error) {
	abs := filepath.Join(sourceDir, filepath.FromSlash(relPath))
	info, err := os.Stat(abs)
	if err != nil {
		return localFile{}, err
	}
	return localFile{RelPath: relPath, AbsPath: abs, Size: info.Size(), ModTime: info.ModTime()}, nil
}
