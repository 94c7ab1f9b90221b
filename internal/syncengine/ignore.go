package syncengine

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/lanbeam/lanbeam/internal/utils"
)

// ignoreFileName is read from the root of each sync source directory.
const ignoreFileName = ".lanbeamignore"

var defaultIgnoreLines = []string{
	ignoreFileName,
	// partial downloads
	"*.tmp",
	"*.part",
	"*.crdownload",
	// VCS and editor state
	".git",
	".svn",
	".vscode",
	".idea",
	// OS droppings
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	// logs
	"*.log",
	"logs/",
}

// IgnoreList filters sync-relative paths. Rules come from the built-in
// defaults, an optional ignore file at the source root (gitignore syntax)
// and extra glob patterns from the config.
type IgnoreList struct {
	sourceDir string
	extra     []string
	ignore    *gitignore.GitIgnore
}

func NewIgnoreList(sourceDir string, extraGlobs []string) *IgnoreList {
	l := &IgnoreList{sourceDir: sourceDir, extra: extraGlobs}
	l.Load()
	return l
}

// Load compiles the rule set. Safe to call again to pick up ignore file edits.
func (l *IgnoreList) Load() {
	lines := append([]string{}, defaultIgnoreLines...)

	ignorePath := filepath.Join(l.sourceDir, ignoreFileName)
	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("sync ignore file unreadable", "path", ignorePath, "error", err)
		} else {
			defer file.Close()
			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					lines = append(lines, line)
					rules++
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("sync ignore file read failed", "path", ignorePath, "error", err)
			} else {
				slog.Info("sync ignore file loaded", "path", ignorePath, "rules", rules)
			}
		}
	}

	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore matches a forward-slash relative path against the rule set.
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	if l.ignore.MatchesPath(relPath) {
		return true
	}
	for _, pattern := range l.extra {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}
