// Package storage keeps the output of command actions on disk.
package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// LogStorage saves command output under BaseDir.
type LogStorage struct {
	BaseDir string
	fs      afero.Fs
	now     func() time.Time
}

// NewLogStorage returns a storage rooted at baseDir on fs.
func NewLogStorage(fs afero.Fs, baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir, fs: fs, now: time.Now}
}

// SaveLog writes the output of the n-th command of action and returns the
// file path. Names look like <action>_<n>_<timestamp>.log.
func (ls *LogStorage) SaveLog(action string, n int, output string) (string, error) {
	if err := ls.fs.MkdirAll(ls.BaseDir, 0o775); err != nil {
		return "", err
	}

	timestamp := ls.now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%d_%s.log", sanitize(action), n, timestamp)
	filePath := filepath.Join(ls.BaseDir, filename)

	if err := afero.WriteFile(ls.fs, filePath, []byte(output), 0o644); err != nil {
		return "", err
	}
	return filePath, nil
}

// sanitize keeps characters that are safe in file names.
func sanitize(name string) string {
	var clean strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			clean.WriteRune(r)
		}
	}
	if clean.Len() == 0 {
		return "action"
	}
	return clean.String()
}
