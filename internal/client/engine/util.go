package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// sha256File hashes a local file and returns its hex digest, the checksum
// form used throughout the wire protocol (data-model.md §3).
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("engine: hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (e *Engine) absPath(relPath string) string {
	return filepath.Join(e.syncRoot, relPath)
}

func (e *Engine) localFileExists(relPath string) bool {
	info, err := os.Stat(e.absPath(relPath))
	return err == nil && !info.IsDir()
}
