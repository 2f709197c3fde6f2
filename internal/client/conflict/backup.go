package conflict

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxBackupSuffix bounds the numeric suffix tried during conflict-path
// collision avoidance.
const maxBackupSuffix = 1000

// GenerateBackupPath returns a timestamped sibling path for localPath,
// used by the engine before overwriting a local file with the server's
// version (UseServer) or when preserving both copies (UseMerged) — the
// pattern is <stem>.conflict-<YYYYMMDD-HHMMSS><ext>, with a numeric
// suffix appended on collision.
func GenerateBackupPath(localPath string) string {
	stem, ext := backupStemExt(localPath)
	ts := time.Now().UTC().Format("20060102-150405")

	base := stem + ".conflict-" + ts + ext
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return base
	}

	for i := 1; i <= maxBackupSuffix; i++ {
		candidate := fmt.Sprintf("%s.conflict-%s-%d%s", stem, ts, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}

	return base
}

// backupStemExt splits localPath into a (stem, ext) pair, treating a
// dotfile with no other dot (e.g. ".bashrc") as having no extension so
// the suffix is appended to the whole filename rather than spliced
// before the leading dot.
func backupStemExt(localPath string) (stem, ext string) {
	base := filepath.Base(localPath)
	dir := localPath[:len(localPath)-len(base)]

	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return dir + base, ""
	}

	ext = filepath.Ext(base)
	stem = dir + base[:len(base)-len(ext)]

	return stem, ext
}
