package engine

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"
)

// stalePartialAge is how long a ".partial" download artifact can sit
// unrenamed before the sweep considers it abandoned (a crashed process
// mid-download, rather than one still in progress).
const stalePartialAge = 48 * time.Hour

const stalePartialsSweepInterval = 1 * time.Hour

// runStalePartialsSweep periodically scans the sync root for orphaned
// ".partial" files (handleDownload writes to <path>.partial, then
// renames over the target on completion) and logs a warning for any
// older than stalePartialAge, so a crashed process's leftovers are
// surfaced instead of quietly taking up space forever.
func (e *Engine) runStalePartialsSweep(ctx context.Context) {
	ticker := time.NewTicker(stalePartialsSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reportStalePartials()
		}
	}
}

func (e *Engine) reportStalePartials() {
	var stale []string

	err := filepath.WalkDir(e.syncRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}

		if filepath.Ext(path) != ".partial" {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		if time.Since(info.ModTime()) > stalePartialAge {
			rel, relErr := filepath.Rel(e.syncRoot, path)
			if relErr != nil {
				rel = path
			}

			stale = append(stale, rel)
		}

		return nil
	})
	if err != nil {
		e.logger.Warn("engine: error scanning for stale partials", slog.String("error", err.Error()))
		return
	}

	if len(stale) == 0 {
		return
	}

	e.logger.Warn("stale .partial files found, a prior download may not have completed",
		slog.Int("count", len(stale)), slog.Duration("threshold", stalePartialAge))

	for _, p := range stale {
		e.logger.Warn("stale partial", slog.String("path", p))
	}
}
