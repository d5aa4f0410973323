package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// CleanupPartialWeights returns a hook that removes interrupted weight
// downloads from the weights directory. The fetcher writes to "*.partial"
// files and renames them into place only after checksum verification, so
// anything still matching the pattern at shutdown is garbage.
//
// The hook never fails shutdown: individual removal errors are logged and
// swallowed.
func CleanupPartialWeights(logger *zap.Logger, weightsDir string) Hook {
	return func(ctx context.Context) error {
		pattern := filepath.Join(weightsDir, "*.partial")
		matches, err := filepath.Glob(pattern)
		if err != nil {
			logger.Error("Failed to scan for partial downloads",
				zap.String("pattern", pattern),
				zap.Error(err),
			)
			return nil
		}
		if len(matches) == 0 {
			return nil
		}

		removed := 0
		for _, match := range matches {
			select {
			case <-ctx.Done():
				logger.Warn("Shutdown deadline hit during weight cleanup",
					zap.Int("removed", removed),
					zap.Int("remaining", len(matches)-removed),
				)
				return nil
			default:
			}

			if err := os.Remove(match); err != nil {
				logger.Warn("Failed to remove partial download",
					zap.String("file", filepath.Base(match)),
					zap.Error(err),
				)
				continue
			}
			removed++
		}

		logger.Info("Removed partial weight downloads", zap.Int("removed", removed))
		return nil
	}
}
