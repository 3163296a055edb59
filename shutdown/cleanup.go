package shutdown

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"sdqueue/core"
)

// TempFilePrefix marks half-written files left by atomic writes.
const TempFilePrefix = ".tmp-"

// CleanupTempFiles returns a cleanup removing leftover atomic-write temp
// files anywhere under root. Failures are logged, never returned, so a
// stray file cannot block shutdown.
func CleanupTempFiles(logger *zap.Logger, root string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		removed, failed := removeTempFiles(ctx, logger, root)
		if removed > 0 || failed > 0 {
			logger.Info("temp file cleanup complete",
				zap.String("root", root),
				zap.Int("removed", removed),
				zap.Int("failed", failed))
		}
		return nil
	}
}

func removeTempFiles(ctx context.Context, logger *zap.Logger, root string) (removed, failed int) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			logger.Warn("cannot read directory during cleanup", zap.String("path", path), zap.Error(err))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.Type()&fs.ModeSymlink != 0 || d.IsDir() || !strings.HasPrefix(d.Name(), TempFilePrefix) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			failed++
			logger.Warn("failed to remove temp file", zap.String("file", path), zap.Error(err))
			return nil
		}
		removed++
		return nil
	})
	if err != nil && ctx.Err() != nil {
		logger.Warn("shutdown deadline reached during temp file cleanup", zap.Int("removed", removed))
	}
	return removed, failed
}
