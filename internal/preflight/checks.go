package preflight

import (
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/peterje/ptybridge/internal/models"
)

// CheckChild verifies that path names an executable file, searching PATH for
// bare names.
func CheckChild(log *zap.Logger, path string) models.ChildStatus {
	resolved, err := exec.LookPath(path)
	if err != nil {
		log.Warn("child executable not found", zap.String("path", path), zap.Error(err))
		return models.ChildStatus{Path: path, Found: false}
	}
	if abs, err := filepath.Abs(resolved); err == nil {
		resolved = abs
	}
	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		log.Warn("child executable not usable", zap.String("path", resolved))
		return models.ChildStatus{Path: resolved, Found: false}
	}
	log.Debug("child executable found", zap.String("path", resolved))
	return models.ChildStatus{Path: resolved, Found: true}
}
