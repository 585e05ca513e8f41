package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sweep runs every eligible entry of dir once, in listing order. Hidden
// entries and subdirectories are never passed on; files without the script
// suffix are skipped. Per-file failures are logged and the sweep carries on.
func (r *Runner) Sweep(ctx context.Context, dir string, mode Mode) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, name)
		if _, err := r.Execute(ctx, path, mode); err != nil {
			if errors.Is(err, ErrUnsupportedScript) && !HasScriptSuffix(name) {
				r.logger.Debug("skipping non-script entry", "path", path)
				continue
			}
			r.logger.Error("script evaluation error", "path", path, "err", err)
		}
	}
	return nil
}
