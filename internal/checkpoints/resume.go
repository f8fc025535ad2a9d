package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/desertthunder/scanx/internal/shared"
)

// Discover lists checkpoint files under dir, newest first. Multiple
// candidates are returned as-is; selection is the caller's decision.
func Discover(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "checkpoint_*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for checkpoints: %w", dir, err)
	}

	type candidate struct {
		path  string
		mtime int64
	}
	candidates := make([]candidate, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: path, mtime: info.ModTime().UnixNano()})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mtime > candidates[j].mtime })

	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.path
	}
	return paths, nil
}

// Latest returns the most recent checkpoint path in dir, or
// [shared.ErrNoCheckpoint] when none exists.
func Latest(dir string) (string, error) {
	paths, err := Discover(dir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("%w in %s", shared.ErrNoCheckpoint, dir)
	}
	return paths[0], nil
}

// Restart deletes the given checkpoint files so the run starts from batch 1.
func Restart(paths []string) error {
	for _, path := range paths {
		if err := Remove(path); err != nil {
			return err
		}
	}
	return nil
}
