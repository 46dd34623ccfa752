package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Picker resolves a user file selection into a LocalCapture. Cancellation is
// not an error: a cancelled pick returns (nil, nil).
type Picker interface {
	Pick(ctx context.Context) (*LocalCapture, error)
}

// PathPicker is the CLI's picker: the "selection" is a path the user already
// supplied. An empty path models cancellation.
type PathPicker struct {
	Path string
}

// Pick stats the path and wraps it as a capture. The file stays owned by the
// user; Discard on the result is a no-op for picked files.
func (p PathPicker) Pick(ctx context.Context) (*LocalCapture, error) {
	if p.Path == "" {
		return nil, nil // cancelled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(p.Path)
	if err != nil {
		return nil, fmt.Errorf("pick file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("pick file: %s is a directory", p.Path)
	}

	return &LocalCapture{
		Path:     p.Path,
		Name:     captureName(p.Path),
		Size:     info.Size(),
		MIMEType: MIMEForExtension(filepath.Ext(p.Path)),
		// Picked files are not ours to delete; clear Path on Discard only.
	}, nil
}
