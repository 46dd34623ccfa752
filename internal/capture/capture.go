// Package capture turns microphone input or file selection into a local file
// handle ready for the upload pipeline.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Audio format for recordings.
const (
	SampleRate = 48000
	Channels   = 2
	BitDepth   = 16
)

// Status of the recorder.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRecording Status = "RECORDING"
)

// LocalCapture is a transient local audio file owned by the capture layer
// until it is handed to the upload pipeline.
type LocalCapture struct {
	Path     string
	Name     string // display name
	Size     int64
	MIMEType string
	Duration *float64 // seconds, nil when unknown

	// Owned marks files created by the recorder; only those are deleted on
	// Discard. Picked files belong to the user.
	Owned bool
}

// Discard releases the capture, removing the underlying file when the
// capture layer owns it. Safe to call twice.
func (c *LocalCapture) Discard() error {
	if c == nil || c.Path == "" {
		return nil
	}
	path, owned := c.Path, c.Owned
	c.Path = ""
	if !owned {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MIMEForExtension maps an audio file extension (with or without the dot) to
// a content type, defaulting to audio/mpeg.
func MIMEForExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "wav":
		return "audio/wav"
	case "mp3", "":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "aac":
		return "audio/aac"
	case "ogg", "oga":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	default:
		return "audio/" + ext
	}
}

// captureName derives a display name from a file path.
func captureName(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return fmt.Sprintf("capture-%d", time.Now().Unix())
	}
	return base
}
