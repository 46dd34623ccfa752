package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPickReturnsFileDetails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loop.mp3")
	if err := os.WriteFile(path, []byte("mp3 bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	cap, err := PathPicker{Path: path}.Pick(context.Background())
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if cap == nil {
		t.Fatal("Pick returned nil for an existing file")
	}
	if cap.Name != "loop.mp3" {
		t.Errorf("name = %q", cap.Name)
	}
	if cap.MIMEType != "audio/mpeg" {
		t.Errorf("mime = %q", cap.MIMEType)
	}
	if cap.Size != int64(len("mp3 bytes")) {
		t.Errorf("size = %d", cap.Size)
	}
	if cap.Owned {
		t.Error("picked file must not be owned")
	}
}

func TestPickCancelledYieldsNothing(t *testing.T) {
	cap, err := PathPicker{}.Pick(context.Background())
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if cap != nil {
		t.Errorf("cancelled pick yielded %+v", cap)
	}
}

func TestPickMissingFile(t *testing.T) {
	_, err := PathPicker{Path: filepath.Join(t.TempDir(), "gone.mp3")}.Pick(context.Background())
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPickDirectoryRejected(t *testing.T) {
	_, err := PathPicker{Path: t.TempDir()}.Pick(context.Background())
	if err == nil {
		t.Error("expected error for directory")
	}
}
