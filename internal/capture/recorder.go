package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/meloofy/meloofy/pkg/logger"
)

// ErrAlreadyRecording is returned when Start is called while a recording is
// active. Only one recording may run at a time.
var ErrAlreadyRecording = errors.New("a recording is already in progress")

// ErrCaptureTooLarge is returned by Stop when the source produced more data
// than the recorder's size limit. The partial file is discarded.
var ErrCaptureTooLarge = errors.New("recording exceeded the size limit")

// maxWAVDataBytes is the largest data chunk a RIFF header can describe; its
// size fields are 32 bits.
const maxWAVDataBytes = int64(^uint32(0)) - 36

// SampleSource produces interleaved little-endian 16-bit PCM at the package
// audio format. Real deployments wrap a microphone; tests wrap a reader.
type SampleSource interface {
	io.Reader
}

// Recorder captures PCM from a SampleSource into a temporary WAV file.
// States: Idle -> Recording -> Idle. Stop with no active recording is a no-op
// that yields nothing to upload.
type Recorder struct {
	source   SampleSource
	dir      string
	maxBytes int64
	log      *logger.Logger

	mu      sync.Mutex
	status  Status
	file    *os.File
	written int64
	stopCh  chan struct{}
	doneCh  chan error
	started time.Time
}

// NewRecorder creates a recorder writing into dir (the OS temp dir when
// empty). maxBytes bounds the PCM data of one recording; zero or anything
// past what a WAV header can describe clamps to the format limit.
func NewRecorder(source SampleSource, dir string, maxBytes int64, log *logger.Logger) *Recorder {
	if dir == "" {
		dir = os.TempDir()
	}
	if maxBytes <= 0 || maxBytes > maxWAVDataBytes {
		maxBytes = maxWAVDataBytes
	}
	if log == nil {
		log = logger.NewDefault("capture")
	}
	return &Recorder{
		source:   source,
		dir:      dir,
		maxBytes: maxBytes,
		log:      log,
		status:   StatusIdle,
	}
}

// Status returns the current recorder state.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Start begins recording. A second Start while recording is rejected.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == StatusRecording {
		return ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create capture dir: %w", err)
	}

	f, err := os.CreateTemp(r.dir, "rec-*.wav")
	if err != nil {
		return fmt.Errorf("create capture file: %w", err)
	}

	// Reserve space for the header; it is rewritten with real sizes on stop.
	if err := writeWAVHeader(f, 0); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("write wav header: %w", err)
	}

	r.file = f
	r.written = 0
	r.status = StatusRecording
	r.started = time.Now()
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan error, 1)

	go r.pump(f, r.stopCh, r.doneCh)

	r.log.Debugf("recording to %s", f.Name())
	return nil
}

// pump copies PCM from the source into the file until stopped or the source
// is exhausted.
func (r *Recorder) pump(f *os.File, stop <-chan struct{}, done chan<- error) {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-stop:
			done <- nil
			return
		default:
		}

		n, err := r.source.Read(buf)
		if n > 0 {
			r.mu.Lock()
			over := r.written+int64(n) > r.maxBytes
			r.mu.Unlock()
			if over {
				done <- ErrCaptureTooLarge
				return
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				done <- werr
				return
			}
			r.mu.Lock()
			r.written += int64(n)
			r.mu.Unlock()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			done <- err
			return
		}
	}
}

// Stop ends the active recording and returns the finished capture. With no
// active recording it returns (nil, nil). Stop waits for the in-flight source
// read to return; live sources deliver continuously so this is brief.
func (r *Recorder) Stop() (*LocalCapture, error) {
	r.mu.Lock()
	if r.status != StatusRecording {
		r.mu.Unlock()
		return nil, nil
	}
	stopCh, doneCh, f := r.stopCh, r.doneCh, r.file
	r.mu.Unlock()

	close(stopCh)
	pumpErr := <-doneCh

	r.mu.Lock()
	written := r.written
	r.status = StatusIdle
	r.file = nil
	r.mu.Unlock()

	if pumpErr != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("recording failed: %w", pumpErr)
	}

	// Rewrite the header with the final data length.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("finalize recording: %w", err)
	}
	if err := writeWAVHeader(f, uint32(written)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("finalize recording: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close recording: %w", err)
	}

	dur := wavDuration(written)
	cap := &LocalCapture{
		Path:     f.Name(),
		Name:     fmt.Sprintf("recording-%s.wav", r.started.Format("20060102-150405")),
		Size:     wavHeaderSize + written,
		MIMEType: "audio/wav",
		Duration: &dur,
		Owned:    true,
	}
	r.log.Infof("recorded %.1fs to %s", dur, cap.Path)
	return cap, nil
}

