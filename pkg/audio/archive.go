package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voxline/voxline/pkg/logging"
)

// Archiver persists finalized segments for offline inspection.
type Archiver interface {
	Archive(seg *Segment) error
}

// NoopArchiver discards segments.
type NoopArchiver struct{}

func (NoopArchiver) Archive(*Segment) error { return nil }

// DirArchiver writes each segment as a WAV file under a per-session
// subdirectory. Archive failures are the caller's to log; they must
// never block the live pipeline.
type DirArchiver struct {
	root   string
	logger *slog.Logger
}

func NewDirArchiver(root string) (*DirArchiver, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("archive root: %w", err)
	}
	return &DirArchiver{
		root:   root,
		logger: logging.NewComponentLogger(slog.Default(), "audio_archive"),
	}, nil
}

func (a *DirArchiver) Archive(seg *Segment) error {
	dir := filepath.Join(a.root, seg.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%s.wav", time.Now().UTC().Format("20060102T150405"), seg.ID)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, wavBytes(seg.PCM, seg.SampleRate), 0o644); err != nil {
		return err
	}
	a.logger.Debug("segment archived",
		slog.String("path", path),
		slog.Int64("duration_ms", seg.Duration.Milliseconds()),
	)
	return nil
}

// wavBytes wraps raw PCM16 mono in a minimal RIFF header.
func wavBytes(pcm []byte, rate int) []byte {
	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1) // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(rate*2))
	binary.LittleEndian.PutUint16(out[32:34], 2)
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
