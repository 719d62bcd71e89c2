package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxline/voxline/pkg/frames"
)

const testRate = 16000

// 20ms frames at 16kHz mono PCM16.
func speechFrame() []byte {
	pcm := make([]byte, testRate/50*2)
	for i := 0; i+1 < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(20000)))
	}
	return pcm
}

func silenceFrame() []byte {
	return make([]byte, testRate/50*2)
}

func pushFrames(t *testing.T, s *Segmenter, pcms [][]byte) *Segment {
	t.Helper()
	pts := frames.NewPTSGen()
	for _, pcm := range pcms {
		f := frames.NewAudioFrame("sess-1", pts.Next("sess-1"), pcm, testRate, 1, nil)
		if seg, ok := s.Push(f); ok {
			return seg
		}
	}
	return nil
}

func TestSegmenterFinalizesAfterTrailingSilence(t *testing.T) {
	s := NewSegmenter(SegmenterConfig{MinSilence: 100 * time.Millisecond, SampleRate: testRate}, NewEnergyVAD(0.35))

	var input [][]byte
	for i := 0; i < 10; i++ {
		input = append(input, speechFrame())
	}
	for i := 0; i < 5; i++ { // 100ms of silence
		input = append(input, silenceFrame())
	}
	seg := pushFrames(t, s, input)
	if seg == nil {
		t.Fatal("no segment finalized")
	}
	// 10 speech frames plus the 5 trailing silence frames, 20ms each.
	want := 300 * time.Millisecond
	if seg.Duration != want {
		t.Fatalf("duration = %v, want %v", seg.Duration, want)
	}
	if len(seg.PCM) != 15*len(speechFrame()) {
		t.Fatalf("pcm bytes = %d", len(seg.PCM))
	}
	if seg.SessionID != "sess-1" || seg.ID == "" {
		t.Fatalf("segment identity: %+v", seg)
	}
	if s.Buffered() != 0 {
		t.Fatalf("buffer not reset: %v", s.Buffered())
	}
}

func TestSegmenterDropsLeadingSilence(t *testing.T) {
	s := NewSegmenter(SegmenterConfig{MinSilence: 100 * time.Millisecond, SampleRate: testRate}, NewEnergyVAD(0.35))

	input := [][]byte{silenceFrame(), silenceFrame(), silenceFrame()}
	if seg := pushFrames(t, s, input); seg != nil {
		t.Fatalf("silence alone produced a segment: %+v", seg)
	}
	if s.Buffered() != 0 {
		t.Fatal("leading silence was buffered")
	}
}

func TestSegmenterForceFinalizesAtMaxDuration(t *testing.T) {
	s := NewSegmenter(SegmenterConfig{
		MinSilence: time.Second,
		MaxSegment: 200 * time.Millisecond,
		SampleRate: testRate,
	}, NewEnergyVAD(0.35))

	var input [][]byte
	for i := 0; i < 50; i++ { // a full second of nonstop speech
		input = append(input, speechFrame())
	}
	seg := pushFrames(t, s, input)
	if seg == nil {
		t.Fatal("no segment despite max duration")
	}
	if seg.Duration != 200*time.Millisecond {
		t.Fatalf("duration = %v", seg.Duration)
	}
}

func TestSegmenterSilenceGapResetsOnNewSpeech(t *testing.T) {
	s := NewSegmenter(SegmenterConfig{MinSilence: 100 * time.Millisecond, SampleRate: testRate}, NewEnergyVAD(0.35))

	// Speech, a sub-threshold pause, then more speech must stay one segment.
	var input [][]byte
	for i := 0; i < 5; i++ {
		input = append(input, speechFrame())
	}
	input = append(input, silenceFrame(), silenceFrame()) // 40ms pause
	for i := 0; i < 5; i++ {
		input = append(input, speechFrame())
	}
	if seg := pushFrames(t, s, input); seg != nil {
		t.Fatalf("segment split on a short pause: %v", seg.Duration)
	}
	for i := 0; i < 5; i++ {
		if seg, ok := s.Push(frames.NewAudioFrame("s", int64(i), silenceFrame(), testRate, 1, nil)); ok {
			if seg.Duration != 340*time.Millisecond {
				t.Fatalf("duration = %v", seg.Duration)
			}
			return
		}
	}
	t.Fatal("segment never finalized")
}

func TestSegmenterFlush(t *testing.T) {
	s := NewSegmenter(SegmenterConfig{MinSilence: time.Second, SampleRate: testRate}, NewEnergyVAD(0.35))
	pts := frames.NewPTSGen()
	for i := 0; i < 3; i++ {
		s.Push(frames.NewAudioFrame("sess-2", pts.Next("sess-2"), speechFrame(), testRate, 1, nil))
	}
	seg, ok := s.Flush("sess-2")
	if !ok || seg.SessionID != "sess-2" || seg.Duration != 60*time.Millisecond {
		t.Fatalf("flush: ok=%v seg=%+v", ok, seg)
	}
	if _, ok := s.Flush("sess-2"); ok {
		t.Fatal("second flush produced a segment")
	}
}

func TestEnergyVAD(t *testing.T) {
	vad := NewEnergyVAD(0.35)
	if vad.IsSpeech(silenceFrame()) {
		t.Fatal("silence classified as speech")
	}
	if !vad.IsSpeech(speechFrame()) {
		t.Fatal("loud tone classified as silence")
	}
	if RMS(nil) != 0 {
		t.Fatal("empty RMS not zero")
	}
}

func TestDirArchiverWritesWAV(t *testing.T) {
	root := t.TempDir()
	a, err := NewDirArchiver(root)
	if err != nil {
		t.Fatal(err)
	}
	seg := &Segment{
		ID:         "seg-1",
		SessionID:  "sess-3",
		PCM:        speechFrame(),
		SampleRate: testRate,
		Duration:   20 * time.Millisecond,
	}
	if err := a.Archive(seg); err != nil {
		t.Fatal(err)
	}
	matches, err := filepath.Glob(filepath.Join(root, "sess-3", "*.wav"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("matches=%v err=%v", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatal("not a wav file")
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != testRate {
		t.Fatalf("sample rate = %d", got)
	}
	if len(data) != 44+len(seg.PCM) {
		t.Fatalf("size = %d", len(data))
	}
}
