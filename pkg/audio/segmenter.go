package audio

import (
	"time"

	"github.com/google/uuid"

	"github.com/voxline/voxline/pkg/frames"
)

// Segment is one contiguous stretch of user speech, finalized once
// enough trailing silence arrives. The trailing silence stays in the
// buffer so transcription sees a natural utterance boundary.
type Segment struct {
	ID         string
	SessionID  string
	PCM        []byte
	SampleRate int
	Duration   time.Duration
	StartPTS   int64
}

type SegmenterConfig struct {
	// MinSilence is how much continuous silence ends a segment.
	MinSilence time.Duration
	// MaxSegment force-finalizes a segment that never goes quiet.
	MaxSegment time.Duration
	SampleRate int
}

func (c *SegmenterConfig) applyDefaults() {
	if c.MinSilence <= 0 {
		c.MinSilence = 500 * time.Millisecond
	}
	if c.MaxSegment <= 0 {
		c.MaxSegment = 30 * time.Second
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
}

// Segmenter is a pure per-session state machine: audio frames go in,
// finalized segments come out. It holds no locks and does no IO; one
// goroutine owns it.
type Segmenter struct {
	cfg SegmenterConfig
	vad VAD

	buf      []byte
	startPTS int64
	speech   time.Duration
	silence  time.Duration
	total    time.Duration
	inSpeech bool
}

func NewSegmenter(cfg SegmenterConfig, vad VAD) *Segmenter {
	cfg.applyDefaults()
	if vad == nil {
		vad = NewEnergyVAD(0)
	}
	return &Segmenter{cfg: cfg, vad: vad}
}

// Push feeds one frame in. It returns a finalized segment when the
// frame completes one, which happens when trailing silence reaches
// MinSilence or buffered audio reaches MaxSegment.
func (s *Segmenter) Push(f frames.AudioFrame) (*Segment, bool) {
	pcm := f.RawPayload()
	dur := pcmDuration(len(pcm), s.cfg.SampleRate)
	speech := s.vad.IsSpeech(pcm)

	if !s.inSpeech {
		if !speech {
			// Leading silence is dropped, not buffered.
			return nil, false
		}
		s.inSpeech = true
		s.startPTS = f.PTS()
	}

	s.buf = append(s.buf, pcm...)
	s.total += dur
	if speech {
		s.speech += dur
		s.silence = 0
	} else {
		s.silence += dur
	}

	if s.silence >= s.cfg.MinSilence || s.total >= s.cfg.MaxSegment {
		return s.finalize(f.Meta()[frames.MetaSessionID]), true
	}
	return nil, false
}

// Flush finalizes whatever speech is buffered, for session teardown.
func (s *Segmenter) Flush(sessionID string) (*Segment, bool) {
	if !s.inSpeech || s.speech == 0 {
		s.reset()
		return nil, false
	}
	return s.finalize(sessionID), true
}

// Buffered reports how much audio is currently held.
func (s *Segmenter) Buffered() time.Duration { return s.total }

func (s *Segmenter) finalize(sessionID string) *Segment {
	seg := &Segment{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		PCM:        append([]byte(nil), s.buf...),
		SampleRate: s.cfg.SampleRate,
		Duration:   s.total,
		StartPTS:   s.startPTS,
	}
	s.reset()
	return seg
}

func (s *Segmenter) reset() {
	s.buf = s.buf[:0]
	s.speech = 0
	s.silence = 0
	s.total = 0
	s.inSpeech = false
	s.startPTS = 0
}

func pcmDuration(byteLen, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
