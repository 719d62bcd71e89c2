package session

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/voxline/voxline/pkg/adapters/stt"
	"github.com/voxline/voxline/pkg/adapters/tts"
	"github.com/voxline/voxline/pkg/audio"
	"github.com/voxline/voxline/pkg/directive"
	"github.com/voxline/voxline/pkg/errorsx"
	"github.com/voxline/voxline/pkg/frames"
	"github.com/voxline/voxline/pkg/logging"
	"github.com/voxline/voxline/pkg/metrics"
	"github.com/voxline/voxline/pkg/redact"
)

const clarifyReply = "Sorry, I didn't catch that. Could you repeat it?"

type VoiceConfig struct {
	SegmentQueue  int     `mapstructure:"segment_queue"`
	OutboundQueue int     `mapstructure:"outbound_queue"`
	MinConfidence float64 `mapstructure:"min_confidence"`
	SampleRate    int     `mapstructure:"sample_rate"`
}

func (c *VoiceConfig) applyDefaults() {
	if c.SegmentQueue <= 0 {
		c.SegmentQueue = 8
	}
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = 32
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.5
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
}

type VoiceDeps struct {
	Conversation *Conversation
	Transcriber  stt.Transcriber
	Synthesizer  tts.Synthesizer
	Segmenter    *audio.Segmenter
	Archiver     audio.Archiver
	Observer     metrics.Observer
	Config       VoiceConfig
}

// VoiceSession wraps a conversation with the audio pipeline: inbound
// frames are segmented on the transport goroutine, finalized segments
// queue to a single worker that transcribes, runs the turn, and
// synthesizes the reply. Both queues are bounded; under backpressure
// the oldest entry is dropped so live audio stays current.
type VoiceSession struct {
	deps VoiceDeps

	segMu    sync.Mutex
	segments chan *audio.Segment
	outbound chan frames.Frame
	done     chan struct{}
	once     sync.Once
	pts      *frames.PTSGen

	logger *slog.Logger
}

func NewVoiceSession(deps VoiceDeps) *VoiceSession {
	deps.Config.applyDefaults()
	if deps.Archiver == nil {
		deps.Archiver = audio.NoopArchiver{}
	}
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	if deps.Segmenter == nil {
		deps.Segmenter = audio.NewSegmenter(audio.SegmenterConfig{SampleRate: deps.Config.SampleRate}, nil)
	}
	v := &VoiceSession{
		deps:     deps,
		segments: make(chan *audio.Segment, deps.Config.SegmentQueue),
		outbound: make(chan frames.Frame, deps.Config.OutboundQueue),
		done:     make(chan struct{}),
		pts:      frames.NewPTSGen(),
	}
	v.logger = logging.NewSessionLogger(
		logging.NewComponentLogger(slog.Default(), "voice_session"), deps.Conversation.ID())
	return v
}

func (v *VoiceSession) ID() string { return v.deps.Conversation.ID() }

// Output is the stream of frames to write back to the caller.
func (v *VoiceSession) Output() <-chan frames.Frame { return v.outbound }

// PushAudio feeds one inbound frame into the segmenter. Safe for the
// single transport reader goroutine; a finalized segment is queued for
// the worker, dropping the oldest pending segment when full. The
// segmenter copies the payload, so pooled frames are released here.
func (v *VoiceSession) PushAudio(f frames.AudioFrame) {
	v.segMu.Lock()
	seg, ok := v.deps.Segmenter.Push(f)
	v.segMu.Unlock()
	frames.ReleaseAudioFrame(f)
	if !ok {
		return
	}
	v.enqueueSegment(seg)
}

// FlushAudio finalizes any buffered speech, for transport teardown.
func (v *VoiceSession) FlushAudio() {
	v.segMu.Lock()
	seg, ok := v.deps.Segmenter.Flush(v.ID())
	v.segMu.Unlock()
	if ok {
		v.enqueueSegment(seg)
	}
}

func (v *VoiceSession) enqueueSegment(seg *audio.Segment) {
	if seg.SessionID == "" {
		seg.SessionID = v.ID()
	}
	for {
		select {
		case v.segments <- seg:
			v.record("segment_queued", float64(seg.Duration.Milliseconds()))
			v.emitControl(frames.ControlSegmentReady, "utterance_captured")
			return
		case <-v.done:
			return
		default:
		}
		select {
		case dropped := <-v.segments:
			v.logger.Warn("segment queue full, dropping oldest", "dropped_id", dropped.ID)
			v.record("segment_dropped", 0)
		default:
		}
	}
}

// Run owns the worker loop. It returns when the conversation ends, the
// context is canceled, or Close is called.
func (v *VoiceSession) Run(ctx context.Context) {
	defer v.emitControl(frames.ControlSessionEnd, "run_exit")
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			return
		case seg := <-v.segments:
			if ended := v.handleSegment(ctx, seg); ended {
				return
			}
		}
	}
}

func (v *VoiceSession) handleSegment(ctx context.Context, seg *audio.Segment) bool {
	if err := v.deps.Archiver.Archive(seg); err != nil {
		v.logger.Warn("segment archive failed", "error", err)
	}

	started := time.Now()
	res, err := v.deps.Transcriber.Transcribe(ctx, seg.PCM, seg.SampleRate)
	if err != nil {
		v.logger.Warn("transcription failed", "error", err)
		v.record("transcribe_failed", 0)
		if v.deps.Conversation.NoteCollaboratorFailure("transcribe_error") {
			v.emitControl(frames.ControlSessionEnd, "collaborator_failures")
			return true
		}
		v.speak(ctx, clarifyReply, nil)
		return false
	}
	v.record("transcribe_ms", float64(time.Since(started).Milliseconds()))

	if res.Text == "" || res.Confidence < v.deps.Config.MinConfidence {
		v.logger.Info("low confidence transcript, asking to repeat",
			"confidence", res.Confidence, "text", redact.Text(res.Text))
		v.speak(ctx, clarifyReply, nil)
		return false
	}

	reply, err := v.deps.Conversation.HandleTurn(ctx, res.Text)
	if err != nil {
		if errorsx.HasReason(err, errorsx.ReasonSessionClosed) {
			v.emitControl(frames.ControlSessionEnd, "session_closed")
			return true
		}
		v.logger.Error("turn failed", "error", err)
		return true
	}

	meta := map[string]string{
		frames.MetaSource:     "agent",
		frames.MetaNodeID:     reply.NodeID,
		frames.MetaConfidence: strconv.FormatFloat(res.Confidence, 'f', 2, 64),
	}
	v.speak(ctx, reply.Text, meta)
	if reply.Ended {
		v.emitControl(frames.ControlSessionEnd, "conversation_complete")
		return true
	}
	return false
}

// speak synthesizes the reply and queues both the text frame and its
// audio. Synthesis failure still delivers the text so a duplex client
// can render something.
func (v *VoiceSession) speak(ctx context.Context, text string, meta map[string]string) {
	spoken := directive.CleanForSpeech(text)
	v.enqueueOutbound(frames.NewTextFrame(v.ID(), v.pts.Next(v.ID()), text, meta))

	out, err := v.deps.Synthesizer.Synthesize(ctx, spoken)
	if err != nil {
		v.logger.Warn("synthesis failed", "error", err)
		v.record("synthesize_failed", 0)
		v.emitControl(frames.ControlFallback, "synthesis_failed")
		v.deps.Conversation.NoteCollaboratorFailure("synthesize_error")
		return
	}
	v.enqueueOutbound(frames.NewAudioFrame(v.ID(), v.pts.Next(v.ID()), out.PCM, out.SampleRate, 1, meta))
}

// enqueueOutbound keeps playback close to live: when the queue is full
// the oldest unsent audio frame is dropped to make room for the new
// one. Text and control frames are never dropped; they block until the
// transport drains.
func (v *VoiceSession) enqueueOutbound(f frames.Frame) {
	if f.Kind() != frames.KindAudio {
		select {
		case v.outbound <- f:
		case <-v.done:
		}
		return
	}
	for {
		select {
		case v.outbound <- f:
			return
		case <-v.done:
			return
		default:
		}
		select {
		case old := <-v.outbound:
			if old.Kind() != frames.KindAudio {
				// The head frame must reach the caller. Requeue it and
				// shed the new audio instead.
				select {
				case v.outbound <- old:
				case <-v.done:
				}
				v.record("outbound_dropped", 0)
				return
			}
			v.logger.Warn("outbound queue full, dropping oldest audio")
			v.record("outbound_dropped", 0)
		default:
		}
	}
}

func (v *VoiceSession) emitControl(code frames.ControlCode, reason string) {
	f := frames.NewControlFrame(v.ID(), v.pts.Next(v.ID()), code, map[string]string{
		frames.MetaReason: reason,
	})
	select {
	case v.outbound <- f:
	default:
	}
}

// Close stops the worker and closes the underlying conversation.
func (v *VoiceSession) Close() {
	v.once.Do(func() {
		close(v.done)
		v.deps.Conversation.Close()
	})
}

func (v *VoiceSession) record(name string, value float64) {
	v.deps.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  map[string]string{"source": "voice", "session_id": v.ID()},
	})
}
