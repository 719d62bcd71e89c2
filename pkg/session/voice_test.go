package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxline/voxline/pkg/adapters/stt"
	"github.com/voxline/voxline/pkg/audio"
	"github.com/voxline/voxline/pkg/frames"
	"github.com/voxline/voxline/pkg/providers/mock"
	"github.com/voxline/voxline/pkg/script"
)

func newVoiceUnderTest(t *testing.T, provider *mock.CompletionProvider, tr *mock.Transcriber, cfg VoiceConfig) (*VoiceSession, *mock.Synthesizer) {
	t.Helper()
	conv := NewConversation("voice-1", Deps{
		Holder:     testHolder(t),
		Completion: provider,
	})
	synth := &mock.Synthesizer{}
	vs := NewVoiceSession(VoiceDeps{
		Conversation: conv,
		Transcriber:  tr,
		Synthesizer:  synth,
		Config:       cfg,
	})
	t.Cleanup(vs.Close)
	return vs, synth
}

func testSegment(id string) *audio.Segment {
	return &audio.Segment{
		ID:         id,
		SessionID:  "voice-1",
		PCM:        make([]byte, 3200),
		SampleRate: 16000,
		Duration:   100 * time.Millisecond,
	}
}

// drainOutbound collects whatever frames are queued right now.
func drainOutbound(vs *VoiceSession) []frames.Frame {
	var out []frames.Frame
	for {
		select {
		case f := <-vs.Output():
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestVoiceSegmentRunsTurnAndSpeaks(t *testing.T) {
	provider := &mock.CompletionProvider{Replies: []string{"Sure, **who** is it for?"}}
	tr := &mock.Transcriber{Results: []stt.Result{{Text: "book a visit", Confidence: 0.9}}}
	vs, synth := newVoiceUnderTest(t, provider, tr, VoiceConfig{})

	if ended := vs.handleSegment(context.Background(), testSegment("s1")); ended {
		t.Fatal("session ended mid-script")
	}

	var gotText, gotAudio bool
	for _, f := range drainOutbound(vs) {
		switch fr := f.(type) {
		case frames.TextFrame:
			gotText = true
			if fr.Text() != "Sure, **who** is it for?" {
				t.Fatalf("text = %q", fr.Text())
			}
			if fr.Meta()[frames.MetaNodeID] != "collect" {
				t.Fatalf("meta = %v", fr.Meta())
			}
		case frames.AudioFrame:
			gotAudio = true
			if len(fr.RawPayload()) == 0 {
				t.Fatal("empty synthesized audio")
			}
		}
	}
	if !gotText || !gotAudio {
		t.Fatalf("text=%v audio=%v", gotText, gotAudio)
	}
	// Markdown markers are cleaned before synthesis, not in the transcript.
	spoken := synth.Spoken()
	if len(spoken) != 1 || spoken[0] != "Sure, who is it for?" {
		t.Fatalf("spoken = %v", spoken)
	}
}

func TestVoiceLowConfidenceAsksToRepeat(t *testing.T) {
	provider := &mock.CompletionProvider{}
	tr := &mock.Transcriber{Results: []stt.Result{{Text: "mumble", Confidence: 0.1}}}
	vs, _ := newVoiceUnderTest(t, provider, tr, VoiceConfig{MinConfidence: 0.5})

	if ended := vs.handleSegment(context.Background(), testSegment("s1")); ended {
		t.Fatal("clarification ended the session")
	}
	if provider.Calls() != 0 {
		t.Fatal("low-confidence transcript reached the model")
	}
	var clarified bool
	for _, f := range drainOutbound(vs) {
		if fr, ok := f.(frames.TextFrame); ok && fr.Text() == clarifyReply {
			clarified = true
		}
	}
	if !clarified {
		t.Fatal("no clarification prompt queued")
	}
}

func TestVoiceTranscribeFailureAsksToRepeat(t *testing.T) {
	provider := &mock.CompletionProvider{}
	tr := &mock.Transcriber{Err: errors.New("stt down")}
	vs, _ := newVoiceUnderTest(t, provider, tr, VoiceConfig{})

	if ended := vs.handleSegment(context.Background(), testSegment("s1")); ended {
		t.Fatal("transcription failure ended the session")
	}
	if provider.Calls() != 0 {
		t.Fatal("failed transcript reached the model")
	}
}

func TestVoiceSessionEndEmitsControl(t *testing.T) {
	provider := &mock.CompletionProvider{Replies: []string{"bye"}}
	tr := &mock.Transcriber{Results: []stt.Result{{Text: "hello", Confidence: 0.9}}}
	vs, _ := newVoiceUnderTest(t, provider, tr, VoiceConfig{})
	// A completed conversation rejects further turns; the voice session
	// ends on the next segment.
	vs.deps.Conversation.state.Status = script.StatusCompleted

	if ended := vs.handleSegment(context.Background(), testSegment("s1")); !ended {
		t.Fatal("completed conversation did not end the voice session")
	}
	var sawEnd bool
	for _, f := range drainOutbound(vs) {
		if fr, ok := f.(frames.ControlFrame); ok && fr.Code() == frames.ControlSessionEnd {
			sawEnd = true
		}
	}
	if !sawEnd {
		t.Fatal("no session_end control frame")
	}
}

func TestVoiceSegmentQueueDropsOldest(t *testing.T) {
	provider := &mock.CompletionProvider{}
	tr := &mock.Transcriber{}
	vs, _ := newVoiceUnderTest(t, provider, tr, VoiceConfig{SegmentQueue: 1})

	vs.enqueueSegment(testSegment("old"))
	vs.enqueueSegment(testSegment("new"))

	select {
	case seg := <-vs.segments:
		if seg.ID != "new" {
			t.Fatalf("kept segment = %q", seg.ID)
		}
	default:
		t.Fatal("queue empty")
	}
}

func TestVoiceOutboundDropsOldestAudioNeverText(t *testing.T) {
	provider := &mock.CompletionProvider{}
	tr := &mock.Transcriber{}
	vs, _ := newVoiceUnderTest(t, provider, tr, VoiceConfig{OutboundQueue: 1})

	first := frames.NewAudioFrame("voice-1", 1, []byte{1, 2}, 16000, 1, nil)
	second := frames.NewAudioFrame("voice-1", 2, []byte{3, 4}, 16000, 1, nil)
	vs.enqueueOutbound(first)
	vs.enqueueOutbound(second) // queue full, oldest audio dropped

	delivered := make(chan struct{})
	go func() {
		vs.enqueueOutbound(frames.NewTextFrame("voice-1", 3, "kept", nil))
		close(delivered)
	}()

	f := <-vs.Output()
	af, ok := f.(frames.AudioFrame)
	if !ok || af.PTS() != 2 {
		t.Fatalf("surviving frame = %#v", f)
	}
	select {
	case <-delivered:
	case f := <-vs.Output():
		if tf, ok := f.(frames.TextFrame); !ok || tf.Text() != "kept" {
			t.Fatalf("frame = %#v", f)
		}
		<-delivered
	case <-time.After(time.Second):
		t.Fatal("text frame was dropped under backpressure")
	}
}

func TestVoiceOutboundKeepsTextUnderAudioPressure(t *testing.T) {
	provider := &mock.CompletionProvider{}
	tr := &mock.Transcriber{}
	vs, _ := newVoiceUnderTest(t, provider, tr, VoiceConfig{OutboundQueue: 1})

	vs.enqueueOutbound(frames.NewTextFrame("voice-1", 1, "reply", nil))
	vs.enqueueOutbound(frames.NewAudioFrame("voice-1", 2, []byte{9}, 16000, 1, nil))

	f := <-vs.Output()
	if tf, ok := f.(frames.TextFrame); !ok || tf.Text() != "reply" {
		t.Fatalf("frame = %#v", f)
	}
	select {
	case f := <-vs.Output():
		t.Fatalf("audio not shed when text held the queue: %#v", f)
	default:
	}
}

func TestVoiceRepeatedTranscribeFailuresEndSession(t *testing.T) {
	provider := &mock.CompletionProvider{}
	conv := NewConversation("voice-3", Deps{
		Holder:     testHolder(t),
		Completion: provider,
		Config:     Config{FailureThreshold: 2},
	})
	tr := &mock.Transcriber{Err: errors.New("stt down")}
	vs := NewVoiceSession(VoiceDeps{
		Conversation: conv,
		Transcriber:  tr,
		Synthesizer:  &mock.Synthesizer{},
	})
	t.Cleanup(vs.Close)

	if ended := vs.handleSegment(context.Background(), testSegment("s1")); ended {
		t.Fatal("ended below the failure threshold")
	}
	if ended := vs.handleSegment(context.Background(), testSegment("s2")); !ended {
		t.Fatal("failure threshold did not end the session")
	}
	var sawEnd bool
	for _, f := range drainOutbound(vs) {
		if fr, ok := f.(frames.ControlFrame); ok && fr.Code() == frames.ControlSessionEnd {
			sawEnd = true
		}
	}
	if !sawEnd {
		t.Fatal("no session_end control frame")
	}
}

func TestVoiceRunProcessesPushedAudio(t *testing.T) {
	provider := &mock.CompletionProvider{Replies: []string{"Got it."}}
	tr := &mock.Transcriber{Results: []stt.Result{{Text: "hello there", Confidence: 0.9}}}

	conv := NewConversation("voice-2", Deps{
		Holder:     testHolder(t),
		Completion: provider,
	})
	synth := &mock.Synthesizer{}
	vs := NewVoiceSession(VoiceDeps{
		Conversation: conv,
		Transcriber:  tr,
		Synthesizer:  synth,
		Segmenter: audio.NewSegmenter(audio.SegmenterConfig{
			MinSilence: 40 * time.Millisecond,
			SampleRate: 16000,
		}, audio.NewEnergyVAD(0.35)),
	})
	t.Cleanup(vs.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go vs.Run(ctx)

	pts := frames.NewPTSGen()
	loud := make([]byte, 640)
	for i := 0; i+1 < len(loud); i += 2 {
		loud[i] = 0x00
		loud[i+1] = 0x4e
	}
	for i := 0; i < 10; i++ {
		vs.PushAudio(frames.NewAudioFrame("voice-2", pts.Next("voice-2"), loud, 16000, 1, nil))
	}
	for i := 0; i < 3; i++ { // 60ms of silence finalizes the segment
		vs.PushAudio(frames.NewAudioFrame("voice-2", pts.Next("voice-2"), make([]byte, 640), 16000, 1, nil))
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-vs.Output():
			if tf, ok := f.(frames.TextFrame); ok {
				if tf.Text() != "Got it." {
					t.Fatalf("text = %q", tf.Text())
				}
				return
			}
		case <-deadline:
			t.Fatal("no reply frame within deadline")
		}
	}
}
