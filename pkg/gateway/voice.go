package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxline/voxline/pkg/frames"
	"github.com/voxline/voxline/pkg/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
)

type voiceEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Code      string `json:"code,omitempty"`
	NodeID    string `json:"node_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// handleVoice runs a duplex audio stream over one websocket. Binary
// messages carry inbound 16 kHz PCM16 mono audio; the server answers with
// JSON events for text and control plus binary frames for synthesized
// speech.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voice == nil {
		writeError(w, http.StatusNotImplemented, "voice pipeline not configured")
		return
	}
	conv := s.deps.Registry.Create(r.URL.Query().Get("session_id"))
	vs := s.deps.Voice(conv)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer conn.Close()
	defer vs.Close()

	// The start event goes out before the writer goroutine owns the
	// connection so the client learns its session id first.
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteJSON(voiceEvent{
		Type: "control", Code: string(frames.ControlSessionStart), SessionID: conv.ID(),
	})

	go vs.Run(ctx)
	go s.voiceWriter(ctx, cancel, conn, vs)

	s.logger.Info("voice stream opened", "session_id", conv.ID())
	pts := frames.NewPTSGen()
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			vs.FlushAudio()
			s.logger.Info("voice stream closed", "session_id", conv.ID(), "error", err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		switch msgType {
		case websocket.BinaryMessage:
			vs.PushAudio(frames.NewAudioFrameFromPool(conv.ID(), pts.Next(conv.ID()), data, 16000, 1, nil))
		case websocket.TextMessage:
			var ev voiceEvent
			if json.Unmarshal(data, &ev) == nil && ev.Type == "flush" {
				vs.FlushAudio()
			}
		}
	}
}

// voiceWriter drains the session's outbound frames onto the socket.
func (s *Server) voiceWriter(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, vs *session.VoiceSession) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-vs.Output():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			switch fr := f.(type) {
			case frames.AudioFrame:
				if err := conn.WriteMessage(websocket.BinaryMessage, fr.RawPayload()); err != nil {
					return
				}
			case frames.TextFrame:
				meta := fr.Meta()
				ev := voiceEvent{Type: "text", Text: fr.Text(), NodeID: meta[frames.MetaNodeID]}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case frames.ControlFrame:
				meta := fr.Meta()
				ev := voiceEvent{Type: "control", Code: string(fr.Code()), Reason: meta[frames.MetaReason]}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
				if fr.Code() == frames.ControlSessionEnd {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session complete"))
					return
				}
			}
		}
	}
}
