package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/prepvox/prepvox/pkg/provider/s2s"
	"github.com/prepvox/prepvox/pkg/provider/s2s/openai"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startRealtimeServer launches a test WebSocket server. The handler receives
// the accepted conn. The server is automatically closed when the test finishes.
func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// connectTo dials a session against srv, discarding the initial
// session.update on the server side via the handler.
func connectTo(t *testing.T, srv *httptest.Server, cfg s2s.SessionConfig) s2s.SessionHandle {
	t.Helper()
	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { handle.Close() })
	return handle
}

// ── Connection setup ──────────────────────────────────────────────────────────

func TestConnect_SendsAuthHeaders(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Clone()
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("secret-key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case h := <-headers:
		if got := h.Get("Authorization"); got != "Bearer secret-key" {
			t.Errorf("Authorization = %q; want Bearer secret-key", got)
		}
		if got := h.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q; want realtime=v1", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestWithModel_SetsModelInURL(t *testing.T) {
	t.Parallel()

	modelInURL := make(chan string, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		modelInURL <- r.URL.Query().Get("model")
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithModel("gpt-4o-mini-realtime"), openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case m := <-modelInURL:
		if m != "gpt-4o-mini-realtime" {
			t.Errorf("model in URL = %q; want gpt-4o-mini-realtime", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	type sessionUpdateMsg struct {
		Type    string `json:"type"`
		Session struct {
			Voice              string `json:"voice"`
			Instructions       string `json:"instructions"`
			InputAudioFormat   string `json:"input_audio_format"`
			OutputAudioFormat  string `json:"output_audio_format"`
			InputTranscription *struct {
				Model string `json:"model"`
			} `json:"input_audio_transcription"`
			TurnDetection *struct {
				Type              string  `json:"type"`
				Threshold         float64 `json:"threshold"`
				PrefixPaddingMs   int     `json:"prefix_padding_ms"`
				SilenceDurationMs int     `json:"silence_duration_ms"`
				CreateResponse    bool    `json:"create_response"`
			} `json:"turn_detection"`
		} `json:"session"`
	}

	received := make(chan sessionUpdateMsg, 1)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg sessionUpdateMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	connectTo(t, srv, s2s.SessionConfig{
		Voice:              "verse",
		Instructions:       "You are a seasoned interviewer.",
		InputTranscription: "whisper-1",
		TurnDetection: &s2s.TurnDetection{
			Threshold:         0.6,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 1200,
			CreateResponse:    true,
		},
	})

	select {
	case msg := <-received:
		if msg.Type != "session.update" {
			t.Errorf("type = %q; want session.update", msg.Type)
		}
		if msg.Session.Voice != "verse" {
			t.Errorf("voice = %q; want verse", msg.Session.Voice)
		}
		if msg.Session.InputAudioFormat != "pcm16" || msg.Session.OutputAudioFormat != "pcm16" {
			t.Errorf("audio formats = %q/%q; want pcm16/pcm16",
				msg.Session.InputAudioFormat, msg.Session.OutputAudioFormat)
		}
		if msg.Session.InputTranscription == nil || msg.Session.InputTranscription.Model != "whisper-1" {
			t.Errorf("input transcription = %+v; want whisper-1", msg.Session.InputTranscription)
		}
		td := msg.Session.TurnDetection
		if td == nil {
			t.Fatal("turn_detection missing")
		}
		if td.Type != "server_vad" || td.Threshold != 0.6 || td.PrefixPaddingMs != 300 ||
			td.SilenceDurationMs != 1200 || !td.CreateResponse {
			t.Errorf("turn_detection = %+v; want server_vad 0.6/300/1200/create", td)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	p := openai.New("key", openai.WithBaseURL("ws://127.0.0.1:1"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.Connect(ctx, s2s.SessionConfig{}); err == nil {
		t.Fatal("Connect to dead endpoint should fail")
	}
}

// ── Outgoing events ───────────────────────────────────────────────────────────

func TestSendAudio_AppendsBase64(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	received := make(chan appendMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update
		var msg appendMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectTo(t, srv, s2s.SessionConfig{})
	chunk := []byte{0x01, 0x02, 0x03, 0x04}
	if err := handle.SendAudio(chunk); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q; want input_audio_buffer.append", msg.Type)
		}
		decoded, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Fatalf("audio not base64: %v", err)
		}
		if string(decoded) != string(chunk) {
			t.Errorf("decoded audio = %v; want %v", decoded, chunk)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestTriggerResponse_SendsResponseCreate(t *testing.T) {
	t.Parallel()

	types := make(chan string, 2)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for range 2 {
			var raw map[string]any
			readJSON(t, conn, &raw)
			tp, _ := raw["type"].(string)
			types <- tp
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectTo(t, srv, s2s.SessionConfig{})
	if err := handle.TriggerResponse(); err != nil {
		t.Fatalf("TriggerResponse: %v", err)
	}

	<-types // session.update
	select {
	case tp := <-types:
		if tp != "response.create" {
			t.Errorf("type = %q; want response.create", tp)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestInterrupt_SendsResponseCancel(t *testing.T) {
	t.Parallel()

	types := make(chan string, 2)
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for range 2 {
			var raw map[string]any
			readJSON(t, conn, &raw)
			tp, _ := raw["type"].(string)
			types <- tp
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectTo(t, srv, s2s.SessionConfig{})
	if err := handle.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	<-types // session.update
	select {
	case tp := <-types:
		if tp != "response.cancel" {
			t.Errorf("type = %q; want response.cancel", tp)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

// ── Incoming events ───────────────────────────────────────────────────────────

func TestReceive_AudioDelta(t *testing.T) {
	t.Parallel()

	pcm := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]string{
			"type":  "response.audio.delta",
			"delta": base64.StdEncoding.EncodeToString(pcm),
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectTo(t, srv, s2s.SessionConfig{})
	select {
	case got := <-handle.Audio():
		if string(got) != string(pcm) {
			t.Errorf("audio = %v; want %v", got, pcm)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio")
	}
}

func TestReceive_AssistantTranscript(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]string{"type": "response.audio_transcript.delta", "delta": "Tell me "})
		writeJSON(t, conn, map[string]string{"type": "response.audio_transcript.delta", "delta": "about yourself."})
		writeJSON(t, conn, map[string]string{"type": "response.audio_transcript.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectTo(t, srv, s2s.SessionConfig{})

	var final s2s.TranscriptEvent
	deadline := time.After(3 * time.Second)
	for final.Text == "" || !final.Final {
		select {
		case evt := <-handle.Transcripts():
			if evt.Role != s2s.RoleAssistant {
				t.Errorf("role = %q; want assistant", evt.Role)
			}
			if evt.Final {
				final = evt
			}
		case <-deadline:
			t.Fatal("timeout waiting for final transcript")
		}
	}
	if final.Text != "Tell me about yourself." {
		t.Errorf("final text = %q; want accumulated deltas", final.Text)
	}
}

func TestReceive_UserTranscription(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]string{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "I have five years of experience.",
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectTo(t, srv, s2s.SessionConfig{})
	select {
	case evt := <-handle.Transcripts():
		if evt.Role != s2s.RoleUser || !evt.Final {
			t.Errorf("event = %+v; want final user transcript", evt)
		}
		if evt.Text != "I have five years of experience." {
			t.Errorf("text = %q", evt.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for user transcript")
	}
}

func TestReceive_Notifications(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]string{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]string{"type": "response.created"})
		writeJSON(t, conn, map[string]string{"type": "response.done"})
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]string{"type": "invalid_request_error", "message": "bad event"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectTo(t, srv, s2s.SessionConfig{})

	want := []s2s.NotificationKind{
		s2s.NoteSpeechStarted, s2s.NoteResponseStarted, s2s.NoteResponseDone, s2s.NoteError,
	}
	for _, kind := range want {
		select {
		case note := <-handle.Notifications():
			if note.Kind != kind {
				t.Errorf("notification = %v; want %v", note.Kind, kind)
			}
			if kind == s2s.NoteError {
				if note.Err == nil || !strings.Contains(note.Err.Error(), "bad event") {
					t.Errorf("error note = %v; want message carried through", note.Err)
				}
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for %v", kind)
		}
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectTo(t, srv, s2s.SessionConfig{})
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Channels close; Err stays nil for a clean shutdown.
	for range handle.Audio() {
	}
	for range handle.Transcripts() {
	}
	if err := handle.Err(); err != nil {
		t.Errorf("Err after clean close = %v; want nil", err)
	}

	if err := handle.SendAudio([]byte{1, 2}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
	if err := handle.TriggerResponse(); err == nil {
		t.Error("TriggerResponse after Close should fail")
	}
}

func TestServerClose_SetsErr(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		conn.Close(websocket.StatusInternalError, "backend failure")
	})

	handle := connectTo(t, srv, s2s.SessionConfig{})
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-handle.Audio():
			if !ok {
				if handle.Err() == nil {
					t.Error("Err = nil after abnormal server close")
				}
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for channel close")
		}
	}
}
