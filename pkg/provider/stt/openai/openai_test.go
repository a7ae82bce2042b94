package openai_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prepvox/prepvox/pkg/provider/stt"
	"github.com/prepvox/prepvox/pkg/provider/stt/openai"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Fatal("New with empty key should fail")
	}
}

func TestTranscribe_UploadsWAV(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"tell me about your background"}`))
	}))
	t.Cleanup(srv.Close)

	p, err := openai.New("key", openai.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pcm := make([]byte, 16000*2) // one second at 16 kHz
	tx, err := p.Transcribe(context.Background(), stt.Request{
		PCM:        pcm,
		SampleRate: 16000,
		Language:   "en",
		Prompt:     "Backend Engineer interview at Acme",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if tx.Text != "tell me about your background" {
		t.Errorf("Text = %q", tx.Text)
	}
	if tx.Duration.Seconds() != 1 {
		t.Errorf("Duration = %v, want 1s", tx.Duration)
	}
	if !strings.HasSuffix(gotPath, "/audio/transcriptions") {
		t.Errorf("path = %q, want audio/transcriptions", gotPath)
	}

	// The multipart body carries a RIFF/WAVE container and the model name.
	body := string(gotBody)
	if !strings.Contains(body, "RIFF") || !strings.Contains(body, "WAVE") {
		t.Error("upload is not a WAV container")
	}
	if !strings.Contains(body, "whisper-1") {
		t.Error("model name missing from upload")
	}
}

func TestTranscribe_RejectsEmptyAudio(t *testing.T) {
	t.Parallel()

	p, err := openai.New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{SampleRate: 16000}); err == nil {
		t.Error("empty PCM should fail")
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: []byte{1, 2}}); err == nil {
		t.Error("missing sample rate should fail")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	p, err := openai.New("key", openai.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: []byte{1, 2}, SampleRate: 16000}); err == nil {
		t.Error("server error should surface")
	}
}
