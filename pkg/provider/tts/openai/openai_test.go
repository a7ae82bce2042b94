package openai_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prepvox/prepvox/pkg/provider/tts"
	"github.com/prepvox/prepvox/pkg/provider/tts/openai"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Fatal("New with empty key should fail")
	}
}

func TestSynthesize_StreamsPCM(t *testing.T) {
	t.Parallel()

	pcm := bytes.Repeat([]byte{0x10, 0x20}, 24000) // one second at 24 kHz
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(pcm)
	}))
	t.Cleanup(srv.Close)

	p, err := openai.New("key", openai.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, rate, err := p.Synthesize(context.Background(), tts.Request{
		Text:  "Thanks for joining. Let's begin.",
		Voice: "verse",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if rate != 24000 {
		t.Errorf("rate = %d, want 24000", rate)
	}

	var got []byte
	timeout := time.After(3 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				if !bytes.Equal(got, pcm) {
					t.Errorf("streamed %d bytes, want %d identical bytes", len(got), len(pcm))
				}
				if gotReq["voice"] != "verse" || gotReq["response_format"] != "pcm" {
					t.Errorf("request = %v; want voice verse, pcm format", gotReq)
				}
				return
			}
			got = append(got, chunk...)
		case <-timeout:
			t.Fatal("timeout draining audio")
		}
	}
}

func TestSynthesize_RejectsEmptyText(t *testing.T) {
	t.Parallel()

	p, err := openai.New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := p.Synthesize(context.Background(), tts.Request{}); err == nil {
		t.Error("empty text should fail")
	}
}
