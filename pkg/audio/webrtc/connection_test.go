package webrtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prepvox/prepvox/pkg/audio"
)

func newTestConnection(t *testing.T) (*Connection, *mockTransport) {
	t.Helper()
	conn := newConnection("intv-1", 48000, nil)
	transport := newMockTransport()
	conn.newTransport = func() PeerTransport { return transport }
	t.Cleanup(func() { _ = conn.Disconnect() })
	return conn, transport
}

func pcmFrame(n int) audio.AudioFrame {
	return audio.AudioFrame{Data: make([]byte, n), SampleRate: 48000, Channels: 1}
}

func TestConnectionNegotiate(t *testing.T) {
	t.Parallel()

	conn, _ := newTestConnection(t)
	if got := conn.State(); got != StateConnecting {
		t.Fatalf("initial state = %q, want %q", got, StateConnecting)
	}

	answer, err := conn.Negotiate(context.Background(), "v=0\r\n")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if answer == "" {
		t.Error("Negotiate returned empty SDP answer")
	}
	if got := conn.State(); got != StateConnected {
		t.Errorf("state = %q, want %q", got, StateConnected)
	}

	// A second negotiation on the same connection is rejected.
	if _, err := conn.Negotiate(context.Background(), "v=0\r\n"); err == nil {
		t.Error("second Negotiate should fail")
	}
}

func TestConnectionAudioPumps(t *testing.T) {
	t.Parallel()

	conn, transport := newTestConnection(t)
	if _, err := conn.Negotiate(context.Background(), "v=0\r\n"); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	// Candidate microphone audio flows to the input stream.
	transport.audioIn <- pcmFrame(960)
	select {
	case frame := <-conn.InputStream():
		if len(frame.Data) != 960 {
			t.Errorf("input frame size = %d, want 960", len(frame.Data))
		}
	case <-time.After(time.Second):
		t.Fatal("no candidate frame delivered")
	}

	// Interviewer audio flows out through the transport.
	if !conn.OutputWriter().Send(pcmFrame(1920)) {
		t.Fatal("Send returned false on a live connection")
	}
	select {
	case frame := <-transport.audioOut:
		if len(frame.Data) != 1920 {
			t.Errorf("output frame size = %d, want 1920", len(frame.Data))
		}
	case <-time.After(time.Second):
		t.Fatal("no interviewer frame forwarded")
	}
}

func TestConnectionDisconnectIdempotent(t *testing.T) {
	t.Parallel()

	conn, _ := newTestConnection(t)
	if _, err := conn.Negotiate(context.Background(), "v=0\r\n"); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if got := conn.State(); got != StateDisconnected {
		t.Errorf("state = %q, want %q", got, StateDisconnected)
	}

	// Writes after disconnect are dropped, not delivered or panicking.
	if conn.OutputWriter().Send(pcmFrame(960)) {
		t.Error("Send after Disconnect should drop the frame")
	}

	// The input stream drains and closes.
	for {
		if _, ok := <-conn.InputStream(); !ok {
			break
		}
	}
}

func TestConnectionStateCallback(t *testing.T) {
	t.Parallel()

	conn, _ := newTestConnection(t)

	var mu sync.Mutex
	var transitions []State
	done := make(chan struct{}, 4)
	conn.OnStateChange(func(s State) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
		done <- struct{}{}
	})

	if _, err := conn.Negotiate(context.Background(), "v=0\r\n"); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	_ = conn.Disconnect()

	for range 2 {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("state callback not invoked")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	seen := make(map[State]bool, len(transitions))
	for _, s := range transitions {
		seen[s] = true
	}
	if len(transitions) != 2 || !seen[StateConnected] || !seen[StateDisconnected] {
		t.Errorf("transitions = %v, want connected and disconnected", transitions)
	}
}

func TestAddICECandidateBeforeNegotiate(t *testing.T) {
	t.Parallel()

	conn, _ := newTestConnection(t)
	if err := conn.AddICECandidate("candidate:1"); err == nil {
		t.Error("AddICECandidate before Negotiate should fail")
	}
}
