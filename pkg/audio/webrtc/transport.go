package webrtc

import (
	"context"

	"github.com/prepvox/prepvox/pkg/audio"
)

// PeerTransport abstracts the WebRTC peer connection for one interview.
// This decouples the session logic from any concrete WebRTC stack and allows
// testing without a live peer. A production transport negotiates the data
// channel for control events and a single bidirectional audio track.
type PeerTransport interface {
	// CreateAnswer processes the candidate's SDP offer and returns the SDP
	// answer to send back through signaling.
	CreateAnswer(ctx context.Context, sdpOffer string) (sdpAnswer string, err error)

	// AddICECandidate adds a remote ICE candidate.
	AddICECandidate(candidate string) error

	// AudioInput returns the channel delivering audio frames received from
	// the candidate's microphone.
	AudioInput() <-chan audio.AudioFrame

	// SendAudio sends an interviewer audio frame to the candidate.
	SendAudio(frame audio.AudioFrame) error

	// Close tears down the peer connection and releases resources.
	Close() error
}

// mockTransport is a [PeerTransport] used for testing and as the default
// transport until a concrete stack is wired in. It exposes channels that
// tests can write to (simulate candidate audio) and read from (verify
// interviewer frames).
type mockTransport struct {
	audioIn  chan audio.AudioFrame
	audioOut chan audio.AudioFrame
	closed   chan struct{}
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		audioIn:  make(chan audio.AudioFrame, 16),
		audioOut: make(chan audio.AudioFrame, 16),
		closed:   make(chan struct{}),
	}
}

func (m *mockTransport) CreateAnswer(_ context.Context, _ string) (string, error) {
	return "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=Interview Audio\r\n", nil
}

func (m *mockTransport) AddICECandidate(_ string) error {
	return nil
}

func (m *mockTransport) AudioInput() <-chan audio.AudioFrame {
	return m.audioIn
}

func (m *mockTransport) SendAudio(frame audio.AudioFrame) error {
	select {
	case m.audioOut <- frame:
	case <-m.closed:
	}
	return nil
}

func (m *mockTransport) Close() error {
	select {
	case <-m.closed:
		// already closed; no-op
	default:
		close(m.closed)
	}
	return nil
}
