// Package webrtc carries the peer audio link between the interview service
// and the candidate's browser.
//
// Each interview gets a single [Connection] holding a bidirectional audio
// path: candidate microphone frames in, interviewer voice frames out. The
// [SignalingServer] exposes the SDP offer/answer and ICE exchange over HTTP.
//
// WebRTC peer handling is abstracted behind the [PeerTransport] interface so
// the session logic and tests run without a live peer stack; a concrete
// implementation can be dropped in as another PeerTransport.
package webrtc

import "context"

// Option configures a [Platform].
type Option func(*Platform)

// WithSTUNServers sets the STUN server URLs used during ICE negotiation.
// Defaults to ["stun:stun.l.google.com:19302"].
func WithSTUNServers(servers ...string) Option {
	return func(p *Platform) {
		p.stunServers = servers
	}
}

// WithSampleRate sets the audio sample rate in Hz. Defaults to 48000.
func WithSampleRate(rate int) Option {
	return func(p *Platform) {
		p.sampleRate = rate
	}
}

// Platform creates peer connections for interviews. Each call to
// [Platform.Connect] returns a new [Connection] for the given interview ID;
// multiple calls with the same ID each produce an independent Connection.
//
// Platform is safe for concurrent use.
type Platform struct {
	stunServers []string // STUN server URLs for ICE negotiation; immutable after New
	sampleRate  int      // audio sample rate in Hz; immutable after New
}

// New creates a new WebRTC Platform with the given options applied.
func New(opts ...Option) *Platform {
	p := &Platform{
		stunServers: []string{"stun:stun.l.google.com:19302"},
		sampleRate:  48000,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect creates a new [Connection] for the given interview. The supplied
// ctx governs the connection-setup phase only; once the Connection is
// returned it lives until [Connection.Disconnect] is called explicitly.
func (p *Platform) Connect(_ context.Context, interviewID string) (*Connection, error) {
	return newConnection(interviewID, p.sampleRate, p.stunServers), nil
}
