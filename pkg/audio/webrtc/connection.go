package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prepvox/prepvox/pkg/audio"
)

const outputChannelBuffer = 64

// State describes the lifecycle of a peer connection.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

// OutputWriter wraps a write-only audio channel with lifecycle awareness.
// It safely drops frames written after the connection has been disconnected,
// preventing panics from sends on closed channels.
type OutputWriter struct {
	ch           chan<- audio.AudioFrame
	disconnected atomic.Bool
}

// Send writes a frame to the output. Returns false if the connection
// is disconnected (frame was dropped).
func (w *OutputWriter) Send(frame audio.AudioFrame) bool {
	if w.disconnected.Load() {
		return false
	}
	select {
	case w.ch <- frame:
		return true
	default:
		// Channel full — drop frame rather than block.
		return false
	}
}

// Close marks the writer as closed. Subsequent Send calls are no-ops.
// The underlying channel is NOT closed (it is owned by the connection).
func (w *OutputWriter) Close() {
	w.disconnected.Store(true)
}

// Connection manages the single WebRTC peer link for one interview: the
// candidate's microphone audio flowing in and the interviewer's voice
// flowing out.
//
// Connection is safe for concurrent use.
type Connection struct {
	interviewID string
	sampleRate  int
	stunServers []string

	mu           sync.RWMutex
	transport    PeerTransport
	state        State
	inputCh      chan audio.AudioFrame
	outputCh     chan audio.AudioFrame
	outputWriter *OutputWriter
	onState      func(State)
	disconnected bool

	ctx    context.Context
	cancel context.CancelFunc

	newTransport func() PeerTransport // injectable; defaults to mockTransport
}

func newConnection(interviewID string, sampleRate int, stunServers []string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	outputCh := make(chan audio.AudioFrame, outputChannelBuffer)
	return &Connection{
		interviewID:  interviewID,
		sampleRate:   sampleRate,
		stunServers:  stunServers,
		state:        StateConnecting,
		outputCh:     outputCh,
		outputWriter: &OutputWriter{ch: outputCh},
		ctx:          ctx,
		cancel:       cancel,
		newTransport: newPeerTransport,
	}
}

// newPeerTransport is the default transport factory.
func newPeerTransport() PeerTransport {
	return newMockTransport()
}

// Negotiate completes the SDP exchange with the candidate: it creates the
// peer transport, answers the offer, and starts the audio pumps. Returns the
// SDP answer for the signaling response.
func (c *Connection) Negotiate(ctx context.Context, sdpOffer string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disconnected {
		return "", fmt.Errorf("webrtc: connection %q is disconnected", c.interviewID)
	}
	if c.transport != nil {
		return "", fmt.Errorf("webrtc: connection %q already negotiated", c.interviewID)
	}

	transport := c.newTransport()
	answer, err := transport.CreateAnswer(ctx, sdpOffer)
	if err != nil {
		_ = transport.Close()
		c.setStateLocked(StateFailed)
		return "", fmt.Errorf("webrtc: answer offer for %q: %w", c.interviewID, err)
	}

	c.transport = transport
	c.inputCh = make(chan audio.AudioFrame, 64)
	go c.readRemoteInput(transport)
	go c.forwardOutput(transport)

	c.setStateLocked(StateConnected)
	return answer, nil
}

// AddICECandidate forwards a remote ICE candidate to the transport.
func (c *Connection) AddICECandidate(candidate string) error {
	c.mu.RLock()
	transport := c.transport
	c.mu.RUnlock()

	if transport == nil {
		return fmt.Errorf("webrtc: connection %q has no negotiated transport", c.interviewID)
	}
	return transport.AddICECandidate(candidate)
}

// InputStream returns the read-only channel of candidate audio. Nil until
// Negotiate succeeds; closed when the connection disconnects.
func (c *Connection) InputStream() <-chan audio.AudioFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inputCh
}

// OutputWriter returns the lifecycle-aware writer for interviewer audio.
// After Disconnect, Send calls safely drop frames instead of risking a send
// on an abandoned channel.
func (c *Connection) OutputWriter() *OutputWriter {
	return c.outputWriter
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// OnStateChange registers cb as the state transition callback. Subsequent
// calls replace the previous registration. The callback is invoked on an
// internal goroutine — callers must not block.
func (c *Connection) OnStateChange(cb func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = cb
}

// Disconnect cleanly tears down the peer connection and stops internal
// goroutines. It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disconnected {
		return nil
	}
	c.disconnected = true

	// Mark the output writer as disconnected so late writes are dropped safely.
	c.outputWriter.Close()

	// Cancel the context to stop the audio pump goroutines.
	c.cancel()

	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
	c.setStateLocked(StateDisconnected)
	return nil
}

func (c *Connection) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if cb := c.onState; cb != nil {
		go cb(s)
	}
}

// readRemoteInput pumps candidate audio from the transport into the input
// channel until the connection is closed. It closes inputCh on exit to signal
// the downstream consumer.
func (c *Connection) readRemoteInput(transport PeerTransport) {
	defer close(c.inputCh)
	audioIn := transport.AudioInput()
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame, ok := <-audioIn:
			if !ok {
				return
			}
			select {
			case c.inputCh <- frame:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// forwardOutput pumps interviewer audio from the output channel to the
// candidate via the transport.
func (c *Connection) forwardOutput(transport PeerTransport) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame, ok := <-c.outputCh:
			if !ok {
				return
			}
			_ = transport.SendAudio(frame)
		}
	}
}
