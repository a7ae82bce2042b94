package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Sentinel errors returned by the capture manager.
var (
	// ErrCaptureBusy is returned by Acquire while another handle is live.
	ErrCaptureBusy = errors.New("audio: capture device already acquired")
	// ErrCaptureReleased is returned by Subscribe after the handle was released.
	ErrCaptureReleased = errors.New("audio: capture handle released")
)

// DeviceAccessReason classifies why opening the capture device failed.
type DeviceAccessReason string

const (
	// AccessDenied means the platform refused permission to the device.
	AccessDenied DeviceAccessReason = "denied"
	// AccessNotFound means no capture device is present.
	AccessNotFound DeviceAccessReason = "not_found"
	// AccessInUse means another process holds the device exclusively.
	AccessInUse DeviceAccessReason = "in_use"
	// AccessUnknown covers everything else.
	AccessUnknown DeviceAccessReason = "unknown"
)

// DeviceAccessError reports a failure to open the capture device with enough
// detail for the caller to render an actionable message.
type DeviceAccessError struct {
	Reason DeviceAccessReason
	Err    error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("audio: capture device access (%s): %v", e.Reason, e.Err)
}

func (e *DeviceAccessError) Unwrap() error { return e.Err }

// Device abstracts a platform audio input. Open starts capture and returns a
// running stream; implementations should return *DeviceAccessError when the
// failure maps to a known access problem.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is a running capture stream. Frames is closed when the stream ends,
// either because Close was called or the device went away.
type Stream interface {
	Frames() <-chan AudioFrame
	Close() error
}

// Manager owns the capture device for the process. Exactly one Handle can be
// live at a time; every consumer of microphone audio borrows a subscription
// from the handle instead of opening the device itself. Release tears down
// the device and is guaranteed to stop frame delivery before it returns, so
// the device indicator never lingers after a session ends.
type Manager struct {
	dev    Device
	log    *slog.Logger
	bufLen int

	mu     sync.Mutex
	handle *Handle
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCaptureLogger sets the logger. Defaults to slog.Default.
func WithCaptureLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithSubscriberBuffer sets the per-subscriber channel buffer in frames.
func WithSubscriberBuffer(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.bufLen = n
		}
	}
}

// NewManager creates a capture manager over the given device.
func NewManager(dev Device, opts ...ManagerOption) *Manager {
	m := &Manager{
		dev:    dev,
		log:    slog.Default(),
		bufLen: 50, // one second of 20 ms frames
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire opens the capture device and returns the owning handle. While a
// handle is live, further Acquire calls fail with ErrCaptureBusy; callers
// share audio through Handle.Subscribe instead.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != nil && m.handle.Live() {
		return nil, ErrCaptureBusy
	}

	stream, err := m.dev.Open(ctx)
	if err != nil {
		var accessErr *DeviceAccessError
		if errors.As(err, &accessErr) {
			return nil, err
		}
		return nil, &DeviceAccessError{Reason: AccessUnknown, Err: err}
	}

	h := &Handle{
		stream: stream,
		log:    m.log,
		bufLen: m.bufLen,
		subs:   make(map[int]chan AudioFrame),
		done:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.fanOut()

	m.handle = h
	m.log.Debug("capture device acquired")
	return h, nil
}

// Release releases the current handle, if any. Idempotent.
func (m *Manager) Release() {
	m.mu.Lock()
	h := m.handle
	m.handle = nil
	m.mu.Unlock()

	if h != nil {
		h.Release()
	}
}

// Handle is the single live claim on the capture device. Consumers subscribe
// for a borrowed frame channel; the handle fans captured frames out to all
// subscribers and drops frames for subscribers that fall behind.
type Handle struct {
	stream Stream
	log    *slog.Logger
	bufLen int

	mu     sync.Mutex
	subs   map[int]chan AudioFrame
	nextID int

	done        chan struct{}
	releaseOnce sync.Once
	wg          sync.WaitGroup
}

// Subscribe returns a frame channel and a cancel function. The channel is
// closed when the subscription is cancelled or the handle is released.
func (h *Handle) Subscribe() (<-chan AudioFrame, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return nil, nil, ErrCaptureReleased
	default:
	}

	id := h.nextID
	h.nextID++
	ch := make(chan AudioFrame, h.bufLen)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// Live reports whether the handle still owns the device.
func (h *Handle) Live() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Release closes the device and all subscriptions. It blocks until the fan-out
// goroutine has exited, so no frame is delivered after Release returns.
// Idempotent.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		close(h.done)
		if err := h.stream.Close(); err != nil {
			h.log.Warn("capture stream close", "error", err)
		}
		h.wg.Wait()

		h.mu.Lock()
		for id, ch := range h.subs {
			delete(h.subs, id)
			close(ch)
		}
		h.mu.Unlock()
		h.log.Debug("capture device released")
	})
}

// fanOut forwards device frames to all subscribers. Non-blocking sends: a
// slow subscriber loses frames rather than stalling the device read loop.
func (h *Handle) fanOut() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case frame, ok := <-h.stream.Frames():
			if !ok {
				return
			}
			h.mu.Lock()
			for _, ch := range h.subs {
				select {
				case ch <- frame:
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}
