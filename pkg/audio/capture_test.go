package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStream is a scriptable capture stream for tests.
type fakeStream struct {
	frames    chan AudioFrame
	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan AudioFrame, 16)}
}

func (s *fakeStream) Frames() <-chan AudioFrame { return s.frames }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.frames)
	})
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDevice opens fakeStreams and can be scripted to fail.
type fakeDevice struct {
	openErr error

	mu      sync.Mutex
	streams []*fakeStream
}

func (d *fakeDevice) Open(context.Context) (Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := newFakeStream()
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func testFrame() AudioFrame {
	return AudioFrame{Data: make([]byte, 1920), SampleRate: 48000, Channels: 1}
}

func TestManagerSingleOwner(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	m := NewManager(dev)

	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !h.Live() {
		t.Fatal("handle should be live after Acquire")
	}

	if _, err := m.Acquire(context.Background()); !errors.Is(err, ErrCaptureBusy) {
		t.Fatalf("second Acquire = %v, want ErrCaptureBusy", err)
	}

	h.Release()
	if h.Live() {
		t.Fatal("handle should not be live after Release")
	}

	// The device is reusable once released.
	h2, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	h2.Release()
}

func TestManagerAcquireDeviceError(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{openErr: errors.New("device unplugged")}
	m := NewManager(dev)

	_, err := m.Acquire(context.Background())
	var accessErr *DeviceAccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("Acquire error = %T, want *DeviceAccessError", err)
	}
	if accessErr.Reason != AccessUnknown {
		t.Errorf("Reason = %q, want %q", accessErr.Reason, AccessUnknown)
	}
}

func TestManagerAcquirePreservesAccessReason(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{openErr: &DeviceAccessError{Reason: AccessDenied, Err: errors.New("permission denied")}}
	m := NewManager(dev)

	_, err := m.Acquire(context.Background())
	var accessErr *DeviceAccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("Acquire error = %T, want *DeviceAccessError", err)
	}
	if accessErr.Reason != AccessDenied {
		t.Errorf("Reason = %q, want %q", accessErr.Reason, AccessDenied)
	}
}

func TestHandleFanOut(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	m := NewManager(dev)
	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	sub1, cancel1, err := h.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel1()
	sub2, cancel2, err := h.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel2()

	dev.streams[0].frames <- testFrame()

	for i, sub := range []<-chan AudioFrame{sub1, sub2} {
		select {
		case frame := <-sub:
			if len(frame.Data) != 1920 {
				t.Errorf("subscriber %d: frame size = %d, want 1920", i, len(frame.Data))
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no frame delivered", i)
		}
	}
}

func TestHandleReleaseStopsDelivery(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	m := NewManager(dev)
	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	sub, _, err := h.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m.Release()

	if !dev.streams[0].isClosed() {
		t.Error("device stream should be closed after Release")
	}

	// The subscription channel is closed; no frames arrive after Release.
	for {
		frame, ok := <-sub
		if !ok {
			break
		}
		t.Errorf("unexpected frame after Release: %d bytes", len(frame.Data))
	}

	// Release is idempotent.
	m.Release()
	h.Release()
}

func TestSubscribeAfterRelease(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	m := NewManager(dev)
	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h.Release()

	if _, _, err := h.Subscribe(); !errors.Is(err, ErrCaptureReleased) {
		t.Fatalf("Subscribe after Release = %v, want ErrCaptureReleased", err)
	}
}

func TestSubscriberCancelIsIndependent(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	m := NewManager(dev)
	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	sub1, cancel1, _ := h.Subscribe()
	sub2, _, _ := h.Subscribe()

	cancel1()
	if _, ok := <-sub1; ok {
		t.Error("cancelled subscription should be closed")
	}

	dev.streams[0].frames <- testFrame()
	select {
	case <-sub2:
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber should still receive frames")
	}
}
