package audio

import (
	"context"
	"fmt"
	"time"
)

// ProbeCheck is a single named capability check.
type ProbeCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// ProbeReport is the outcome of running all capability checks before a
// session starts. Missing lists failed check names in run order; Errors maps
// each failed name to its cause.
type ProbeReport struct {
	Supported bool
	Missing   []string
	Errors    map[string]error
	// RealtimeCapable is true when the checks required for the full-duplex
	// realtime strategy all passed; when false but Supported is true the
	// session should fall back to the segmented strategy.
	RealtimeCapable bool
}

// Recommendation renders a short human-readable verdict.
func (r ProbeReport) Recommendation() string {
	switch {
	case !r.Supported:
		return fmt.Sprintf("audio unsupported on this host: %v", r.Missing)
	case !r.RealtimeCapable:
		return "realtime transport unavailable, falling back to segmented voice mode"
	default:
		return "all audio capabilities available"
	}
}

// Standard check names.
const (
	CheckCaptureDevice     = "capture_device"
	CheckOpusCodec         = "opus_codec"
	CheckRealtimeTransport = "realtime_transport"
)

// requiredChecks must pass for any voice session; realtimeChecks gate only
// the realtime strategy.
var requiredChecks = map[string]bool{
	CheckCaptureDevice: true,
	CheckOpusCodec:     true,
}

// Prober runs capability checks. Checks are injectable so the session layer
// and tests can substitute their own transport or device probes.
type Prober struct {
	checks  []ProbeCheck
	timeout time.Duration
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithCheck appends a check, replacing any default check with the same name.
func WithCheck(c ProbeCheck) ProberOption {
	return func(p *Prober) {
		for i, existing := range p.checks {
			if existing.Name == c.Name {
				p.checks[i] = c
				return
			}
		}
		p.checks = append(p.checks, c)
	}
}

// WithProbeTimeout bounds each individual check. Defaults to 3 s.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewProber creates a prober with the default codec check plus a capture
// check against the given device. A realtime transport check is only present
// when installed via WithCheck; without one the report is never
// RealtimeCapable.
func NewProber(dev Device, opts ...ProberOption) *Prober {
	p := &Prober{
		timeout: 3 * time.Second,
		checks: []ProbeCheck{
			{Name: CheckOpusCodec, Probe: probeOpus},
			{Name: CheckCaptureDevice, Probe: probeCapture(dev)},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes all checks and aggregates the report. Checks run sequentially;
// a failed check never aborts the remaining ones, so the report names every
// missing capability at once.
func (p *Prober) Run(ctx context.Context) ProbeReport {
	report := ProbeReport{
		Supported:       true,
		Errors:          make(map[string]error),
		RealtimeCapable: false,
	}
	realtimeChecked := false
	realtimeOK := true

	for _, check := range p.checks {
		checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := check.Probe(checkCtx)
		cancel()

		if check.Name == CheckRealtimeTransport {
			realtimeChecked = true
			if err != nil {
				realtimeOK = false
			}
		}
		if err == nil {
			continue
		}
		report.Missing = append(report.Missing, check.Name)
		report.Errors[check.Name] = err
		if requiredChecks[check.Name] {
			report.Supported = false
		}
	}

	report.RealtimeCapable = report.Supported && realtimeChecked && realtimeOK
	return report
}

// probeOpus round-trips one silent frame through the voice-transport codec.
// Instantiation alone passes on builds where the native opus library is
// present but misconfigured, so the check encodes and decodes for real.
func probeOpus(context.Context) error {
	enc, err := NewOpusEncoder()
	if err != nil {
		return err
	}
	dec, err := NewOpusDecoder()
	if err != nil {
		return err
	}
	packet, err := enc.Encode(make([]byte, OpusFrameSize*2))
	if err != nil {
		return fmt.Errorf("audio: opus probe encode: %w", err)
	}
	pcm, err := dec.Decode(packet)
	if err != nil {
		return fmt.Errorf("audio: opus probe decode: %w", err)
	}
	if len(pcm) != OpusFrameSize*2 {
		return fmt.Errorf("audio: opus probe returned %d bytes, want %d", len(pcm), OpusFrameSize*2)
	}
	return nil
}

// probeCapture opens and immediately closes the device to surface permission
// and presence failures before a session is created.
func probeCapture(dev Device) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		stream, err := dev.Open(ctx)
		if err != nil {
			return err
		}
		return stream.Close()
	}
}
