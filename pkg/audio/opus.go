package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Voice transport uses 48 kHz mono Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	// OpusFrameSize is the number of samples per channel per 20 ms frame.
	OpusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// OpusDecoder wraps a gopus Opus decoder for a single remote stream. The
// decoder is stateful across consecutive packets, so each stream gets its own.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder creates a decoder configured for the voice transport format.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes an Opus packet into mono PCM and returns it as little-endian
// int16 bytes.
func (d *OpusDecoder) Decode(opus []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opus, OpusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return Int16sToBytes(pcm), nil
}

// OpusEncoder wraps a gopus Opus encoder for the local stream.
type OpusEncoder struct {
	enc *gopus.Encoder
}

// NewOpusEncoder creates an encoder configured for the voice transport format.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode encodes one 20 ms frame of mono PCM (little-endian int16 bytes) into
// an Opus packet.
func (e *OpusEncoder) Encode(pcmBytes []byte) ([]byte, error) {
	pcm := BytesToInt16s(pcmBytes)
	opus, err := e.enc.Encode(pcm, OpusFrameSize, len(pcmBytes))
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return opus, nil
}
