package audio

import "encoding/binary"

// EncodeWAV wraps raw little-endian PCM16 in a minimal RIFF/WAVE container.
// Transcription APIs accept uploads by container format, not raw PCM, so
// recorded utterances are wrapped just before upload.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const headerSize = 44
	dataLen := len(pcm)
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	buf := make([]byte, headerSize+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	copy(buf[headerSize:], pcm)
	return buf
}
