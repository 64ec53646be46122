package audio

import "encoding/binary"

const wavHeaderSize = 44

// EncodeWAV wraps normalized mono samples in a 16-bit PCM WAV container so
// engines that sniff the container need no encoding hints
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := EncodePCM16(samples)
	dataLen := len(pcm)

	wav := make([]byte, wavHeaderSize, wavHeaderSize+dataLen)

	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+dataLen))
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16)                   // PCM fmt chunk size
	binary.LittleEndian.PutUint16(wav[20:22], 1)                    // PCM
	binary.LittleEndian.PutUint16(wav[22:24], 1)                    // mono
	binary.LittleEndian.PutUint32(wav[24:28], uint32(sampleRate))   // sample rate
	binary.LittleEndian.PutUint32(wav[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(wav[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(wav[34:36], 16)                   // bits per sample

	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(dataLen))

	return append(wav, pcm...)
}
