package audio

import (
	"github.com/socially/speech-gateway/internal/failure"
)

// RingBuffer is a fixed-capacity byte ring for inbound audio. It is owned by a
// single session processor and is not safe for concurrent use.
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
}

// NewRingBuffer creates a new ring buffer with the specified size. One byte is
// reserved to tell full from empty, so capacity is size-1.
func NewRingBuffer(size int) *RingBuffer {
	if size < 2 {
		size = 2
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write writes data to the ring buffer
// Returns the number of bytes written (may be less than len(data) if buffer is full)
func (rb *RingBuffer) Write(data []byte) int {
	n := len(data)
	if space := rb.Space(); n > space {
		n = space
	}

	written := 0
	for written < n {
		end := rb.size
		if rb.read > rb.write {
			end = rb.read - 1
		} else if rb.read == 0 {
			end = rb.size - 1
		}
		c := copy(rb.buffer[rb.write:end], data[written:n])
		written += c
		rb.write = (rb.write + c) % rb.size
	}

	return written
}

// Read reads data from the ring buffer
// Returns the number of bytes read
func (rb *RingBuffer) Read(data []byte) int {
	n := len(data)
	if avail := rb.Available(); n > avail {
		n = avail
	}

	read := 0
	for read < n {
		end := rb.size
		if rb.write > rb.read {
			end = rb.write
		}
		c := copy(data[read:n], rb.buffer[rb.read:end])
		read += c
		rb.read = (rb.read + c) % rb.size
	}

	return read
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Space returns the number of bytes available to write
func (rb *RingBuffer) Space() int {
	return rb.size - rb.Available() - 1
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	return rb.read == rb.write
}

// IsFull returns true if the buffer is full
func (rb *RingBuffer) IsFull() bool {
	return (rb.write+1)%rb.size == rb.read
}

// Reframer slices arbitrarily sized PCM chunks into exact frames. Leftover
// bytes are carried into the next chunk.
type Reframer struct {
	ring       *RingBuffer
	frameBytes int
}

// NewReframer creates a reframer emitting frames of frameBytes bytes, holding
// at most bufferSize-1 bytes of pending audio
func NewReframer(frameBytes, bufferSize int) *Reframer {
	return &Reframer{
		ring:       NewRingBuffer(bufferSize),
		frameBytes: frameBytes,
	}
}

// Push appends a chunk and returns every complete frame now available. A
// rejected chunk leaves the pending audio untouched.
func (r *Reframer) Push(chunk []byte) ([][]byte, error) {
	if len(chunk)%2 != 0 {
		return nil, failure.Newf(failure.MalformedAudio, "reframe",
			"chunk length %d is not a multiple of 2 (16-bit samples)", len(chunk))
	}
	if len(chunk) > r.ring.Space() {
		return nil, failure.Newf(failure.MalformedAudio, "reframe",
			"chunk of %d bytes overflows reframe buffer (%d bytes free)", len(chunk), r.ring.Space())
	}

	r.ring.Write(chunk)

	var frames [][]byte
	for r.ring.Available() >= r.frameBytes {
		frame := make([]byte, r.frameBytes)
		r.ring.Read(frame)
		frames = append(frames, frame)
	}
	return frames, nil
}

// Pending returns the number of bytes waiting for a complete frame
func (r *Reframer) Pending() int {
	return r.ring.Available()
}

// Reset drops pending audio
func (r *Reframer) Reset() {
	r.ring.Clear()
}
