// Package frame turns arbitrarily-chunked byte deliveries from a transport
// into fixed-size packets.
package frame

import (
	"errors"
	"fmt"
)

// ErrInvalidPacketSize is returned by New for a non-positive packet size.
var ErrInvalidPacketSize = errors.New("packet size must be positive")

// Assembler accumulates incoming byte chunks and slices off complete
// packets of a fixed size, keeping any remainder buffered for the next
// delivery. One assembler serves one acquisition session and must be fed
// from a single goroutine.
type Assembler struct {
	packetSize int
	buf        []byte
}

// NewAssembler creates an assembler producing packets of exactly packetSize bytes.
func NewAssembler(packetSize int) (*Assembler, error) {
	if packetSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPacketSize, packetSize)
	}
	return &Assembler{packetSize: packetSize}, nil
}

// PacketSize returns the configured packet size.
func (a *Assembler) PacketSize() int {
	return a.packetSize
}

// Feed appends chunk to the internal buffer and returns every complete
// packet now available, in arrival order. Each returned packet is an
// independent copy of exactly PacketSize bytes; bytes that do not yet form
// a complete packet stay buffered. Draining is exhaustive: a single large
// chunk yields all the packets it contains, so the buffer never holds a
// full packet between calls.
func (a *Assembler) Feed(chunk []byte) [][]byte {
	a.buf = append(a.buf, chunk...)
	if len(a.buf) < a.packetSize {
		return nil
	}

	n := len(a.buf) / a.packetSize
	packets := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		pkt := make([]byte, a.packetSize)
		copy(pkt, a.buf[i*a.packetSize:(i+1)*a.packetSize])
		packets = append(packets, pkt)
	}

	remainder := len(a.buf) - n*a.packetSize
	copy(a.buf, a.buf[n*a.packetSize:])
	a.buf = a.buf[:remainder]

	return packets
}

// Reset discards all buffered bytes. Called at session stop so a stale
// partial packet never leaks into the next session.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

// PendingByteCount returns the number of buffered bytes that do not yet
// form a complete packet.
func (a *Assembler) PendingByteCount() int {
	return len(a.buf)
}
