package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewAssemblerRejectsInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1, -234} {
		if _, err := NewAssembler(size); !errors.Is(err, ErrInvalidPacketSize) {
			t.Errorf("NewAssembler(%d): expected ErrInvalidPacketSize, got %v", size, err)
		}
	}

	a, err := NewAssembler(1)
	if err != nil {
		t.Fatalf("NewAssembler(1) failed: %v", err)
	}
	if a.PacketSize() != 1 {
		t.Errorf("PacketSize() = %d, want 1", a.PacketSize())
	}
}

func TestFeedExactPacket(t *testing.T) {
	a, err := NewAssembler(4)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	packets := a.Feed([]byte("ABCD"))
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(packets))
	}
	if !bytes.Equal(packets[0], []byte("ABCD")) {
		t.Errorf("packet = %q, want %q", packets[0], "ABCD")
	}
	if a.PendingByteCount() != 0 {
		t.Errorf("PendingByteCount() = %d, want 0", a.PendingByteCount())
	}
}

func TestFeedPartialThenComplete(t *testing.T) {
	// Packet size 4, feed "AB" then "CDE": one packet out, one byte pending.
	a, err := NewAssembler(4)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	packets := a.Feed([]byte("AB"))
	if len(packets) != 0 {
		t.Fatalf("first call: expected no packets, got %d", len(packets))
	}
	if a.PendingByteCount() != 2 {
		t.Errorf("PendingByteCount() = %d, want 2", a.PendingByteCount())
	}

	packets = a.Feed([]byte("CDE"))
	if len(packets) != 1 {
		t.Fatalf("second call: expected 1 packet, got %d", len(packets))
	}
	if !bytes.Equal(packets[0], []byte("ABCD")) {
		t.Errorf("packet = %q, want %q", packets[0], "ABCD")
	}
	if a.PendingByteCount() != 1 {
		t.Errorf("PendingByteCount() = %d, want 1", a.PendingByteCount())
	}
}

func TestFeedDrainsAllCompletePackets(t *testing.T) {
	// A chunk much larger than the packet size must yield every complete
	// packet in one call, not one packet per call.
	const p = 8
	a, err := NewAssembler(p)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	chunk := make([]byte, 3*p+5)
	for i := range chunk {
		chunk[i] = byte(i)
	}

	packets := a.Feed(chunk)
	if len(packets) != 3 {
		t.Fatalf("expected 3 packets, got %d", len(packets))
	}
	for k, pkt := range packets {
		if len(pkt) != p {
			t.Errorf("packet %d has length %d, want %d", k, len(pkt), p)
		}
		if !bytes.Equal(pkt, chunk[k*p:(k+1)*p]) {
			t.Errorf("packet %d = %v, want %v", k, pkt, chunk[k*p:(k+1)*p])
		}
	}
	if a.PendingByteCount() != 5 {
		t.Errorf("PendingByteCount() = %d, want 5", a.PendingByteCount())
	}
}

func TestFeedByteByByte(t *testing.T) {
	// Chunk-boundary independence: P calls of 1 byte each must produce the
	// same single packet as one call with P bytes.
	const p = 16
	a, err := NewAssembler(p)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	var got []byte
	for i := 0; i < p; i++ {
		packets := a.Feed([]byte{byte(i)})
		if i < p-1 && len(packets) != 0 {
			t.Fatalf("byte %d: unexpected packet emission", i)
		}
		if i == p-1 {
			if len(packets) != 1 {
				t.Fatalf("final byte: expected 1 packet, got %d", len(packets))
			}
			got = packets[0]
		}
	}

	want := make([]byte, p)
	for i := range want {
		want[i] = byte(i)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("packet = %v, want %v", got, want)
	}
}

func TestFeedEmptyChunk(t *testing.T) {
	a, err := NewAssembler(4)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	if packets := a.Feed(nil); len(packets) != 0 {
		t.Errorf("Feed(nil) emitted %d packets", len(packets))
	}
	a.Feed([]byte("AB"))
	if packets := a.Feed([]byte{}); len(packets) != 0 {
		t.Errorf("Feed(empty) emitted packets with partial buffer")
	}
	if a.PendingByteCount() != 2 {
		t.Errorf("PendingByteCount() = %d, want 2", a.PendingByteCount())
	}
}

func TestNoByteLossAcrossRandomChunking(t *testing.T) {
	// Conservation: concatenation of emitted packets plus the remainder
	// must equal the concatenation of everything fed.
	const p = 7
	a, err := NewAssembler(p)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	var fed []byte
	var emitted []byte
	chunkSizes := []int{1, 3, 0, 10, 6, 2, 25, 7, 4, 1, 13}
	next := byte(0)
	for _, size := range chunkSizes {
		chunk := make([]byte, size)
		for i := range chunk {
			chunk[i] = next
			next++
		}
		fed = append(fed, chunk...)
		for _, pkt := range a.Feed(chunk) {
			if len(pkt) != p {
				t.Fatalf("short packet emitted: %d bytes", len(pkt))
			}
			emitted = append(emitted, pkt...)
		}
	}

	total := append(emitted, make([]byte, 0)...)
	if a.PendingByteCount() != len(fed)-len(emitted) {
		t.Fatalf("pending = %d, want %d", a.PendingByteCount(), len(fed)-len(emitted))
	}
	if !bytes.Equal(total, fed[:len(emitted)]) {
		t.Errorf("emitted bytes diverge from fed bytes")
	}
}

func TestResetClearsBuffer(t *testing.T) {
	a, err := NewAssembler(4)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	a.Feed([]byte("ABC"))
	a.Reset()
	if a.PendingByteCount() != 0 {
		t.Fatalf("PendingByteCount() after Reset = %d, want 0", a.PendingByteCount())
	}

	// After a reset the assembler must behave like a fresh one: the stale
	// "ABC" must not contaminate the next packet.
	packets := a.Feed([]byte("WXYZ"))
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet after reset, got %d", len(packets))
	}
	if !bytes.Equal(packets[0], []byte("WXYZ")) {
		t.Errorf("packet = %q, want %q", packets[0], "WXYZ")
	}
}

func TestPacketsAreIndependentCopies(t *testing.T) {
	a, err := NewAssembler(2)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	packets := a.Feed([]byte{1, 2, 3, 4})
	if len(packets) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(packets))
	}
	// Later feeds must not alias earlier packets.
	a.Feed([]byte{9, 9, 9, 9})
	if !bytes.Equal(packets[0], []byte{1, 2}) || !bytes.Equal(packets[1], []byte{3, 4}) {
		t.Errorf("emitted packets were mutated by a later Feed: %v %v", packets[0], packets[1])
	}
}
