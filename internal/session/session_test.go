package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/Mere226/biogui/internal/device"
	"github.com/Mere226/biogui/internal/sequence"
	"github.com/Mere226/biogui/internal/transport"
)

// fakeTransport is an in-memory Transport fed by the test.
type fakeTransport struct {
	mu       sync.Mutex
	chunks   chan []byte
	writes   [][]byte
	failOpen bool
	closed   int
	once     sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{chunks: make(chan []byte, 16)}
}

func (f *fakeTransport) Open(ctx context.Context) error {
	if f.failOpen {
		return transport.ErrConnectFailed
	}
	return nil
}

func (f *fakeTransport) Chunks() <-chan []byte { return f.chunks }

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.once.Do(func() { close(f.chunks) })
	return nil
}

func (f *fakeTransport) String() string { return "fake transport" }

func (f *fakeTransport) writeLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	for i, w := range f.writes {
		out[i] = string(w)
	}
	return out
}

// countingSink records delivered packets.
type countingSink struct {
	mu      sync.Mutex
	packets []DataPacket
	fail    bool
}

func (c *countingSink) Consume(p DataPacket) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("sink broken")
	}
	c.packets = append(c.packets, p)
	return nil
}

func (c *countingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

// testProtocol decodes 4-byte packets into a single 1x1 signal.
func testProtocol() device.Protocol {
	return device.Protocol{
		Name:       "testdev",
		PacketSize: 4,
		StartSeq:   sequence.Sequence{sequence.Command('S')},
		StopSeq:    sequence.Sequence{sequence.Command('E')},
		Signals:    map[string]device.SignalInfo{"sig": {SampleRate: 100, Channels: 1}},
		Decode: func(pkt []byte) (map[string]*mat.Dense, error) {
			if len(pkt) != 4 {
				return nil, device.ErrBadPacket
			}
			if pkt[0] == 0xFF {
				return nil, device.ErrBadPacket
			}
			return map[string]*mat.Dense{"sig": mat.NewDense(1, 1, []float64{float64(pkt[0])})}, nil
		},
	}
}

func TestSessionStreamsAndStops(t *testing.T) {
	tr := newFakeTransport()
	sink := &countingSink{}
	s, err := New(testProtocol(), tr, []Sink{sink}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	// Two packets split across unaligned chunks.
	tr.chunks <- []byte{1, 2, 3}
	tr.chunks <- []byte{4, 5, 6, 7, 8, 9}

	waitFor(t, func() bool { return sink.count() == 2 })

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if got := s.PacketCount(); got != 2 {
		t.Errorf("PacketCount() = %d, want 2", got)
	}
	// One trailing byte (9) must have been discarded, never delivered.
	sink.mu.Lock()
	if v := sink.packets[0].Signals["sig"].At(0, 0); v != 1 {
		t.Errorf("first packet value = %g, want 1", v)
	}
	if v := sink.packets[1].Signals["sig"].At(0, 0); v != 5 {
		t.Errorf("second packet value = %g, want 5", v)
	}
	sink.mu.Unlock()

	// Start command first, stop command during teardown, transport closed.
	writes := tr.writeLog()
	if len(writes) != 2 || writes[0] != "S" || writes[1] != "E" {
		t.Errorf("command writes = %q, want [S E]", writes)
	}
	if tr.closed == 0 {
		t.Error("transport was not closed")
	}
}

func TestSessionOpenFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.failOpen = true
	s, err := New(testProtocol(), tr, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := s.Run(context.Background()); !errors.Is(err, transport.ErrConnectFailed) {
		t.Fatalf("Run = %v, want ErrConnectFailed", err)
	}
	// No handshake may be attempted on a transport that never opened.
	if writes := tr.writeLog(); len(writes) != 0 {
		t.Errorf("commands written despite failed open: %q", writes)
	}
}

func TestSessionStopsOnDecodeError(t *testing.T) {
	tr := newFakeTransport()
	sink := &countingSink{}
	s, err := New(testProtocol(), tr, []Sink{sink}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	tr.chunks <- []byte{0xFF, 0, 0, 0}

	select {
	case err := <-done:
		if !errors.Is(err, device.ErrBadPacket) {
			t.Fatalf("Run = %v, want ErrBadPacket", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on decode error")
	}
	if tr.closed == 0 {
		t.Error("transport not closed after decode error")
	}
}

func TestSessionSurvivesSinkError(t *testing.T) {
	tr := newFakeTransport()
	broken := &countingSink{fail: true}
	good := &countingSink{}
	s, err := New(testProtocol(), tr, []Sink{broken, good}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	tr.chunks <- []byte{1, 2, 3, 4}
	waitFor(t, func() bool { return good.count() == 1 })

	s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v after sink error", err)
	}
}

func TestSessionTransportDrop(t *testing.T) {
	tr := newFakeTransport()
	s, err := New(testProtocol(), tr, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	tr.Close()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "transport closed") {
			t.Fatalf("Run = %v, want transport-closed error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after transport drop")
	}
}

func TestStopBeforeRunAndTwice(t *testing.T) {
	tr := newFakeTransport()
	s, err := New(testProtocol(), tr, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	s.Stop()
	s.Stop()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after pre-Stop returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not honor a Stop issued before it started")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
