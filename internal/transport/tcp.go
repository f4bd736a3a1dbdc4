package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// TCP is a Transport that listens on a local port and waits for the
// acquisition device to dial in. The device is the client: Open blocks
// until one connection is accepted, and that single connection carries the
// whole session.
type TCP struct {
	port int

	listener net.Listener
	conn     net.Conn
	mu       sync.Mutex

	chunks    chan []byte
	closeOnce sync.Once
}

// NewTCP creates a TCP transport listening on the given port.
func NewTCP(port int) *TCP {
	return &TCP{
		port:   port,
		chunks: make(chan []byte, chunkBufferDepth),
	}
}

func (t *TCP) String() string {
	return fmt.Sprintf("tcp socket on port %d", t.port)
}

// Open listens and accepts the device connection, bounded by ctx.
func (t *TCP) Open(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("%w: listen on port %d: %v", ErrConnectFailed, t.port, err)
	}
	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	// Unblock Accept when ctx expires before the device connects.
	acceptDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			listener.Close()
		case <-acceptDone:
		}
	}()

	conn, err := listener.Accept()
	close(acceptDone)
	if err != nil {
		listener.Close()
		if ctx.Err() != nil {
			return fmt.Errorf("%w: waiting for device on port %d: %v", ErrConnectFailed, t.port, ctx.Err())
		}
		return fmt.Errorf("%w: accept on port %d: %v", ErrConnectFailed, t.port, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *TCP) readLoop(conn net.Conn) {
	defer close(t.chunks)
	buf := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.chunks <- chunk
		}
		if err != nil {
			return
		}
	}
}

// Chunks returns the receive channel; closed when the connection drops.
func (t *TCP) Chunks() <-chan []byte {
	return t.chunks
}

// Write sends raw command bytes to the connected device.
func (t *TCP) Write(p []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("no device connected on port %d", t.port)
	}
	return conn.Write(p)
}

// Close shuts the connection and the listener.
func (t *TCP) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		conn, listener := t.conn, t.listener
		t.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
		if listener != nil {
			if cerr := listener.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
