package transport

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// Serial is a Transport over a local serial port (8N1).
type Serial struct {
	portName string
	baudRate int

	port      serial.Port
	chunks    chan []byte
	closeOnce sync.Once
}

// NewSerial creates a serial transport for the given port and baud rate.
// Nothing is opened until Open.
func NewSerial(portName string, baudRate int) *Serial {
	return &Serial{
		portName: portName,
		baudRate: baudRate,
		chunks:   make(chan []byte, chunkBufferDepth),
	}
}

func (s *Serial) String() string {
	return fmt.Sprintf("serial port %s @ %d baud", s.portName, s.baudRate)
}

// Open opens the port and starts the read loop.
func (s *Serial) Open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: s.baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(s.portName, mode)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrConnectFailed, s.portName, err)
	}
	s.port = port

	go s.readLoop()
	return nil
}

func (s *Serial) readLoop() {
	defer close(s.chunks)
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.chunks <- chunk
		}
		if err != nil {
			return
		}
	}
}

// Chunks returns the receive channel; closed when the port stops
// delivering.
func (s *Serial) Chunks() <-chan []byte {
	return s.chunks
}

// Write sends raw command bytes to the device.
func (s *Serial) Write(p []byte) (int, error) {
	if s.port == nil {
		return 0, fmt.Errorf("serial port %s not open", s.portName)
	}
	return s.port.Write(p)
}

// Close closes the port, which also terminates the read loop.
func (s *Serial) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.port != nil {
			err = s.port.Close()
		}
	})
	return err
}
