// Package transport provides the byte-stream channels that acquisition
// devices speak over: a serial line, a listening TCP socket, or a BLE
// notification characteristic. A transport delivers received bytes as
// chunks on a channel and accepts raw writes for command sequences.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrConnectFailed wraps any failure to reach the device during Open.
var ErrConnectFailed = errors.New("transport connect failed")

// Transport is one byte-stream channel to a device. Open establishes the
// connection and starts delivery; received chunks arrive on Chunks in
// whatever fragmentation the underlying channel provides, with no packet
// alignment guaranteed. The channel is closed when the transport stops
// delivering, whether by Close or by an I/O error. Write sends raw command
// bytes to the device. Close is idempotent and safe after a failed Open.
type Transport interface {
	Open(ctx context.Context) error
	Chunks() <-chan []byte
	Write(p []byte) (int, error)
	Close() error
	fmt.Stringer
}

// readChunkSize is the read buffer size for stream transports. Device
// packets are a few hundred bytes at most, so this comfortably holds
// several packets per read.
const readChunkSize = 4096

// chunkBufferDepth is the capacity of the chunk channel. Delivery blocks
// once the consumer falls this far behind.
const chunkBufferDepth = 32
