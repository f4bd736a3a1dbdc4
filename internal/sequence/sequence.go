// Package sequence models the scripted command handshakes used to arm and
// disarm acquisition devices: an ordered list of raw command writes
// interleaved with delays.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrInvalidElement marks a malformed sequence element, detected by
	// Validate before any acquisition starts.
	ErrInvalidElement = errors.New("invalid sequence element")

	// ErrWriteFailed wraps a transport error raised while writing a
	// command; the remainder of the sequence is not executed.
	ErrWriteFailed = errors.New("command write failed")
)

// Element is one step of a handshake: either a literal command written
// verbatim to the transport, or a pause before the next step. Exactly one
// of the two fields is meaningful.
type Element struct {
	Data  []byte
	Delay time.Duration
}

// Command returns an element that writes b to the transport.
func Command(b ...byte) Element {
	return Element{Data: b}
}

// Wait returns an element that pauses for d before the next element runs.
func Wait(d time.Duration) Element {
	return Element{Delay: d}
}

// Sequence is an immutable handshake script. Two are configured per
// session: one to start the device and one to stop it.
type Sequence []Element

// Validate checks every element at configuration time. A valid element is
// either a non-empty command or a non-negative delay, never both.
func (s Sequence) Validate() error {
	for i, e := range s {
		switch {
		case len(e.Data) > 0 && e.Delay != 0:
			return fmt.Errorf("%w: element %d has both command and delay", ErrInvalidElement, i)
		case len(e.Data) == 0 && e.Delay < 0:
			return fmt.Errorf("%w: element %d has negative delay %v", ErrInvalidElement, i, e.Delay)
		}
	}
	return nil
}

// Run executes the sequence strictly in order: commands are written to w
// immediately, delays suspend until the timer fires or ctx is cancelled.
// The first write error aborts the rest of the sequence and is returned
// wrapped in ErrWriteFailed.
func Run(ctx context.Context, w io.Writer, s Sequence) error {
	for i, e := range s {
		if len(e.Data) > 0 {
			if _, err := w.Write(e.Data); err != nil {
				return fmt.Errorf("%w: element %d: %v", ErrWriteFailed, i, err)
			}
			continue
		}
		if e.Delay <= 0 {
			continue
		}
		timer := time.NewTimer(e.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return nil
}
