// Package device declares the protocol descriptors for the supported
// acquisition devices: packet size, start/stop command sequences, signal
// metadata and the decoder turning one raw packet into numeric signals.
package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/Mere226/biogui/internal/sequence"
)

var (
	ErrUnknownInterface = errors.New("unknown device interface")
	ErrInvalidProtocol  = errors.New("invalid device protocol")
	ErrBadPacket        = errors.New("malformed packet")
	ErrUnknownOption    = errors.New("unknown option value")
)

// SignalInfo describes one named signal produced by a device.
type SignalInfo struct {
	SampleRate float64
	Channels   int
}

// DecodeFunc interprets one complete packet as named signals, each a
// matrix shaped (samples x channels). The keys match Protocol.Signals.
type DecodeFunc func(packet []byte) (map[string]*mat.Dense, error)

// Protocol is the immutable wire description of one device interface.
type Protocol struct {
	Name       string
	PacketSize int
	StartSeq   sequence.Sequence
	StopSeq    sequence.Sequence
	Signals    map[string]SignalInfo
	Decode     DecodeFunc
}

// Validate rejects descriptors that could fail mid-acquisition: these are
// configuration errors and must surface before a transport is opened.
func (p Protocol) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidProtocol)
	}
	if p.PacketSize <= 0 {
		return fmt.Errorf("%w: %s: packet size %d", ErrInvalidProtocol, p.Name, p.PacketSize)
	}
	if err := p.StartSeq.Validate(); err != nil {
		return fmt.Errorf("%w: %s: start sequence: %v", ErrInvalidProtocol, p.Name, err)
	}
	if err := p.StopSeq.Validate(); err != nil {
		return fmt.Errorf("%w: %s: stop sequence: %v", ErrInvalidProtocol, p.Name, err)
	}
	if len(p.Signals) == 0 {
		return fmt.Errorf("%w: %s: no signals declared", ErrInvalidProtocol, p.Name)
	}
	for name, info := range p.Signals {
		if info.SampleRate <= 0 || info.Channels <= 0 {
			return fmt.Errorf("%w: %s: signal %q: fs=%g nCh=%d",
				ErrInvalidProtocol, p.Name, name, info.SampleRate, info.Channels)
		}
	}
	if p.Decode == nil {
		return fmt.Errorf("%w: %s: nil decode function", ErrInvalidProtocol, p.Name)
	}
	return nil
}

// Builder constructs a Protocol from user-chosen options. Options map
// named settings to literal command bytes through fixed tables, never by
// evaluating text.
type Builder func(options map[string]string) (Protocol, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Builder{}
)

// Register adds a named interface builder. Called from package init;
// panics on duplicates since that is a programming error.
func Register(name string, b Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("device: duplicate interface " + name)
	}
	registry[name] = b
}

// Build resolves a registered interface with the given options and
// validates the resulting protocol.
func Build(name string, options map[string]string) (Protocol, error) {
	registryMu.RLock()
	b, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return Protocol{}, fmt.Errorf("%w: %q (available: %v)", ErrUnknownInterface, name, Names())
	}
	p, err := b(options)
	if err != nil {
		return Protocol{}, err
	}
	if err := p.Validate(); err != nil {
		return Protocol{}, err
	}
	return p, nil
}

// Names returns the registered interface names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
