// Package session runs one acquisition session: it opens a transport,
// arms the device with its start sequence, reassembles the byte stream
// into packets, decodes them and fans the decoded signals out to sinks.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/Mere226/biogui/internal/device"
	"github.com/Mere226/biogui/internal/frame"
	"github.com/Mere226/biogui/internal/sequence"
	"github.com/Mere226/biogui/internal/transport"
)

// stopSeqTimeout bounds the best-effort stop sequence during teardown,
// which runs after the session context is already cancelled.
const stopSeqTimeout = 2 * time.Second

// DataPacket is one decoded packet delivered to sinks.
type DataPacket struct {
	Seq      uint64
	Received time.Time
	Signals  map[string]*mat.Dense
}

// Sink consumes decoded packets. Sinks are owned by the caller and closed
// by the caller, not by the session.
type Sink interface {
	Consume(DataPacket) error
}

// Session owns exactly one transport and one packet assembler for its
// lifetime. A session runs at most once; build a new one for a new
// acquisition.
type Session struct {
	proto     device.Protocol
	tr        transport.Transport
	asm       *frame.Assembler
	sinks     []Sink
	log       zerolog.Logger
	cancel    atomic.Pointer[context.CancelFunc]
	stopped   atomic.Bool
	stopOnce  sync.Once
	packets   atomic.Uint64
	startedAt time.Time
}

// New validates the protocol and builds a session around the transport.
func New(proto device.Protocol, tr transport.Transport, sinks []Sink, log zerolog.Logger) (*Session, error) {
	if err := proto.Validate(); err != nil {
		return nil, err
	}
	asm, err := frame.NewAssembler(proto.PacketSize)
	if err != nil {
		return nil, err
	}
	return &Session{
		proto: proto,
		tr:    tr,
		asm:   asm,
		sinks: sinks,
		log:   log.With().Str("interface", proto.Name).Str("transport", tr.String()).Logger(),
	}, nil
}

// Run connects, arms the device and streams until ctx is cancelled, Stop
// is called, the transport drops, or a packet fails to decode. The start
// sequence completes, including its delays, before any received byte is
// fed to the assembler. Teardown runs on every exit path: a best-effort
// stop sequence, an assembler reset discarding any partial trailing
// packet, and a transport close.
func (s *Session) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel.Store(&cancel)
	defer cancel()
	if s.stopped.Load() {
		return nil
	}

	if err := s.tr.Open(ctx); err != nil {
		return err
	}
	s.startedAt = time.Now()
	defer s.teardown()

	s.log.Info().Msg("transport open, arming device")
	if err := sequence.Run(ctx, s.tr, s.proto.StartSeq); err != nil {
		return fmt.Errorf("start sequence: %w", err)
	}
	s.log.Info().Int("packet_size", s.proto.PacketSize).Msg("acquisition started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-s.tr.Chunks():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("transport closed unexpectedly")
			}
			for _, pkt := range s.asm.Feed(chunk) {
				if err := s.dispatch(pkt); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Session) dispatch(pkt []byte) error {
	signals, err := s.proto.Decode(pkt)
	if err != nil {
		// A decode failure means the byte stream is no longer aligned;
		// continuing would emit garbage for every following packet.
		return fmt.Errorf("decode packet %d: %w", s.packets.Load(), err)
	}

	data := DataPacket{
		Seq:      s.packets.Add(1) - 1,
		Received: time.Now(),
		Signals:  signals,
	}
	for _, sink := range s.sinks {
		if err := sink.Consume(data); err != nil {
			// A broken consumer must not stop acquisition.
			s.log.Warn().Err(err).Uint64("seq", data.Seq).Msg("sink rejected packet")
		}
	}
	return nil
}

func (s *Session) teardown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), stopSeqTimeout)
	defer cancel()
	if err := sequence.Run(stopCtx, s.tr, s.proto.StopSeq); err != nil {
		s.log.Warn().Err(err).Msg("stop sequence failed")
	}

	if pending := s.asm.PendingByteCount(); pending > 0 {
		s.log.Debug().Int("bytes", pending).Msg("discarding partial trailing packet")
	}
	s.asm.Reset()

	if err := s.tr.Close(); err != nil {
		s.log.Warn().Err(err).Msg("transport close failed")
	}
	s.log.Info().Uint64("packets", s.packets.Load()).
		Dur("elapsed", time.Since(s.startedAt)).Msg("session stopped")
}

// Stop requests session shutdown. It is idempotent and safe to call when
// the session never started or already ended.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		if cancel := s.cancel.Load(); cancel != nil {
			(*cancel)()
		}
	})
}

// PacketCount reports how many packets were decoded so far.
func (s *Session) PacketCount() uint64 {
	return s.packets.Load()
}
