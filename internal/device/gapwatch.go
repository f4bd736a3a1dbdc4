package device

import (
	"encoding/binary"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/Mere226/biogui/internal/sequence"
)

// GAPWatch interface: 68-byte packets carrying PPG, ECG and accelerometer
// data. Layout: bytes 0..29 PPG (ten 24-bit big-endian words), 30..59 ECG
// (ten 24-bit big-endian words, 18 significant bits), 60..65 accelerometer
// (three little-endian int16), 66..67 unused.
const (
	gapwatchPacketSize = 68
	gapwatchFrames     = 10

	gapwatchECGVRef   = 1.0
	gapwatchECGGain   = 160.0
	gapwatchECGBits   = 17
	gapwatchAccFactor = 0.061 // raw counts to mg
)

func init() {
	Register("gapwatch", NewGAPWatch)
}

// NewGAPWatch builds the GAPWatch protocol. It takes no options.
func NewGAPWatch(map[string]string) (Protocol, error) {
	return Protocol{
		Name:       "gapwatch",
		PacketSize: gapwatchPacketSize,
		StartSeq:   sequence.Sequence{sequence.Command('=')},
		StopSeq:    sequence.Sequence{sequence.Command(':')},
		Signals: map[string]SignalInfo{
			"ppg": {SampleRate: 128, Channels: 1},
			"ecg": {SampleRate: 128, Channels: 1},
			"acc": {SampleRate: 12.8, Channels: 3},
		},
		Decode: gapwatchDecode,
	}, nil
}

func gapwatchDecode(packet []byte) (map[string]*mat.Dense, error) {
	if len(packet) != gapwatchPacketSize {
		return nil, fmt.Errorf("%w: gapwatch packet has %d bytes, want %d",
			ErrBadPacket, len(packet), gapwatchPacketSize)
	}

	ecgScale := gapwatchECGVRef / gapwatchECGGain / float64(int32(1)<<gapwatchECGBits) * 1000

	ppg := mat.NewDense(gapwatchFrames, 1, nil)
	ecg := mat.NewDense(gapwatchFrames, 1, nil)
	for s := 0; s < gapwatchFrames; s++ {
		ppg.Set(s, 0, float64(uint24BE(packet[3*s:])))
		ecg.Set(s, 0, float64(int18FromECGWord(packet[30+3*s:]))*ecgScale)
	}

	acc := mat.NewDense(1, 3, nil)
	for ch := 0; ch < 3; ch++ {
		raw := int16(binary.LittleEndian.Uint16(packet[60+2*ch:]))
		acc.Set(0, ch, float64(raw)*gapwatchAccFactor)
	}

	return map[string]*mat.Dense{"ppg": ppg, "ecg": ecg, "acc": acc}, nil
}

func uint24BE(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// int18FromECGWord extracts the 18 significant bits of a 24-bit big-endian
// ECG word and sign-extends them.
func int18FromECGWord(b []byte) int32 {
	w := uint24BE(b) >> 6
	if w&(1<<17) != 0 {
		w |= 0xFFFC0000
	}
	return int32(w)
}
