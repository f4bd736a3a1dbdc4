package device

import (
	"encoding/binary"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/Mere226/biogui/internal/sequence"
)

// ESP32 single-channel interface: 40-byte packets of ten little-endian
// uint32 samples at 500 Hz. The device starts on '=' and stops on ':'.
const (
	esp32PacketSize = 40
	esp32Samples    = 10
	esp32SampleRate = 500
)

func init() {
	Register("esp32", NewESP32)
}

// NewESP32 builds the ESP32 protocol. It takes no options.
func NewESP32(map[string]string) (Protocol, error) {
	return Protocol{
		Name:       "esp32",
		PacketSize: esp32PacketSize,
		StartSeq:   sequence.Sequence{sequence.Command('=')},
		StopSeq:    sequence.Sequence{sequence.Command(':')},
		Signals: map[string]SignalInfo{
			"sig1": {SampleRate: esp32SampleRate, Channels: 1},
		},
		Decode: esp32Decode,
	}, nil
}

func esp32Decode(packet []byte) (map[string]*mat.Dense, error) {
	if len(packet) != esp32PacketSize {
		return nil, fmt.Errorf("%w: esp32 packet has %d bytes, want %d",
			ErrBadPacket, len(packet), esp32PacketSize)
	}

	sig := mat.NewDense(esp32Samples, 1, nil)
	for s := 0; s < esp32Samples; s++ {
		sig.Set(s, 0, float64(binary.LittleEndian.Uint32(packet[4*s:])))
	}
	return map[string]*mat.Dense{"sig1": sig}, nil
}
