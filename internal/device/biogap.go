package device

import (
	"fmt"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/Mere226/biogui/internal/sequence"
)

// BioGAP sEMG interface: 234-byte packets carrying 7 frames of 8 EMG
// channels sampled at 500 Hz by an ADS1298 front end.
const (
	biogapPacketSize = 234
	biogapSamples    = 7
	biogapChannels   = 8
	biogapSampleRate = 500
	biogapVRef       = 2.5
	biogapADCBits    = 24
)

// PGA gain -> command byte for the start command.
var biogapGainCmd = map[int]byte{
	1:  16,
	2:  32,
	4:  64,
	6:  0,
	8:  80,
	12: 96,
}

// Each frame carries a 2-byte counter, 24 bytes of EMG samples and 6 bytes
// of auxiliary data; only the EMG block is decoded.
var biogapFrameOffsets = [biogapSamples]int{2, 34, 66, 98, 130, 162, 194}

func init() {
	Register("biogap", NewBioGAP)
}

// NewBioGAP builds the BioGAP protocol. The only option is "gain"
// (PGA gain, one of 1, 2, 4, 6, 8, 12; default 12).
func NewBioGAP(options map[string]string) (Protocol, error) {
	gain := 12
	if v, ok := options["gain"]; ok {
		g, err := strconv.Atoi(v)
		if err != nil {
			return Protocol{}, fmt.Errorf("%w: biogap gain %q", ErrUnknownOption, v)
		}
		gain = g
	}
	gainCmd, ok := biogapGainCmd[gain]
	if !ok {
		return Protocol{}, fmt.Errorf("%w: biogap gain %d", ErrUnknownOption, gain)
	}

	// Byte layout of the configuration command: sampling rate code (6 ->
	// 500 sps), ADS mode, ADS count, chip select, PGA gain code, CR, LF.
	configCmd := sequence.Command(6, 0, 1, 4, gainCmd, 13, 10)

	return Protocol{
		Name:       "biogap",
		PacketSize: biogapPacketSize,
		StartSeq: sequence.Sequence{
			sequence.Command(20, 1, 50),
			sequence.Wait(200 * time.Millisecond),
			sequence.Command(18),
			sequence.Wait(200 * time.Millisecond),
			configCmd,
		},
		StopSeq: sequence.Sequence{sequence.Command(19)},
		Signals: map[string]SignalInfo{
			"emg": {SampleRate: biogapSampleRate, Channels: biogapChannels},
		},
		Decode: biogapDecode(gain),
	}, nil
}

func biogapDecode(gain int) DecodeFunc {
	// ADC counts to millivolts.
	scale := biogapVRef / float64(gain) / float64(int32(1)<<(biogapADCBits-1)-1) * 1000

	return func(packet []byte) (map[string]*mat.Dense, error) {
		if len(packet) != biogapPacketSize {
			return nil, fmt.Errorf("%w: biogap packet has %d bytes, want %d",
				ErrBadPacket, len(packet), biogapPacketSize)
		}

		emg := mat.NewDense(biogapSamples, biogapChannels, nil)
		for s, off := range biogapFrameOffsets {
			for ch := 0; ch < biogapChannels; ch++ {
				adc := int24BE(packet[off+3*ch:])
				emg.Set(s, ch, float64(adc)*scale)
			}
		}
		return map[string]*mat.Dense{"emg": emg}, nil
	}
}

// int24BE sign-extends a big-endian 24-bit sample to int32.
func int24BE(b []byte) int32 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if b[0] > 127 {
		v -= 1 << 24
	}
	return v
}
