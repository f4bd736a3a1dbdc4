package device

import (
	"errors"
	"math"
	"testing"

	"github.com/Mere226/biogui/internal/sequence"
)

func TestBuildUnknownInterface(t *testing.T) {
	_, err := Build("thinkgear", nil)
	if !errors.Is(err, ErrUnknownInterface) {
		t.Fatalf("Build = %v, want ErrUnknownInterface", err)
	}
}

func TestNamesContainsRegisteredInterfaces(t *testing.T) {
	names := Names()
	want := map[string]bool{"biogap": false, "esp32": false, "gapwatch": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("Names() is missing %q (got %v)", n, names)
		}
	}
}

func TestProtocolValidate(t *testing.T) {
	valid := Protocol{
		Name:       "test",
		PacketSize: 8,
		StartSeq:   sequence.Sequence{sequence.Command(1)},
		StopSeq:    sequence.Sequence{sequence.Command(2)},
		Signals:    map[string]SignalInfo{"sig": {SampleRate: 100, Channels: 1}},
		Decode:     esp32Decode,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid protocol rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Protocol)
	}{
		{"empty name", func(p *Protocol) { p.Name = "" }},
		{"zero packet size", func(p *Protocol) { p.PacketSize = 0 }},
		{"negative packet size", func(p *Protocol) { p.PacketSize = -4 }},
		{"no signals", func(p *Protocol) { p.Signals = nil }},
		{"zero channels", func(p *Protocol) {
			p.Signals = map[string]SignalInfo{"sig": {SampleRate: 100, Channels: 0}}
		}},
		{"nil decode", func(p *Protocol) { p.Decode = nil }},
		{"bad start sequence", func(p *Protocol) {
			p.StartSeq = sequence.Sequence{sequence.Wait(-1)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidProtocol) {
				t.Errorf("Validate() = %v, want ErrInvalidProtocol", err)
			}
		})
	}
}

func TestBioGAPGainOption(t *testing.T) {
	p, err := Build("biogap", map[string]string{"gain": "4"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// The PGA gain code for 4 is 64, carried in byte 4 of the last start
	// command.
	last := p.StartSeq[len(p.StartSeq)-1]
	if len(last.Data) != 7 || last.Data[4] != 64 {
		t.Errorf("config command = %v, want gain code 64 at byte 4", last.Data)
	}

	if _, err := Build("biogap", map[string]string{"gain": "3"}); !errors.Is(err, ErrUnknownOption) {
		t.Errorf("gain 3 accepted, want ErrUnknownOption")
	}
	if _, err := Build("biogap", map[string]string{"gain": "lots"}); !errors.Is(err, ErrUnknownOption) {
		t.Errorf("non-numeric gain accepted, want ErrUnknownOption")
	}
}

func TestBioGAPDecode(t *testing.T) {
	p, err := Build("biogap", map[string]string{"gain": "12"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	packet := make([]byte, p.PacketSize)
	// Full-scale positive on frame 0 channel 0 (bytes 2..4), full-scale
	// negative on frame 0 channel 1 (bytes 5..7).
	copy(packet[2:], []byte{0x7F, 0xFF, 0xFF})
	copy(packet[5:], []byte{0x80, 0x00, 0x00})

	signals, err := p.Decode(packet)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	emg, ok := signals["emg"]
	if !ok {
		t.Fatal("decoded signals missing \"emg\"")
	}
	rows, cols := emg.Dims()
	if rows != 7 || cols != 8 {
		t.Fatalf("emg dims = (%d, %d), want (7, 8)", rows, cols)
	}

	// Full scale maps to vRef/gain in volts, i.e. 2.5/12*1000 mV.
	wantFS := 2.5 / 12 * 1000
	if got := emg.At(0, 0); math.Abs(got-wantFS) > 1e-3 {
		t.Errorf("emg[0,0] = %g mV, want %g", got, wantFS)
	}
	if got := emg.At(0, 1); got >= 0 || math.Abs(got+wantFS) > 1e-3 {
		t.Errorf("emg[0,1] = %g mV, want about %g", got, -wantFS)
	}
	if got := emg.At(6, 7); got != 0 {
		t.Errorf("emg[6,7] = %g, want 0", got)
	}

	if _, err := p.Decode(packet[:10]); !errors.Is(err, ErrBadPacket) {
		t.Errorf("short packet accepted, want ErrBadPacket")
	}
}

func TestESP32Decode(t *testing.T) {
	p, err := Build("esp32", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if p.PacketSize != 40 {
		t.Fatalf("packet size = %d, want 40", p.PacketSize)
	}

	packet := make([]byte, p.PacketSize)
	for s := 0; s < 10; s++ {
		v := uint32(1000 * s)
		packet[4*s] = byte(v)
		packet[4*s+1] = byte(v >> 8)
		packet[4*s+2] = byte(v >> 16)
		packet[4*s+3] = byte(v >> 24)
	}

	signals, err := p.Decode(packet)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	sig := signals["sig1"]
	rows, cols := sig.Dims()
	if rows != 10 || cols != 1 {
		t.Fatalf("sig1 dims = (%d, %d), want (10, 1)", rows, cols)
	}
	for s := 0; s < 10; s++ {
		if got := sig.At(s, 0); got != float64(1000*s) {
			t.Errorf("sig1[%d] = %g, want %d", s, got, 1000*s)
		}
	}
}

func TestGAPWatchDecode(t *testing.T) {
	p, err := Build("gapwatch", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	packet := make([]byte, p.PacketSize)
	// PPG frame 0: 0x010203 = 66051 counts.
	copy(packet[0:], []byte{0x01, 0x02, 0x03})
	// ECG frame 0: the 18-bit value -1, left-aligned in the 24-bit word.
	copy(packet[30:], []byte{0xFF, 0xFF, 0xC0})
	// ECG frame 1: the 18-bit value +1.
	copy(packet[33:], []byte{0x00, 0x00, 0x40})
	// Accelerometer: x = -100, y = 0, z = 200 counts (little endian).
	packet[60], packet[61] = 0x9C, 0xFF
	packet[64], packet[65] = 0xC8, 0x00

	signals, err := p.Decode(packet)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got := signals["ppg"].At(0, 0); got != 66051 {
		t.Errorf("ppg[0] = %g, want 66051", got)
	}

	ecgScale := 1.0 / 160.0 / float64(int32(1)<<17) * 1000
	if got := signals["ecg"].At(0, 0); math.Abs(got+ecgScale) > 1e-12 {
		t.Errorf("ecg[0] = %g, want %g", got, -ecgScale)
	}
	if got := signals["ecg"].At(1, 0); math.Abs(got-ecgScale) > 1e-12 {
		t.Errorf("ecg[1] = %g, want %g", got, ecgScale)
	}

	acc := signals["acc"]
	rows, cols := acc.Dims()
	if rows != 1 || cols != 3 {
		t.Fatalf("acc dims = (%d, %d), want (1, 3)", rows, cols)
	}
	if got := acc.At(0, 0); math.Abs(got-(-100*0.061)) > 1e-9 {
		t.Errorf("acc x = %g, want %g", got, -100*0.061)
	}
	if got := acc.At(0, 2); math.Abs(got-200*0.061) > 1e-9 {
		t.Errorf("acc z = %g, want %g", got, 200*0.061)
	}
}
