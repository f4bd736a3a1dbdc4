// Package recorder persists decoded signals to disk, one binary file per
// signal, with a fixed header followed by float32 sample frames.
package recorder

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Mere226/biogui/internal/device"
	"github.com/Mere226/biogui/internal/session"
)

const (
	fileMagic         = "BIOSIG"
	fileFormatVersion = uint16(1)
)

// Metadata is the per-file header contents.
type Metadata struct {
	SignalName string
	Interface  string
	SessionID  string
	SampleRate float64
	Channels   uint16
	StartTime  time.Time
	FrameCount uint32
}

type signalFile struct {
	file        *os.File
	channels    int
	frames      uint32
	countOffset int64
	path        string
}

// Recorder is a session sink that writes every decoded frame to disk.
type Recorder struct {
	files map[string]*signalFile
	paths []string
}

// NewRecorder creates one output file per declared signal under dir. File
// names follow <prefix>-<sessionID>_<signal>.dat.
func NewRecorder(dir, prefix, sessionID, iface string, signals map[string]device.SignalInfo, start time.Time) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	r := &Recorder{files: make(map[string]*signalFile)}
	for name, info := range signals {
		path := filepath.Join(dir, fmt.Sprintf("%s-%s_%s.dat", prefix, sessionID, name))
		meta := Metadata{
			SignalName: name,
			Interface:  iface,
			SessionID:  sessionID,
			SampleRate: info.SampleRate,
			Channels:   uint16(info.Channels),
			StartTime:  start,
		}
		sf, err := createSignalFile(path, meta)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.files[name] = sf
		r.paths = append(r.paths, path)
	}
	return r, nil
}

func createSignalFile(path string, meta Metadata) (*signalFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	if err := writeHeader(file, meta); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		file.Close()
		return nil, err
	}

	// Frame count placeholder, patched on Close.
	if err := binary.Write(file, binary.LittleEndian, uint32(0)); err != nil {
		file.Close()
		return nil, err
	}

	return &signalFile{
		file:        file,
		channels:    int(meta.Channels),
		countOffset: offset,
		path:        path,
	}, nil
}

func writeHeader(file *os.File, meta Metadata) error {
	if _, err := file.WriteString(fileMagic); err != nil {
		return err
	}
	if err := binary.Write(file, binary.LittleEndian, fileFormatVersion); err != nil {
		return err
	}
	for _, s := range []string{meta.SignalName, meta.Interface, meta.SessionID} {
		if err := writeString(file, s); err != nil {
			return err
		}
	}
	if err := binary.Write(file, binary.LittleEndian, meta.SampleRate); err != nil {
		return err
	}
	if err := binary.Write(file, binary.LittleEndian, meta.Channels); err != nil {
		return err
	}
	if err := binary.Write(file, binary.LittleEndian, meta.StartTime.Unix()); err != nil {
		return err
	}
	return binary.Write(file, binary.LittleEndian, int32(meta.StartTime.Nanosecond()))
}

func writeString(file *os.File, s string) error {
	if err := binary.Write(file, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := file.WriteString(s)
	return err
}

// Consume appends every frame of every signal in the packet to its file.
func (r *Recorder) Consume(p session.DataPacket) error {
	for name, signal := range p.Signals {
		sf, ok := r.files[name]
		if !ok {
			return fmt.Errorf("undeclared signal %q in packet %d", name, p.Seq)
		}
		rows, cols := signal.Dims()
		if cols != sf.channels {
			return fmt.Errorf("signal %q has %d channels, file expects %d", name, cols, sf.channels)
		}
		buf := make([]float32, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				buf[i*cols+j] = float32(signal.At(i, j))
			}
		}
		if err := binary.Write(sf.file, binary.LittleEndian, buf); err != nil {
			return fmt.Errorf("failed to append samples for %q: %w", name, err)
		}
		sf.frames += uint32(rows)
	}
	return nil
}

// Paths lists the files the recorder writes to.
func (r *Recorder) Paths() []string {
	return r.paths
}

// Close patches the frame counts into the headers and closes all files.
func (r *Recorder) Close() error {
	var firstErr error
	for _, sf := range r.files {
		if _, err := sf.file.Seek(sf.countOffset, io.SeekStart); err == nil {
			if err := binary.Write(sf.file, binary.LittleEndian, sf.frames); err != nil && firstErr == nil {
				firstErr = err
			}
		} else if firstErr == nil {
			firstErr = err
		}
		if err := sf.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.files = map[string]*signalFile{}
	return firstErr
}

// ReadFile parses a recording back into its metadata and row-major
// samples (FrameCount x Channels).
func ReadFile(path string) (Metadata, []float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return Metadata{}, nil, err
	}
	defer file.Close()

	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(file, magic); err != nil {
		return Metadata{}, nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if string(magic) != fileMagic {
		return Metadata{}, nil, fmt.Errorf("not a biogui recording: bad magic %q", magic)
	}

	var meta Metadata
	var version uint16
	if err := binary.Read(file, binary.LittleEndian, &version); err != nil {
		return Metadata{}, nil, err
	}
	if version != fileFormatVersion {
		return Metadata{}, nil, fmt.Errorf("unsupported file format version %d", version)
	}

	for _, dst := range []*string{&meta.SignalName, &meta.Interface, &meta.SessionID} {
		s, err := readString(file)
		if err != nil {
			return Metadata{}, nil, err
		}
		*dst = s
	}
	if err := binary.Read(file, binary.LittleEndian, &meta.SampleRate); err != nil {
		return Metadata{}, nil, err
	}
	if err := binary.Read(file, binary.LittleEndian, &meta.Channels); err != nil {
		return Metadata{}, nil, err
	}
	var unix int64
	var nano int32
	if err := binary.Read(file, binary.LittleEndian, &unix); err != nil {
		return Metadata{}, nil, err
	}
	if err := binary.Read(file, binary.LittleEndian, &nano); err != nil {
		return Metadata{}, nil, err
	}
	meta.StartTime = time.Unix(unix, int64(nano))
	if err := binary.Read(file, binary.LittleEndian, &meta.FrameCount); err != nil {
		return Metadata{}, nil, err
	}

	samples := make([]float32, int(meta.FrameCount)*int(meta.Channels))
	if err := binary.Read(file, binary.LittleEndian, samples); err != nil {
		return Metadata{}, nil, fmt.Errorf("failed to read samples: %w", err)
	}
	return meta, samples, nil
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
