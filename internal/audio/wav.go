package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// wavHeader is the canonical 44-byte PCM WAV header.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + Subchunk2Size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

const (
	headerSize     = 44
	riffSizeOffset = 4  // ChunkSize
	dataSizeOffset = 40 // Subchunk2Size
	bitsPerSample  = 16
)

// Recorder writes 16-bit PCM frames into a WAV file incrementally. The header
// is written with zero sizes on creation and patched on Close, so a crash
// mid-call leaves a file that standard tools can still salvage.
type Recorder struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	dataBytes uint32
	closed    bool
}

// NewRecorder creates the file at path and writes the placeholder header.
func NewRecorder(path string, sampleRate, channels int) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * bitsPerSample / 8,
		BlockAlign:    uint16(channels) * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: 0,
	}

	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write WAV header: %w", err)
	}

	return &Recorder{f: f, path: path}, nil
}

// Path returns the location of the recording file.
func (r *Recorder) Path() string {
	return r.path
}

// DataBytes returns the number of PCM bytes written so far.
func (r *Recorder) DataBytes() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dataBytes
}

// Write appends PCM bytes to the data region. Writing to a closed recorder is
// a no-op.
func (r *Recorder) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || len(pcm) == 0 {
		return nil
	}

	n, err := r.f.Write(pcm)
	r.dataBytes += uint32(n)
	if err != nil {
		return fmt.Errorf("write audio data: %w", err)
	}
	return nil
}

// Close patches the RIFF and data chunk sizes and closes the file. Safe to
// call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], 36+r.dataBytes)
	if _, err := r.f.WriteAt(buf[:], riffSizeOffset); err != nil {
		r.f.Close()
		return fmt.Errorf("patch RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(buf[:], r.dataBytes)
	if _, err := r.f.WriteAt(buf[:], dataSizeOffset); err != nil {
		r.f.Close()
		return fmt.Errorf("patch data size: %w", err)
	}

	if err := r.f.Close(); err != nil {
		return fmt.Errorf("close recording file: %w", err)
	}
	return nil
}
