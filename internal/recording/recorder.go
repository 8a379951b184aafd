// SPDX-License-Identifier: MIT

// Package recording taps the consumer stream into WAV files.
package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "wsprcap/internal/log"
)

const (
	wavFormatPCM = 1
	channels     = 1
)

var ErrClosed = errors.New("recorder closed")

// Recorder writes mono int16 audio to WAV files at a fixed sample rate,
// starting a new file whenever the current one reaches the rotation length.
type Recorder struct {
	dir       string
	rate      int
	bitDepth  int
	maxFrames int // 0 for unlimited

	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	buf     *audio.IntBuffer
	written int
	seq     int
	files   []string
	closed  bool

	now func() time.Time
	log applog.Logger
}

// New creates a recorder writing into dir, which is created if missing. The
// first file is opened lazily on the first Write.
func New(dir string, sampleRate, bitDepth int, maxDuration time.Duration) (*Recorder, error) {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if maxDuration < 0 {
		return nil, fmt.Errorf("negative rotation duration %s", maxDuration)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	return &Recorder{
		dir:       dir,
		rate:      sampleRate,
		bitDepth:  bitDepth,
		maxFrames: int(maxDuration.Seconds() * float64(sampleRate)),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: bitDepth,
		},
		now: time.Now,
		log: applog.With("Recorder"),
	}, nil
}

// Write appends samples, rotating files as needed.
func (r *Recorder) Write(samples []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	for len(samples) > 0 {
		if r.enc == nil {
			if err := r.openLocked(); err != nil {
				return err
			}
		}

		n := len(samples)
		if r.maxFrames > 0 && r.written+n > r.maxFrames {
			n = r.maxFrames - r.written
		}
		if err := r.encodeLocked(samples[:n]); err != nil {
			return err
		}
		samples = samples[n:]

		if r.maxFrames > 0 && r.written >= r.maxFrames {
			if err := r.finishLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close finalizes the current file. Further writes fail with ErrClosed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.finishLocked()
}

// Files returns the paths written so far, oldest first.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func (r *Recorder) openLocked() error {
	r.seq++
	name := fmt.Sprintf("wsprcap_%s_%03d.wav", r.now().UTC().Format("20060102T150405Z"), r.seq)
	path := filepath.Join(r.dir, name)

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	r.file = file
	r.enc = wav.NewEncoder(file, r.rate, r.bitDepth, channels, wavFormatPCM)
	r.written = 0
	r.files = append(r.files, path)

	r.log.Infof("recording to %s (%d Hz, %d-bit)", path, r.rate, r.bitDepth)
	return nil
}

func (r *Recorder) encodeLocked(samples []int16) error {
	shift := r.bitDepth - 16
	if cap(r.buf.Data) < len(samples) {
		r.buf.Data = make([]int, len(samples))
	}
	r.buf.Data = r.buf.Data[:len(samples)]
	for i, s := range samples {
		r.buf.Data[i] = int(s) << shift
	}

	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("write %s: %w", r.file.Name(), err)
	}
	r.written += len(samples)
	return nil
}

func (r *Recorder) finishLocked() error {
	if r.enc == nil {
		return nil
	}

	encErr := r.enc.Close()
	fileErr := r.file.Close()
	r.log.Debugf("closed %s after %d frames", r.file.Name(), r.written)

	r.enc = nil
	r.file = nil
	return errors.Join(encErr, fileErr)
}
