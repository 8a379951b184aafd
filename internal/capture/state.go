// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"time"
)

// State is a Connection lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateProbing
	StateReady
	StateStreaming
	StateStopping
	StateStopped
	StateFaulted
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateProbing:       "probing",
	StateReady:         "ready",
	StateStreaming:     "streaming",
	StateStopping:      "stopping",
	StateStopped:       "stopped",
	StateFaulted:       "faulted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText encodes the state by name for JSON monitor frames.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// StateChange is delivered to observers for every transition. Err carries the
// fault reason when To is StateFaulted.
type StateChange struct {
	From State
	To   State
	Err  error
	At   time.Time
}

func (c StateChange) String() string {
	if c.Err != nil {
		return fmt.Sprintf("%s -> %s (%v)", c.From, c.To, c.Err)
	}
	return fmt.Sprintf("%s -> %s", c.From, c.To)
}

// Stats is a copy-on-read snapshot of connection counters.
type Stats struct {
	ID          string        `json:"id"`
	State       State         `json:"state"`
	Candidate   string        `json:"candidate,omitempty"`
	ChunksRead  uint64        `json:"chunks_read"`
	SamplesRead uint64        `json:"samples_read"`
	ZeroReads   uint64        `json:"zero_reads"`
	PushErrors  uint64        `json:"push_errors"`
	Buffer      BufferStats   `json:"buffer"`
	Level       LevelSnapshot `json:"level"`
}

const (
	DefaultCaptureRate  = 48000
	DefaultConsumerRate = 12000 // WSPR decoder input rate
	DefaultStopTimeout  = 2 * time.Second

	// defaultFramesPerRead is used when a device does not report a chunk size.
	defaultFramesPerRead = 480
)

// Options configures a Connection. Zero fields other than CandidateTimeout
// take the values from DefaultOptions.
type Options struct {
	Candidates   []Candidate
	Buffer       BufferConfiguration
	ConsumerRate int
	Meter        MeterConfig

	// CandidateTimeout bounds each device open during probing; 0 disables.
	CandidateTimeout time.Duration
	// StopTimeout bounds how long StopStreaming waits for the producer.
	StopTimeout time.Duration

	ResamplerFactory ResamplerFactory
	OnStateChange    func(StateChange)
	Clock            func() time.Time
}

// DefaultCandidates prefers the device default mode at 48 kHz and falls back
// through the explicit latency modes before trying 44.1 kHz.
func DefaultCandidates() []Candidate {
	return []Candidate{
		{Mode: ModeDefault, SampleRate: DefaultCaptureRate},
		{Mode: ModeLowLatency, SampleRate: DefaultCaptureRate},
		{Mode: ModeHighLatency, SampleRate: DefaultCaptureRate},
		{Mode: ModeDefault, SampleRate: 44100},
	}
}

// DefaultOptions buffers up to 150 s at 12 kHz, enough for a full two-minute
// WSPR cycle, and considers the buffer ready once a transmission's worth
// (114 s) has accumulated.
func DefaultOptions() Options {
	return Options{
		Candidates:       DefaultCandidates(),
		Buffer:           BufferConfigurationFromDurations(DefaultConsumerRate, 150_000, 114_000, 1_000),
		ConsumerRate:     DefaultConsumerRate,
		CandidateTimeout: DefaultCandidateTimeout,
		StopTimeout:      DefaultStopTimeout,
		Clock:            time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if len(o.Candidates) == 0 {
		o.Candidates = d.Candidates
	}
	if o.Buffer == (BufferConfiguration{}) {
		o.Buffer = d.Buffer
	}
	if o.ConsumerRate == 0 {
		o.ConsumerRate = d.ConsumerRate
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = d.StopTimeout
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	return o
}
