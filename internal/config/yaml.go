// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"wsprcap/internal/log"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	LogLevel  string          `yaml:"log_level" validate:"oneof=debug info warn error fatal DEBUG INFO WARN ERROR FATAL"`
	LogJSON   bool            `yaml:"log_json"` // Structured JSON log lines instead of the console writer.
	Audio     AudioConfig     `yaml:"audio"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Meter     MeterConfig     `yaml:"meter"`
	Probe     ProbeConfig     `yaml:"probe"`
	Recording RecordingConfig `yaml:"recording"`
	Spectrum  SpectrumConfig  `yaml:"spectrum"`
	Transport TransportConfig `yaml:"transport"`
}

// AudioConfig selects the capture device and the configurations to probe.
type AudioConfig struct {
	InputDevice     int               `yaml:"input_device" validate:"gte=-1"`              // PortAudio device index (-1 for default).
	FramesPerBuffer int               `yaml:"frames_per_buffer" validate:"gte=0,lte=8192"` // Frames per device read, 0 for 10 ms.
	Candidates      []CandidateConfig `yaml:"candidates" validate:"required,min=1,dive"`   // Tried in order until one opens.
}

// CandidateConfig is one (mode, sample rate) pairing to probe.
type CandidateConfig struct {
	Mode       string `yaml:"mode" validate:"oneof=default low-latency high-latency"`
	SampleRate int    `yaml:"sample_rate" validate:"gte=8000,lte=192000"`
}

// BufferConfig sizes the streaming buffer in milliseconds of consumer audio.
type BufferConfig struct {
	ConsumerRate int `yaml:"consumer_rate" validate:"gte=8000,lte=192000"`
	MaximumMs    int `yaml:"maximum_ms" validate:"gt=0"`
	TargetMs     int `yaml:"target_ms" validate:"gte=0,ltefield=MaximumMs"`
	MinimumMs    int `yaml:"minimum_ms" validate:"gte=0,ltefield=TargetMs"`
	PullMs       int `yaml:"pull_ms" validate:"gt=0"` // Consumer read size per tick.
}

// MeterConfig tunes level metering and the silence/clipping alerts.
type MeterConfig struct {
	HoldMs           int64   `yaml:"peak_hold_ms" validate:"gte=0"`
	NoiseGate        float64 `yaml:"noise_gate" validate:"gt=0,lte=1"` // RMS below this reads as 0; must be positive.
	WindowSize       int     `yaml:"average_window" validate:"gte=0"`
	SilenceThreshold float64 `yaml:"silence_threshold" validate:"gte=0,lte=1"`
	ClipThreshold    float64 `yaml:"clip_threshold" validate:"gt=0,lte=1"`
}

// ProbeConfig bounds device negotiation and teardown.
type ProbeConfig struct {
	CandidateTimeout time.Duration `yaml:"candidate_timeout" validate:"gte=0"` // 0 disables the per-candidate budget.
	StopTimeout      time.Duration `yaml:"stop_timeout" validate:"gte=0"`
}

// RecordingConfig holds settings for the WAV tap on the consumer stream.
type RecordingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	OutputDir   string `yaml:"output_dir" validate:"required_if=Enabled true"`
	BitDepth    int    `yaml:"bit_depth" validate:"oneof=16 24 32"`
	MaxDuration int    `yaml:"max_duration_seconds" validate:"gte=0"` // Rotate files after this long, 0 for unlimited.
}

// SpectrumConfig tunes the passband monitor run on pulled audio.
type SpectrumConfig struct {
	Enabled    bool    `yaml:"enabled"`
	FFTSize    int     `yaml:"fft_size" validate:"gte=0,lte=65536"` // 0 sizes the FFT to one pull.
	BandLowHz  float64 `yaml:"band_low_hz" validate:"gte=0"`
	BandHighHz float64 `yaml:"band_high_hz" validate:"gtfield=BandLowHz"`
	Window     string  `yaml:"window" validate:"omitempty,oneof=hann hamming blackman blackmannuttall bartletthann lanczos nuttall"`
}

// TransportConfig holds settings for pushing level and stats frames to monitors.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketPort    string        `yaml:"websocket_port" validate:"required_if=WebSocketEnabled true,omitempty,numeric"`
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address" validate:"required_if=UDPEnabled true,omitempty,hostname_port"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval" validate:"gt=0"`
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"config.yaml",
			"wsprcap.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets ENV_* variables replace file values. Unparseable
// values are ignored with a warning.
func (cfg *Config) applyEnvOverrides() {
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		log.Debugf("configuration: Overriding log_level from env: %s", val)
	}

	// ENV_INPUT_DEVICE
	if val, ok := os.LookupEnv("ENV_INPUT_DEVICE"); ok {
		if id, err := strconv.Atoi(val); err == nil {
			cfg.Audio.InputDevice = id
			log.Debugf("configuration: Overriding audio.input_device from env: %d", id)
		} else {
			log.Warnf("configuration: Ignoring ENV_INPUT_DEVICE=%q: %v", val, err)
		}
	}

	// ENV_CONSUMER_RATE
	if val, ok := os.LookupEnv("ENV_CONSUMER_RATE"); ok {
		if rate, err := strconv.Atoi(val); err == nil {
			cfg.Buffer.ConsumerRate = rate
			log.Debugf("configuration: Overriding buffer.consumer_rate from env: %d", rate)
		} else {
			log.Warnf("configuration: Ignoring ENV_CONSUMER_RATE=%q: %v", val, err)
		}
	}

	// ENV_CANDIDATE_TIMEOUT
	if val, ok := os.LookupEnv("ENV_CANDIDATE_TIMEOUT"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Probe.CandidateTimeout = dur
			log.Debugf("configuration: Overriding probe.candidate_timeout from env: %s", dur)
		} else {
			log.Warnf("configuration: Ignoring ENV_CANDIDATE_TIMEOUT=%q: %v", val, err)
		}
	}

	// ENV_RECORDING_ENABLED
	if val, ok := os.LookupEnv("ENV_RECORDING_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Recording.Enabled = bVal
			log.Debugf("configuration: Overriding recording.enabled from env: %v", bVal)
		}
	}

	// ENV_WS_{...} and ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_WS_ENABLED
	if val, ok := os.LookupEnv("ENV_WS_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.WebSocketEnabled = bVal
			log.Debugf("configuration: Overriding transport.websocket_enabled from env: %v", bVal)
		}
	}
	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			log.Debugf("configuration: Overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		log.Debugf("configuration: Overriding transport.udp_target_address from env: %s", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			log.Debugf("configuration: Overriding transport.udp_send_interval from env: %s", dur)
		}
	}
}
