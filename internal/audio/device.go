// SPDX-License-Identifier: MIT
package audio

import "time"

// Device describes a host audio device as reported by PortAudio.
type Device struct {
	ID                      int
	Name                    string
	HostAPI                 string
	MaxInputChannels        int
	MaxOutputChannels       int
	DefaultSampleRate       float64
	DefaultLowInputLatency  time.Duration
	DefaultHighInputLatency time.Duration
	IsDefaultInput          bool
}

// HostDevices returns all available audio devices. PortAudio must be
// initialized.
func HostDevices() ([]Device, error) {
	paDeviceInfos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	defaultName := ""
	if def, err := paLibDefaultInputDeviceFunc(); err == nil && def != nil {
		defaultName = def.Name
	}

	devices := make([]Device, len(paDeviceInfos))
	for i, info := range paDeviceInfos {
		hostAPI := ""
		if info.HostApi != nil {
			hostAPI = info.HostApi.Name
		}
		devices[i] = Device{
			ID:                      i,
			Name:                    info.Name,
			HostAPI:                 hostAPI,
			MaxInputChannels:        info.MaxInputChannels,
			MaxOutputChannels:       info.MaxOutputChannels,
			DefaultSampleRate:       info.DefaultSampleRate,
			DefaultLowInputLatency:  info.DefaultLowInputLatency,
			DefaultHighInputLatency: info.DefaultHighInputLatency,
			IsDefaultInput:          info.Name == defaultName && info.MaxInputChannels > 0,
		}
	}

	return devices, nil
}
