//go:build portaudio

package audio

import (
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"
)

func listDevices() []Device {
	if err := portaudio.Initialize(); err != nil {
		slog.Error("failed to initialize portaudio", "error", err)
		return parseDeviceList(platformDeviceList())
	}
	defer func() {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("failed to terminate portaudio", "error", err)
		}
	}()

	infos, err := portaudio.Devices()
	if err != nil {
		slog.Error("failed to list portaudio devices", "error", err)
		return parseDeviceList(platformDeviceList())
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info.MaxInputChannels == 0 && info.MaxOutputChannels == 0 {
			continue
		}
		name := info.Name
		if info.HostApi != nil {
			name = fmt.Sprintf("%s (%s)", info.Name, info.HostApi.Name)
		}
		devices = append(devices, Device{
			ID:      info.Name,
			Name:    name,
			Inputs:  info.MaxInputChannels,
			Outputs: info.MaxOutputChannels,
		})
	}
	return devices
}
