package audio

import (
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// Device represents an available audio device.
type Device struct {
	// ID is the device identifier as the audio server driver expects it.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
	// Inputs is the number of capture channels, when known.
	Inputs int `json:"inputs,omitzero"`
	// Outputs is the number of playback channels, when known.
	Outputs int `json:"outputs,omitzero"`
}

// Devices returns the audio devices available to the audio server.
func Devices() []Device {
	return listDevices()
}

// DeviceListConfig defines how to list audio devices with an external command.
type DeviceListConfig struct {
	// Command and args to list devices.
	Command []string

	// StartMarker indicates the start of the device section (optional).
	StartMarker string

	// DevicePattern is the regex to extract device info.
	DevicePattern *regexp.Regexp

	// ParseDevice converts regex matches to a Device.
	ParseDevice func(matches []string) *Device

	// FallbackDevices are returned if detection fails.
	FallbackDevices []Device

	// run executes the command; tests replace it.
	run func(name string, args ...string) ([]byte, error)
}

func runCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// parseDeviceList parses command output to extract audio device information.
//
//nolint:gocritic // hugeParam: config is built once per call
func parseDeviceList(cfg DeviceListConfig) []Device {
	if len(cfg.Command) == 0 {
		return cfg.FallbackDevices
	}

	run := cfg.run
	if run == nil {
		run = runCommand
	}

	output, err := run(cfg.Command[0], cfg.Command[1:]...)
	if err != nil && len(output) == 0 {
		slog.Error("failed to list audio devices", "command", cfg.Command[0], "error", err)
		return cfg.FallbackDevices
	}

	var devices []Device
	inSection := cfg.StartMarker == ""

	for line := range strings.SplitSeq(string(output), "\n") {
		if !inSection {
			inSection = strings.Contains(line, cfg.StartMarker)
			continue
		}
		if cfg.DevicePattern == nil || cfg.ParseDevice == nil {
			continue
		}
		if matches := cfg.DevicePattern.FindStringSubmatch(line); len(matches) > 0 {
			if dev := cfg.ParseDevice(matches); dev != nil {
				devices = append(devices, *dev)
			}
		}
	}

	if len(devices) == 0 {
		return cfg.FallbackDevices
	}
	return devices
}
