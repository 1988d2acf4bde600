//go:build linux

package audio

import "regexp"

func platformDeviceList() DeviceListConfig {
	return DeviceListConfig{
		Command:       []string{"arecord", "-l"},
		DevicePattern: regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
		ParseDevice: func(matches []string) *Device {
			if len(matches) < 4 {
				return nil
			}
			return &Device{
				ID:   "hw:" + matches[2],
				Name: matches[3],
			}
		},
	}
}
