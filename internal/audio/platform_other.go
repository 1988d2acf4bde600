//go:build !linux

package audio

// platformDeviceList has no command on this platform; device listing
// requires the portaudio build.
func platformDeviceList() DeviceListConfig {
	return DeviceListConfig{}
}
