//go:build !portaudio

package audio

func listDevices() []Device {
	return parseDeviceList(platformDeviceList())
}
