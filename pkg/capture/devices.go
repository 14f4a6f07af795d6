package capture

import (
	"firestige.xyz/framecap/internal/driver"
	"firestige.xyz/framecap/pkg/models"
)

// Devices enumerates capture devices. Every call returns a fresh snapshot.
func Devices() ([]models.Device, error) {
	return driver.Devices()
}

// SupportedKinds lists the source kinds available in this build.
func SupportedKinds() []SourceKind {
	return driver.SupportedKinds()
}
