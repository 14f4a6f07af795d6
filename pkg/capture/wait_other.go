//go:build !linux

package capture

import "time"

const canPoll = false

// waitReadable is never reached without descriptor polling; the driver's
// read timeout bounds each dispatch instead.
func waitReadable(int, time.Duration) (bool, error) {
	return true, nil
}
