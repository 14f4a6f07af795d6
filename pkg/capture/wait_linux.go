//go:build linux

package capture

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

const canPoll = true

// waitReadable polls fd for input, returning false when the timeout expires.
func waitReadable(fd int, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	if n > 0 && fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		return false, errors.New("poll: descriptor error")
	}
	return n > 0, nil
}
