package capture

import (
	"runtime"
	"strconv"
	"strings"
)

// goroutineID parses the id out of the "goroutine N [...]" stack header.
// It is only used to detect a stop request issued from the loop's own goroutine.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	idField := strings.Fields(stack)
	if len(idField) == 0 {
		return 0
	}
	id, _ := strconv.ParseUint(idField[0], 10, 64)
	return id
}
