//go:build !linux

package sentinel

import "time"

var processStart = time.Now()

// MonotonicMicros returns microseconds elapsed on the runtime's monotonic clock.
func MonotonicMicros() uint64 {
	return uint64(time.Since(processStart).Microseconds())
}
