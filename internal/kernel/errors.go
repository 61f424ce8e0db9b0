package kernel

import "github.com/cockroachdb/errors"

// Lifecycle faults (spec.md §7): these short-circuit the call that raised
// them rather than ever crossing the kernel's API boundary as a panic.
var (
	ErrAlreadyRunning = errors.New("kernel: run is already running or stopped")
	ErrNotRunning     = errors.New("kernel: run is not running")
)
