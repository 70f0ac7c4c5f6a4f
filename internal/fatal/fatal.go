// Package fatal raises the agent's only unrecoverable-error signal: a
// SIGTERM the process sends itself, so the supervisor's ordinary shutdown
// path (cancel every task, close every socket) also runs on a fatal
// precondition violation instead of the process dying mid-write.
package fatal

import (
	"os"
	"sync"
	"syscall"
)

// terminal is read (through WasFatal) by the supervisor after graceful
// shutdown completes, to decide between exit(0) and exit(1).
var (
	mu       sync.Mutex
	terminal bool
)

// Terminate records that shutdown was triggered by a fatal condition and
// delivers SIGTERM to the current process. It does not itself exit —
// the supervisor's signal handler owns the actual shutdown sequence and
// process exit.
func Terminate() {
	mu.Lock()
	terminal = true
	mu.Unlock()
	_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
}

// WasFatal reports whether the most recent shutdown was triggered by
// Terminate, as opposed to an operator SIGINT/SIGTERM.
func WasFatal() bool {
	mu.Lock()
	defer mu.Unlock()
	return terminal
}
