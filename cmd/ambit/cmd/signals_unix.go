//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals returns the OS signals to capture for graceful shutdown.
// On Unix: SIGINT (Ctrl+C) and SIGTERM (kill).
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// reloadSignals returns the OS signals that trigger a contract reload.
// On Unix: SIGHUP, following the usual daemon convention.
func reloadSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP}
}
