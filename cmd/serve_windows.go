//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// detachProcess is a no-op on Windows, which has no process sessions.
func detachProcess(_ *exec.Cmd) {}

// interruptSignals lists the signals that trigger graceful shutdown.
func interruptSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// stopSignal asks the background server to shut down.
func stopSignal() syscall.Signal { return syscall.SIGTERM }

// killSignal forces the background server down.
func killSignal() syscall.Signal { return syscall.SIGKILL }
