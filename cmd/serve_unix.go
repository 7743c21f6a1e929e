//go:build !windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// detachProcess puts the background server into its own session so it
// survives the parent CLI exiting.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// interruptSignals lists the signals that trigger graceful shutdown.
func interruptSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// stopSignal asks the background server to shut down gracefully.
func stopSignal() syscall.Signal { return syscall.SIGTERM }

// killSignal forces the background server down.
func killSignal() syscall.Signal { return syscall.SIGKILL }
