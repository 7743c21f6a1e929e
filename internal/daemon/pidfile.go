// Package daemon tracks the detached serve process through a pid file,
// so start/stop/status work across CLI invocations.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFile is the on-disk record of the background server's process id.
type PIDFile struct {
	Path string
}

// NewPIDFile wraps the given path. The file itself may not exist yet.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID records the given pid, replacing any previous record.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read returns the recorded pid.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("pid file %s: malformed pid %q", p.Path, raw)
	}
	return pid, nil
}

// Remove deletes the record.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}
