// Package proc is the single place that touches the process table.
// It wraps mitchellh/go-ps behind a small interface so the engine and its
// tests can swap in fakes.
package proc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/go-ps"
)

// ErrNotFound is returned when no process with the given pid exists.
var ErrNotFound = errors.New("process not found")

// Inspector looks up processes by pid.
type Inspector interface {
	// Executable returns the short executable name of the process.
	Executable(pid int) (string, error)
	// Alive reports whether the process still exists.
	Alive(pid int) bool
}

var _ Inspector = PS{}

// PS implements Inspector against the real process table.
type PS struct{}

// Executable returns the short executable name of the process.
func (PS) Executable(pid int) (string, error) {
	p, err := ps.FindProcess(pid)
	if err != nil {
		return "", fmt.Errorf("looking up pid %d: %w", pid, err)
	}
	if p == nil {
		return "", fmt.Errorf("pid %d: %w", pid, ErrNotFound)
	}
	return p.Executable(), nil
}

// Alive reports whether the process still exists.
func (PS) Alive(pid int) bool {
	p, err := ps.FindProcess(pid)
	return err == nil && p != nil
}

// NameRunning reports whether any process has an executable name starting
// with name, compared case-insensitively. Used to tell a slow-starting
// daemon apart from an absent one.
func NameRunning(name string) bool {
	procs, err := ps.Processes()
	if err != nil {
		return false
	}

	for _, p := range procs {
		if exe := p.Executable(); len(exe) >= len(name) {
			if strings.EqualFold(exe[:len(name)], name) {
				return true
			}
		}
	}
	return false
}
