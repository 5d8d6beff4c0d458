package socket

import (
	"github.com/mjs/warden/internal/proc"
)

var _ ProcessChecker = (*DefaultProcessChecker)(nil)

// ProcessChecker is an interface for checking if a process is running.
type ProcessChecker interface {
	IsRunning(name string) bool
}

// DefaultProcessChecker checks the real process table via internal/proc.
type DefaultProcessChecker struct{}

// IsRunning checks if a process with the given name is running.
func (pc *DefaultProcessChecker) IsRunning(name string) bool {
	return proc.NameRunning(name)
}
