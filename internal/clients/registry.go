// Package clients tracks the processes currently supervised by the Warden
// daemon. The registry is an in-memory map keyed by pid with thread-safe
// operations and value-copy snapshots for readers.
package clients

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Client is one registered process.
type Client struct {
	ID           string    `json:"id"`   // session id, minted on register
	PID          int       `json:"pid"`  // process id
	Name         string    `json:"name"` // short executable name
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry is a thread-safe set of registered clients.
type Registry struct {
	mu    sync.RWMutex
	byPID map[int]*Client
	count atomic.Int64 // metrics: registered clients
}

// NewRegistry creates an empty registry ready to use.
func NewRegistry() *Registry {
	return &Registry{
		byPID: make(map[int]*Client),
	}
}

// Register adds a client. It returns false if the pid is already registered,
// leaving the existing entry untouched.
func (r *Registry) Register(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPID[c.PID]; ok {
		return false
	}
	r.byPID[c.PID] = c
	r.count.Inc()
	return true
}

// Remove deletes by pid; returns the client for logging.
func (r *Registry) Remove(pid int) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byPID[pid]
	if !ok {
		return nil, false
	}
	delete(r.byPID, pid)
	r.count.Dec()
	return cur, true
}

// Prune removes every client whose process is no longer alive and returns
// the removed clients.
func (r *Registry) Prune(alive func(pid int) bool) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []*Client
	for pid, c := range r.byPID {
		if alive(pid) {
			continue
		}
		delete(r.byPID, pid)
		r.count.Dec()
		dead = append(dead, c)
	}
	return dead
}

// Count returns the number of registered clients.
func (r *Registry) Count() int64 {
	return r.count.Load()
}

// Snapshot returns a copy of the current clients, ordered by pid.
func (r *Registry) Snapshot() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Client, 0, len(r.byPID))
	for _, c := range r.byPID {
		out = append(out, *c) // value copy
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}
