// Package config provides the reloadable configuration store for the Warden
// daemon. Settings are read from an INI file into bounded in-memory lists and
// scalars, guarded by a single reader-writer lock so that subsystems can query
// concurrently while reloads swap the whole state underneath them.
package config

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/mjs/warden/internal/filesys"
)

const (
	// ConfigName is the file name probed for in the working directory
	// and in SystemConfigDir.
	ConfigName = "warden.ini"
	// SystemConfigDir is the system-wide location of the config file.
	SystemConfigDir = "/etc/warden/"

	// ListMax is the maximum number of entries per list.
	ListMax = 32
	// ValueMax is the per-entry size budget in bytes, terminator included.
	// The longest storable value is ValueMax-1 bytes.
	ValueMax = 256

	// DefaultReaperFreq is the reaper interval in seconds used when the
	// config file does not provide one.
	DefaultReaperFreq = 5
)

// list is a fixed-capacity string list. Entries occupy a contiguous prefix;
// the first empty slot marks end-of-list.
type list [ListMax]string

// Store holds the daemon configuration behind a reader-writer lock.
// Construct one per process with New, call Init before the first query,
// and Reload whenever the file may have changed. All query methods are
// safe for concurrent use with each other and with Reload.
type Store struct {
	fs    filesys.ReadFS
	paths []string

	mu           sync.RWMutex
	whitelist    list
	blacklist    list
	startScripts list
	endScripts   list
	reaperFreq   int

	loads atomic.Int64 // completed loads, Init included
}

// New creates a store that probes warden.ini in the working directory first
// and under SystemConfigDir second. No file access happens until Init.
func New() *Store {
	return NewWithPaths(filesys.OS(), ConfigName, SystemConfigDir+ConfigName)
}

// NewWithPaths creates a store with a specific filesystem and candidate file
// paths, tried in order. It exists so tests can construct independent
// instances against fake file systems.
func NewWithPaths(fs filesys.ReadFS, paths ...string) *Store {
	return &Store{
		fs:    fs,
		paths: paths,
	}
}

// Init performs the initial load. It must be called before any query.
func (s *Store) Init() {
	s.load()
}

// Reload re-reads the config file. It never fails from the caller's
// perspective: a missing file leaves defaults in place and parse problems are
// logged entry by entry, so the store always reflects whatever subset of the
// file was valid. Safe to call concurrently with queries and with itself.
func (s *Store) Reload() {
	s.load()
}

// Close marks the end of the store's lifecycle. The caller guarantees no
// outstanding readers remain.
func (s *Store) Close() error { return nil }

// IsWhitelisted reports whether a client passes the whitelist. An empty
// whitelist passes everything. Matching is substring containment, so an entry
// matches a client name regardless of path or argument prefixes.
func (s *Store) IsWhitelisted(client string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.whitelist[0] == "" {
		return true
	}
	for i := 0; i < ListMax && s.whitelist[i] != ""; i++ {
		if strings.Contains(client, s.whitelist[i]) {
			return true
		}
	}
	return false
}

// IsBlacklisted reports whether a client matches a blacklist entry.
// An empty blacklist matches nothing.
func (s *Store) IsBlacklisted(client string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := 0; i < ListMax && s.blacklist[i] != ""; i++ {
		if strings.Contains(client, s.blacklist[i]) {
			return true
		}
	}
	return false
}

// ReaperFrequency returns the interval at which the reaper re-checks clients.
func (s *Store) ReaperFrequency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return time.Duration(s.reaperFreq) * time.Second
}

// StartScripts returns a copy of the commands to run when the first client
// registers. The copy stays stable across subsequent reloads.
func (s *Store) StartScripts() []string {
	return s.snapshot(&s.startScripts)
}

// EndScripts returns a copy of the commands to run when the last client leaves.
func (s *Store) EndScripts() []string {
	return s.snapshot(&s.endScripts)
}

// Whitelist returns a copy of the whitelist entries.
func (s *Store) Whitelist() []string {
	return s.snapshot(&s.whitelist)
}

// Blacklist returns a copy of the blacklist entries.
func (s *Store) Blacklist() []string {
	return s.snapshot(&s.blacklist)
}

// Loads returns the number of completed loads, the initial one included.
func (s *Store) Loads() int64 {
	return s.loads.Load()
}

func (s *Store) snapshot(l *list) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, ListMax)
	for i := 0; i < ListMax && l[i] != ""; i++ {
		out = append(out, l[i])
	}
	return out
}
