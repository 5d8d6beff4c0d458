package config

import (
	"errors"
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/mjs/warden/internal/log"
)

// load performs one full reset-then-reparse cycle under the write lock.
// Readers therefore observe either the complete previous state or the
// complete new one, never a torn mix.
func (s *Store) load() {
	s.mu.Lock()

	// Clean slate before any file I/O, so nothing stale survives a reload
	// even when the file has disappeared since the last load.
	s.whitelist = list{}
	s.blacklist = list{}
	s.startScripts = list{}
	s.endScripts = list{}
	s.reaperFreq = DefaultReaperFreq

	if data, path, ok := s.readFirst(); ok {
		s.parse(path, data)
	}

	s.mu.Unlock()
	s.loads.Inc()
}

// readFirst returns the contents of the first readable candidate path.
// Absence of a config file is a supported steady state, not an error.
func (s *Store) readFirst() ([]byte, string, bool) {
	for _, p := range s.paths {
		data, err := s.fs.ReadFile(p)
		if err == nil {
			log.Debugf("config: loading [%s]", p)
			return data, p, true
		}
	}
	log.Infof("config: no config file found [%s] in working directory or in [%s]",
		ConfigName, SystemConfigDir)
	return nil, "", false
}

// parse feeds every (section, key, value) triple from the tokenizer through
// the dispatch table. Shadow values keep repeated keys as separate entries.
func (s *Store) parse(path string, data []byte) {
	opts := ini.LoadOptions{AllowShadows: true}
	f, err := ini.LoadSources(opts, data)
	if err != nil {
		// Not fatal: retry tolerantly so lines the tokenizer does
		// understand are still applied.
		log.Warnf("config: failed to parse [%s]: %v", path, err)
		opts.SkipUnrecognizableLines = true
		if f, err = ini.LoadSources(opts, data); err != nil {
			log.Errorf("config: giving up on [%s]: %v", path, err)
			return
		}
	}

	for _, sec := range f.Sections() {
		for _, key := range sec.Keys() {
			for _, value := range key.ValueWithShadows() {
				s.apply(sec.Name(), key.Name(), value)
			}
		}
	}
}

// apply routes one config entry to its validator. Unknown section/key pairs
// and validator failures never mutate state.
func (s *Store) apply(section, key, value string) {
	valid := false

	switch section {
	case "filter":
		switch key {
		case "whitelist":
			valid = appendValue(key, value, &s.whitelist)
		case "blacklist":
			valid = appendValue(key, value, &s.blacklist)
		}
	case "general":
		if key == "reaper_freq" {
			valid = parsePositiveInt(key, value, &s.reaperFreq)
		}
	case "custom":
		switch key {
		case "start":
			valid = appendValue(key, value, &s.startScripts)
		case "end":
			valid = appendValue(key, value, &s.endScripts)
		}
	}

	if !valid {
		log.Infof("config: value ignored [%s] %s=%s", section, key, value)
	}
}

// appendValue stores value in the first empty slot of l. A value at or over
// the size budget leaves the slot empty rather than partially written, and a
// full list is never modified.
func appendValue(listName string, value string, l *list) bool {
	i := 0
	for i < ListMax && l[i] != "" {
		i++
	}

	if i == ListMax {
		log.Errorf("config: could not add [%s] to [%s], exceeds entry limit of %d",
			value, listName, ListMax)
		return false
	}

	if len(value) >= ValueMax {
		l[i] = ""
		log.Errorf("config: could not add [%s] to [%s], exceeds length limit of %d",
			value, listName, ValueMax)
		return false
	}

	l[i] = value
	return true
}

// parsePositiveInt parses value as a strictly positive base-10 integer.
// On any failure out is left untouched so the caller keeps its prior value.
func parsePositiveInt(name string, value string, out *int) bool {
	n, err := strconv.ParseInt(value, 10, 0)
	if errors.Is(err, strconv.ErrRange) {
		log.Errorf("config: %s overflowed, given [%s]", name, value)
		return false
	}
	if err != nil || n <= 0 {
		log.Errorf("config: %s was invalid, given [%s]", name, value)
		return false
	}

	*out = int(n)
	return true
}
