// Package config implements the reloadable configuration store for the
// Warden daemon.
//
// # Configuration Structure
//
// Configuration lives in an INI file named warden.ini, looked up in the
// working directory first and then under /etc/warden/:
//
//	[filter]
//	whitelist=game        ; clients allowed to register (substring match)
//	whitelist=bench
//	blacklist=crawler     ; clients always refused
//
//	[general]
//	reaper_freq=5         ; seconds between liveness sweeps
//
//	[custom]
//	start=/usr/bin/notify-send "warden on"   ; run when the first client arrives
//	end=/usr/bin/notify-send "warden off"    ; run when the last client leaves
//
// A key may repeat; each occurrence appends another list entry in file order.
// Each list holds at most 32 entries of at most 255 bytes. Unknown sections
// and keys are logged and ignored.
//
// # Basic Usage
//
// Construct one store per process, load it once, then hand it to every
// subsystem that queries it:
//
//	store := config.New()
//	store.Init()
//	defer store.Close()
//
//	if store.IsWhitelisted(name) && !store.IsBlacklisted(name) {
//		// admit the client
//	}
//
// Reload re-reads the file in place:
//
//	store.Reload()
//
// # Reload Semantics
//
// Every load resets all lists to empty and the reaper frequency to its
// default of 5 seconds before reparsing, so no entry outlives the file that
// defined it. Reset and reparse happen under one write-lock acquisition:
// concurrent readers observe either the complete old state or the complete
// new one.
//
// # Error Handling
//
// Nothing in this package terminates the daemon. A missing file keeps the
// defaults, a malformed line is skipped, an oversized or surplus list entry
// is dropped with a log message, and an invalid reaper_freq leaves the
// previous value in place.
package config
