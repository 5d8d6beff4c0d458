package config_test

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/mjs/warden/internal/config"
)

type StoreTestSuite struct {
	suite.Suite
	fs    *fakeFS
	store *config.Store
}

// fakeFS is an in-memory ReadFS. Content swaps are guarded so reload tests
// can rewrite files while readers are running.
type fakeFS struct {
	mu    sync.Mutex
	files map[string]string
}

func (f *fakeFS) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(content), nil
}

func (f *fakeFS) set(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
}

func (f *fakeFS) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
}

func (s *StoreTestSuite) SetupTest() {
	s.fs = &fakeFS{files: make(map[string]string)}
	s.store = config.NewWithPaths(s.fs, "warden.ini", "/etc/warden/warden.ini")
}

func (s *StoreTestSuite) TestDefaultsWhenNoFile() {
	s.store.Init()

	s.Empty(s.store.Whitelist())
	s.Empty(s.store.Blacklist())
	s.Empty(s.store.StartScripts())
	s.Empty(s.store.EndScripts())
	s.Equal(5*time.Second, s.store.ReaperFrequency())
	s.Equal(int64(1), s.store.Loads())
}

func (s *StoreTestSuite) TestLoadValidFile() {
	s.fs.set("warden.ini", `
[filter]
whitelist=game
whitelist=bench
blacklist=crawler

[general]
reaper_freq=10

[custom]
start=/bin/start-hook
end=/bin/end-hook
`)
	s.store.Init()

	s.Equal([]string{"game", "bench"}, s.store.Whitelist())
	s.Equal([]string{"crawler"}, s.store.Blacklist())
	s.Equal([]string{"/bin/start-hook"}, s.store.StartScripts())
	s.Equal([]string{"/bin/end-hook"}, s.store.EndScripts())
	s.Equal(10*time.Second, s.store.ReaperFrequency())
}

func (s *StoreTestSuite) TestSystemPathFallback() {
	s.fs.set("/etc/warden/warden.ini", "[general]\nreaper_freq=30\n")
	s.store.Init()

	s.Equal(30*time.Second, s.store.ReaperFrequency())
}

func (s *StoreTestSuite) TestWorkingDirectoryWins() {
	s.fs.set("warden.ini", "[general]\nreaper_freq=7\n")
	s.fs.set("/etc/warden/warden.ini", "[general]\nreaper_freq=30\n")
	s.store.Init()

	s.Equal(7*time.Second, s.store.ReaperFrequency())
}

func (s *StoreTestSuite) TestReloadIsIdempotent() {
	s.fs.set("warden.ini", `
[filter]
whitelist=game
[general]
reaper_freq=12
`)
	s.store.Init()
	first := s.store.Whitelist()

	s.store.Reload()

	s.Equal(first, s.store.Whitelist())
	s.Equal(12*time.Second, s.store.ReaperFrequency())
	s.Equal(int64(2), s.store.Loads())
}

func (s *StoreTestSuite) TestReloadClearsStaleState() {
	s.fs.set("warden.ini", "[filter]\nwhitelist=x\n")
	s.store.Init()
	s.Equal([]string{"x"}, s.store.Whitelist())

	// New file omits the whitelist entirely; nothing must leak through.
	s.fs.set("warden.ini", "[custom]\nstart=/bin/hook\n")
	s.store.Reload()

	s.Empty(s.store.Whitelist())
	s.Equal([]string{"/bin/hook"}, s.store.StartScripts())
}

func (s *StoreTestSuite) TestReloadAfterFileRemovedRestoresDefaults() {
	s.fs.set("warden.ini", "[filter]\nblacklist=bad\n[general]\nreaper_freq=60\n")
	s.store.Init()
	s.True(s.store.IsBlacklisted("badgame"))

	s.fs.remove("warden.ini")
	s.store.Reload()

	s.False(s.store.IsBlacklisted("badgame"))
	s.Equal(5*time.Second, s.store.ReaperFrequency())
}

func (s *StoreTestSuite) TestWhitelistMatching() {
	testCases := []struct {
		name      string
		whitelist []string
		client    string
		expect    bool
	}{
		{"empty list allows everything", nil, "anything", true},
		{"empty list allows empty client", nil, "", true},
		{"substring match", []string{"foo"}, "myfoogame", true},
		{"no match", []string{"foo"}, "bar", false},
		{"second entry matches", []string{"foo", "bar"}, "rebar", true},
		{"exact match", []string{"game"}, "game", true},
		{"entry longer than client", []string{"longname"}, "long", false},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest()
			var b strings.Builder
			b.WriteString("[filter]\n")
			for _, w := range tc.whitelist {
				fmt.Fprintf(&b, "whitelist=%s\n", w)
			}
			s.fs.set("warden.ini", b.String())
			s.store.Init()

			s.Equal(tc.expect, s.store.IsWhitelisted(tc.client))
		})
	}
}

func (s *StoreTestSuite) TestBlacklistMatching() {
	testCases := []struct {
		name      string
		blacklist []string
		client    string
		expect    bool
	}{
		{"empty list blocks nothing", nil, "anything", false},
		{"empty list with empty client", nil, "", false},
		{"substring match", []string{"miner"}, "cryptominer-v2", true},
		{"no match", []string{"miner"}, "game", false},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest()
			var b strings.Builder
			b.WriteString("[filter]\n")
			for _, w := range tc.blacklist {
				fmt.Fprintf(&b, "blacklist=%s\n", w)
			}
			s.fs.set("warden.ini", b.String())
			s.store.Init()

			s.Equal(tc.expect, s.store.IsBlacklisted(tc.client))
		})
	}
}

func (s *StoreTestSuite) TestEntryLengthBoundary() {
	longest := strings.Repeat("a", config.ValueMax-1)
	tooLong := strings.Repeat("b", config.ValueMax)

	s.fs.set("warden.ini", fmt.Sprintf(
		"[filter]\nwhitelist=%s\nwhitelist=%s\nwhitelist=ok\n", longest, tooLong))
	s.store.Init()

	// The oversized entry is dropped without advancing past its slot.
	s.Equal([]string{longest, "ok"}, s.store.Whitelist())
}

func (s *StoreTestSuite) TestListCapacityBoundary() {
	var b strings.Builder
	b.WriteString("[custom]\n")
	for i := 0; i < config.ListMax+1; i++ {
		fmt.Fprintf(&b, "start=/bin/hook-%02d\n", i)
	}
	s.fs.set("warden.ini", b.String())
	s.store.Init()

	got := s.store.StartScripts()
	s.Len(got, config.ListMax)
	s.Equal("/bin/hook-00", got[0])
	s.Equal(fmt.Sprintf("/bin/hook-%02d", config.ListMax-1), got[config.ListMax-1])
}

func (s *StoreTestSuite) TestReaperFrequencyValidation() {
	testCases := []struct {
		name   string
		value  string
		expect time.Duration
	}{
		{"valid", "15", 15 * time.Second},
		{"zero rejected", "0", 5 * time.Second},
		{"negative rejected", "-5", 5 * time.Second},
		{"garbage rejected", "fast", 5 * time.Second},
		{"trailing garbage rejected", "10x", 5 * time.Second},
		{"overflow rejected", "99999999999999999999", 5 * time.Second},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest()
			s.fs.set("warden.ini", "[general]\nreaper_freq="+tc.value+"\n")
			s.store.Init()

			s.Equal(tc.expect, s.store.ReaperFrequency())
		})
	}
}

func (s *StoreTestSuite) TestInvalidFrequencyKeepsValueWithinOneLoad() {
	// A valid value followed by an invalid one: the invalid line must not
	// clobber what the same load already parsed.
	s.fs.set("warden.ini", "[general]\nreaper_freq=20\nreaper_freq=0\n")
	s.store.Init()

	s.Equal(20*time.Second, s.store.ReaperFrequency())
}

func (s *StoreTestSuite) TestUnknownSectionAndKeyIgnored() {
	s.fs.set("warden.ini", `
[filter]
whitelist=game
greylist=meh

[nonsense]
whitelist=ignored
`)
	s.store.Init()

	s.Equal([]string{"game"}, s.store.Whitelist())
	s.Empty(s.store.Blacklist())
}

func (s *StoreTestSuite) TestMalformedLineIsNotFatal() {
	s.fs.set("warden.ini", `
[filter]
whitelist=before
this line has no delimiter
whitelist=after
`)
	s.store.Init()

	got := s.store.Whitelist()
	s.Contains(got, "before")
	s.Contains(got, "after")
}

func (s *StoreTestSuite) TestSnapshotsAreStableAcrossReload() {
	s.fs.set("warden.ini", "[custom]\nstart=/bin/old\n")
	s.store.Init()
	snap := s.store.StartScripts()

	s.fs.set("warden.ini", "[custom]\nstart=/bin/new\n")
	s.store.Reload()

	s.Equal([]string{"/bin/old"}, snap)
	s.Equal([]string{"/bin/new"}, s.store.StartScripts())
}

func (s *StoreTestSuite) TestConcurrentQueriesDuringReload() {
	confA := "[filter]\nwhitelist=alpha\n[general]\nreaper_freq=7\n"
	confB := "[filter]\nwhitelist=beta\n[general]\nreaper_freq=11\n"

	s.fs.set("warden.ini", confA)
	s.store.Init()

	var g errgroup.Group
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				// Each call must observe a complete state: exactly one
				// whitelist entry, never the mid-reload empty reset.
				wl := s.store.Whitelist()
				if len(wl) != 1 {
					return fmt.Errorf("torn whitelist snapshot: %v", wl)
				}
				if wl[0] != "alpha" && wl[0] != "beta" {
					return fmt.Errorf("unexpected whitelist entry: %v", wl)
				}
				if f := s.store.ReaperFrequency(); f != 7*time.Second && f != 11*time.Second {
					return fmt.Errorf("unexpected reaper frequency: %v", f)
				}
			}
		})
	}

	g.Go(func() error {
		defer close(stop)
		for i := 0; i < 50; i++ {
			if i%2 == 0 {
				s.fs.set("warden.ini", confB)
			} else {
				s.fs.set("warden.ini", confA)
			}
			s.store.Reload()
		}
		return nil
	})

	s.NoError(g.Wait())
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
