package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mjs/warden/internal/clients"
	"github.com/mjs/warden/internal/config"
	"github.com/mjs/warden/internal/engine"
	"github.com/mjs/warden/pkg/api"
)

type APITestSuite struct {
	suite.Suite
	store  *config.Store
	eng    *engine.Engine
	cancel context.CancelFunc
	ts     *httptest.Server
}

type fixedFS struct {
	content string
}

func (f fixedFS) ReadFile(string) ([]byte, error) {
	if f.content == "" {
		return nil, os.ErrNotExist
	}
	return []byte(f.content), nil
}

type tableInspector struct {
	names map[int]string
}

func (t tableInspector) Executable(pid int) (string, error) {
	name, ok := t.names[pid]
	if !ok {
		return "", fmt.Errorf("pid %d gone", pid)
	}
	return name, nil
}

func (t tableInspector) Alive(pid int) bool {
	_, ok := t.names[pid]
	return ok
}

type noopRunner struct{}

func (noopRunner) Run(context.Context, []string) error { return nil }

func (s *APITestSuite) SetupTest() {
	s.store = config.NewWithPaths(fixedFS{content: `
[filter]
whitelist=game
blacklist=miner

[general]
reaper_freq=10
`}, "warden.ini")
	s.store.Init()

	s.eng = engine.New(s.store, tableInspector{names: map[int]string{
		100: "mygame",
		300: "editor",
	}}, noopRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.eng.Run(ctx)

	s.ts = httptest.NewServer(api.New(s.eng, s.store).Handler())
}

func (s *APITestSuite) TearDownTest() {
	s.ts.Close()
	s.cancel()
	s.eng.Close()
}

func (s *APITestSuite) postJSON(path string, payload any) *http.Response {
	buf, err := json.Marshal(payload)
	s.Require().NoError(err)
	resp, err := http.Post(s.ts.URL+path, "application/json", bytes.NewReader(buf))
	s.Require().NoError(err)
	return resp
}

func (s *APITestSuite) TestRegister() {
	testCases := []struct {
		name         string
		pid          int
		expectStatus int
	}{
		{"whitelisted client", 100, http.StatusOK},
		{"filtered client", 300, http.StatusForbidden},
		{"unknown pid", 999, http.StatusInternalServerError},
		{"invalid pid", 0, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			resp := s.postJSON("/v1/register", api.RegisterRequest{PID: tc.pid})
			defer resp.Body.Close()

			s.Equal(tc.expectStatus, resp.StatusCode)

			if tc.expectStatus == http.StatusOK {
				var c clients.Client
				s.Require().NoError(json.NewDecoder(resp.Body).Decode(&c))
				s.Equal(tc.pid, c.PID)
				s.Equal("mygame", c.Name)
				s.NotEmpty(c.ID)
			}
		})
	}
}

func (s *APITestSuite) TestRegisterDuplicate() {
	resp := s.postJSON("/v1/register", api.RegisterRequest{PID: 100})
	resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp = s.postJSON("/v1/register", api.RegisterRequest{PID: 100})
	defer resp.Body.Close()
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *APITestSuite) TestUnregister() {
	resp := s.postJSON("/v1/register", api.RegisterRequest{PID: 100})
	resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp = s.postJSON("/v1/unregister", api.UnregisterRequest{PID: 100})
	resp.Body.Close()
	s.Equal(http.StatusNoContent, resp.StatusCode)

	resp = s.postJSON("/v1/unregister", api.UnregisterRequest{PID: 100})
	defer resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *APITestSuite) TestReload() {
	before := s.store.Loads()

	resp := s.postJSON("/v1/reload", nil)
	defer resp.Body.Close()

	s.Equal(http.StatusAccepted, resp.StatusCode)
	s.Eventually(func() bool {
		return s.store.Loads() == before+1
	}, time.Second, 10*time.Millisecond)
}

func (s *APITestSuite) TestStatus() {
	resp, err := http.Get(s.ts.URL + "/v1/status")
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal(http.StatusOK, resp.StatusCode)
	var st api.StatusResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&st))
	s.Equal(int64(0), st.Clients)
	s.Equal(int64(1), st.Loads)
	s.Equal(10*time.Second, st.ReaperFrequency)
	s.NotEmpty(st.Version)
}

func (s *APITestSuite) TestClients() {
	resp := s.postJSON("/v1/register", api.RegisterRequest{PID: 100})
	resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	getResp, err := http.Get(s.ts.URL + "/v1/clients")
	s.Require().NoError(err)
	defer getResp.Body.Close()

	var list []clients.Client
	s.Require().NoError(json.NewDecoder(getResp.Body).Decode(&list))
	s.Require().Len(list, 1)
	s.Equal(100, list[0].PID)
}

func (s *APITestSuite) TestConfig() {
	resp, err := http.Get(s.ts.URL + "/v1/config")
	s.Require().NoError(err)
	defer resp.Body.Close()

	var cfg api.ConfigResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&cfg))
	s.Equal([]string{"game"}, cfg.Whitelist)
	s.Equal([]string{"miner"}, cfg.Blacklist)
	s.Equal(10*time.Second, cfg.ReaperFrequency)
}

func (s *APITestSuite) TestCheck() {
	testCases := []struct {
		name              string
		client            string
		expectWhitelisted bool
		expectBlacklisted bool
	}{
		{"admitted", "mygame", true, false},
		{"not whitelisted", "editor", false, false},
		{"blacklisted", "gameminer", true, true},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			resp, err := http.Get(s.ts.URL + "/v1/check?client=" + tc.client)
			s.Require().NoError(err)
			defer resp.Body.Close()

			var res api.CheckResponse
			s.Require().NoError(json.NewDecoder(resp.Body).Decode(&res))
			s.Equal(tc.client, res.Client)
			s.Equal(tc.expectWhitelisted, res.Whitelisted)
			s.Equal(tc.expectBlacklisted, res.Blacklisted)
		})
	}
}

func (s *APITestSuite) TestCheckRequiresClient() {
	resp, err := http.Get(s.ts.URL + "/v1/check")
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APITestSuite) TestMethodNotAllowed() {
	resp, err := http.Get(s.ts.URL + "/v1/register")
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal(http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
