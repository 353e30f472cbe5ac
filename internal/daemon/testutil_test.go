package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labmgr/labmgr/internal/cloud"
	"github.com/labmgr/labmgr/internal/config"
	"github.com/labmgr/labmgr/internal/db"
	"github.com/labmgr/labmgr/internal/labmanager"
	"github.com/labmgr/labmgr/internal/lifecycle"
	testutil "github.com/labmgr/labmgr/internal/testing"
)

const (
	testCloud      = "lab-east"
	secondMachine  = "linux-vm-2"
	secondAgent    = "linux-02"
	disabledAgent  = "win-01"
	disabledVMName = "win-vm"
)

type testEnv struct {
	service  *Service
	server   *httptest.Server
	fake     *labmanager.FakeClient
	launcher *testutil.MockLauncher
	store    *db.Store
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	command := config.LauncherConfig{Type: "command", Command: &config.CommandLauncherConfig{Start: []string{"true"}}}
	disabled := false
	cfg.Clouds = []config.CloudConfig{{
		Description:     testCloud,
		Host:            testutil.TestHost,
		Organization:    testutil.TestOrganization,
		Configuration:   testutil.TestConfiguration,
		Username:        "builder",
		Password:        "s3cret",
		MaxOnlineAgents: 1,
	}}
	cfg.Agents = []config.AgentConfig{
		{Name: testutil.TestAgent, Cloud: testCloud, VMName: testutil.TestMachine, IdleAction: "Undeploy", LaunchDelay: "0", Launcher: command},
		{Name: secondAgent, Cloud: testCloud, VMName: secondMachine, LaunchDelay: "0", Launcher: command},
		{Name: disabledAgent, Cloud: testCloud, VMName: disabledVMName, LaunchSupported: &disabled, Launcher: command},
	}
	return cfg
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	fake := testutil.NewSeededLabManager(true, labmanager.StatusOff)
	fake.AddMachine(testutil.TestConfiguration, secondMachine, labmanager.StatusSuspended, "10.0.0.2")
	mock := &testutil.MockLauncher{}

	store, err := db.Open(filepath.Join(t.TempDir(), "labmgr.db"))
	require.NoError(t, err)

	service, err := NewService(cfg, store, Options{
		Logger: log.New(io.Discard, "", 0),
		ProfileOptions: []cloud.Option{cloud.WithSessionOpener(func(context.Context, *cloud.Profile) (labmanager.Client, error) {
			return fake, nil
		})},
		NewDelegate: func(config.AgentConfig) (lifecycle.Delegate, error) {
			return lifecycle.AddressAgnostic(mock), nil
		},
		Sleep: func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	server := httptest.NewServer(service.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = store.Close()
	})
	return &testEnv{service: service, server: server, fake: fake, launcher: mock, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (e *testEnv) getJSON(t *testing.T, path string, out any) {
	t.Helper()
	status, body := e.do(t, http.MethodGet, path)
	require.Equal(t, http.StatusOK, status, body)
	require.NoError(t, json.NewDecoder(strings.NewReader(body)).Decode(out))
}

var errBoom = errors.New("boom")
