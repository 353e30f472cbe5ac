// ABOUTME: Package testing provides shared test utilities and helper functions for labmgr.
//
// Key utilities:
//   - Model factories: NewTestAgent
//   - Lab Manager fixtures: NewSeededLabManager
//   - Test helpers: TempFile, MkdirTempInDir, AssertJSONEqual
//   - Test constants: FixedTime, TestCloud, TestConfiguration, TestMachine
package testing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labmgr/labmgr/internal/models"
)

// FixedTime is a fixed timestamp for deterministic tests.
var FixedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Common test constants used across the test suite.
const (
	TestCloud         = "Build Farm"
	TestHost          = "https://labmanager.example.com"
	TestOrganization  = "Engineering"
	TestConfiguration = "CI Agents"
	TestMachine       = "linux-vm"
	TestAgent         = "linux-01"
	TestMachineIP     = "10.20.30.40"
)

// AssertJSONEqual asserts that two values marshal to semantically equal JSON.
func AssertJSONEqual(t *testing.T, want, got any, msgAndArgs ...interface{}) {
	t.Helper()
	wantBytes, err := json.Marshal(want)
	require.NoError(t, err, "failed to marshal 'want' to JSON")
	gotBytes, err := json.Marshal(got)
	require.NoError(t, err, "failed to marshal 'got' to JSON")

	var wantAny, gotAny any
	require.NoError(t, json.Unmarshal(wantBytes, &wantAny), "failed to unmarshal 'want'")
	require.NoError(t, json.Unmarshal(gotBytes, &gotAny), "failed to unmarshal 'got'")

	assert.Equal(t, wantAny, gotAny, msgAndArgs...)
}

// TempFile creates a temporary file with the given content and returns its path.
func TempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testfile")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "failed to write temp file")
	return path
}

// MkdirTempInDir creates a temporary directory under parentDir that is removed
// when the test completes.
func MkdirTempInDir(t *testing.T, parentDir string) string {
	t.Helper()
	path, err := os.MkdirTemp(parentDir, "testdir*")
	require.NoError(t, err, "failed to create temp dir")
	t.Cleanup(func() {
		_ = os.RemoveAll(path)
	})
	return path
}

// ParseTime parses an RFC3339 timestamp or fails the test.
func ParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err, "failed to parse time %q", s)
	return ts
}

// AgentOpts contains options for creating a test agent.
type AgentOpts struct {
	Name              string
	Cloud             string
	VMName            string
	IdleAction        string
	LaunchDelay       time.Duration
	UpdateHostAddress bool
	Launcher          models.LauncherType
	Online            bool
}

// NewTestAgent creates an agent record with defaults for unset fields.
func NewTestAgent(opts AgentOpts) models.Agent {
	if opts.Name == "" {
		opts.Name = TestAgent
	}
	if opts.Cloud == "" {
		opts.Cloud = TestCloud
	}
	if opts.VMName == "" {
		opts.VMName = TestMachine
	}
	if opts.IdleAction == "" {
		opts.IdleAction = "Suspend"
	}
	if opts.Launcher == "" {
		opts.Launcher = models.LauncherCommand
	}
	return models.Agent{
		Name:              opts.Name,
		Cloud:             opts.Cloud,
		VMName:            opts.VMName,
		IdleAction:        opts.IdleAction,
		LaunchDelay:       opts.LaunchDelay,
		UpdateHostAddress: opts.UpdateHostAddress,
		Launcher:          opts.Launcher,
		Online:            opts.Online,
	}
}
