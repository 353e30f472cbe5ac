package testing

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/labmgr/labmgr/internal/labmanager"
	"github.com/labmgr/labmgr/internal/lifecycle"
)

// NewSeededLabManager returns a FakeClient holding TestConfiguration with a
// single TestMachine in the given status.
func NewSeededLabManager(deployed bool, status labmanager.Status) *labmanager.FakeClient {
	fake := labmanager.NewFakeClient()
	fake.AddConfiguration(TestConfiguration, deployed)
	fake.AddMachine(TestConfiguration, TestMachine, status, TestMachineIP)
	return fake
}

// MockLauncher is a lifecycle.Launcher that records calls and attaches a
// no-op channel on successful launch.
type MockLauncher struct {
	mu          sync.Mutex
	launches    []string
	disconnects []string

	LaunchErr     error
	DisconnectErr error
	// Output is written to the transcript on every call.
	Output string
	// Unsupported makes LaunchSupported report false.
	Unsupported bool
}

var _ lifecycle.Launcher = (*MockLauncher)(nil)

func (m *MockLauncher) Launch(_ context.Context, target lifecycle.Target, out io.Writer) error {
	m.mu.Lock()
	m.launches = append(m.launches, target.Name())
	m.mu.Unlock()
	if m.Output != "" {
		fmt.Fprint(out, m.Output)
	}
	if m.LaunchErr != nil {
		return m.LaunchErr
	}
	target.SetChannel(nopCloser{})
	return nil
}

func (m *MockLauncher) BeforeDisconnect(context.Context, lifecycle.Target, io.Writer) error {
	return nil
}

func (m *MockLauncher) Disconnect(_ context.Context, target lifecycle.Target, out io.Writer) error {
	m.mu.Lock()
	m.disconnects = append(m.disconnects, target.Name())
	m.mu.Unlock()
	target.SetChannel(nil)
	if m.Output != "" {
		fmt.Fprint(out, m.Output)
	}
	return m.DisconnectErr
}

func (m *MockLauncher) LaunchSupported() bool { return !m.Unsupported }

// Launches returns the target names passed to Launch.
func (m *MockLauncher) Launches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.launches...)
}

// Disconnects returns the target names passed to Disconnect.
func (m *MockLauncher) Disconnects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.disconnects...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
