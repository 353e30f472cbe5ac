package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labmgr/labmgr/internal/cloud"
	"github.com/labmgr/labmgr/internal/labmanager"
	"github.com/labmgr/labmgr/internal/models"
)

const (
	testCloud  = "lab-east"
	testConfig = "Build Farm"
	testVM     = "linux-01"
	testAgent  = "agent-linux-01"
)

type stubTarget struct {
	name      string
	connected bool
}

func (t *stubTarget) Name() string           { return t.name }
func (t *stubTarget) Connected() bool         { return t.connected }
func (t *stubTarget) SetChannel(ch io.Closer) { t.connected = ch != nil }

type nopChannel struct{}

func (nopChannel) Close() error { return nil }

type stubLauncher struct {
	launches          int
	beforeDisconnects int
	disconnects       int
	launchErr         error
	disconnectErr     error
	connect           bool
	supported         bool
	disconnectOutput  string
}

func (l *stubLauncher) Launch(_ context.Context, target Target, _ io.Writer) error {
	l.launches++
	if l.launchErr != nil {
		return l.launchErr
	}
	if l.connect {
		target.SetChannel(nopChannel{})
	}
	return nil
}

func (l *stubLauncher) BeforeDisconnect(context.Context, Target, io.Writer) error {
	l.beforeDisconnects++
	return nil
}

func (l *stubLauncher) Disconnect(_ context.Context, _ Target, out io.Writer) error {
	l.disconnects++
	if l.disconnectOutput != "" {
		_, _ = io.WriteString(out, l.disconnectOutput)
	}
	return l.disconnectErr
}

func (l *stubLauncher) LaunchSupported() bool { return l.supported }

type addressLauncher struct {
	*stubLauncher
	address string
	derived []*addressLauncher
}

func (l *addressLauncher) Address() string { return l.address }

func (l *addressLauncher) WithAddress(addr string) Launcher {
	clone := &addressLauncher{stubLauncher: &stubLauncher{connect: l.connect}, address: addr}
	l.derived = append(l.derived, clone)
	return clone
}

type recorderFunc func(ctx context.Context, ev models.Event) error

func (f recorderFunc) RecordEvent(ctx context.Context, ev models.Event) error { return f(ctx, ev) }

type stubMetrics struct {
	actions   []string
	bringUps  []error
	tearDowns []error
}

func (m *stubMetrics) ObserveAction(_ string, action string, _ error) {
	m.actions = append(m.actions, action)
}

func (m *stubMetrics) ObserveBringUp(_ string, _ time.Duration, err error) {
	m.bringUps = append(m.bringUps, err)
}

func (m *stubMetrics) ObserveTearDown(_ string, err error) {
	m.tearDowns = append(m.tearDowns, err)
}

type harness struct {
	fake     *labmanager.FakeClient
	profile  *cloud.Profile
	registry *cloud.Registry
	sleeps   []time.Duration
	events   []models.Event
	metrics  *stubMetrics
	logs     bytes.Buffer
}

func newHarness(t *testing.T, configDeployed bool) *harness {
	t.Helper()
	h := &harness{fake: labmanager.NewFakeClient(), metrics: &stubMetrics{}}
	h.fake.AddConfiguration(testConfig, configDeployed)
	h.profile = cloud.NewProfile(cloud.ProfileOptions{
		Description:   testCloud,
		Host:          "https://lab.example.com",
		Organization:  "Engineering",
		Configuration: testConfig,
		Username:      "builder",
		Password:      "s3cret",
	}, cloud.WithSessionOpener(func(context.Context, *cloud.Profile) (labmanager.Client, error) {
		return h.fake, nil
	}))
	reg, err := cloud.NewRegistry(h.profile)
	require.NoError(t, err)
	h.registry = reg
	return h
}

func (h *harness) controller(cfg Config, delegate Delegate) *Controller {
	if cfg.Cloud == "" {
		cfg.Cloud = testCloud
	}
	if cfg.VMName == "" {
		cfg.VMName = testVM
	}
	c := NewController(cfg, h.registry, delegate, log.New(&h.logs, "", 0))
	c.Sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	c.Recorder = recorderFunc(func(_ context.Context, ev models.Event) error {
		h.events = append(h.events, ev)
		return nil
	})
	c.Metrics = h.metrics
	c.NewOperationID = func() string { return "op-1" }
	return c
}

func (h *harness) eventKinds() []models.EventKind {
	kinds := make([]models.EventKind, 0, len(h.events))
	for _, ev := range h.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestBringUpMachineAlreadyOn(t *testing.T) {
	h := newHarness(t, true)
	h.fake.AddMachine(testConfig, testVM, labmanager.StatusOn, "10.20.30.40")
	launcher := &stubLauncher{}
	c := h.controller(Config{LaunchDelay: 45 * time.Second}, AddressAgnostic(launcher))
	h.profile.MarkAgentOnline(testAgent)

	var out bytes.Buffer
	err := c.BringUp(context.Background(), &stubTarget{name: testAgent}, &out)
	require.NoError(t, err)

	assert.Equal(t, "Starting Virtual Machine...\n", out.String())
	assert.Equal(t, 1, launcher.launches)
	assert.Empty(t, h.fake.CallsOf("PerformMachineAction"))
	assert.Equal(t, []time.Duration{45 * time.Second}, h.sleeps)
	assert.Equal(t, 0, h.profile.OnlineAgents(), "reservation must be released when the channel is not established")
}

func TestBringUpKeepsReservationWhenConnected(t *testing.T) {
	h := newHarness(t, true)
	vmID := h.fake.AddMachine(testConfig, testVM, labmanager.StatusOff, "10.20.30.40")
	launcher := &stubLauncher{connect: true}
	c := h.controller(Config{}, AddressAgnostic(launcher))
	h.profile.MarkAgentOnline(testAgent)

	err := c.BringUp(context.Background(), &stubTarget{name: testAgent}, io.Discard)
	require.NoError(t, err)

	calls := h.fake.CallsOf("PerformMachineAction")
	require.Len(t, calls, 1)
	assert.Equal(t, vmID, calls[0].MachineID)
	assert.Equal(t, labmanager.ActionOn, calls[0].Action)
	assert.Equal(t, 1, h.profile.OnlineAgents())
	assert.Equal(t, []models.EventKind{
		models.EventLaunchStarted,
		models.EventMachineAction,
		models.EventLaunchSucceeded,
	}, h.eventKinds())
	assert.Equal(t, "op-1", h.events[1].OperationID)
	assert.Equal(t, "on", h.events[1].Action)
	assert.Equal(t, testCloud, h.events[1].Cloud)
}

func TestBringUpSuspendedResumes(t *testing.T) {
	h := newHarness(t, true)
	h.fake.AddMachine(testConfig, testVM, labmanager.StatusSuspended, "")
	c := h.controller(Config{}, AddressAgnostic(&stubLauncher{connect: true}))

	require.NoError(t, c.BringUp(context.Background(), &stubTarget{name: testAgent}, io.Discard))

	calls := h.fake.CallsOf("PerformMachineAction")
	require.Len(t, calls, 1)
	assert.Equal(t, labmanager.ActionResume, calls[0].Action)
}

func TestBringUpDeploysUndeployedConfiguration(t *testing.T) {
	h := newHarness(t, false)
	h.fake.AddMachine(testConfig, testVM, labmanager.StatusUndeployed, "")
	c := h.controller(Config{}, AddressAgnostic(&stubLauncher{connect: true}))

	var out bytes.Buffer
	require.NoError(t, c.BringUp(context.Background(), &stubTarget{name: testAgent}, &out))

	deploys := h.fake.CallsOf("DeployConfiguration")
	require.Len(t, deploys, 1)
	assert.Equal(t, labmanager.FenceAllowInAndOut, deploys[0].FenceMode)
	assert.Empty(t, h.fake.CallsOf("PerformMachineAction"), "no machine-level action when the configuration is deployed")
	assert.Equal(t, "Starting Virtual Machine...\n"+
		"Deploy configuration 'Build Farm'\n"+
		"Configuration 'Build Farm' successfully deployed\n", out.String())
	assert.Equal(t, []string{"configuration_deploy"}, h.metrics.actions)
}

func TestBringUpDeploysMachineInDeployedConfiguration(t *testing.T) {
	h := newHarness(t, true)
	vmID := h.fake.AddMachine(testConfig, testVM, labmanager.StatusUndeployed, "")
	c := h.controller(Config{}, AddressAgnostic(&stubLauncher{connect: true}))

	var out bytes.Buffer
	require.NoError(t, c.BringUp(context.Background(), &stubTarget{name: testAgent}, &out))

	assert.Empty(t, h.fake.CallsOf("DeployConfiguration"))
	calls := h.fake.CallsOf("PerformMachineAction")
	require.Len(t, calls, 1)
	assert.Equal(t, vmID, calls[0].MachineID)
	assert.Equal(t, labmanager.ActionDeploy, calls[0].Action)
	assert.True(t, strings.HasPrefix(out.String(), "Starting Virtual Machine...\n"))
	assert.Contains(t, out.String(), "Deploying virtual machine 'linux-01' in configuration 'Build Farm'\n")
	assert.Contains(t, out.String(), "Virtual machine 'linux-01' successfully deployed\n")
}

func TestBringUpReResolvesMachineAfterAction(t *testing.T) {
	h := newHarness(t, true)
	h.fake.AddMachine(testConfig, testVM, labmanager.StatusOff, "")
	c := h.controller(Config{}, AddressAgnostic(&stubLauncher{}))

	require.NoError(t, c.BringUp(context.Background(), &stubTarget{name: testAgent}, io.Discard))
	assert.Len(t, h.fake.CallsOf("GetMachineByName"), 2)
}

func TestBringUpStuckMachineFails(t *testing.T) {
	for _, status := range []labmanager.Status{labmanager.StatusStuck, labmanager.StatusInvalid} {
		t.Run(status.String(), func(t *testing.T) {
			h := newHarness(t, true)
			h.fake.AddMachine(testConfig, testVM, status, "")
			launcher := &stubLauncher{}
			c := h.controller(Config{}, AddressAgnostic(launcher))
			h.profile.MarkAgentOnline(testAgent)

			err := c.BringUp(context.Background(), &stubTarget{name: testAgent}, io.Discard)
			assert.True(t, errors.Is(err, ErrMachineState))
			assert.Empty(t, h.fake.CallsOf("PerformMachineAction"))
			assert.Equal(t, 0, launcher.launches)
			assert.Equal(t, 0, h.profile.OnlineAgents())
			assert.Contains(t, h.logs.String(), "problem with the machine status")
			assert.Equal(t, models.EventLaunchFailed, h.events[len(h.events)-1].Kind)
		})
	}
}

func TestBringUpMachineNotFound(t *testing.T) {
	h := newHarness(t, true)
	c := h.controller(Config{}, AddressAgnostic(&stubLauncher{}))
	h.profile.MarkAgentOnline(testAgent)

	err := c.BringUp(context.Background(), &stubTarget{name: testAgent}, io.Discard)
	assert.True(t, errors.Is(err, labmanager.ErrMachineNotFound))
	assert.Equal(t, 0, h.profile.OnlineAgents())
}

func TestBringUpUnknownCloud(t *testing.T) {
	h := newHarness(t, true)
	c := h.controller(Config{Cloud: "lab-west"}, AddressAgnostic(&stubLauncher{}))

	var out bytes.Buffer
	err := c.BringUp(context.Background(), &stubTarget{name: testAgent}, &out)
	assert.True(t, errors.Is(err, cloud.ErrProfileNotFound))
	assert.True(t, errors.Is(err, labmanager.ErrConfigurationNotFound))
	assert.Equal(t, "Starting Virtual Machine...\n", out.String())
	assert.Empty(t, h.fake.Calls())
}

func TestBringUpActionFailurePropagates(t *testing.T) {
	h := newHarness(t, true)
	h.fake.AddMachine(testConfig, testVM, labmanager.StatusOff, "")
	fault := &labmanager.FaultError{Operation: "MachinePerformAction", Message: "busy"}
	h.fake.ActionErr = fault
	launcher := &stubLauncher{}
	c := h.controller(Config{}, AddressAgnostic(launcher))
	h.profile.MarkAgentOnline(testAgent)

	err := c.BringUp(context.Background(), &stubTarget{name: testAgent}, io.Discard)
	assert.Same(t, fault, err)
	assert.Equal(t, 0, launcher.launches)
	assert.Equal(t, 0, h.profile.OnlineAgents())
	assert.Len(t, h.fake.CallsOf("PerformMachineAction"), 1, "remote calls are never retried")
}

func TestBringUpDelegateFailureReleasesReservation(t *testing.T) {
	h := newHarness(t, true)
	h.fake.AddMachine(testConfig, testVM, labmanager.StatusOn, "")
	launcher := &stubLauncher{launchErr: errors.New("ssh: handshake failed")}
	c := h.controller(Config{}, AddressAgnostic(launcher))
	h.profile.MarkAgentOnline(testAgent)

	err := c.BringUp(context.Background(), &stubTarget{name: testAgent}, io.Discard)
	assert.EqualError(t, err, "ssh: handshake failed")
	assert.Equal(t, 0, h.profile.OnlineAgents())
	require.Len(t, h.metrics.bringUps, 1)
	assert.Error(t, h.metrics.bringUps[0])
}

func TestBringUpAddressSubstitution(t *testing.T) {
	t.Run("same address reuses delegate", func(t *testing.T) {
		h := newHarness(t, true)
		h.fake.AddMachine(testConfig, testVM, labmanager.StatusOn, "10.20.30.40")
		original := &addressLauncher{stubLauncher: &stubLauncher{connect: true}, address: "10.20.30.40"}
		c := h.controller(Config{UpdateHostAddress: true}, AddressAware(original))

		require.NoError(t, c.BringUp(context.Background(), &stubTarget{name: testAgent}, io.Discard))
		assert.Equal(t, 1, original.launches)
		assert.Empty(t, original.derived)
	})

	t.Run("changed address builds new delegate", func(t *testing.T) {
		h := newHarness(t, true)
		h.fake.AddMachine(testConfig, testVM, labmanager.StatusOn, "30.30.30.30")
		original := &addressLauncher{stubLauncher: &stubLauncher{connect: true}, address: "10.20.30.40"}
		c := h.controller(Config{UpdateHostAddress: true}, AddressAware(original))

		require.NoError(t, c.BringUp(context.Background(), &stubTarget{name: testAgent}, io.Discard))
		assert.Equal(t, 0, original.launches)
		assert.Equal(t, "10.20.30.40", original.Address(), "original delegate must be left untouched")
		require.Len(t, original.derived, 1)
		assert.Equal(t, "30.30.30.30", original.derived[0].Address())
		assert.Equal(t, 1, original.derived[0].launches)
	})

	t.Run("tracking disabled keeps configured address", func(t *testing.T) {
		h := newHarness(t, true)
		h.fake.AddMachine(testConfig, testVM, labmanager.StatusOn, "30.30.30.30")
		original := &addressLauncher{stubLauncher: &stubLauncher{connect: true}, address: "10.20.30.40"}
		c := h.controller(Config{UpdateHostAddress: false}, AddressAware(original))

		require.NoError(t, c.BringUp(context.Background(), &stubTarget{name: testAgent}, io.Discard))
		assert.Equal(t, 1, original.launches)
		assert.Empty(t, original.derived)
	})

	t.Run("address agnostic delegate ignores tracking", func(t *testing.T) {
		h := newHarness(t, true)
		h.fake.AddMachine(testConfig, testVM, labmanager.StatusOn, "30.30.30.30")
		launcher := &stubLauncher{connect: true}
		c := h.controller(Config{UpdateHostAddress: true}, AddressAgnostic(launcher))

		require.NoError(t, c.BringUp(context.Background(), &stubTarget{name: testAgent}, io.Discard))
		assert.Equal(t, 1, launcher.launches)
	})
}

func TestDelegateForAddress(t *testing.T) {
	original := &addressLauncher{stubLauncher: &stubLauncher{}, address: "10.20.30.40"}
	d := AddressAware(original)
	assert.True(t, d.TracksAddress())

	got, substituted := d.ForAddress("10.20.30.40")
	assert.False(t, substituted)
	assert.Same(t, original, got)

	got, substituted = d.ForAddress("  ")
	assert.False(t, substituted)
	assert.Same(t, original, got)

	got, substituted = d.ForAddress("30.30.30.30")
	assert.True(t, substituted)
	assert.NotSame(t, original, got)
	assert.Equal(t, "30.30.30.30", got.(AddressAwareLauncher).Address())

	assert.False(t, AddressAgnostic(&stubLauncher{}).TracksAddress())
}

func TestTearDownUndeploy(t *testing.T) {
	h := newHarness(t, true)
	vmID := h.fake.AddMachine(testConfig, testVM, labmanager.StatusOn, "")
	launcher := &stubLauncher{}
	c := h.controller(Config{IdleAction: ParseIdleAction("Undeploy")}, AddressAgnostic(launcher))
	h.profile.MarkAgentOnline(testAgent)
	h.profile.MarkAgentOnline(testAgent)

	var out bytes.Buffer
	c.TearDown(context.Background(), &stubTarget{name: testAgent}, &out)

	assert.Equal(t, "Running disconnect procedure...\nShutting down Virtual Machine...\n", out.String())
	assert.Equal(t, 1, launcher.disconnects)
	calls := h.fake.CallsOf("PerformMachineAction")
	require.Len(t, calls, 1)
	assert.Equal(t, vmID, calls[0].MachineID)
	assert.Equal(t, labmanager.ActionUndeploy, calls[0].Action)
	assert.Equal(t, 1, h.profile.OnlineAgents(), "reservation must be released exactly once")
	assert.Equal(t, []models.EventKind{
		models.EventDisconnectStarted,
		models.EventAgentReleased,
		models.EventMachineAction,
		models.EventDisconnectCompleted,
	}, h.eventKinds())
	require.Len(t, h.metrics.tearDowns, 1)
	assert.NoError(t, h.metrics.tearDowns[0])
}

func TestTearDownRunsDelegateDisconnectBeforeShutdown(t *testing.T) {
	h := newHarness(t, true)
	h.fake.AddMachine(testConfig, testVM, labmanager.StatusOff, "")
	launcher := &stubLauncher{disconnectOutput: "Agent stopped\n"}
	c := h.controller(Config{}, AddressAgnostic(launcher))

	var out bytes.Buffer
	c.TearDown(context.Background(), &stubTarget{name: testAgent}, &out)
	assert.Equal(t, "Running disconnect procedure...\nAgent stopped\nShutting down Virtual Machine...\n", out.String())
}

func TestTearDownRevertIssuesShutdownThenRevert(t *testing.T) {
	h := newHarness(t, true)
	vmID := h.fake.AddMachine(testConfig, testVM, labmanager.StatusOn, "")
	c := h.controller(Config{IdleAction: ParseIdleAction("Shutdown and Revert")}, AddressAgnostic(&stubLauncher{}))

	var out bytes.Buffer
	c.TearDown(context.Background(), &stubTarget{name: testAgent}, &out)

	calls := h.fake.CallsOf("PerformMachineAction")
	require.Len(t, calls, 2)
	assert.Equal(t, labmanager.ActionShutdown, calls[0].Action)
	assert.Equal(t, labmanager.ActionRevert, calls[1].Action)
	assert.Equal(t, vmID, calls[1].MachineID)
	assert.Equal(t, []time.Duration{DefaultRevertDelay}, h.sleeps)
	assert.Contains(t, out.String(), "Waiting 60 seconds for shutdown to complete.\n")
}

func TestTearDownSingleActionIdleActions(t *testing.T) {
	tests := []struct {
		idle string
		want labmanager.Action
	}{
		{"Suspend", labmanager.ActionSuspend},
		{"Shutdown", labmanager.ActionShutdown},
		{"anything else", labmanager.ActionSuspend},
	}
	for _, tt := range tests {
		t.Run(tt.idle, func(t *testing.T) {
			h := newHarness(t, true)
			h.fake.AddMachine(testConfig, testVM, labmanager.StatusOn, "")
			c := h.controller(Config{IdleAction: ParseIdleAction(tt.idle)}, AddressAgnostic(&stubLauncher{}))

			c.TearDown(context.Background(), &stubTarget{name: testAgent}, io.Discard)

			calls := h.fake.CallsOf("PerformMachineAction")
			require.Len(t, calls, 1)
			assert.Equal(t, tt.want, calls[0].Action)
			assert.Empty(t, h.sleeps)
		})
	}
}

func TestTearDownSkipsMachinesAlreadyDown(t *testing.T) {
	for _, status := range []labmanager.Status{labmanager.StatusOff, labmanager.StatusSuspended} {
		t.Run(status.String(), func(t *testing.T) {
			h := newHarness(t, true)
			h.fake.AddMachine(testConfig, testVM, status, "")
			c := h.controller(Config{IdleAction: labmanager.ActionUndeploy}, AddressAgnostic(&stubLauncher{}))
			h.profile.MarkAgentOnline(testAgent)

			c.TearDown(context.Background(), &stubTarget{name: testAgent}, io.Discard)
			assert.Empty(t, h.fake.CallsOf("PerformMachineAction"))
			assert.Equal(t, 0, h.profile.OnlineAgents())
		})
	}
}

func TestTearDownStuckMachineIsLoggedNotRaised(t *testing.T) {
	h := newHarness(t, true)
	h.fake.AddMachine(testConfig, testVM, labmanager.StatusStuck, "")
	c := h.controller(Config{}, AddressAgnostic(&stubLauncher{}))
	h.profile.MarkAgentOnline(testAgent)

	var out bytes.Buffer
	require.NotPanics(t, func() {
		c.TearDown(context.Background(), &stubTarget{name: testAgent}, &out)
	})
	assert.Empty(t, h.fake.CallsOf("PerformMachineAction"))
	assert.Equal(t, 0, h.profile.OnlineAgents())
	assert.Contains(t, h.logs.String(), "problem with the machine status")
	assert.Contains(t, h.eventKinds(), models.EventDisconnectFailed)
}

func TestTearDownRemoteFailureIsReported(t *testing.T) {
	h := newHarness(t, true)
	h.fake.AddMachine(testConfig, testVM, labmanager.StatusOn, "")
	h.fake.ActionErr = &labmanager.FaultError{Operation: "MachinePerformAction", Message: "denied"}
	launcher := &stubLauncher{disconnectErr: errors.New("channel closed")}
	c := h.controller(Config{}, AddressAgnostic(launcher))
	h.profile.MarkAgentOnline(testAgent)

	var out bytes.Buffer
	c.TearDown(context.Background(), &stubTarget{name: testAgent}, &out)

	assert.Contains(t, out.String(), "FATAL: MachinePerformAction: soap fault: denied\n")
	assert.Equal(t, 0, h.profile.OnlineAgents(), "reservation is released even when the idle action fails")
	assert.Contains(t, h.logs.String(), "delegate disconnect failed: channel closed")
	require.Len(t, h.metrics.tearDowns, 1)
	assert.Error(t, h.metrics.tearDowns[0])
}

func TestTearDownUnknownCloud(t *testing.T) {
	h := newHarness(t, true)
	launcher := &stubLauncher{}
	c := h.controller(Config{Cloud: "lab-west"}, AddressAgnostic(launcher))

	var out bytes.Buffer
	require.NotPanics(t, func() {
		c.TearDown(context.Background(), &stubTarget{name: testAgent}, &out)
	})
	assert.Equal(t, 1, launcher.disconnects)
	assert.Contains(t, out.String(), "FATAL: ")
}

func TestLaunchSupportedOverride(t *testing.T) {
	h := newHarness(t, true)
	launcher := &stubLauncher{supported: false}
	c := h.controller(Config{}, AddressAgnostic(launcher))
	assert.False(t, c.LaunchSupported())

	yes := true
	c = h.controller(Config{LaunchSupportedOverride: &yes}, AddressAgnostic(launcher))
	assert.True(t, c.LaunchSupported())
}

func TestBeforeDisconnectForwards(t *testing.T) {
	h := newHarness(t, true)
	launcher := &stubLauncher{}
	c := h.controller(Config{}, AddressAgnostic(launcher))
	require.NoError(t, c.BeforeDisconnect(context.Background(), &stubTarget{name: testAgent}, io.Discard))
	assert.Equal(t, 1, launcher.beforeDisconnects)
}

func TestNewControllerNormalizesConfig(t *testing.T) {
	c := NewController(Config{IdleAction: labmanager.ActionOn, LaunchDelay: -time.Second}, nil, AddressAgnostic(&stubLauncher{}), nil)
	cfg := c.Config()
	assert.Equal(t, labmanager.ActionSuspend, cfg.IdleAction)
	assert.Equal(t, time.Duration(0), cfg.LaunchDelay)
	assert.Equal(t, DefaultRevertDelay, cfg.RevertDelay)
}
