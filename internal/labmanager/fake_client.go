// ABOUTME: This file provides a deterministic in-memory Lab Manager control plane for tests.
// It implements the Client interface, simulates machine status changes and records every call.
package labmanager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Call records a single operation received by FakeClient.
type Call struct {
	Op              string
	ConfigurationID int
	MachineID       int
	Name            string
	Action          Action
	FenceMode       FenceMode
}

// FakeClient implements Client with in-memory state for tests.
// It is deterministic and safe for concurrent use.
type FakeClient struct {
	mu       sync.Mutex
	configs  map[string]*Configuration
	machines map[int]map[string]*Machine // configuration id -> name -> machine
	calls    []Call
	nextID   int

	// ActionErr, when set, is returned by PerformMachineAction without changing state.
	ActionErr error
	// DeployErr, when set, is returned by DeployConfiguration without changing state.
	DeployErr error
	// LookupErr, when set, is returned by every lookup call.
	LookupErr error
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient returns a FakeClient with empty state.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		configs:  make(map[string]*Configuration),
		machines: make(map[int]map[string]*Machine),
		nextID:   1000,
	}
}

// AddConfiguration seeds a configuration and returns its id.
func (f *FakeClient) AddConfiguration(name string, deployed bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg, ok := f.configs[name]; ok {
		cfg.IsDeployed = deployed
		return cfg.ID
	}
	f.nextID++
	f.configs[name] = &Configuration{ID: f.nextID, Name: name, IsDeployed: deployed}
	f.machines[f.nextID] = make(map[string]*Machine)
	return f.nextID
}

// AddMachine seeds a machine into a configuration and returns its id.
func (f *FakeClient) AddMachine(configuration string, name string, status Status, externalIP string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[configuration]
	if !ok {
		panic(fmt.Sprintf("fake lab manager: unknown configuration %q", configuration))
	}
	f.nextID++
	f.machines[cfg.ID][name] = &Machine{ID: f.nextID, Name: name, Status: status, ExternalIP: externalIP}
	return f.nextID
}

// SetMachineStatus overrides the reported status of a machine.
func (f *FakeClient) SetMachineStatus(configuration, name string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if vm := f.lookupLocked(configuration, name); vm != nil {
		vm.Status = status
	}
}

// SetMachineAddress overrides the reported external address of a machine.
func (f *FakeClient) SetMachineAddress(configuration, name, externalIP string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if vm := f.lookupLocked(configuration, name); vm != nil {
		vm.ExternalIP = externalIP
	}
}

// Machine returns a copy of the named machine.
func (f *FakeClient) Machine(configuration, name string) (Machine, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vm := f.lookupLocked(configuration, name)
	if vm == nil {
		return Machine{}, false
	}
	return *vm, true
}

// Calls returns the recorded calls in order.
func (f *FakeClient) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsOf returns the recorded calls for one operation name.
func (f *FakeClient) CallsOf(op string) []Call {
	var out []Call
	for _, call := range f.Calls() {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

func (f *FakeClient) GetConfigurationByName(_ context.Context, name string) (Configuration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "GetConfigurationByName", Name: name})
	if f.LookupErr != nil {
		return Configuration{}, f.LookupErr
	}
	cfg, ok := f.configs[strings.TrimSpace(name)]
	if !ok {
		return Configuration{}, fmt.Errorf("%w: %q", ErrConfigurationNotFound, name)
	}
	return *cfg, nil
}

func (f *FakeClient) GetMachineByName(_ context.Context, configurationID int, name string) (Machine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "GetMachineByName", ConfigurationID: configurationID, Name: name})
	if f.LookupErr != nil {
		return Machine{}, f.LookupErr
	}
	vm, ok := f.machines[configurationID][strings.TrimSpace(name)]
	if !ok {
		return Machine{}, fmt.Errorf("%w: %q in configuration %d", ErrMachineNotFound, name, configurationID)
	}
	return *vm, nil
}

func (f *FakeClient) ListMachines(_ context.Context, configurationID int) ([]Machine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "ListMachines", ConfigurationID: configurationID})
	if f.LookupErr != nil {
		return nil, f.LookupErr
	}
	byName, ok := f.machines[configurationID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrConfigurationNotFound, configurationID)
	}
	out := make([]Machine, 0, len(byName))
	for _, vm := range byName {
		out = append(out, *vm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FakeClient) PerformMachineAction(_ context.Context, machineID int, action Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "PerformMachineAction", MachineID: machineID, Action: action})
	if f.ActionErr != nil {
		return f.ActionErr
	}
	vm := f.machineByIDLocked(machineID)
	if vm == nil {
		return &FaultError{Operation: "MachinePerformAction", Code: "soap:Server", Message: fmt.Sprintf("machine %d does not exist", machineID)}
	}
	switch action {
	case ActionOn, ActionResume, ActionReset:
		vm.Status = StatusOn
	case ActionOff, ActionShutdown, ActionRevert:
		vm.Status = StatusOff
	case ActionSuspend:
		vm.Status = StatusSuspended
	case ActionDeploy:
		vm.Status = StatusOn
	case ActionUndeploy:
		vm.Status = StatusUndeployed
	}
	return nil
}

func (f *FakeClient) DeployConfiguration(_ context.Context, configurationID int, fence FenceMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "DeployConfiguration", ConfigurationID: configurationID, FenceMode: fence})
	if f.DeployErr != nil {
		return f.DeployErr
	}
	var cfg *Configuration
	for _, candidate := range f.configs {
		if candidate.ID == configurationID {
			cfg = candidate
			break
		}
	}
	if cfg == nil {
		return fmt.Errorf("%w: id %d", ErrConfigurationNotFound, configurationID)
	}
	if cfg.IsDeployed {
		return &FaultError{Operation: "ConfigurationDeploy", Code: "soap:Server", Message: "configuration is already deployed"}
	}
	cfg.IsDeployed = true
	for _, vm := range f.machines[configurationID] {
		if vm.Status == StatusUndeployed {
			vm.Status = StatusOn
		}
	}
	return nil
}

func (f *FakeClient) lookupLocked(configuration, name string) *Machine {
	cfg, ok := f.configs[configuration]
	if !ok {
		return nil
	}
	return f.machines[cfg.ID][name]
}

func (f *FakeClient) machineByIDLocked(id int) *Machine {
	for _, byName := range f.machines {
		for _, vm := range byName {
			if vm.ID == id {
				return vm
			}
		}
	}
	return nil
}
