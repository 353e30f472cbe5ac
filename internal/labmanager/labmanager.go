// Package labmanager provides a client abstraction for the VMware Lab Manager control plane.
//
// ABOUTME: This package defines the Client interface and the wire-level enumerations for
// machine status, machine actions and fence modes, with two implementations: SOAPClient
// (Lab Manager internal SOAP API) and FakeClient (deterministic in-memory control plane).
//
// ABOUTME: The control plane is the sole arbiter of whether an action is legal. Callers
// re-resolve machines by name on every operation because machine ids change across
// undeploy/redeploy cycles.
package labmanager

import (
	"context"
	"fmt"
)

// Status is the machine status code reported by Lab Manager.
type Status int

const (
	// StatusUndeployed indicates the machine exists in the configuration but is not deployed.
	StatusUndeployed Status = 0
	// StatusOff indicates the machine is deployed and powered off.
	StatusOff Status = 1
	// StatusOn indicates the machine is powered on.
	StatusOn Status = 2
	// StatusSuspended indicates the machine is suspended.
	StatusSuspended Status = 3
	// StatusStuck indicates Lab Manager lost track of the machine.
	StatusStuck Status = 4
	// StatusInvalid indicates the machine is in an invalid state.
	StatusInvalid Status = 128
)

func (s Status) String() string {
	switch s {
	case StatusUndeployed:
		return "undeployed"
	case StatusOff:
		return "off"
	case StatusOn:
		return "on"
	case StatusSuspended:
		return "suspended"
	case StatusStuck:
		return "stuck"
	case StatusInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Action is a machine action code accepted by MachinePerformAction.
type Action int

const (
	ActionNone     Action = 0
	ActionOn       Action = 1
	ActionOff      Action = 2
	ActionSuspend  Action = 3
	ActionResume   Action = 4
	ActionReset    Action = 5
	ActionSnapshot Action = 6
	ActionRevert   Action = 7
	ActionShutdown Action = 8
	// Deploy and undeploy are only exposed by the internal SOAP API.
	ActionDeploy   Action = 12
	ActionUndeploy Action = 13
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionOn:
		return "on"
	case ActionOff:
		return "off"
	case ActionSuspend:
		return "suspend"
	case ActionResume:
		return "resume"
	case ActionReset:
		return "reset"
	case ActionSnapshot:
		return "snapshot"
	case ActionRevert:
		return "revert"
	case ActionShutdown:
		return "shutdown"
	case ActionDeploy:
		return "deploy"
	case ActionUndeploy:
		return "undeploy"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// FenceMode is the network isolation policy applied when deploying a configuration.
type FenceMode int

const (
	FenceNone          FenceMode = 1
	FenceBlockInOut    FenceMode = 2
	FenceAllowOutOnly  FenceMode = 3
	FenceAllowInAndOut FenceMode = 4
)

// Configuration is a named collection of machines managed as a unit.
type Configuration struct {
	ID         int
	Name       string
	IsDeployed bool
}

// Machine is a single virtual machine inside a configuration.
type Machine struct {
	ID         int
	Name       string
	Status     Status
	ExternalIP string
}

// Client defines the control plane operations consumed by labmgr.
// ABOUTME: SOAPClient and FakeClient implement this interface. Every call is synchronous and
// is never retried; failures propagate to the caller unchanged.
type Client interface {
	// GetConfigurationByName returns the configuration with the given name.
	// ABOUTME: Returns ErrConfigurationNotFound if no configuration matches.
	GetConfigurationByName(ctx context.Context, name string) (Configuration, error)

	// GetMachineByName returns a machine within a configuration.
	// ABOUTME: Returns ErrMachineNotFound if the configuration has no machine with that name.
	GetMachineByName(ctx context.Context, configurationID int, name string) (Machine, error)

	// ListMachines returns every machine in a configuration.
	ListMachines(ctx context.Context, configurationID int) ([]Machine, error)

	// PerformMachineAction asks the control plane to apply an action and blocks until it returns.
	PerformMachineAction(ctx context.Context, machineID int, action Action) error

	// DeployConfiguration deploys every machine of a configuration.
	DeployConfiguration(ctx context.Context, configurationID int, fence FenceMode) error
}
