// Package models provides data structures and constants shared across labmgr.
//
// This package contains the value types that cross package boundaries:
//   - Agent: a configured build agent bound to one Lab Manager machine
//   - Event: a journal entry written during bring-up and teardown
//
// All models are designed for database persistence and JSON serialization.
package models

import "time"

// EventKind identifies a lifecycle journal entry.
type EventKind string

const (
	// EventLaunchStarted is recorded when a bring-up sequence begins.
	EventLaunchStarted EventKind = "launch.started"
	// EventConfigurationDeployed is recorded after a configuration-level deploy.
	EventConfigurationDeployed EventKind = "configuration.deployed"
	// EventMachineAction is recorded after a machine action was accepted.
	EventMachineAction EventKind = "machine.action"
	// EventLaunchSucceeded is recorded when the delegate launch step returns without error.
	EventLaunchSucceeded EventKind = "launch.succeeded"
	// EventLaunchFailed is recorded when bring-up aborts.
	EventLaunchFailed EventKind = "launch.failed"
	// EventAgentReleased is recorded when a reservation is released.
	EventAgentReleased EventKind = "agent.released"
	// EventDisconnectStarted is recorded when a teardown sequence begins.
	EventDisconnectStarted EventKind = "disconnect.started"
	// EventDisconnectFailed is recorded when teardown swallowed a failure.
	EventDisconnectFailed EventKind = "disconnect.failed"
	// EventDisconnectCompleted is recorded when teardown finishes.
	EventDisconnectCompleted EventKind = "disconnect.completed"
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a single lifecycle journal entry.
//
// Fields:
//   - ID: Journal row id, assigned on insert
//   - Timestamp: When the event was recorded
//   - Kind: What happened
//   - OperationID: Groups the entries of one bring-up or teardown sequence
//   - Agent: Agent (target) name
//   - Cloud: Cloud profile description
//   - Machine: Machine name inside the configuration
//   - MachineID: Machine id as resolved at the time of the event (0 if unknown)
//   - Action: Machine action name, when one was issued
//   - Message: Free-form detail
type Event struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        EventKind `json:"kind"`
	OperationID string    `json:"operation_id,omitempty"`
	Agent       string    `json:"agent"`
	Cloud       string    `json:"cloud,omitempty"`
	Machine     string    `json:"machine,omitempty"`
	MachineID   int       `json:"machine_id,omitempty"`
	Action      string    `json:"action,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// LauncherType names the delegate that bootstraps the remote agent.
type LauncherType string

const (
	// LauncherSSH bootstraps the agent over SSH and tracks the machine address.
	LauncherSSH LauncherType = "ssh"
	// LauncherCommand runs a local command and ignores the machine address.
	LauncherCommand LauncherType = "command"
)

// Agent is a configured build agent bound to a Lab Manager machine.
type Agent struct {
	Name              string        `json:"name"`
	Cloud             string        `json:"cloud"`
	VMName            string        `json:"vm_name"`
	IdleAction        string        `json:"idle_action"`
	LaunchDelay       time.Duration `json:"launch_delay"`
	UpdateHostAddress bool          `json:"update_host_address"`
	Launcher          LauncherType  `json:"launcher"`
	Online            bool          `json:"online"`
}
