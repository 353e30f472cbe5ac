package lifecycle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/labmgr/labmgr/internal/labmanager"
)

// ErrMachineState is returned when a machine is Stuck or Invalid at bring-up.
var ErrMachineState = errors.New("problem with the machine status")

// Idle action names accepted in agent configuration.
const (
	IdleSuspend           = "Suspend"
	IdleShutdown          = "Shutdown"
	IdleShutdownAndRevert = "Shutdown and Revert"
	IdleUndeploy          = "Undeploy"
)

// DefaultLaunchDelay is the wait between powering a machine and launching the agent.
const DefaultLaunchDelay = 60 * time.Second

// DefaultRevertDelay is the wait between shutdown and revert for the revert idle action.
const DefaultRevertDelay = 60 * time.Second

// DecideAction maps a machine status to the action that brings it online.
func DecideAction(status labmanager.Status) (labmanager.Action, error) {
	switch status {
	case labmanager.StatusUndeployed:
		return labmanager.ActionDeploy, nil
	case labmanager.StatusOff:
		return labmanager.ActionOn, nil
	case labmanager.StatusSuspended:
		return labmanager.ActionResume, nil
	case labmanager.StatusOn:
		return labmanager.ActionNone, nil
	default:
		return labmanager.ActionNone, fmt.Errorf("%w: %s", ErrMachineState, status)
	}
}

// ParseIdleAction maps configured idle action text to a machine action.
// Unrecognized text selects Suspend.
func ParseIdleAction(text string) labmanager.Action {
	switch strings.TrimSpace(text) {
	case IdleShutdown:
		return labmanager.ActionShutdown
	case IdleShutdownAndRevert:
		return labmanager.ActionRevert
	case IdleUndeploy:
		return labmanager.ActionUndeploy
	default:
		return labmanager.ActionSuspend
	}
}

// IsIdleAction reports whether text names one of the idle actions exactly.
func IsIdleAction(text string) bool {
	switch strings.TrimSpace(text) {
	case IdleSuspend, IdleShutdown, IdleShutdownAndRevert, IdleUndeploy:
		return true
	}
	return false
}

// ParseLaunchDelay parses a delay in whole seconds.
// Empty, unparsable or negative input yields DefaultLaunchDelay.
func ParseLaunchDelay(text string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || seconds < 0 {
		return DefaultLaunchDelay
	}
	return time.Duration(seconds) * time.Second
}

func normalizeIdleAction(action labmanager.Action) labmanager.Action {
	switch action {
	case labmanager.ActionSuspend, labmanager.ActionShutdown, labmanager.ActionRevert, labmanager.ActionUndeploy:
		return action
	default:
		return labmanager.ActionSuspend
	}
}
