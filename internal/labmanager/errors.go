// ABOUTME: This file provides error definitions shared by the SOAP and fake clients.
package labmanager

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is returned when the control plane cannot be reached or rejects the credentials.
	// ABOUTME: Malformed endpoints, transport failures and HTTP 401/403 responses wrap this error.
	ErrConnection = errors.New("lab manager connection failed")

	// ErrConfigurationNotFound is returned when a configuration name cannot be resolved.
	ErrConfigurationNotFound = errors.New("configuration not found")

	// ErrMachineNotFound is returned when a machine name cannot be resolved in a configuration.
	ErrMachineNotFound = errors.New("machine not found")
)

// FaultError is a SOAP fault returned by the control plane.
type FaultError struct {
	Operation string
	Code      string
	Message   string
}

func (e *FaultError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: soap fault: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("%s: soap fault %s: %s", e.Operation, e.Code, e.Message)
}
