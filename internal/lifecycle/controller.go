// Package lifecycle drives Lab Manager machines through bring-up and teardown
// on behalf of a build agent.
//
// ABOUTME: A Controller is bound to one agent: a cloud profile description, a machine
// name and a delegate launcher. BringUp powers or deploys the machine, waits the launch
// delay and hands off to the delegate. TearDown runs the delegate's disconnect step,
// releases the agent's reservation and applies the configured idle action.
//
// ABOUTME: Machines are re-resolved by name on every operation. Every remote call is
// synchronous and never retried. TearDown never returns an error; failures are logged,
// journaled and written to the transcript.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/labmgr/labmgr/internal/cloud"
	"github.com/labmgr/labmgr/internal/labmanager"
	"github.com/labmgr/labmgr/internal/models"
)

// ProfileSource resolves cloud profiles by description.
type ProfileSource interface {
	Lookup(description string) (*cloud.Profile, error)
}

// Recorder journals lifecycle events.
type Recorder interface {
	RecordEvent(ctx context.Context, ev models.Event) error
}

// Metrics observes lifecycle outcomes.
type Metrics interface {
	ObserveAction(cloud, action string, err error)
	ObserveBringUp(cloud string, elapsed time.Duration, err error)
	ObserveTearDown(cloud string, err error)
}

// Config binds a controller to one agent.
type Config struct {
	Cloud             string
	VMName            string
	IdleAction        labmanager.Action
	LaunchDelay       time.Duration
	RevertDelay       time.Duration
	UpdateHostAddress bool
	// LaunchSupportedOverride, when set, replaces the delegate's LaunchSupported answer.
	LaunchSupportedOverride *bool
}

// Controller implements bring-up and teardown for one agent.
type Controller struct {
	cfg      Config
	profiles ProfileSource
	delegate Delegate
	logger   *log.Logger

	Sleep          func(ctx context.Context, d time.Duration) error // Custom sleep function for testing
	Recorder       Recorder
	Metrics        Metrics
	NewOperationID func() string
	Now            func() time.Time
}

// NewController builds a controller. Unknown idle actions become Suspend and a
// non-positive revert delay becomes DefaultRevertDelay.
func NewController(cfg Config, profiles ProfileSource, delegate Delegate, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	cfg.IdleAction = normalizeIdleAction(cfg.IdleAction)
	if cfg.LaunchDelay < 0 {
		cfg.LaunchDelay = 0
	}
	if cfg.RevertDelay <= 0 {
		cfg.RevertDelay = DefaultRevertDelay
	}
	return &Controller{
		cfg:            cfg,
		profiles:       profiles,
		delegate:       delegate,
		logger:         logger,
		NewOperationID: uuid.NewString,
		Now:            time.Now,
	}
}

// Config returns the controller's normalized configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// LaunchSupported reports whether the agent can be launched on demand.
func (c *Controller) LaunchSupported() bool {
	if c.cfg.LaunchSupportedOverride != nil {
		return *c.cfg.LaunchSupportedOverride
	}
	return c.delegate.Launcher().LaunchSupported()
}

// BeforeDisconnect forwards to the delegate launcher.
func (c *Controller) BeforeDisconnect(ctx context.Context, target Target, out io.Writer) error {
	return c.delegate.Launcher().BeforeDisconnect(ctx, target, out)
}

// BringUp brings the machine online and launches the agent on it.
//
// The caller is expected to have reserved target.Name() on the cloud profile.
// Once the profile is resolved, the reservation is released whenever BringUp
// returns without the target connected.
func (c *Controller) BringUp(ctx context.Context, target Target, out io.Writer) (err error) {
	start := c.now()
	fmt.Fprintln(out, "Starting Virtual Machine...")

	profile, err := c.profiles.Lookup(c.cfg.Cloud)
	if err != nil {
		c.logger.Printf("lifecycle: agent=%s could not find cloud %q: %v", target.Name(), c.cfg.Cloud, err)
		return err
	}
	opID := c.newOperationID()
	c.record(ctx, models.Event{Kind: models.EventLaunchStarted, OperationID: opID, Agent: target.Name()})

	defer func() {
		if !target.Connected() {
			count := profile.MarkAgentOffline(target.Name())
			c.logger.Printf("lifecycle: agent=%s not connected, released reservation (online=%d)", target.Name(), count)
			c.record(ctx, models.Event{Kind: models.EventAgentReleased, OperationID: opID, Agent: target.Name()})
		}
		if err != nil {
			c.record(ctx, models.Event{Kind: models.EventLaunchFailed, OperationID: opID, Agent: target.Name(), Message: err.Error()})
		} else {
			c.record(ctx, models.Event{Kind: models.EventLaunchSucceeded, OperationID: opID, Agent: target.Name()})
		}
		if c.Metrics != nil {
			c.Metrics.ObserveBringUp(c.cfg.Cloud, c.now().Sub(start), err)
		}
	}()

	client, err := profile.OpenSession(ctx)
	if err != nil {
		return err
	}
	_, vm, err := c.resolveMachine(ctx, profile, client)
	if err != nil {
		return err
	}

	action, err := DecideAction(vm.Status)
	if err != nil {
		c.logger.Printf("lifecycle: vm=%s status=%s: problem with the machine status", vm.Name, vm.Status)
		return fmt.Errorf("machine %q: %w", vm.Name, err)
	}

	switch action {
	case labmanager.ActionDeploy:
		if err := c.deploy(ctx, profile, client, vm, out, opID, target.Name()); err != nil {
			return err
		}
	case labmanager.ActionNone:
	default:
		if err := c.perform(ctx, client, vm, action, opID, target.Name()); err != nil {
			return err
		}
	}

	_, vm, err = c.resolveMachine(ctx, profile, client)
	if err != nil {
		return err
	}

	if err := c.sleep(ctx, c.cfg.LaunchDelay); err != nil {
		return err
	}

	launcher := c.delegate.Launcher()
	if c.cfg.UpdateHostAddress {
		var substituted bool
		launcher, substituted = c.delegate.ForAddress(vm.ExternalIP)
		if substituted {
			c.logger.Printf("lifecycle: vm=%s launching with updated host address %s", vm.Name, vm.ExternalIP)
		}
	}
	return launcher.Launch(ctx, target, out)
}

// deploy re-checks the configuration: an undeployed configuration is deployed
// as a whole, otherwise the machine itself is deployed.
func (c *Controller) deploy(ctx context.Context, profile *cloud.Profile, client labmanager.Client, vm labmanager.Machine, out io.Writer, opID, agent string) error {
	cfg, err := profile.ResolveConfiguration(ctx, client)
	if err != nil {
		return err
	}
	if !cfg.IsDeployed {
		fmt.Fprintf(out, "Deploy configuration '%s'\n", cfg.Name)
		err := client.DeployConfiguration(ctx, cfg.ID, labmanager.FenceAllowInAndOut)
		if c.Metrics != nil {
			c.Metrics.ObserveAction(c.cfg.Cloud, "configuration_deploy", err)
		}
		if err != nil {
			return err
		}
		c.record(ctx, models.Event{Kind: models.EventConfigurationDeployed, OperationID: opID, Agent: agent, Machine: vm.Name, Message: cfg.Name})
		fmt.Fprintf(out, "Configuration '%s' successfully deployed\n", cfg.Name)
		return nil
	}
	fmt.Fprintf(out, "Deploying virtual machine '%s' in configuration '%s'\n", vm.Name, cfg.Name)
	if err := c.perform(ctx, client, vm, labmanager.ActionDeploy, opID, agent); err != nil {
		return err
	}
	fmt.Fprintf(out, "Virtual machine '%s' successfully deployed\n", vm.Name)
	return nil
}

// TearDown disconnects the agent, releases its reservation and applies the idle action.
// It never fails; problems are logged, journaled and reported on out.
func (c *Controller) TearDown(ctx context.Context, target Target, out io.Writer) {
	opID := c.newOperationID()
	var failure error
	defer func() {
		if r := recover(); r != nil {
			failure = fmt.Errorf("panic during teardown: %v", r)
			c.fatal(ctx, out, opID, target.Name(), failure)
		}
		if c.Metrics != nil {
			c.Metrics.ObserveTearDown(c.cfg.Cloud, failure)
		}
	}()

	c.record(ctx, models.Event{Kind: models.EventDisconnectStarted, OperationID: opID, Agent: target.Name()})
	fmt.Fprintln(out, "Running disconnect procedure...")
	if err := c.delegate.Launcher().Disconnect(ctx, target, out); err != nil {
		c.logger.Printf("lifecycle: agent=%s delegate disconnect failed: %v", target.Name(), err)
	}
	fmt.Fprintln(out, "Shutting down Virtual Machine...")

	profile, err := c.profiles.Lookup(c.cfg.Cloud)
	if err != nil {
		failure = err
		c.fatal(ctx, out, opID, target.Name(), err)
		return
	}
	count := profile.MarkAgentOffline(target.Name())
	c.logger.Printf("lifecycle: agent=%s released reservation (online=%d)", target.Name(), count)
	c.record(ctx, models.Event{Kind: models.EventAgentReleased, OperationID: opID, Agent: target.Name()})

	if err := c.applyIdleAction(ctx, profile, out, opID, target.Name()); err != nil {
		failure = err
		c.fatal(ctx, out, opID, target.Name(), err)
		return
	}
	c.record(ctx, models.Event{Kind: models.EventDisconnectCompleted, OperationID: opID, Agent: target.Name()})
}

func (c *Controller) applyIdleAction(ctx context.Context, profile *cloud.Profile, out io.Writer, opID, agent string) error {
	client, err := profile.OpenSession(ctx)
	if err != nil {
		return err
	}
	_, vm, err := c.resolveMachine(ctx, profile, client)
	if err != nil {
		return err
	}

	switch vm.Status {
	case labmanager.StatusOff, labmanager.StatusSuspended, labmanager.StatusUndeployed:
		return nil
	case labmanager.StatusOn:
		if c.cfg.IdleAction == labmanager.ActionRevert {
			if err := c.perform(ctx, client, vm, labmanager.ActionShutdown, opID, agent); err != nil {
				return err
			}
			fmt.Fprintf(out, "Waiting %d seconds for shutdown to complete.\n", int(c.cfg.RevertDelay/time.Second))
			if err := c.sleep(ctx, c.cfg.RevertDelay); err != nil {
				return err
			}
		}
		return c.perform(ctx, client, vm, c.cfg.IdleAction, opID, agent)
	default:
		c.logger.Printf("lifecycle: vm=%s status=%s: problem with the machine status", vm.Name, vm.Status)
		c.record(ctx, models.Event{
			Kind:        models.EventDisconnectFailed,
			OperationID: opID,
			Agent:       agent,
			Machine:     vm.Name,
			MachineID:   vm.ID,
			Message:     fmt.Sprintf("%v: %s", ErrMachineState, vm.Status),
		})
		return nil
	}
}

func (c *Controller) resolveMachine(ctx context.Context, profile *cloud.Profile, client labmanager.Client) (labmanager.Configuration, labmanager.Machine, error) {
	cfg, err := profile.ResolveConfiguration(ctx, client)
	if err != nil {
		return labmanager.Configuration{}, labmanager.Machine{}, err
	}
	vm, err := client.GetMachineByName(ctx, cfg.ID, c.cfg.VMName)
	if err != nil {
		return labmanager.Configuration{}, labmanager.Machine{}, err
	}
	return cfg, vm, nil
}

func (c *Controller) perform(ctx context.Context, client labmanager.Client, vm labmanager.Machine, action labmanager.Action, opID, agent string) error {
	err := client.PerformMachineAction(ctx, vm.ID, action)
	if c.Metrics != nil {
		c.Metrics.ObserveAction(c.cfg.Cloud, action.String(), err)
	}
	if err != nil {
		c.logger.Printf("lifecycle: vm=%s id=%d action=%s failed: %v", vm.Name, vm.ID, action, err)
		return err
	}
	c.record(ctx, models.Event{
		Kind:        models.EventMachineAction,
		OperationID: opID,
		Agent:       agent,
		Machine:     vm.Name,
		MachineID:   vm.ID,
		Action:      action.String(),
	})
	return nil
}

func (c *Controller) fatal(ctx context.Context, out io.Writer, opID, agent string, err error) {
	fmt.Fprintf(out, "FATAL: %v\n", err)
	c.logger.Printf("lifecycle: agent=%s teardown failed: %v", agent, err)
	c.record(ctx, models.Event{Kind: models.EventDisconnectFailed, OperationID: opID, Agent: agent, Message: err.Error()})
}

func (c *Controller) record(ctx context.Context, ev models.Event) {
	if c.Recorder == nil {
		return
	}
	ev.Cloud = c.cfg.Cloud
	if ev.Machine == "" {
		ev.Machine = c.cfg.VMName
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now().UTC()
	}
	if err := c.Recorder.RecordEvent(context.WithoutCancel(ctx), ev); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Printf("lifecycle: record %s event: %v", ev.Kind, err)
	}
}

func (c *Controller) newOperationID() string {
	if c.NewOperationID != nil {
		return c.NewOperationID()
	}
	return uuid.NewString()
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
