package daemon

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/labmgr/labmgr/internal/cloud"
	"github.com/labmgr/labmgr/internal/config"
	"github.com/labmgr/labmgr/internal/launcher"
	"github.com/labmgr/labmgr/internal/lifecycle"
	"github.com/labmgr/labmgr/internal/models"
	"github.com/labmgr/labmgr/internal/secrets"
)

// DelegateFactory builds the delegate launch step for an agent.
type DelegateFactory func(ac config.AgentConfig) (lifecycle.Delegate, error)

// BuildRegistry creates one profile per configured cloud.
func BuildRegistry(cfg config.Config, keyring *secrets.Keyring, options ...cloud.Option) (*cloud.Registry, error) {
	registry, err := cloud.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, cc := range cfg.Clouds {
		opts, err := cc.ProfileOptions(keyring)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(cloud.NewProfile(opts, options...)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewDelegateFactory returns the factory that builds SSH and command launchers
// from configuration.
func NewDelegateFactory(keyring *secrets.Keyring, logger *log.Logger) DelegateFactory {
	return func(ac config.AgentConfig) (lifecycle.Delegate, error) {
		switch models.LauncherType(strings.TrimSpace(ac.Launcher.Type)) {
		case models.LauncherSSH:
			sc := ac.Launcher.SSH
			if sc == nil {
				return lifecycle.Delegate{}, fmt.Errorf("agent %q: ssh launcher settings missing", ac.Name)
			}
			password, err := sc.ResolvePassword(keyring)
			if err != nil {
				return lifecycle.Delegate{}, fmt.Errorf("agent %q: %w", ac.Name, err)
			}
			l, err := launcher.NewSSHLauncher(launcher.SSHConfig{
				Host:               sc.Host,
				Port:               sc.Port,
				Username:           sc.Username,
				Password:           password,
				PrivateKeyPath:     sc.PrivateKeyPath,
				HostKeyFingerprint: sc.HostKeyFingerprint,
				StartCommand:       sc.StartCommand,
				StopCommand:        sc.StopCommand,
				PrefixStartCommand: sc.PrefixStartCommand,
				SuffixStartCommand: sc.SuffixStartCommand,
				DialTimeout:        time.Duration(sc.DialTimeoutSeconds) * time.Second,
			}, logger)
			if err != nil {
				return lifecycle.Delegate{}, fmt.Errorf("agent %q: %w", ac.Name, err)
			}
			return lifecycle.AddressAware(l), nil
		case models.LauncherCommand:
			cc := ac.Launcher.Command
			if cc == nil {
				return lifecycle.Delegate{}, fmt.Errorf("agent %q: command launcher settings missing", ac.Name)
			}
			l, err := launcher.NewCommandLauncher(launcher.CommandConfig{Start: cc.Start, Stop: cc.Stop}, logger)
			if err != nil {
				return lifecycle.Delegate{}, fmt.Errorf("agent %q: %w", ac.Name, err)
			}
			return lifecycle.AddressAgnostic(l), nil
		default:
			return lifecycle.Delegate{}, fmt.Errorf("agent %q: unknown launcher type %q", ac.Name, ac.Launcher.Type)
		}
	}
}

// AgentRecord converts configuration into the agent model.
func AgentRecord(ac config.AgentConfig) models.Agent {
	return models.Agent{
		Name:              strings.TrimSpace(ac.Name),
		Cloud:             strings.TrimSpace(ac.Cloud),
		VMName:            strings.TrimSpace(ac.VMName),
		IdleAction:        ParseIdleActionLabel(ac.IdleAction),
		LaunchDelay:       lifecycle.ParseLaunchDelay(ac.LaunchDelay),
		UpdateHostAddress: ac.UpdateHostAddress,
		Launcher:          models.LauncherType(strings.TrimSpace(ac.Launcher.Type)),
	}
}

// ParseIdleActionLabel returns the idle action name that will actually be
// applied, so "Hibernate" is reported as "Suspend".
func ParseIdleActionLabel(text string) string {
	if lifecycle.IsIdleAction(text) {
		return strings.TrimSpace(text)
	}
	return lifecycle.IdleSuspend
}

// ControllerConfig converts configuration into controller settings.
func ControllerConfig(ac config.AgentConfig) lifecycle.Config {
	return lifecycle.Config{
		Cloud:                   strings.TrimSpace(ac.Cloud),
		VMName:                  strings.TrimSpace(ac.VMName),
		IdleAction:              lifecycle.ParseIdleAction(ac.IdleAction),
		LaunchDelay:             lifecycle.ParseLaunchDelay(ac.LaunchDelay),
		UpdateHostAddress:       ac.UpdateHostAddress,
		LaunchSupportedOverride: ac.LaunchSupported,
	}
}
