// Package config loads the labmgr YAML configuration: daemon listeners, Lab
// Manager clouds and the build agents bound to their machines.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/labmgr/labmgr/internal/cloud"
	"github.com/labmgr/labmgr/internal/secrets"
)

const (
	DefaultConfigPath = "/etc/labmgr/config.yaml"
	DefaultDBPath     = "/var/lib/labmgr/labmgr.db"
	DefaultListen     = "127.0.0.1:8780"

	// DefaultJournalRetentionDays bounds the event journal; 0 keeps events forever.
	DefaultJournalRetentionDays = 30
)

// Config holds daemon settings plus the configured clouds and agents.
type Config struct {
	ConfigPath        string        `yaml:"-"`
	Listen            string        `yaml:"listen" validate:"required,hostname_port"`
	MetricsListen     string        `yaml:"metrics_listen" validate:"omitempty,hostname_port"`
	DBPath            string        `yaml:"db_path" validate:"required"`
	JournalRetention  int           `yaml:"journal_retention_days" validate:"gte=0"`
	SecretsAgeKeyPath string        `yaml:"-"`
	Clouds            []CloudConfig `yaml:"clouds" validate:"dive"`
	Agents            []AgentConfig `yaml:"agents" validate:"dive"`
}

// CloudConfig describes one Lab Manager connection profile.
type CloudConfig struct {
	Description     string `yaml:"description" validate:"required"`
	Host            string `yaml:"host" validate:"required,url,startswith=https://"`
	Organization    string `yaml:"organization" validate:"required"`
	Workspace       string `yaml:"workspace"`
	Configuration   string `yaml:"configuration" validate:"required"`
	Username        string `yaml:"username" validate:"required"`
	Password        string `yaml:"password" validate:"required_without=PasswordAge,excluded_with=PasswordAge"`
	PasswordAge     string `yaml:"password_age"`
	MaxOnlineAgents int    `yaml:"max_online_agents" validate:"gte=0"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" validate:"gte=0"`
	TLSInsecure     bool   `yaml:"tls_insecure"`
	TLSCAPath       string `yaml:"tls_ca_path" validate:"excluded_with=TLSInsecure"`
}

// AgentConfig binds a build agent to a machine in one cloud.
type AgentConfig struct {
	Name       string `yaml:"name" validate:"required"`
	Cloud      string `yaml:"cloud" validate:"required"`
	VMName     string `yaml:"vm_name" validate:"required"`
	IdleAction string `yaml:"idle_action"`
	// LaunchDelay is free text; unparsable values fall back to 60 seconds.
	LaunchDelay       string         `yaml:"launch_delay_seconds"`
	UpdateHostAddress bool           `yaml:"update_host_address"`
	LaunchSupported   *bool          `yaml:"launch_supported"`
	Launcher          LauncherConfig `yaml:"launcher"`
}

// LauncherConfig selects and configures the delegate launch step.
type LauncherConfig struct {
	Type    string                 `yaml:"type" validate:"required,oneof=ssh command"`
	SSH     *SSHLauncherConfig     `yaml:"ssh" validate:"required_if=Type ssh"`
	Command *CommandLauncherConfig `yaml:"command" validate:"required_if=Type command"`
}

type SSHLauncherConfig struct {
	Host               string `yaml:"host" validate:"required"`
	Port               int    `yaml:"port" validate:"gte=0,lte=65535"`
	Username           string `yaml:"username" validate:"required"`
	Password           string `yaml:"password" validate:"excluded_with=PasswordAge"`
	PasswordAge        string `yaml:"password_age"`
	PrivateKeyPath     string `yaml:"private_key_path" validate:"required_without_all=Password PasswordAge"`
	HostKeyFingerprint string `yaml:"host_key_fingerprint" validate:"omitempty,startswith=SHA256:"`
	StartCommand       string `yaml:"start_command"`
	StopCommand        string `yaml:"stop_command"`
	PrefixStartCommand string `yaml:"prefix_start_command"`
	SuffixStartCommand string `yaml:"suffix_start_command"`
	DialTimeoutSeconds int    `yaml:"dial_timeout_seconds" validate:"gte=0"`
}

type CommandLauncherConfig struct {
	Start []string `yaml:"start" validate:"required,min=1,dive,required"`
	Stop  []string `yaml:"stop"`
}

// FileConfig represents the YAML document. Daemon fields override defaults
// only when set.
type FileConfig struct {
	Listen        string        `yaml:"listen"`
	MetricsListen string        `yaml:"metrics_listen"`
	DBPath        string        `yaml:"db_path"`
	RetentionDays *int          `yaml:"journal_retention_days"`
	Secrets       SecretsConfig `yaml:"secrets"`
	Clouds        []CloudConfig `yaml:"clouds"`
	Agents        []AgentConfig `yaml:"agents"`
}

type SecretsConfig struct {
	AgeKeyPath string `yaml:"age_key_path"`
}

func DefaultConfig() Config {
	return Config{
		ConfigPath: DefaultConfigPath,
		Listen:     DefaultListen,
		DBPath:     DefaultDBPath,

		JournalRetention: DefaultJournalRetentionDays,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Load reads the YAML config file and applies it on top of DefaultConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		cfg.ConfigPath = path
	}
	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", cfg.ConfigPath, err)
	}
	return Parse(cfg, data)
}

// Parse decodes data over base and validates the result.
func Parse(base Config, data []byte) (Config, error) {
	cfg := base
	var fileCfg FileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
	}
	applyFileConfig(&cfg, fileCfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg FileConfig) {
	if fileCfg.Listen != "" {
		cfg.Listen = fileCfg.Listen
	}
	if fileCfg.MetricsListen != "" {
		cfg.MetricsListen = fileCfg.MetricsListen
	}
	if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	}
	if fileCfg.RetentionDays != nil {
		cfg.JournalRetention = *fileCfg.RetentionDays
	}
	if fileCfg.Secrets.AgeKeyPath != "" {
		cfg.SecretsAgeKeyPath = fileCfg.Secrets.AgeKeyPath
	}
	cfg.Clouds = fileCfg.Clouds
	cfg.Agents = fileCfg.Agents
}

// Validate checks field constraints and cross references without exposing
// secrets in error messages.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("invalid config: %s", formatFieldError(fieldErrs[0]))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if strings.TrimSpace(c.MetricsListen) != "" {
		host, _, err := net.SplitHostPort(c.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics_listen must be host:port: %w", err)
		}
		if !isLoopbackHost(host) {
			return fmt.Errorf("metrics_listen must be localhost-only (got %q)", host)
		}
	}
	clouds := make(map[string]CloudConfig, len(c.Clouds))
	for _, cc := range c.Clouds {
		key := strings.TrimSpace(cc.Description)
		if _, dup := clouds[key]; dup {
			return fmt.Errorf("duplicate cloud description %q", key)
		}
		clouds[key] = cc
		if cc.PasswordAge != "" && c.SecretsAgeKeyPath == "" {
			return fmt.Errorf("cloud %q: password_age requires secrets.age_key_path", key)
		}
	}
	agents := make(map[string]struct{}, len(c.Agents))
	for _, ac := range c.Agents {
		name := strings.TrimSpace(ac.Name)
		if _, dup := agents[name]; dup {
			return fmt.Errorf("duplicate agent name %q", name)
		}
		agents[name] = struct{}{}
		if _, ok := clouds[strings.TrimSpace(ac.Cloud)]; !ok {
			return fmt.Errorf("agent %q references unknown cloud %q", name, ac.Cloud)
		}
		if ssh := ac.Launcher.SSH; ssh != nil && ssh.PasswordAge != "" && c.SecretsAgeKeyPath == "" {
			return fmt.Errorf("agent %q: launcher password_age requires secrets.age_key_path", name)
		}
	}
	return nil
}

// Cloud returns the cloud with the given description.
func (c Config) Cloud(description string) (CloudConfig, bool) {
	description = strings.TrimSpace(description)
	for _, cc := range c.Clouds {
		if strings.TrimSpace(cc.Description) == description {
			return cc, true
		}
	}
	return CloudConfig{}, false
}

// Agent returns the agent with the given name.
func (c Config) Agent(name string) (AgentConfig, bool) {
	name = strings.TrimSpace(name)
	for _, ac := range c.Agents {
		if strings.TrimSpace(ac.Name) == name {
			return ac, true
		}
	}
	return AgentConfig{}, false
}

// ProfileOptions converts the cloud entry into profile options, decrypting
// password_age with keyring when set.
func (cc CloudConfig) ProfileOptions(keyring *secrets.Keyring) (cloud.ProfileOptions, error) {
	password, err := resolvePassword(cc.Password, cc.PasswordAge, keyring)
	if err != nil {
		return cloud.ProfileOptions{}, fmt.Errorf("cloud %q: %w", cc.Description, err)
	}
	return cloud.ProfileOptions{
		Description:     cc.Description,
		Host:            cc.Host,
		Organization:    cc.Organization,
		Workspace:       cc.Workspace,
		Configuration:   cc.Configuration,
		Username:        cc.Username,
		Password:        password,
		MaxOnlineAgents: cc.MaxOnlineAgents,
		Timeout:         time.Duration(cc.TimeoutSeconds) * time.Second,
		TLSInsecure:     cc.TLSInsecure,
		TLSCAPath:       cc.TLSCAPath,
	}, nil
}

// ResolvePassword returns the SSH password, decrypting password_age when set.
func (s SSHLauncherConfig) ResolvePassword(keyring *secrets.Keyring) (string, error) {
	return resolvePassword(s.Password, s.PasswordAge, keyring)
}

func resolvePassword(plain, sealed string, keyring *secrets.Keyring) (string, error) {
	if strings.TrimSpace(sealed) == "" {
		return plain, nil
	}
	if keyring == nil {
		return "", errors.New("password_age is set but no age keyring is loaded")
	}
	password, err := keyring.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("decrypt password_age: %w", err)
	}
	return password, nil
}

func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_without", "required_without_all", "required_if":
		return fmt.Sprintf("%s is required (%s %s)", field, e.Tag(), e.Param())
	case "excluded_with":
		return fmt.Sprintf("%s cannot be combined with %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
