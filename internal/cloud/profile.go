// Package cloud implements the Lab Manager connection provider.
//
// ABOUTME: A Profile holds the endpoint, credentials and configuration identifiers of one
// Lab Manager cloud, opens control plane sessions, and owns the online-agent counter that
// enforces the soft cap on concurrently online agents.
//
// ABOUTME: The counter is guarded by a mutex scoped to the profile. The lock is held only for
// the duration of an update, never across a remote call.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/labmgr/labmgr/internal/labmanager"
	"github.com/labmgr/labmgr/internal/secrets"
)

// DefaultWorkspace is used when a profile does not name a workspace.
const DefaultWorkspace = "main"

// ErrCapacity is returned by Reserve when the profile already has MaxOnlineAgents online.
var ErrCapacity = errors.New("online agent limit reached")

// ProfileOptions carries the user supplied settings of a cloud.
type ProfileOptions struct {
	Description     string
	Host            string
	Organization    string
	Workspace       string
	Configuration   string
	Username        string
	Password        string
	MaxOnlineAgents int
	Timeout         time.Duration
	TLSInsecure     bool
	TLSCAPath       string
}

// SessionOpener builds a control plane client for a profile.
type SessionOpener func(ctx context.Context, p *Profile) (labmanager.Client, error)

// Option customizes a Profile.
type Option func(*Profile)

// WithSessionOpener replaces the default SOAP session opener.
func WithSessionOpener(open SessionOpener) Option {
	return func(p *Profile) {
		p.opener = open
	}
}

// Profile is one configured Lab Manager cloud.
type Profile struct {
	description     string
	host            string
	organization    string
	workspace       string
	configuration   string
	username        string
	password        string // scrambled
	maxOnlineAgents int
	timeout         time.Duration
	tlsInsecure     bool
	tlsCAPath       string
	opener          SessionOpener

	mu          sync.Mutex
	onlineCount int
	onlineNames []string
}

// NewProfile builds a profile from options. An empty workspace becomes DefaultWorkspace.
func NewProfile(opts ProfileOptions, options ...Option) *Profile {
	workspace := strings.TrimSpace(opts.Workspace)
	if workspace == "" {
		workspace = DefaultWorkspace
	}
	maxOnline := opts.MaxOnlineAgents
	if maxOnline < 0 {
		maxOnline = 0
	}
	p := &Profile{
		description:     strings.TrimSpace(opts.Description),
		host:            strings.TrimSpace(opts.Host),
		organization:    strings.TrimSpace(opts.Organization),
		workspace:       workspace,
		configuration:   strings.TrimSpace(opts.Configuration),
		username:        strings.TrimSpace(opts.Username),
		password:        secrets.Scramble(opts.Password),
		maxOnlineAgents: maxOnline,
		timeout:         opts.Timeout,
		tlsInsecure:     opts.TLSInsecure,
		tlsCAPath:       strings.TrimSpace(opts.TLSCAPath),
		onlineNames:     []string{},
	}
	for _, option := range options {
		option(p)
	}
	return p
}

func (p *Profile) Description() string   { return p.description }
func (p *Profile) Host() string          { return p.host }
func (p *Profile) Organization() string  { return p.organization }
func (p *Profile) Workspace() string     { return p.workspace }
func (p *Profile) Configuration() string { return p.configuration }
func (p *Profile) Username() string      { return p.username }
func (p *Profile) MaxOnlineAgents() int  { return p.maxOnlineAgents }

// Password returns the descrambled credential.
func (p *Profile) Password() string {
	return secrets.Descramble(p.password)
}

// Timeout returns the transport timeout used for control plane calls.
func (p *Profile) Timeout() time.Duration {
	if p.timeout <= 0 {
		return labmanager.DefaultTimeout
	}
	return p.timeout
}

// Options returns the options the profile was built from, with the credential
// in clear text.
func (p *Profile) Options() ProfileOptions {
	return ProfileOptions{
		Description:     p.description,
		Host:            p.host,
		Organization:    p.organization,
		Workspace:       p.workspace,
		Configuration:   p.configuration,
		Username:        p.username,
		Password:        p.Password(),
		MaxOnlineAgents: p.maxOnlineAgents,
		Timeout:         p.timeout,
		TLSInsecure:     p.tlsInsecure,
		TLSCAPath:       p.tlsCAPath,
	}
}

// OpenSession returns a client bound to the profile's endpoint and credentials.
// It never retries; failures wrap labmanager.ErrConnection.
func (p *Profile) OpenSession(ctx context.Context) (labmanager.Client, error) {
	if p.opener != nil {
		return p.opener(ctx, p)
	}
	return labmanager.NewSOAPClient(p.host, labmanager.Auth{
		Username:     p.username,
		Password:     p.Password(),
		Organization: p.organization,
		Workspace:    p.workspace,
	}, p.Timeout(), p.tlsInsecure, p.tlsCAPath)
}

// MarkAgentOnline counts an agent as online and returns the new count.
func (p *Profile) MarkAgentOnline(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onlineNames = append(p.onlineNames, name)
	p.onlineCount++
	return p.onlineCount
}

// MarkAgentOffline releases one online mark for name and returns the new count.
// Releasing a name that is not online leaves the counter unchanged.
func (p *Profile) MarkAgentOffline(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, online := range p.onlineNames {
		if online == name {
			p.onlineNames = append(p.onlineNames[:i], p.onlineNames[i+1:]...)
			p.onlineCount--
			break
		}
	}
	return p.onlineCount
}

// Reserve marks an agent online unless the soft cap is reached.
// A MaxOnlineAgents of zero means unlimited.
func (p *Profile) Reserve(name string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxOnlineAgents > 0 && p.onlineCount >= p.maxOnlineAgents {
		return p.onlineCount, fmt.Errorf("%w: cloud %q has %d of %d agents online", ErrCapacity, p.description, p.onlineCount, p.maxOnlineAgents)
	}
	p.onlineNames = append(p.onlineNames, name)
	p.onlineCount++
	return p.onlineCount, nil
}

// OnlineAgents returns the current online count.
func (p *Profile) OnlineAgents() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onlineCount
}

// OnlineAgentNames returns a copy of the names currently counted online.
func (p *Profile) OnlineAgentNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.onlineNames))
	copy(out, p.onlineNames)
	return out
}

// IsOnline reports whether name holds at least one online mark.
func (p *Profile) IsOnline(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, online := range p.onlineNames {
		if online == name {
			return true
		}
	}
	return false
}

// HasCapacity reports whether another agent may be brought online.
func (p *Profile) HasCapacity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxOnlineAgents == 0 || p.onlineCount < p.maxOnlineAgents
}

// ResolveConfiguration looks up the profile's configuration through client.
func (p *Profile) ResolveConfiguration(ctx context.Context, client labmanager.Client) (labmanager.Configuration, error) {
	cfg, err := client.GetConfigurationByName(ctx, p.configuration)
	if err != nil {
		return labmanager.Configuration{}, fmt.Errorf("cloud %q: %w", p.description, err)
	}
	return cfg, nil
}

// ListMachineNames returns the names of every machine in the profile's configuration.
func (p *Profile) ListMachineNames(ctx context.Context) ([]string, error) {
	client, err := p.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := p.ResolveConfiguration(ctx, client)
	if err != nil {
		return nil, err
	}
	machines, err := client.ListMachines(ctx, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("list machines in %q: %w", cfg.Name, err)
	}
	names := make([]string, 0, len(machines))
	for _, vm := range machines {
		names = append(names, vm.Name)
	}
	return names, nil
}

func (p *Profile) String() string {
	return fmt.Sprintf("LabManager{Host='%s', Description='%s', Organization='%s', Workspace='%s', Configuration='%s'}",
		p.host, p.description, p.organization, p.workspace, p.configuration)
}
