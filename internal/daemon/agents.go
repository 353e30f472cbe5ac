package daemon

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/labmgr/labmgr/internal/lifecycle"
	"github.com/labmgr/labmgr/internal/models"
)

var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrLaunchNotSupported = errors.New("agent cannot be launched on demand")
	ErrAgentOnline        = errors.New("agent is already online")
)

// agentTarget is the lifecycle.Target for one configured agent. The channel
// is set by the delegate launcher and cleared on disconnect.
type agentTarget struct {
	name string

	mu      sync.Mutex
	channel io.Closer
}

var _ lifecycle.Target = (*agentTarget)(nil)

func (t *agentTarget) Name() string { return t.name }

func (t *agentTarget) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel != nil
}

func (t *agentTarget) SetChannel(ch io.Closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = ch
}

// closeChannel closes and clears the channel, if any.
func (t *agentTarget) closeChannel() error {
	t.mu.Lock()
	ch := t.channel
	t.channel = nil
	t.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Close()
}

// managedAgent pairs an agent record with its controller. op serializes
// bring-up and teardown of the same agent; different agents never share a lock.
type managedAgent struct {
	record     models.Agent
	controller *lifecycle.Controller
	target     *agentTarget
	op         sync.Mutex
}

func (a *managedAgent) snapshot() models.Agent {
	rec := a.record
	rec.Online = a.target.Connected()
	return rec
}

// agentTable is the fixed set of agents loaded from configuration.
type agentTable struct {
	byName map[string]*managedAgent
}

func newAgentTable() *agentTable {
	return &agentTable{byName: make(map[string]*managedAgent)}
}

func (t *agentTable) add(a *managedAgent) error {
	if _, exists := t.byName[a.record.Name]; exists {
		return fmt.Errorf("agent %q already registered", a.record.Name)
	}
	t.byName[a.record.Name] = a
	return nil
}

func (t *agentTable) get(name string) (*managedAgent, error) {
	a, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}
	return a, nil
}

func (t *agentTable) list() []*managedAgent {
	out := make([]*managedAgent, 0, len(t.byName))
	for _, a := range t.byName {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].record.Name < out[j].record.Name })
	return out
}
