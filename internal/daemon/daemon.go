// Package daemon runs labmgrd: it owns the configured clouds and agents,
// serves the HTTP API that launches and disconnects agents, and exports
// Prometheus metrics.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labmgr/labmgr/internal/cloud"
	"github.com/labmgr/labmgr/internal/config"
	"github.com/labmgr/labmgr/internal/db"
	"github.com/labmgr/labmgr/internal/lifecycle"
	"github.com/labmgr/labmgr/internal/secrets"
)

const shutdownTimeout = 5 * time.Second

// Options customizes NewService. Zero values select production behavior.
type Options struct {
	Logger  *log.Logger
	Keyring *secrets.Keyring
	// ProfileOptions are applied to every cloud profile (for example a session opener).
	ProfileOptions []cloud.Option
	// NewDelegate builds launch delegates; defaults to NewDelegateFactory.
	NewDelegate DelegateFactory
	// Sleep replaces the controllers' wait (launch and revert delays).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Service holds the clouds, agents and HTTP servers of labmgrd.
type Service struct {
	cfg      config.Config
	registry *cloud.Registry
	agents   *agentTable
	store    *db.Store
	metrics  *Metrics
	logger   *log.Logger
	handler  http.Handler
}

// Run loads secrets, opens the journal, builds the service and serves until
// ctx is canceled.
func Run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	checkPermissions(logger, cfg.ConfigPath)
	var keyring *secrets.Keyring
	if path := strings.TrimSpace(cfg.SecretsAgeKeyPath); path != "" {
		checkPermissions(logger, path)
		k, err := secrets.LoadKeyring(path)
		if err != nil {
			return err
		}
		keyring = k
	}
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	service, err := NewService(cfg, store, Options{Logger: logger, Keyring: keyring})
	if err != nil {
		_ = store.Close()
		return err
	}
	logger.Printf("labmgrd: loaded %d clouds and %d agents from %s", len(cfg.Clouds), len(cfg.Agents), cfg.ConfigPath)
	return service.Serve(ctx)
}

func checkPermissions(logger *log.Logger, path string) {
	warn, err := config.CheckSecretFilePermissions(path)
	if err != nil {
		logger.Printf("labmgrd: warning: %v", err)
		return
	}
	if warn != "" {
		logger.Printf("labmgrd: warning: %s", warn)
	}
}

// NewService builds profiles, agents and their controllers. It does not bind
// listeners.
func NewService(cfg config.Config, store *db.Store, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	registry, err := BuildRegistry(cfg, opts.Keyring, opts.ProfileOptions...)
	if err != nil {
		return nil, err
	}
	newDelegate := opts.NewDelegate
	if newDelegate == nil {
		newDelegate = NewDelegateFactory(opts.Keyring, logger)
	}
	metrics := NewMetrics()
	agents := newAgentTable()
	for _, ac := range cfg.Agents {
		delegate, err := newDelegate(ac)
		if err != nil {
			return nil, err
		}
		controller := lifecycle.NewController(ControllerConfig(ac), registry, delegate, logger)
		controller.Metrics = metrics
		if store != nil {
			controller.Recorder = store
		}
		if opts.Sleep != nil {
			controller.Sleep = opts.Sleep
		}
		record := AgentRecord(ac)
		if err := agents.add(&managedAgent{
			record:     record,
			controller: controller,
			target:     &agentTarget{name: record.Name},
		}); err != nil {
			return nil, err
		}
	}
	for _, p := range registry.List() {
		metrics.SetOnlineAgents(p.Description(), 0)
	}
	s := &Service{
		cfg:      cfg,
		registry: registry,
		agents:   agents,
		store:    store,
		metrics:  metrics,
		logger:   logger,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the HTTP API handler.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Registry returns the cloud profiles.
func (s *Service) Registry() *cloud.Registry {
	return s.registry
}

// Launch reserves the agent on its cloud and brings its machine up. The
// transcript is written to out.
func (s *Service) Launch(ctx context.Context, name string, out io.Writer) error {
	agent, err := s.agents.get(name)
	if err != nil {
		return err
	}
	profile, err := s.registry.Lookup(agent.record.Cloud)
	if err != nil {
		return err
	}
	if !agent.controller.LaunchSupported() {
		s.metrics.IncLaunchRejected(profile.Description(), "unsupported")
		return fmt.Errorf("%w: %q", ErrLaunchNotSupported, name)
	}

	agent.op.Lock()
	defer agent.op.Unlock()
	if agent.target.Connected() {
		return fmt.Errorf("%w: %q", ErrAgentOnline, name)
	}
	if _, err := profile.Reserve(agent.record.Name); err != nil {
		s.metrics.IncLaunchRejected(profile.Description(), "capacity")
		return err
	}
	s.metrics.SetOnlineAgents(profile.Description(), profile.OnlineAgents())
	defer func() {
		s.metrics.SetOnlineAgents(profile.Description(), profile.OnlineAgents())
	}()
	return agent.controller.BringUp(ctx, agent.target, out)
}

// Disconnect tears the agent down. It always completes and reports failures
// in the transcript only.
func (s *Service) Disconnect(ctx context.Context, name string, out io.Writer) error {
	agent, err := s.agents.get(name)
	if err != nil {
		return err
	}
	agent.op.Lock()
	defer agent.op.Unlock()
	if err := agent.controller.BeforeDisconnect(ctx, agent.target, out); err != nil {
		s.logger.Printf("labmgrd: agent=%s before-disconnect failed: %v", name, err)
	}
	agent.controller.TearDown(ctx, agent.target, out)
	if err := agent.target.closeChannel(); err != nil {
		s.logger.Printf("labmgrd: agent=%s close channel: %v", name, err)
	}
	if profile, err := s.registry.Lookup(agent.record.Cloud); err == nil {
		s.metrics.SetOnlineAgents(profile.Description(), profile.OnlineAgents())
	}
	return nil
}

// Serve binds the API listener, and the metrics listener when configured, and
// blocks until ctx is canceled or a listener fails.
func (s *Service) Serve(ctx context.Context) error {
	servers := []*http.Server{{
		Addr:              s.cfg.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}}
	if strings.TrimSpace(s.cfg.MetricsListen) != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:              s.cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}
	listeners := make([]net.Listener, 0, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, open := range listeners {
				_ = open.Close()
			}
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		listeners = append(listeners, ln)
		s.logger.Printf("labmgrd: listening on %s", ln.Addr())
	}

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	NewJournalPruner(s.store, s.cfg.JournalRetention, s.logger).Start(pruneCtx)

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		go func(srv *http.Server, ln net.Listener) { errCh <- srv.Serve(ln) }(srv, listeners[i])
	}

	remaining := len(servers)
	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		remaining--
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	stopPrune()
	s.shutdown(servers)
	for i := 0; i < remaining; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) && serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

func (s *Service) shutdown(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(ctx)
	}
	for _, agent := range s.agents.list() {
		if agent.target.Connected() {
			s.logger.Printf("labmgrd: agent=%s still online at shutdown; machine left running", agent.record.Name)
		}
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}
