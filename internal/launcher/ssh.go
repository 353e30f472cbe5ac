// Package launcher provides the delegate launch steps that bootstrap a build
// agent once its Lab Manager machine is running.
//
// ABOUTME: SSHLauncher connects to the machine over SSH and runs the agent start
// command; it is address-aware and can be rebuilt for a new machine address.
// CommandLauncher runs local commands and ignores the machine address.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/labmgr/labmgr/internal/lifecycle"
)

const (
	defaultSSHPort        = 22
	defaultSSHDialTimeout = 10 * time.Second
)

// SSHConfig configures an SSHLauncher.
type SSHConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKeyPath string
	// HostKeyFingerprint pins the server key (SHA256:...). Empty accepts any host key.
	HostKeyFingerprint string
	StartCommand       string
	StopCommand        string
	PrefixStartCommand string
	SuffixStartCommand string
	DialTimeout        time.Duration
}

// SSHLauncher starts agents over SSH.
type SSHLauncher struct {
	cfg      SSHConfig
	logger   *log.Logger
	channels *sshChannels

	// Dial opens the underlying TCP connection (optional, defaults to net.Dialer).
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

var _ lifecycle.AddressAwareLauncher = (*SSHLauncher)(nil)

// NewSSHLauncher validates cfg and builds a launcher.
func NewSSHLauncher(cfg SSHConfig, logger *log.Logger) (*SSHLauncher, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Username = strings.TrimSpace(cfg.Username)
	if cfg.Host == "" {
		return nil, errors.New("ssh host is required")
	}
	if cfg.Username == "" {
		return nil, errors.New("ssh username is required")
	}
	if cfg.Password == "" && strings.TrimSpace(cfg.PrivateKeyPath) == "" {
		return nil, errors.New("ssh password or private key is required")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultSSHPort
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("ssh port %d out of range", cfg.Port)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultSSHDialTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SSHLauncher{cfg: cfg, logger: logger, channels: newSSHChannels()}, nil
}

// Address returns the configured host.
func (l *SSHLauncher) Address() string {
	return l.cfg.Host
}

// Port returns the configured SSH port.
func (l *SSHLauncher) Port() int {
	return l.cfg.Port
}

// WithAddress returns a copy of the launcher bound to addr. Channels opened by
// either launcher are visible to both so a disconnect through the original
// reaches an agent launched through the copy.
func (l *SSHLauncher) WithAddress(addr string) lifecycle.Launcher {
	clone := *l
	clone.cfg.Host = strings.TrimSpace(addr)
	return &clone
}

func (l *SSHLauncher) LaunchSupported() bool { return true }

// Launch connects to the machine, runs the start command and attaches the SSH
// connection to target as its agent channel.
func (l *SSHLauncher) Launch(ctx context.Context, target lifecycle.Target, out io.Writer) error {
	addr := net.JoinHostPort(l.cfg.Host, strconv.Itoa(l.cfg.Port))
	fmt.Fprintf(out, "Connecting to %s as %s\n", addr, l.cfg.Username)
	client, err := l.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("ssh connect %s: %w", addr, err)
	}
	if cmd := l.startCommand(); cmd != "" {
		fmt.Fprintf(out, "Starting agent %s\n", target.Name())
		if err := runRemote(client, cmd, out); err != nil {
			_ = client.Close()
			return fmt.Errorf("start agent on %s: %w", addr, err)
		}
	}
	ch := &sshChannel{client: client, addr: addr}
	if previous := l.channels.put(target.Name(), ch); previous != nil {
		_ = previous.Close()
	}
	target.SetChannel(ch)
	l.logger.Printf("launcher: agent=%s connected via ssh %s", target.Name(), addr)
	return nil
}

func (l *SSHLauncher) BeforeDisconnect(context.Context, lifecycle.Target, io.Writer) error {
	return nil
}

// Disconnect runs the stop command over the agent's channel and closes it.
func (l *SSHLauncher) Disconnect(_ context.Context, target lifecycle.Target, out io.Writer) error {
	ch := l.channels.take(target.Name())
	target.SetChannel(nil)
	if ch == nil {
		return nil
	}
	var errs []error
	if cmd := strings.TrimSpace(l.cfg.StopCommand); cmd != "" {
		if err := runRemote(ch.client, cmd, out); err != nil {
			errs = append(errs, fmt.Errorf("stop agent on %s: %w", ch.addr, err))
		}
	}
	if err := ch.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close ssh %s: %w", ch.addr, err))
	}
	return errors.Join(errs...)
}

func (l *SSHLauncher) startCommand() string {
	cmd := strings.TrimSpace(l.cfg.StartCommand)
	if cmd == "" {
		return ""
	}
	return l.cfg.PrefixStartCommand + cmd + l.cfg.SuffixStartCommand
}

func (l *SSHLauncher) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if path := strings.TrimSpace(l.cfg.PrivateKeyPath); path != "" {
		signer, err := loadPrivateKey(path)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if l.cfg.Password != "" {
		auth = append(auth, ssh.Password(l.cfg.Password))
	}
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if want := strings.TrimSpace(l.cfg.HostKeyFingerprint); want != "" {
		hostKeyCallback = func(hostname string, _ net.Addr, key ssh.PublicKey) error {
			if got := ssh.FingerprintSHA256(key); got != want {
				return fmt.Errorf("host key mismatch for %s: got %s", hostname, got)
			}
			return nil
		}
	}
	return &ssh.ClientConfig{
		User:            l.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         l.cfg.DialTimeout,
	}, nil
}

func (l *SSHLauncher) dial(ctx context.Context, addr string) (*ssh.Client, error) {
	config, err := l.clientConfig()
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
	defer cancel()
	dial := l.Dial
	if dial == nil {
		dialer := &net.Dialer{}
		dial = dialer.DialContext
	}
	conn, err := dial(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(l.cfg.DialTimeout))
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func runRemote(client *ssh.Client, cmd string, out io.Writer) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer session.Close()
	w := &lockedWriter{w: out}
	session.Stdout = w
	session.Stderr = w
	if err := session.Run(cmd); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("remote command exited with status %d", exitErr.ExitStatus())
		}
		return err
	}
	return nil
}

func loadPrivateKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ssh private key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse ssh private key %s: %w", path, err)
	}
	return signer, nil
}

// sshChannel is the agent channel attached to a target after a successful launch.
type sshChannel struct {
	client *ssh.Client
	addr   string
	once   sync.Once
	err    error
}

func (c *sshChannel) Close() error {
	c.once.Do(func() {
		c.err = c.client.Close()
	})
	return c.err
}

type sshChannels struct {
	mu     sync.Mutex
	byName map[string]*sshChannel
}

func newSSHChannels() *sshChannels {
	return &sshChannels{byName: make(map[string]*sshChannel)}
}

func (s *sshChannels) put(name string, ch *sshChannel) *sshChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.byName[name]
	s.byName[name] = ch
	return previous
}

func (s *sshChannels) take(name string) *sshChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.byName[name]
	delete(s.byName, name)
	return ch
}

// lockedWriter serializes writes from the stdout and stderr copiers of a session.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
