package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"

	"github.com/labmgr/labmgr/internal/lifecycle"
)

// agentPlaceholder in command arguments is replaced by the agent name.
const agentPlaceholder = "{agent}"

// CommandRunner executes a local command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		fullCmd := strings.Join(append([]string{name}, args...), " ")
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg != "" {
			return "", fmt.Errorf("command %s failed: %w: %s", fullCmd, err, errMsg)
		}
		return "", fmt.Errorf("command %s failed: %w", fullCmd, err)
	}
	return stdout.String(), nil
}

// CommandConfig configures a CommandLauncher. Commands are argv lists.
type CommandConfig struct {
	Start []string
	Stop  []string
}

// CommandLauncher starts agents with local commands. It does not track machine addresses.
type CommandLauncher struct {
	cfg    CommandConfig
	logger *log.Logger

	Runner CommandRunner // Command execution strategy (defaults to ExecRunner)
}

var _ lifecycle.Launcher = (*CommandLauncher)(nil)

// NewCommandLauncher validates cfg and builds a launcher.
func NewCommandLauncher(cfg CommandConfig, logger *log.Logger) (*CommandLauncher, error) {
	if len(cfg.Start) == 0 || strings.TrimSpace(cfg.Start[0]) == "" {
		return nil, errors.New("start command is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CommandLauncher{cfg: cfg, logger: logger}, nil
}

func (l *CommandLauncher) LaunchSupported() bool { return true }

// Launch runs the start command and, on success, marks the target connected.
func (l *CommandLauncher) Launch(ctx context.Context, target lifecycle.Target, out io.Writer) error {
	output, err := l.run(ctx, l.cfg.Start, target.Name())
	if output != "" {
		_, _ = io.WriteString(out, output)
	}
	if err != nil {
		return err
	}
	target.SetChannel(commandChannel{})
	l.logger.Printf("launcher: agent=%s started by local command", target.Name())
	return nil
}

func (l *CommandLauncher) BeforeDisconnect(context.Context, lifecycle.Target, io.Writer) error {
	return nil
}

// Disconnect runs the stop command, if any, and detaches the target's channel.
func (l *CommandLauncher) Disconnect(ctx context.Context, target lifecycle.Target, out io.Writer) error {
	target.SetChannel(nil)
	if len(l.cfg.Stop) == 0 {
		return nil
	}
	output, err := l.run(ctx, l.cfg.Stop, target.Name())
	if output != "" {
		_, _ = io.WriteString(out, output)
	}
	return err
}

func (l *CommandLauncher) run(ctx context.Context, argv []string, agent string) (string, error) {
	args := make([]string, len(argv))
	for i, arg := range argv {
		args[i] = strings.ReplaceAll(arg, agentPlaceholder, agent)
	}
	runner := l.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	return runner.Run(ctx, args[0], args[1:]...)
}

// commandChannel marks a target connected; the agent process is owned by the start command.
type commandChannel struct{}

func (commandChannel) Close() error { return nil }
