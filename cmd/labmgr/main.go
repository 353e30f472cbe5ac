// ABOUTME: labmgr is the operator CLI for labmgrd and for offline cloud checks.
// ABOUTME: Daemon commands go over HTTP; check and seal run locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/labmgr/labmgr/internal/buildinfo"
)

const (
	defaultAddr           = "http://127.0.0.1:8780"
	defaultRequestTimeout = 30 * time.Minute
)

const usageText = `labmgr is the CLI for labmgrd.

Usage:
  labmgr --version
  labmgr [--addr URL] [--json] [--timeout DURATION] clouds
  labmgr [--addr URL] [--json] [--timeout DURATION] machines <cloud>
  labmgr [--addr URL] [--json] [--timeout DURATION] test <cloud>
  labmgr [--addr URL] [--json] [--timeout DURATION] agents
  labmgr [--addr URL] [--timeout DURATION] up <agent>
  labmgr [--addr URL] [--timeout DURATION] down <agent>
  labmgr [--addr URL] [--json] [--timeout DURATION] events <agent> [--tail <n>]
  labmgr check [--config PATH] [--cloud <cloud>]
  labmgr seal --recipient <age1...> [--recipient ...]

Global Flags:
  --addr URL      labmgrd API address (default http://127.0.0.1:8780)
  --json          Output json
  --timeout       Request timeout (e.g. 30s, 10m)
`

type globalOptions struct {
	addr        string
	jsonOutput  bool
	showVersion bool
	timeout     time.Duration
}

// cli carries the streams so commands can be exercised in tests.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := c.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (c cli) run(ctx context.Context, args []string) error {
	opts, rest, err := parseGlobal(args)
	if err != nil {
		c.printUsage()
		return err
	}
	if opts.showVersion {
		fmt.Fprintln(c.stdout, buildinfo.String())
		return nil
	}
	if len(rest) == 0 || isHelpToken(rest[0]) {
		c.printUsage()
		return nil
	}
	return c.dispatch(ctx, opts, rest)
}

func parseGlobal(args []string) (globalOptions, []string, error) {
	opts := globalOptions{addr: defaultAddr, timeout: defaultRequestTimeout}
	fs := pflag.NewFlagSet("labmgr", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	fs.StringVar(&opts.addr, "addr", defaultAddr, "labmgrd API address")
	fs.BoolVar(&opts.jsonOutput, "json", false, "output json")
	fs.DurationVar(&opts.timeout, "timeout", defaultRequestTimeout, "request timeout (e.g. 30s, 10m)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	if opts.addr == "" {
		opts.addr = defaultAddr
	}
	return opts, fs.Args(), nil
}

func (c cli) dispatch(ctx context.Context, opts globalOptions, args []string) error {
	client := newAPIClient(opts.addr, opts.timeout)
	switch args[0] {
	case "version":
		fmt.Fprintln(c.stdout, buildinfo.String())
		return nil
	case "clouds":
		return c.runClouds(ctx, client, opts)
	case "machines":
		return c.runMachines(ctx, client, opts, args[1:])
	case "test":
		return c.runTest(ctx, client, opts, args[1:])
	case "agents":
		return c.runAgents(ctx, client, opts)
	case "up":
		return c.runTransition(ctx, client, "launch", args[1:])
	case "down":
		return c.runTransition(ctx, client, "disconnect", args[1:])
	case "events":
		return c.runEvents(ctx, client, opts, args[1:])
	case "check":
		return c.runCheck(ctx, args[1:])
	case "seal":
		return c.runSeal(args[1:])
	default:
		c.printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func isHelpToken(arg string) bool {
	switch arg {
	case "help", "-h", "--help":
		return true
	}
	return false
}

func (c cli) printUsage() {
	_, _ = fmt.Fprint(c.stdout, usageText)
}
