package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

var errHelp = errors.New("help requested")

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string, usage func()) error {
	if err := fs.Parse(args); err != nil {
		usage()
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return err
	}
	return nil
}

// singleArg parses flags and requires exactly one positional argument.
func (c cli) singleArg(fs *pflag.FlagSet, args []string, usage string) (string, error) {
	printUsage := func() { fmt.Fprintln(c.stdout, "Usage: "+usage) }
	if err := parseFlags(fs, args, printUsage); err != nil {
		return "", err
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		printUsage()
		return "", fmt.Errorf("expected exactly one argument")
	}
	return strings.TrimSpace(fs.Arg(0)), nil
}

func (c cli) runClouds(ctx context.Context, client *apiClient, opts globalOptions) error {
	payload, err := client.doJSON(ctx, http.MethodGet, client.endpoint("clouds"))
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return prettyPrintJSON(c.stdout, payload)
	}
	var clouds []cloudResponse
	if err := json.Unmarshal(payload, &clouds); err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "CLOUD\tHOST\tORGANIZATION\tCONFIGURATION\tONLINE")
	for _, cl := range clouds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", cl.Description, cl.Host, cl.Organization, cl.Configuration, formatCapacity(cl.OnlineAgents, cl.MaxOnlineAgents))
	}
	return w.Flush()
}

func formatCapacity(online, max int) string {
	if max <= 0 {
		return strconv.Itoa(online) + "/unlimited"
	}
	return fmt.Sprintf("%d/%d", online, max)
}

func (c cli) runMachines(ctx context.Context, client *apiClient, opts globalOptions, args []string) error {
	cloudName, err := c.singleArg(newFlagSet("machines"), args, "labmgr machines <cloud>")
	if err != nil {
		return err
	}
	payload, err := client.doJSON(ctx, http.MethodGet, client.endpoint("clouds", cloudName, "machines"))
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return prettyPrintJSON(c.stdout, payload)
	}
	var resp machinesResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	for _, name := range resp.Machines {
		fmt.Fprintln(c.stdout, name)
	}
	return nil
}

func (c cli) runTest(ctx context.Context, client *apiClient, opts globalOptions, args []string) error {
	cloudName, err := c.singleArg(newFlagSet("test"), args, "labmgr test <cloud>")
	if err != nil {
		return err
	}
	payload, err := client.doJSON(ctx, http.MethodPost, client.endpoint("clouds", cloudName, "test"))
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return prettyPrintJSON(c.stdout, payload)
	}
	var resp testResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	return c.printTestResult(cloudName, resp)
}

func (c cli) printTestResult(cloudName string, resp testResponse) error {
	if resp.OK {
		fmt.Fprintf(c.stdout, "%s: %s\n", cloudName, resp.Message)
		return nil
	}
	fmt.Fprintf(c.stdout, "%s: %s\n", cloudName, resp.Message)
	if resp.Details != "" {
		fmt.Fprintf(c.stdout, "  %s\n", resp.Details)
	}
	return fmt.Errorf("cloud %q failed connection test", cloudName)
}

func (c cli) runAgents(ctx context.Context, client *apiClient, opts globalOptions) error {
	payload, err := client.doJSON(ctx, http.MethodGet, client.endpoint("agents"))
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return prettyPrintJSON(c.stdout, payload)
	}
	var agents []agentResponse
	if err := json.Unmarshal(payload, &agents); err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tCLOUD\tVM\tIDLE ACTION\tLAUNCHER\tSTATUS")
	for _, a := range agents {
		status := "offline"
		if a.Online {
			status = "online"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", a.Name, a.Cloud, a.VMName, a.IdleAction, a.Launcher, status)
	}
	return w.Flush()
}

// runTransition posts launch or disconnect and streams the transcript.
func (c cli) runTransition(ctx context.Context, client *apiClient, verb string, args []string) error {
	usage := "labmgr up <agent>"
	if verb == "disconnect" {
		usage = "labmgr down <agent>"
	}
	agent, err := c.singleArg(newFlagSet(verb), args, usage)
	if err != nil {
		return err
	}
	return client.stream(ctx, http.MethodPost, client.endpoint("agents", agent, verb), c.stdout)
}

func (c cli) runEvents(ctx context.Context, client *apiClient, opts globalOptions, args []string) error {
	fs := newFlagSet("events")
	tail := fs.Int("tail", 50, "number of most recent events")
	agent, err := c.singleArg(fs, args, "labmgr events <agent> [--tail <n>]")
	if err != nil {
		return err
	}
	if *tail <= 0 {
		return fmt.Errorf("--tail must be positive")
	}
	target := client.endpoint("agents", agent, "events") + "?tail=" + strconv.Itoa(*tail)
	payload, err := client.doJSON(ctx, http.MethodGet, target)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return prettyPrintJSON(c.stdout, payload)
	}
	var resp eventsResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	if len(resp.Events) == 0 {
		fmt.Fprintf(c.stdout, "no events for %s\n", resp.Agent)
		return nil
	}
	for _, ev := range resp.Events {
		line := ev.Timestamp + " " + ev.Kind
		if ev.Machine != "" {
			line += " machine=" + ev.Machine
		}
		if ev.Action != "" {
			line += " action=" + ev.Action
		}
		if ev.Message != "" {
			line += " " + ev.Message
		}
		fmt.Fprintln(c.stdout, line)
	}
	return nil
}

func prettyPrintJSON(w io.Writer, payload []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, payload, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err := w.Write(out.Bytes())
	return err
}
