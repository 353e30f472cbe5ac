// ABOUTME: Commands that run without labmgrd: connection checks from the config file and secret sealing.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/labmgr/labmgr/internal/cloud"
	"github.com/labmgr/labmgr/internal/config"
	"github.com/labmgr/labmgr/internal/secrets"
)

// runCheck validates the config file and tests each cloud directly.
func (c cli) runCheck(ctx context.Context, args []string) error {
	fs := newFlagSet("check")
	configPath := fs.StringP("config", "c", config.DefaultConfigPath, "path to config file")
	only := fs.String("cloud", "", "test only this cloud")
	printUsage := func() { fmt.Fprintln(c.stdout, "Usage: labmgr check [--config PATH] [--cloud <cloud>]") }
	if err := parseFlags(fs, args, printUsage); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	var keyring *secrets.Keyring
	if path := strings.TrimSpace(cfg.SecretsAgeKeyPath); path != "" {
		if keyring, err = secrets.LoadKeyring(path); err != nil {
			return err
		}
	}

	clouds := cfg.Clouds
	if name := strings.TrimSpace(*only); name != "" {
		cc, ok := cfg.Cloud(name)
		if !ok {
			return fmt.Errorf("cloud %q is not configured", name)
		}
		clouds = []config.CloudConfig{cc}
	}
	if len(clouds) == 0 {
		fmt.Fprintln(c.stdout, "no clouds configured")
		return nil
	}

	failed := 0
	for _, cc := range clouds {
		opts, err := cc.ProfileOptions(keyring)
		if err != nil {
			return err
		}
		res := cloud.TestConnection(ctx, opts)
		resp := testResponse{OK: res.OK, Message: res.Message}
		if res.Err != nil {
			resp.Details = res.Err.Error()
		}
		if err := c.printTestResult(cc.Description, resp); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d clouds failed the connection test", failed, len(clouds))
	}
	return nil
}

// runSeal encrypts a secret for the given age recipients and prints the armored
// payload for use as password_age. The secret is read without echo from a
// terminal, or from stdin otherwise.
func (c cli) runSeal(args []string) error {
	fs := newFlagSet("seal")
	recipients := fs.StringArrayP("recipient", "r", nil, "age recipient (repeatable)")
	printUsage := func() { fmt.Fprintln(c.stdout, "Usage: labmgr seal --recipient <age1...> [--recipient ...]") }
	if err := parseFlags(fs, args, printUsage); err != nil {
		return err
	}
	if len(*recipients) == 0 {
		printUsage()
		return fmt.Errorf("at least one --recipient is required")
	}

	secret, err := c.readSecret()
	if err != nil {
		return err
	}
	if secret == "" {
		return fmt.Errorf("secret is empty")
	}
	sealed, err := secrets.Seal(secret, *recipients)
	if err != nil {
		return err
	}
	fmt.Fprint(c.stdout, sealed)
	if !strings.HasSuffix(sealed, "\n") {
		fmt.Fprintln(c.stdout)
	}
	return nil
}

func (c cli) readSecret() (string, error) {
	if f, ok := c.stdin.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		fmt.Fprint(c.stderr, "Secret: ")
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.stderr)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(io.LimitReader(c.stdin, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
