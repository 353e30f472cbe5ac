// ABOUTME: labmgrd serves the Lab Manager cloud: connection profiles, agent bring-up and teardown.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/labmgr/labmgr/internal/buildinfo"
	"github.com/labmgr/labmgr/internal/config"
	"github.com/labmgr/labmgr/internal/daemon"
)

type options struct {
	configPath  string
	listen      string
	showVersion bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stdout, "", log.LstdFlags)
	if err := run(ctx, os.Args[1:], os.Stdout, logger); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stdout io.Writer) (options, error) {
	opts := options{configPath: config.DefaultConfigPath}
	fs := pflag.NewFlagSet("labmgrd", pflag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.StringVarP(&opts.configPath, "config", "c", config.DefaultConfigPath, "path to config file")
	fs.StringVar(&opts.listen, "listen", "", "override the API listen address (host:port)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger.Printf("labmgrd: starting %s", buildinfo.String())
	return daemon.Run(ctx, cfg, logger)
}
