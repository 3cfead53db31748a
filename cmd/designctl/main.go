// designctl serves a remote structure-design engine's commands, trajectory
// playback and script sessions over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/designctl/internal/config"
	"github.com/danmuck/designctl/internal/observability"
	"github.com/danmuck/designctl/internal/service"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "designctl: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	listen     string
	engine     string
	pdb        string
	xml        string
	initPath   string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("designctl", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to a TOML config file")
	fs.StringVar(&opts.listen, "listen", "", "HTTP listen address (overrides listen_addr)")
	fs.StringVar(&opts.engine, "engine", "", "engine host:port (overrides engine.address)")
	fs.StringVar(&opts.pdb, "pdb", "", "PDB file to seed an immediate script run")
	fs.StringVar(&opts.xml, "xml", "", "RosettaScripts XML file for the immediate run")
	fs.StringVar(&opts.initPath, "init", "", "write a default config to this path and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if (opts.pdb == "") != (opts.xml == "") {
		return options{}, errors.New("--pdb and --xml must be given together")
	}
	return opts, nil
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(opts.listen); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(opts.engine); v != "" {
		cfg.Engine.Address = v
	}
	return cfg, config.Validate(cfg)
}

func loadAutorun(opts options) (*service.Autorun, error) {
	if opts.pdb == "" {
		return nil, nil
	}
	pdb, err := os.ReadFile(opts.pdb)
	if err != nil {
		return nil, fmt.Errorf("read pdb: %w", err)
	}
	xml, err := os.ReadFile(opts.xml)
	if err != nil {
		return nil, fmt.Errorf("read xml: %w", err)
	}
	return &service.Autorun{Snapshot: string(pdb), Script: string(xml)}, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.initPath != "" {
		return config.WriteTemplate(opts.initPath, false)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	auto, err := loadAutorun(opts)
	if err != nil {
		return err
	}

	logger := observability.InitLogger(cfg.Name)
	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str("engine", cfg.Engine.Address).
		Bool("autorun", auto != nil).
		Msg("designctl starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return service.New(cfg).Run(ctx, auto)
}
