package main

import (
	"fmt"
	"os"

	"github.com/fxnlabs/linalg-kernels/internal/backend"
	"github.com/fxnlabs/linalg-kernels/internal/config"
	"github.com/fxnlabs/linalg-kernels/internal/kernels"
	"github.com/fxnlabs/linalg-kernels/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// env is filled in by the app's Before hook and shared by every command.
type env struct {
	cfg *config.Config
	log *zap.Logger
}

// kernels builds the configured backend and the kernels running on it.
func (e *env) kernels() (*backend.Backend, *kernels.Kernels, error) {
	b, err := backend.New(e.cfg.Backend.Kind, e.log)
	if err != nil {
		return nil, nil, err
	}
	return b, kernels.New(b.Runtime, b.BLAS, b.Solver, e.cfg.Backend.Staging, e.log), nil
}

func newApp() *cli.App {
	e := &env{}
	var configPath, kind, staging, verbosity string

	return &cli.App{
		Name:  "kernelctl",
		Usage: "Inspect and exercise the batched linear algebra custom call targets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Value:       config.DefaultConfigPath(),
				Usage:       "Path to config.yaml or the directory holding it",
				EnvVars:     []string{"KERNELCTL_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "backend",
				Usage:       "Override backend.kind (auto, host or cuda)",
				Destination: &kind,
			},
			&cli.StringFlag{
				Name:        "staging",
				Usage:       "Override backend.staging (synchronize or deferred)",
				Destination: &staging,
			},
			&cli.StringFlag{
				Name:        "verbosity",
				Usage:       "Override logger.verbosity",
				Destination: &verbosity,
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if kind != "" {
				cfg.Backend.Kind = backend.Kind(kind)
			}
			if staging != "" {
				cfg.Backend.Staging = kernels.StagingPolicy(staging)
			}
			if verbosity != "" {
				cfg.Logger.Verbosity = verbosity
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			zapLogger, err := logger.New(cfg.Logger.Verbosity, cfg.Logger.Encoding)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(zapLogger)
			e.cfg = cfg
			e.log = zapLogger.Named("kernelctl")
			return nil
		},
		After: func(c *cli.Context) error {
			if e.log != nil {
				_ = e.log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			initCommand(),
			targetsCommand(e),
			descriptorCommand(),
			selftestCommand(e),
			serveCommand(e),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		zap.L().Error("kernelctl failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
