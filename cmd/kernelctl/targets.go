package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fxnlabs/linalg-kernels/fixtures"
	"github.com/fxnlabs/linalg-kernels/internal/config"
	"github.com/fxnlabs/linalg-kernels/internal/customcall"
	"github.com/fxnlabs/linalg-kernels/internal/kernels"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func targetsCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "targets",
		Usage: "List the registered custom call targets",
		Action: func(c *cli.Context) error {
			b, k, err := e.kernels()
			if err != nil {
				return err
			}
			r := customcall.NewRegistry()
			if err := k.Register(r); err != nil {
				return err
			}
			e.log.Debug("registered targets", zap.Strings("targets", r.Names()), zap.String("backend", string(b.Kind)))

			data := make([][]string, 0, len(r.Names()))
			for _, info := range kernels.Describe() {
				if _, ok := r.Lookup(info.Name); !ok {
					continue
				}
				data = append(data, []string{
					info.Name,
					info.Library,
					strconv.Itoa(info.DescriptorSize),
					strings.Join(info.Buffers, ", "),
				})
			}

			fmt.Fprintf(c.App.Writer, "backend: %s (%s)\n", b.Kind, b.Runtime.Name())
			table := tablewriter.NewWriter(c.App.Writer)
			table.SetHeader([]string{"TARGET", "LIBRARY", "DESCRIPTOR", "BUFFERS"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()
			return nil
		},
	}
}

func initCommand() *cli.Command {
	var dir string
	var force bool
	return &cli.Command{
		Name:  "init",
		Usage: "Write the default config.yaml",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Value:       config.GetDefaultConfigHome(),
				Usage:       "Directory to write config.yaml into",
				Destination: &dir,
			},
			&cli.BoolFlag{
				Name:        "force",
				Usage:       "Overwrite an existing config.yaml",
				Destination: &force,
			},
		},
		Action: func(c *cli.Context) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.WriteFile(path, fixtures.ConfigTemplate, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
			return nil
		},
	}
}
