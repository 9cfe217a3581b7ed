package main

import (
	"encoding/hex"
	"fmt"

	"github.com/fxnlabs/linalg-kernels/internal/dtype"
	"github.com/fxnlabs/linalg-kernels/internal/kernels"
	"github.com/urfave/cli/v2"
)

func descriptorFlags(extra ...cli.Flag) []cli.Flag {
	return append(extra,
		&cli.StringFlag{Name: "type", Value: "float32", Usage: "Element type: float32, float64, complex64 or complex128"},
		&cli.IntFlag{Name: "batch", Value: 1, Usage: "Number of matrices"},
		&cli.IntFlag{Name: "n", Value: 1, Usage: "Columns of B for trsm, order of A otherwise"},
	)
}

func descriptorCommand() *cli.Command {
	return &cli.Command{
		Name:  "descriptor",
		Usage: "Build the opaque descriptor of a call and print it in hex",
		Subcommands: []*cli.Command{
			{
				Name:  "trsm",
				Usage: "Batched triangular solve",
				Flags: descriptorFlags(
					&cli.IntFlag{Name: "m", Value: 1, Usage: "Rows of B"},
					&cli.BoolFlag{Name: "left", Value: true, Usage: "Solve op(A) X = B instead of X op(A) = B"},
					&cli.BoolFlag{Name: "lower", Value: true, Usage: "A is lower triangular"},
					&cli.BoolFlag{Name: "trans", Usage: "Transpose A"},
					&cli.BoolFlag{Name: "conj", Usage: "Conjugate A; requires --trans"},
					&cli.BoolFlag{Name: "unit", Usage: "A has a unit diagonal"},
				),
				Action: func(c *cli.Context) error {
					t, err := dtype.Parse(c.String("type"))
					if err != nil {
						return err
					}
					lwork, opaque, err := kernels.BuildTrsmBatchedDescriptor(t, c.Int("batch"), c.Int("m"), c.Int("n"),
						c.Bool("left"), c.Bool("lower"), c.Bool("trans"), c.Bool("conj"), c.Bool("unit"))
					if err != nil {
						return err
					}
					return printDescriptor(c, kernels.TrsmBatchedTarget, lwork, opaque)
				},
			},
			{
				Name:  "getrf",
				Usage: "Batched LU factorization",
				Flags: descriptorFlags(),
				Action: func(c *cli.Context) error {
					t, err := dtype.Parse(c.String("type"))
					if err != nil {
						return err
					}
					lwork, opaque, err := kernels.BuildGetrfBatchedDescriptor(t, c.Int("batch"), c.Int("n"))
					if err != nil {
						return err
					}
					return printDescriptor(c, kernels.GetrfBatchedTarget, lwork, opaque)
				},
			},
			{
				Name:  "potrf",
				Usage: "Batched Cholesky factorization",
				Flags: descriptorFlags(
					&cli.BoolFlag{Name: "lower", Value: true, Usage: "Factor the lower triangle"},
				),
				Action: func(c *cli.Context) error {
					t, err := dtype.Parse(c.String("type"))
					if err != nil {
						return err
					}
					lwork, opaque, err := kernels.BuildPotrfBatchedDescriptor(t, c.Bool("lower"), c.Int("batch"), c.Int("n"))
					if err != nil {
						return err
					}
					return printDescriptor(c, kernels.PotrfBatchedTarget, lwork, opaque)
				},
			},
		},
	}
}

func printDescriptor(c *cli.Context, target string, lwork int, opaque []byte) error {
	w := c.App.Writer
	fmt.Fprintf(w, "target: %s\n", target)
	fmt.Fprintf(w, "lwork:  %d\n", lwork)
	fmt.Fprintf(w, "opaque: %s\n", hex.EncodeToString(opaque))
	return nil
}
