package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wilsonlabs/formulaengine/pkg/proto"
)

func cellCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cell",
		Short: "Read or write a single cell on the in-process engine",
	}
	cmd.AddCommand(getCellCmd(), setCellCmd())
	return cmd
}

func getCellCmd() *cobra.Command {
	var sheet string
	cmd := &cobra.Command{
		Use:   "get <address>",
		Short: "Get a cell's value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCmdConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			e, err := connectLocalEngine(ctx, newLogger(cfg.Log.Level))
			if err != nil {
				return err
			}
			defer e.Terminate()

			res, err := e.GetCell(ctx, sheet, args[0])
			if err != nil {
				return fmt.Errorf("enginectl: get cell: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s!%s = %v\n", res.Sheet, res.Address, res.Value.Scalar)
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Sheet name (defaults to the active sheet)")
	return cmd
}

func setCellCmd() *cobra.Command {
	var sheet string
	cmd := &cobra.Command{
		Use:   "set <address> <value>",
		Short: "Set a cell's scalar value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCmdConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			e, err := connectLocalEngine(ctx, newLogger(cfg.Log.Level))
			if err != nil {
				return err
			}
			defer e.Terminate()

			done := e.SetCell(sheet, args[0], proto.CellValue{Scalar: parseScalar(args[1])})
			if err := <-done; err != nil {
				return fmt.Errorf("enginectl: set cell: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Sheet name (defaults to the active sheet)")
	return cmd
}

// parseScalar interprets a command-line value as a number when
// possible, then as a boolean, otherwise as a plain string, mirroring how a spreadsheet
// cell's literal input is classified.
func parseScalar(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
