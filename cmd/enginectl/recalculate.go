package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func recalculateCmd() *cobra.Command {
	var sheet string
	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Flush pending edits and recalculate",
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

			deltas, err := e.Recalculate(ctx, sheet)
			if err != nil {
				return fmt.Errorf("enginectl: recalculate: %w", err)
			}
			for _, d := range deltas {
				v := "null"
				if d.Value != nil {
					v = fmt.Sprintf("%v", d.Value.Scalar)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s r%d c%d = %s\n", d.Sheet, d.Row, d.Col, v)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Sheet name (informational; deltas for every sheet are returned)")
	return cmd
}
