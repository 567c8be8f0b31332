package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect to an in-process worker and round-trip a ping",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCmdConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			log := newLogger(cfg.Log.Level)
			e, err := connectLocalEngine(ctx, log)
			if err != nil {
				return fmt.Errorf("enginectl: connect: %w", err)
			}
			defer e.Terminate()

			reply, err := e.Ping(ctx)
			if err != nil {
				return fmt.Errorf("enginectl: ping: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}
