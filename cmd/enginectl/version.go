package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilsonlabs/formulaengine/pkg/store"
)

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Inspect the configured version-history store",
	}
	cmd.AddCommand(
		versionListCmd(),
		versionGetCmd(),
		versionSaveCmd(),
		versionLockCmd(),
		versionDeleteCmd(),
	)
	return cmd
}

func versionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored versions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCmdConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			s, closeStore, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			recs, err := s.ListVersions(ctx)
			if err != nil {
				return fmt.Errorf("enginectl: list versions: %w", err)
			}
			for _, r := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\t%d bytes\n", r.ID, r.Kind, r.TimestampMs, len(r.Snapshot))
			}
			return nil
		},
	}
}

func versionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a version's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCmdConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			s, closeStore, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			rec, err := s.GetVersion(ctx, args[0])
			if err != nil {
				return fmt.Errorf("enginectl: get version: %w", err)
			}
			if rec == nil {
				return fmt.Errorf("enginectl: version %q not found or not yet readable", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id=%s kind=%s timestampMs=%d bytes=%d\n", rec.ID, rec.Kind, rec.TimestampMs, len(rec.Snapshot))
			return nil
		},
	}
}

func versionSaveCmd() *cobra.Command {
	var kind, id, description string
	var timestampMs int64
	cmd := &cobra.Command{
		Use:   "save <snapshot-file>",
		Short: "Save a snapshot file as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCmdConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			s, closeStore, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("enginectl: read snapshot: %w", err)
			}
			if id == "" {
				return fmt.Errorf("enginectl: --id is required")
			}
			if timestampMs == 0 {
				timestampMs = time.Now().UnixMilli()
			}
			rec := store.Record{
				ID:          id,
				Kind:        store.Kind(kind),
				TimestampMs: timestampMs,
				Description: description,
				Snapshot:    data,
			}
			if err := s.SaveVersion(ctx, rec); err != nil {
				return fmt.Errorf("enginectl: save version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Version id (required)")
	cmd.Flags().StringVar(&kind, "kind", string(store.KindSnapshot), "Version kind: snapshot, checkpoint, restore")
	cmd.Flags().StringVar(&description, "description", "", "Free-text description")
	cmd.Flags().Int64Var(&timestampMs, "timestamp-ms", 0, "Timestamp in epoch milliseconds (defaults to now)")
	return cmd
}

func versionLockCmd() *cobra.Command {
	var locked bool
	cmd := &cobra.Command{
		Use:   "lock <id>",
		Short: "Set or clear a checkpoint's locked flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCmdConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			s, closeStore, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := s.UpdateVersion(ctx, args[0], store.UpdateFields{CheckpointLocked: &locked}); err != nil {
				return fmt.Errorf("enginectl: update version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok\n")
			return nil
		},
	}
	cmd.Flags().BoolVar(&locked, "locked", true, "Locked state to set")
	return cmd
}

func versionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCmdConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			s, closeStore, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := s.DeleteVersion(ctx, args[0]); err != nil {
				return fmt.Errorf("enginectl: delete version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok\n")
			return nil
		},
	}
}
