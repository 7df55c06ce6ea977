package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/souq-assistant/internal/janitor"
	"github.com/ashureev/souq-assistant/internal/kb"
)

func newDraftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Inspect or discard the stored draft",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the draft as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openConsole()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			turn, err := rt.svc.Snapshot(cmd.Context(), userID())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(turn)
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Discard the draft",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openConsole()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			turn, err := rt.svc.Reset(cmd.Context(), userID())
			if err != nil {
				return err
			}
			printTurn(cmd.OutOrStdout(), turn)
			return nil
		},
	}

	cmd.AddCommand(show, reset)
	return cmd
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete stale drafts and expired idempotency records once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openConsole()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			drafts, records := janitor.Sweep(cmd.Context(), rt.repo, time.Now(), viper.GetDuration("draft_ttl"))
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d drafts, %d idempotency records\n", drafts, records)
			return nil
		},
	}
}

func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Knowledge base tools",
	}
	check := &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a catalog file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("kb")
			if len(args) == 1 {
				path = args[0]
			}
			catalog, err := kb.Load(path, kb.DefaultThreshold)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d categories, %d cities, %d faq entries\n",
				len(catalog.Categories), len(catalog.Cities), len(catalog.FAQ))
			return nil
		},
	}
	cmd.AddCommand(check)
	return cmd
}
