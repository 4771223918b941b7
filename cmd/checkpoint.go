package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset the stored crawl checkpoint",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the checkpoint for the configured category as JSON",
		RunE:  runCheckpointShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Discard the checkpoint so the next crawl starts from page 1",
		RunE:  runCheckpointReset,
	})
	return cmd
}

type checkpointView struct {
	Category string `json:"category"`
	Cursor   *int   `json:"cursor"`
	Page     int    `json:"page"`
}

func runCheckpointShow(cmd *cobra.Command, _ []string) error {
	services, err := resolveServices(cmd.Context())
	if err != nil {
		return err
	}
	store, err := services.Checkpoints(cmd.Context())
	if err != nil {
		return err
	}
	cp := store.Get(cmd.Context())
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(checkpointView{Category: services.Config().Crawler.Category, Cursor: cp.Cursor, Page: cp.Page}); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return nil
}

func runCheckpointReset(cmd *cobra.Command, _ []string) error {
	services, err := resolveServices(cmd.Context())
	if err != nil {
		return err
	}
	store, err := services.Checkpoints(cmd.Context())
	if err != nil {
		return err
	}
	if err := store.Reset(cmd.Context()); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "checkpoint for %s reset\n", services.Config().Crawler.Category)
	return nil
}
