package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <owner-id>",
		Short: "Print the reconstructed extraction of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				ext, err := rt.service.Extractions.GetExtraction(ctx, args[0], org)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ext)
			})
		},
	}
}

func viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <workspace-id> <business_requirements|risk_log|dashboard>",
		Short: "Print a consolidated workspace view",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				view, err := rt.service.Extractions.GetConsolidatedView(ctx, args[0], org, args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func withRuntime(fn func(ctx context.Context, rt *runtime) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	rt, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
