package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"scopekeeper/api/internal/ingest"
)

func ingestCmd() *cobra.Command {
	var (
		workspaceID string
		ownerID     string
		createdBy   string
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Analyze a PDF, DOCX, TXT or MD document and store the extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			if workspaceID == "" {
				return fmt.Errorf("--workspace is required")
			}
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				if rt.service.Ingest == nil {
					return fmt.Errorf("document analysis is not configured (set analysis.api_key)")
				}
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()

				result, err := rt.service.Ingest.Run(ctx, ingest.Request{
					OwnerID:     ownerID,
					WorkspaceID: workspaceID,
					OrgID:       org,
					CreatedBy:   createdBy,
					Filename:    filepath.Base(args[0]),
					Body:        file,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVarP(&workspaceID, "workspace", "w", "", "workspace id")
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner id to reprocess (a new id is generated when empty)")
	cmd.Flags().StringVar(&createdBy, "created-by", "cli", "actor recorded on the rows")
	return cmd
}
