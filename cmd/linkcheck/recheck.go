package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"linkcheck/internal/coordinator"
	"linkcheck/internal/validation"
)

func newRecheckCommand() *cobra.Command {
	var req coordinator.RecheckRequest

	cmd := &cobra.Command{
		Use:   "recheck",
		Short: "Check one URL, or every link of one record, right away",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.URL == "" && (req.SourceTable == "" || req.RecordID == 0) {
				return fmt.Errorf("either --url or --table with --record is required")
			}
			if req.URL != "" {
				if valid, msg := validation.ValidateURL(req.URL); !valid {
					return fmt.Errorf("%s", msg)
				}
			}

			ctx := cmd.Context()
			a, _, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.Log.Sync()

			if req.URL == "" {
				stats, err := a.Coordinator.RecheckRecord(ctx, req.SourceTable, req.RecordID)
				if err != nil {
					return err
				}
				renderStats(cmd.OutOrStdout(), stats)
				return nil
			}

			rec, err := a.Coordinator.RecheckURL(ctx, req)
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), req.URL, rec)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.URL, "url", "", "URL to check")
	cmd.Flags().StringVar(&req.LinkType, "link-type", "external", "link type of the URL")
	cmd.Flags().StringVar(&req.SourceTable, "table", "", "source table of the record")
	cmd.Flags().Int64Var(&req.RecordID, "record", 0, "record id")
	cmd.Flags().Int64Var(&req.PageID, "page", 0, "page id of the record")
	cmd.Flags().StringVar(&req.Field, "field", "", "record field holding the link")
	return cmd
}
