package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"linkcheck/internal/checker"
	"linkcheck/internal/coordinator"
	"linkcheck/internal/validation"
)

func newCheckCommand() *cobra.Command {
	var (
		pages          string
		linkTypes      string
		noCache        bool
		noCacheOnError bool
		noCrawlDelay   bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one checking pass and print its statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pageIDs, ok := validation.ParseIDList(pages)
			if !ok {
				return fmt.Errorf("--pages must be a comma-separated list of ids")
			}
			types := splitList(linkTypes)
			for _, lt := range types {
				if !validation.ValidateLinkType(lt) {
					return fmt.Errorf("invalid link type %q", lt)
				}
			}

			var flags checker.Flags
			if noCache {
				flags |= checker.NoCache
			}
			if noCacheOnError {
				flags |= checker.NoCacheOnError
			}
			if noCrawlDelay {
				flags |= checker.NoCrawlDelay
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, seeds, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.Log.Sync()

			if err := a.SeedExclusions(ctx, seeds); err != nil {
				return err
			}

			stats, err := a.Scheduler.RunNow(ctx, coordinator.PassRequest{PageIDs: pageIDs, LinkTypes: types, Flags: flags})
			if stats != nil {
				renderStats(cmd.OutOrStdout(), stats)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&pages, "pages", "", "comma-separated page ids (default all pages)")
	cmd.Flags().StringVar(&linkTypes, "link-types", "", "comma-separated link types (default all registered)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "ignore cached results")
	cmd.Flags().BoolVar(&noCacheOnError, "no-cache-on-error", false, "ignore cached results that were errors")
	cmd.Flags().BoolVar(&noCrawlDelay, "no-crawl-delay", false, "do not wait between checks of the same domain")
	return cmd
}
