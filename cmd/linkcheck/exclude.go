package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"linkcheck/internal/db"
	"linkcheck/internal/models"
	"linkcheck/internal/validation"
)

func newExcludeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exclude",
		Short: "Manage exclusion rules",
	}
	cmd.AddCommand(newExcludeAddCommand(), newExcludeListCommand(), newExcludeRemoveCommand())
	return cmd
}

func newExcludeAddCommand() *cobra.Command {
	var (
		match    string
		linkType string
		scope    int64
		reason   string
	)

	cmd := &cobra.Command{
		Use:   "add <target>",
		Short: "Exempt a URL (--match exact) or a domain (--match domain) from checking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mt, err := models.ParseMatchType(match)
			if err != nil {
				return err
			}
			target := strings.TrimSpace(args[0])
			if valid, msg := validation.ValidateExclusionTarget(mt, target); !valid {
				return fmt.Errorf("%s", msg)
			}
			if mt == models.MatchDomain {
				target = strings.ToLower(target)
			}

			ctx := cmd.Context()
			a, _, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.Log.Sync()

			rule := &models.ExclusionRule{MatchType: mt, LinkType: linkType, Target: target, ScopePageID: scope, Reason: reason}
			if err := a.DB.CreateExclusionRule(ctx, rule); err != nil {
				return err
			}
			removed, err := a.Coordinator.ApplyExclusion(ctx, *rule)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added rule %s, removed %d stored results\n", rule.ID, removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&match, "match", string(models.MatchDomain), "exact or domain")
	cmd.Flags().StringVar(&linkType, "link-type", "external", "link type the rule applies to")
	cmd.Flags().Int64Var(&scope, "scope", 0, "page id the rule is stored under")
	cmd.Flags().StringVar(&reason, "reason", "", "why the target is excluded")
	return cmd
}

func newExcludeListCommand() *cobra.Command {
	var linkType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List exclusion rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, _, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.Log.Sync()

			rules, err := a.DB.ListExclusionRules(ctx, db.ExclusionFilter{LinkType: linkType})
			if err != nil {
				return err
			}
			renderRules(cmd.OutOrStdout(), rules)
			return nil
		},
	}

	cmd.Flags().StringVar(&linkType, "link-type", "", "only rules for this link type")
	return cmd
}

func newExcludeRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete an exclusion rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid rule id: %w", err)
			}

			ctx := cmd.Context()
			a, _, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.Log.Sync()

			if err := a.DB.DeleteExclusionRule(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed rule %s\n", id)
			return nil
		},
	}
}
