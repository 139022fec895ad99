// Command linkcheck checks the external links found in stored content and
// keeps a report of the broken ones.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"linkcheck/internal/app"
	"linkcheck/internal/config"
	"linkcheck/internal/logger"
	"linkcheck/internal/models"
)

var (
	// configFile overrides CONFIG_FILE.
	configFile string
	// debug forces debug logging.
	debug bool
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "linkcheck",
		Short:         "Check external links in stored content",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default $CONFIG_FILE or ./linkcheck.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCommand(),
		newCheckCommand(),
		newRecheckCommand(),
		newExcludeCommand(),
		newMigrateCommand(),
	)
	return root
}

// setup loads the configuration and builds the application. The returned
// rules are the seed exclusions from the YAML file.
func setup(ctx context.Context) (*app.App, []models.ExclusionRule, error) {
	cfg := config.Load()

	var (
		y   *config.YAMLConfig
		err error
	)
	if configFile != "" {
		y, err = config.LoadYAMLConfigFile(configFile)
	} else {
		y, err = config.LoadYAMLConfig()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config file: %w", err)
	}
	y.Apply(cfg)

	seeds, err := y.SeedRules()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Development: cfg.LogDevelopment || cfg.IsDev()})
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a, seeds, nil
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
