package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"linkcheck/internal/models"
)

// YAMLConfig represents the structure of the optional linkcheck.yaml file.
// List-shaped settings are easier to manage here than in env vars.
type YAMLConfig struct {
	Checker    CheckerYAML     `yaml:"checker"`
	Exclusions []ExclusionYAML `yaml:"exclusions"`
}

// CheckerYAML overrides checker settings from the environment.
type CheckerYAML struct {
	Headers           map[string]string `yaml:"headers"`
	UserAgent         string            `yaml:"user_agent"`
	NoDelayDomains    []string          `yaml:"no_delay_domains"`
	NoDelayRegex      string            `yaml:"no_delay_regex"`
	NonCheckable      []string          `yaml:"non_checkable"`
	NonCheckableRegex string            `yaml:"non_checkable_regex"`
}

// ExclusionYAML is a seed exclusion rule, created at startup when missing.
type ExclusionYAML struct {
	Match    string `yaml:"match"`     // exact | domain
	LinkType string `yaml:"link_type"` // defaults to "external"
	Target   string `yaml:"target"`
	Scope    int64  `yaml:"scope"`
	Reason   string `yaml:"reason,omitempty"`
}

// LoadYAMLConfig loads the YAML configuration file.
// Path is determined by CONFIG_FILE env var, defaulting to "linkcheck.yaml".
// Returns nil without error if the config file doesn't exist.
func LoadYAMLConfig() (*YAMLConfig, error) {
	return LoadYAMLConfigFile(getEnv("CONFIG_FILE", "linkcheck.yaml"))
}

// LoadYAMLConfigFile loads a YAML configuration from an explicit path.
func LoadYAMLConfigFile(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional
			return nil, nil
		}
		return nil, err
	}

	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Apply merges the YAML overrides into cfg. A nil receiver is a no-op.
func (y *YAMLConfig) Apply(cfg *Config) {
	if y == nil {
		return
	}
	c := &cfg.Checker
	if c.Headers == nil {
		c.Headers = map[string]string{}
	}
	for k, v := range y.Checker.Headers {
		c.Headers[k] = v
	}
	if y.Checker.UserAgent != "" {
		c.UserAgent = y.Checker.UserAgent
	}
	switch {
	case y.Checker.NoDelayRegex != "":
		c.CrawlDelayNoDelay = "regex:" + y.Checker.NoDelayRegex
	case len(y.Checker.NoDelayDomains) > 0:
		c.CrawlDelayNoDelay = strings.Join(y.Checker.NoDelayDomains, ",")
	}
	switch {
	case y.Checker.NonCheckableRegex != "":
		c.NonCheckableMatch = "regex:" + y.Checker.NonCheckableRegex
	case len(y.Checker.NonCheckable) > 0:
		c.NonCheckableMatch = strings.Join(y.Checker.NonCheckable, ",")
	}
}

// SeedRules converts the configured exclusions into rules.
func (y *YAMLConfig) SeedRules() ([]models.ExclusionRule, error) {
	if y == nil {
		return nil, nil
	}
	rules := make([]models.ExclusionRule, 0, len(y.Exclusions))
	for i, e := range y.Exclusions {
		match, err := models.ParseMatchType(e.Match)
		if err != nil {
			return nil, fmt.Errorf("exclusions[%d]: %w", i, err)
		}
		if e.Target == "" {
			return nil, fmt.Errorf("exclusions[%d]: target is required", i)
		}
		linkType := e.LinkType
		if linkType == "" {
			linkType = "external"
		}
		rules = append(rules, models.ExclusionRule{
			MatchType:   match,
			LinkType:    linkType,
			Target:      e.Target,
			ScopePageID: e.Scope,
			Reason:      e.Reason,
		})
	}
	return rules, nil
}
