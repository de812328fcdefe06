// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package config loads chat service configuration from a YAML file with
// environment variable overrides.
//
// Locale-dependent strings (the canonical cancel/error notices and the
// refusal strings pruned from model history) are configuration data here,
// never process-global state: a deployment serving another locale swaps them
// in its config file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults applied for unset values.
const (
	DefaultRecentMessagesCount   = 6
	DefaultTopSearchResultsCount = 5

	defaultPersona = "You are a helpful AI assistant for information about Canada and the Canadian government. Your name is GC Chat."

	defaultCancelNotice = "The response was cancelled."
	defaultErrorNotice  = "Something went wrong generating a response. Please try again."
)

// defaultRefusals are the canonical "I don't know" strings. Matching is
// exact after trimming, so these must mirror the prompt's instruction text.
var defaultRefusals = []string{"I don't know.", "Je ne sais pas."}

// Generation holds the sampling parameters forwarded to the model provider.
// Pointer fields distinguish "unset, use provider default" from zero.
type Generation struct {
	Temperature      *float32 `yaml:"temperature"`
	TopP             *float32 `yaml:"top_p"`
	MaxTokens        *int     `yaml:"max_tokens"`
	FrequencyPenalty *float32 `yaml:"frequency_penalty"`
	PresencePenalty  *float32 `yaml:"presence_penalty"`
}

// Notices are the canonical user-facing strings for terminal states.
type Notices struct {
	Cancelled string `yaml:"cancelled"`
	Error     string `yaml:"error"`
}

// Config is the full chat service configuration.
type Config struct {
	// RecentMessagesCount bounds the history window sent to the model.
	// Minimum 1.
	RecentMessagesCount int `yaml:"recent_messages_count"`

	// TopSearchResultsCount is the top-K for document retrieval. Minimum 1.
	TopSearchResultsCount int `yaml:"top_search_results_count"`

	// Persona is the product-specific part of the system prompt.
	Persona string `yaml:"persona"`

	// Notices are the canonical cancel/error message contents.
	Notices Notices `yaml:"notices"`

	// Refusals are the assistant strings pruned from model history.
	Refusals []string `yaml:"refusals"`

	// Generation are the model sampling parameters.
	Generation Generation `yaml:"generation"`

	// StoragePath is the BadgerDB directory. Empty disables persistence.
	StoragePath string `yaml:"storage_path"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		RecentMessagesCount:   DefaultRecentMessagesCount,
		TopSearchResultsCount: DefaultTopSearchResultsCount,
		Persona:               defaultPersona,
		Notices: Notices{
			Cancelled: defaultCancelNotice,
			Error:     defaultErrorNotice,
		},
		Refusals: append([]string(nil), defaultRefusals...),
	}
}

// Load reads the YAML file at path (if it exists), applies environment
// overrides, and normalizes. A missing file is not an error: defaults plus
// environment are used.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			slog.Info("No config file found, using defaults", "path", path)
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// applyEnv lets environment variables override file values, matching the
// deployment model where containers configure via env.
func (c *Config) applyEnv() {
	if v := os.Getenv("GCCHAT_RECENT_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RecentMessagesCount = n
		} else {
			slog.Warn("Ignoring invalid GCCHAT_RECENT_MESSAGES", "value", v)
		}
	}
	if v := os.Getenv("GCCHAT_SEARCH_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TopSearchResultsCount = n
		} else {
			slog.Warn("Ignoring invalid GCCHAT_SEARCH_RESULTS", "value", v)
		}
	}
	if v := os.Getenv("GCCHAT_STORAGE_PATH"); v != "" {
		c.StoragePath = v
	}
}

// normalize clamps counts to their minimums and backfills empty strings so
// downstream code never re-checks.
func (c *Config) normalize() {
	if c.RecentMessagesCount < 1 {
		c.RecentMessagesCount = 1
	}
	if c.TopSearchResultsCount < 1 {
		c.TopSearchResultsCount = 1
	}
	if c.Persona == "" {
		c.Persona = defaultPersona
	}
	if c.Notices.Cancelled == "" {
		c.Notices.Cancelled = defaultCancelNotice
	}
	if c.Notices.Error == "" {
		c.Notices.Error = defaultErrorNotice
	}
	if len(c.Refusals) == 0 {
		c.Refusals = append([]string(nil), defaultRefusals...)
	}
}
