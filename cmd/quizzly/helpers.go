package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	quizzly "github.com/quizzly/quizzly/sdk/golang"
)

// fileConfig returns the [realtime] section with QUIZZLY_* variables applied
// on top.
func fileConfig(cfg *Config) (quizzly.FileConfig, error) {
	fc := cfg.Realtime
	if err := fc.ApplyEnv(); err != nil {
		return fc, err
	}
	return fc, nil
}

// clientOptions resolves the backend address. QUIZZLY_BASE_URL wins over
// default.base_url, which wins over default.environment.
func clientOptions(cfg *Config, fc quizzly.FileConfig) []quizzly.ClientOption {
	opts := []quizzly.ClientOption{quizzly.WithLogger(log.Logger)}
	switch {
	case fc.BaseURL != "":
		opts = append(opts, quizzly.WithBaseURL(fc.BaseURL))
	case cfg.Default.BaseURL != "":
		opts = append(opts, quizzly.WithBaseURL(cfg.Default.BaseURL))
	case cfg.Default.Environment != "" && cfg.Default.Environment != "production":
		opts = append(opts, quizzly.WithEnvironment(quizzly.Environment(cfg.Default.Environment)))
	}
	return opts
}

// getClient creates a client authenticated with the stored token pair.
// Rotated tokens are written back to the config file.
func getClient(cfg *Config) (*quizzly.Client, quizzly.FileConfig, error) {
	fc, err := fileConfig(cfg)
	if err != nil {
		return nil, fc, err
	}
	if cfg.Auth.AccessToken == "" && cfg.Auth.RefreshToken == "" {
		return nil, fc, fmt.Errorf("not logged in; run 'quizzly login <username>' first")
	}

	tokens := quizzly.TokenPair{AccessToken: cfg.Auth.AccessToken, RefreshToken: cfg.Auth.RefreshToken}
	persist := func(p quizzly.TokenPair) {
		cfg.Auth.AccessToken = p.AccessToken
		cfg.Auth.RefreshToken = p.RefreshToken
		if err := saveConfig(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save rotated tokens: %v\n", err)
		}
	}

	opts := append(clientOptions(cfg, fc), quizzly.WithTokens(tokens, quizzly.OnRefresh(persist)))
	return quizzly.NewClient(opts...), fc, nil
}

// parseQuizID accepts a positive decimal quiz id.
func parseQuizID(arg string) (quizzly.SessionID, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid quiz id %q: expected a positive integer", arg)
	}
	return quizzly.SessionID(id), nil
}
