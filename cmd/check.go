package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog"

	"github.com/pranalysis/internal/aiconnectors"
	"github.com/pranalysis/internal/cache"
	"github.com/pranalysis/internal/config"
	"github.com/pranalysis/internal/database"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
	Probes   []ProbeResult     // Connectivity checks, when requested
}

// ProbeResult is the outcome of connecting to one external service
type ProbeResult struct {
	Service string
	Err     error
}

// OK reports whether nothing required is missing and every probe passed
func (r *ConfigCheckResult) OK() bool {
	if len(r.Missing) > 0 {
		return false
	}
	for _, p := range r.Probes {
		if p.Err != nil {
			return false
		}
	}
	return true
}

// CheckConfig inspects the loaded configuration without contacting any
// service
func CheckConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	if err := config.Validate(cfg); err != nil {
		result.Missing = append(result.Missing, err.Error())
	}

	secrets := map[string]string{
		"github.token": cfg.GitHub.Token,
		"ai.api_key":   cfg.AI.APIKey,
		"database.url": cfg.Database.URL,
		"redis.url":    cfg.Redis.URL,
	}
	for key, value := range secrets {
		if value != "" {
			result.Present[key] = maskSecret(value)
		}
	}
	result.Present["ai.provider"] = cfg.AI.Provider
	result.Present["ai.model"] = cfg.AI.Model

	if cfg.GitHub.Token == "" {
		result.Warnings = append(result.Warnings, "github.token is not set, only public repositories can be analyzed")
	}
	if cfg.Database.URL == "" {
		if _, err := database.ResolveURL(cfg.Database); err != nil {
			result.Warnings = append(result.Warnings, "database.url is not set, the api and worker commands will not start")
		}
	}
	if !cfg.Cache.Enabled {
		result.Warnings = append(result.Warnings, "cache is disabled, every request runs a fresh analysis")
	}

	return result
}

// probeServices connects to every configured backend
func probeServices(ctx context.Context, cfg *config.Config, logger zerolog.Logger) []ProbeResult {
	var probes []ProbeResult

	if cfg.Cache.Enabled {
		store := cache.NewRedisStore(ctx, cfg.Redis, logger)
		var err error
		if !store.Enabled() {
			err = fmt.Errorf("redis is unreachable")
		}
		_ = store.Close()
		probes = append(probes, ProbeResult{Service: "redis", Err: err})
	}

	if err := resolveDatabase(cfg); err == nil {
		pool, err := database.Connect(ctx, cfg.Database)
		if err == nil {
			pool.Close()
		}
		probes = append(probes, ProbeResult{Service: "postgres", Err: err})
	}

	connector, err := aiconnectors.New(ctx, cfg.AI, logger)
	if err == nil {
		err = connector.Ping(ctx)
	}
	probes = append(probes, ProbeResult{Service: "ai:" + cfg.AI.Provider, Err: err})

	return probes
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(w io.Writer, result *ConfigCheckResult) {
	fmt.Fprintln(w, "=== Configuration Check ===")
	fmt.Fprintln(w)

	if len(result.Missing) > 0 {
		fmt.Fprintln(w, "❌ Invalid or missing settings:")
		for _, v := range result.Missing {
			fmt.Fprintf(w, "   - %s\n", v)
		}
		fmt.Fprintln(w)
	}

	if len(result.Present) > 0 {
		fmt.Fprintln(w, "✓ Configured settings:")
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "   - %s = %s\n", k, result.Present[k])
		}
		fmt.Fprintln(w)
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "⚠ Warning: %s\n", warning)
	}

	for _, p := range result.Probes {
		if p.Err != nil {
			fmt.Fprintf(w, "❌ %s: %v\n", p.Service, p.Err)
		} else {
			fmt.Fprintf(w, "✓ %s: reachable\n", p.Service)
		}
	}

	if result.OK() {
		fmt.Fprintln(w, "✓ All required configuration is present")
	}

	fmt.Fprintln(w, "============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}
