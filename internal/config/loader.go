package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if CHRONO_CONFIG is set
//  3. env (prefix CHRONO_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("CHRONO_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: CHRONO_ADDR, CHRONO_HISTORY_SIZE, ...
	// Map env keys like CHRONO_MAX_RTT_MS -> max_rtt_ms (flat keys).
	envProvider := env.Provider("CHRONO_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "chrono_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Basic validation
	switch {
	case cfg.Addr == "":
		return nil, fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case cfg.HistorySize < 1:
		return nil, fmt.Errorf("%w: history_size must be positive", ErrInvalidConfig)
	case cfg.MaxRetries < 1:
		return nil, fmt.Errorf("%w: max_retries must be positive", ErrInvalidConfig)
	case cfg.LeadTimeSafetyFactor < 1:
		return nil, fmt.Errorf("%w: lead_time_safety_factor must be at least 1", ErrInvalidConfig)
	case cfg.QualityExcellentMS >= cfg.QualityGoodMS || cfg.QualityGoodMS >= cfg.QualityFairMS:
		return nil, fmt.Errorf("%w: quality thresholds must be strictly increasing", ErrInvalidConfig)
	}
	return &cfg, nil
}
