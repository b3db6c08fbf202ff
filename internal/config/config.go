// Package config loads gateway limits from an optional YAML file
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"flowgate/internal/shared"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Limits      LimitsConfig      `yaml:"limits"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Backend     BackendConfig     `yaml:"backend"`
	Audit       AuditConfig       `yaml:"audit"`
}

type LimitsConfig struct {
	MaxBodyBytes     int64 `yaml:"max_body_bytes"`
	MaxQuestionChars int   `yaml:"max_question_chars"`
	MaxHistory       int   `yaml:"max_history"`
	MaxUploads       int   `yaml:"max_uploads"`
}

type RateLimitConfig struct {
	Requests int64         `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type BackendConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxLineBytes int           `yaml:"max_line_bytes"`
}

type AuditConfig struct {
	PreviewChars int           `yaml:"preview_chars"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func Default() Config {
	return Config{
		Limits: LimitsConfig{
			MaxBodyBytes:     shared.DefaultMaxBodyBytes,
			MaxQuestionChars: shared.DefaultMaxQuestionChars,
			MaxHistory:       shared.DefaultMaxHistory,
			MaxUploads:       shared.DefaultMaxUploads,
		},
		RateLimit: RateLimitConfig{
			Requests: shared.DefaultRateLimitRequests,
			Window:   shared.DefaultRateLimitWindow,
		},
		Idempotency: IdempotencyConfig{TTL: shared.DefaultIdempotencyTTL},
		Backend: BackendConfig{
			Timeout:      shared.DefaultBackendTimeout,
			MaxLineBytes: shared.DefaultMaxLineBytes,
		},
		Audit: AuditConfig{
			PreviewChars: shared.DefaultPreviewChars,
			WriteTimeout: shared.DefaultAuditWriteTimeout,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed parsing config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Limits.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("limits.max_body_bytes must be positive"))
	}
	if c.Limits.MaxQuestionChars <= 0 {
		errs = append(errs, errors.New("limits.max_question_chars must be positive"))
	}
	if c.Limits.MaxHistory < 0 || c.Limits.MaxUploads < 0 {
		errs = append(errs, errors.New("limits.max_history and limits.max_uploads cannot be negative"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.requests and rate_limit.window must be positive"))
	}
	if c.Idempotency.TTL <= 0 {
		errs = append(errs, errors.New("idempotency.ttl must be positive"))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, errors.New("backend.timeout must be positive"))
	}
	if c.Backend.MaxLineBytes <= 0 {
		errs = append(errs, errors.New("backend.max_line_bytes must be positive"))
	}
	if c.Audit.PreviewChars <= 0 || c.Audit.WriteTimeout <= 0 {
		errs = append(errs, errors.New("audit.preview_chars and audit.write_timeout must be positive"))
	}
	return errors.Join(errs...)
}
