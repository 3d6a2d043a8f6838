package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the engine tunables.
type Config struct {
	// SchemaPollInterval is the initial interval between schema agreement
	// checks after a DDL statement; the interval backs off exponentially.
	SchemaPollInterval time.Duration

	// SchemaAgreementTimeout bounds the total time spent waiting for a
	// DDL change to become visible.
	SchemaAgreementTimeout time.Duration

	// StatementRetries is the per-statement attempt budget for
	// connectivity failures.
	StatementRetries int

	// RetryBackoff is the pause between rounds of the index consistency
	// retry loop and between statement retries.
	RetryBackoff time.Duration

	// AsyncQueueDepth bounds the table lifecycle task queue.
	AsyncQueueDepth int

	// BatchConcurrency bounds the fan-out of batch get/write operations.
	BatchConcurrency int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SchemaPollInterval:     100 * time.Millisecond,
		SchemaAgreementTimeout: 60 * time.Second,
		StatementRetries:       3,
		RetryBackoff:           10 * time.Millisecond,
		AsyncQueueDepth:        64,
		BatchConcurrency:       8,
	}
}

// rawConfig is the YAML shape of Config. Durations are Go duration
// strings such as "100ms" or "1m30s".
type rawConfig struct {
	SchemaPollInterval     string `yaml:"schema_poll_interval"`
	SchemaAgreementTimeout string `yaml:"schema_agreement_timeout"`
	StatementRetries       *int   `yaml:"statement_retries"`
	RetryBackoff           string `yaml:"retry_backoff"`
	AsyncQueueDepth        *int   `yaml:"async_queue_depth"`
	BatchConcurrency       *int   `yaml:"batch_concurrency"`
}

// LoadConfig reads a YAML config file, filling unset fields with defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{raw.SchemaPollInterval, "schema_poll_interval", &cfg.SchemaPollInterval},
		{raw.SchemaAgreementTimeout, "schema_agreement_timeout", &cfg.SchemaAgreementTimeout},
		{raw.RetryBackoff, "retry_backoff", &cfg.RetryBackoff},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return cfg, fmt.Errorf("parse config %s: %s: %w", path, d.name, err)
		}
		*d.dst = v
	}
	if raw.StatementRetries != nil {
		cfg.StatementRetries = *raw.StatementRetries
	}
	if raw.AsyncQueueDepth != nil {
		cfg.AsyncQueueDepth = *raw.AsyncQueueDepth
	}
	if raw.BatchConcurrency != nil {
		cfg.BatchConcurrency = *raw.BatchConcurrency
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.SchemaPollInterval <= 0 {
		return fmt.Errorf("schema_poll_interval must be positive")
	}
	if c.SchemaAgreementTimeout <= 0 {
		return fmt.Errorf("schema_agreement_timeout must be positive")
	}
	if c.StatementRetries < 1 {
		return fmt.Errorf("statement_retries must be at least 1")
	}
	if c.AsyncQueueDepth < 1 {
		return fmt.Errorf("async_queue_depth must be at least 1")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("batch_concurrency must be at least 1")
	}
	return nil
}
