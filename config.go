package spanz

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Config describes a tracer declaratively.
type Config struct {
	// Name identifies the tracer; spans carry it as their context.
	Name string `mapstructure:"name"`

	// Prefix is the event name prefix. A dotted string is split into segments.
	Prefix []string `mapstructure:"prefix"`

	// Enabled creates the tracer active.
	Enabled bool `mapstructure:"enabled"`

	// RegistryShards is the number of span registry shards.
	RegistryShards int `mapstructure:"registry_shards"`

	// AsyncWorkers enables a worker pool for async handlers when > 0.
	AsyncWorkers int `mapstructure:"async_workers"`

	// AsyncQueueSize bounds the async worker queue.
	AsyncQueueSize int `mapstructure:"async_queue_size"`
}

// DefaultConfig returns an enabled config for name with no worker pool.
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		Prefix:         []string{name},
		Enabled:        true,
		RegistryShards: DefaultRegistryShards,
	}
}

// Validate checks the config.
func (cfg Config) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("name must be specified")
	}
	for i, seg := range cfg.Prefix {
		if seg == "" {
			return fmt.Errorf("prefix segment %d is empty", i)
		}
	}
	if cfg.RegistryShards < 0 {
		return fmt.Errorf("registry_shards must not be negative, got %d", cfg.RegistryShards)
	}
	if cfg.AsyncWorkers < 0 {
		return fmt.Errorf("async_workers must not be negative, got %d", cfg.AsyncWorkers)
	}
	if cfg.AsyncWorkers > 0 && cfg.AsyncQueueSize <= 0 {
		return fmt.Errorf("async_queue_size must be greater than 0 when async_workers is set, got %d", cfg.AsyncQueueSize)
	}
	return nil
}

// DecodeConfig builds a Config from a loosely typed map, e.g. one read from
// YAML or environment. Fields not present keep their DefaultConfig values.
func DecodeConfig(raw map[string]any) (Config, error) {
	name, _ := raw["name"].(string)
	cfg := DefaultConfig(name)
	cfg.Prefix = nil

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToSliceHookFunc("."),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("invalid tracer config: %w", err)
	}
	if cfg.Prefix == nil && cfg.Name != "" {
		cfg.Prefix = []string{cfg.Name}
	}
	return cfg, nil
}

// NewFromConfig validates cfg and creates the tracer it describes.
// Options are applied after the config.
func NewFromConfig(cfg Config, opts ...Option) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := []Option{WithRegistryShards(cfg.RegistryShards)}
	if len(cfg.Prefix) > 0 {
		base = append(base, WithPrefix(cfg.Prefix...))
	}
	if !cfg.Enabled {
		base = append(base, Disabled())
	}

	t := New(cfg.Name, append(base, opts...)...)
	if cfg.AsyncWorkers > 0 {
		if err := t.EnableWorkerPool(cfg.AsyncWorkers, cfg.AsyncQueueSize); err != nil {
			t.Close()
			return nil, fmt.Errorf("failed to enable worker pool: %w", err)
		}
	}
	return t, nil
}
