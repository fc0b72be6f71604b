package queue

import "time"

// Config holds tunables for the queue client and retry orchestration.
type Config struct {
	// VisibilityTimeout is the default lease duration in whole seconds,
	// matching the store's lease granularity.
	VisibilityTimeout int    `mapstructure:"visibility_timeout"`
	MaxRetries        int    `mapstructure:"max_retries"`
	NamePrefix        string `mapstructure:"name_prefix"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		VisibilityTimeout: 30,
		MaxRetries:        3,
		NamePrefix:        "unison",
	}
}

// Visibility returns the default lease duration.
func (c Config) Visibility() time.Duration {
	return time.Duration(c.VisibilityTimeout) * time.Second
}
