package cache

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DefaultKeyPrefix namespaces persisted entries inside a shared durable store.
const DefaultKeyPrefix = "@query_cache:"

// Config holds the cache configuration shared by the tiered store and the manager.
type Config struct {
	// Capacity is the maximum number of entries kept in the in-process tier.
	Capacity int

	// NumShards determines the number of in-process shards for concurrent access.
	NumShards int

	// Retention is how long the in-process tier keeps an entry. It is also the upper
	// bound for any entry TTL.
	Retention time.Duration

	// EvictionPercentage specifies what percentage of entries to evict when the
	// in-process tier reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the in-process tier drops entries past Retention.
	// Zero value uses the default interval.
	EvictionInterval time.Duration

	// DefaultTTL and DefaultStaleTime are applied by query clients when call sites
	// leave them unset.
	DefaultTTL       time.Duration
	DefaultStaleTime time.Duration

	// KeyPrefix is prepended to every key written to the durable tier.
	KeyPrefix string
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		Retention:          24 * time.Hour,
		EvictionPercentage: 10,
		EvictionInterval:   0,
		DefaultTTL:         5 * time.Minute,
		DefaultStaleTime:   30 * time.Second,
		KeyPrefix:          DefaultKeyPrefix,
	}
}

// fieldOrder decides which failure Validate reports when several fields are invalid.
var fieldOrder = []string{
	"Capacity", "NumShards", "Retention", "EvictionPercentage", "EvictionInterval",
	"DefaultTTL", "DefaultStaleTime", "KeyPrefix",
}

// Validate checks whether the configuration values are valid. The first failing field,
// in declaration order, is reported as a *ConfigError.
func (c Config) Validate() error {
	positive := "must be greater than 0"

	err := validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required.Error(positive), validation.Min(1).Error(positive)),
		validation.Field(&c.NumShards, validation.Required.Error(positive), validation.Min(1).Error(positive)),
		validation.Field(&c.Retention, validation.Required.Error(positive), validation.Min(time.Duration(1)).Error(positive)),
		validation.Field(&c.EvictionPercentage,
			validation.Required.Error("must be between 1 and 100"),
			validation.Min(1).Error("must be between 1 and 100"),
			validation.Max(100).Error("must be between 1 and 100"),
		),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0)).Error("must be non-negative")),
		validation.Field(&c.DefaultTTL,
			validation.Required.Error(positive),
			validation.Min(time.Duration(1)).Error(positive),
			validation.Max(c.Retention).Error("must not exceed Retention"),
		),
		validation.Field(&c.DefaultStaleTime,
			validation.Min(time.Duration(0)).Error("must be non-negative"),
			validation.Max(c.DefaultTTL).Error("must not exceed DefaultTTL"),
		),
		validation.Field(&c.KeyPrefix, validation.Required.Error("must not be empty")),
	)
	if err == nil {
		return nil
	}

	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	for _, field := range fieldOrder {
		if fe, ok := fieldErrs[field]; ok {
			return &ConfigError{Field: field, Message: fe.Error()}
		}
	}
	return err
}
