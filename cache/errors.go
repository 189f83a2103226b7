package cache

import "errors"

var (
	// ErrInvalidTTL is returned by Set when the TTL is not positive or exceeds the
	// store retention. It is a programmer error and is never clamped.
	ErrInvalidTTL = errors.New("cache: ttl must be positive and within retention")

	// ErrInvalidKey is returned when an operation receives an empty key.
	ErrInvalidKey = errors.New("cache: key must not be empty")

	// ErrInvalidResultType is returned when a cached value cannot be converted to the
	// type requested at the call site.
	ErrInvalidResultType = errors.New("cache: cached value has unexpected type")
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
