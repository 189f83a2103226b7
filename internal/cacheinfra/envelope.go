package cacheinfra

import (
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/vmihailenco/msgpack/v5"
)

var errMalformed = errors.New("cacheinfra: malformed persisted entry")

// envelope is the persisted form of a cache entry: { value, storedAt, ttl }.
// The value is kept as an opaque msgpack payload so it can be decoded into the
// caller's type later.
type envelope struct {
	Value    msgpack.RawMessage `msgpack:"value"`
	StoredAt int64              `msgpack:"storedAt"`
	TTL      int64              `msgpack:"ttl"`
}

// EncodeEntry serializes an entry for the durable tier.
func EncodeEntry(e cache.Entry) (string, error) {
	var payload []byte
	if raw, ok := e.Value.(cache.Raw); ok {
		payload = raw
	} else {
		b, err := msgpack.Marshal(e.Value)
		if err != nil {
			return "", fmt.Errorf("encode value for %q: %w", e.Key, err)
		}
		payload = b
	}

	b, err := msgpack.Marshal(envelope{
		Value:    payload,
		StoredAt: e.StoredAt.UnixNano(),
		TTL:      int64(e.TTL),
	})
	if err != nil {
		return "", fmt.Errorf("encode envelope for %q: %w", e.Key, err)
	}
	return string(b), nil
}

// DecodeEntry parses a persisted blob. The returned entry carries the value as cache.Raw.
func DecodeEntry(key, blob string) (cache.Entry, error) {
	var env envelope
	if err := msgpack.Unmarshal([]byte(blob), &env); err != nil {
		return cache.Entry{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if env.TTL <= 0 || env.StoredAt == 0 || len(env.Value) == 0 {
		return cache.Entry{}, errMalformed
	}

	return cache.Entry{
		Key:      key,
		Value:    cache.Raw(env.Value),
		StoredAt: time.Unix(0, env.StoredAt),
		TTL:      time.Duration(env.TTL),
	}, nil
}
