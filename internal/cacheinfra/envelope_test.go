package cacheinfra

import (
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/vmihailenco/msgpack/v5"
)

type category struct {
	ID   int64  `msgpack:"id"`
	Name string `msgpack:"name"`
}

func TestEnvelope_RoundTrip(t *testing.T) {
	storedAt := time.Date(2024, 3, 1, 12, 0, 0, 123, time.UTC)
	in := cache.Entry{
		Key:      "SELECT * FROM categories:[]",
		Value:    []category{{ID: 1, Name: "Groceries"}},
		StoredAt: storedAt,
		TTL:      5 * time.Minute,
	}

	blob, err := EncodeEntry(in)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	out, err := DecodeEntry(in.Key, blob)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	if out.Key != in.Key {
		t.Errorf("expected key %q, got %q", in.Key, out.Key)
	}
	if !out.StoredAt.Equal(storedAt) {
		t.Errorf("expected storedAt %v, got %v", storedAt, out.StoredAt)
	}
	if out.TTL != in.TTL {
		t.Errorf("expected ttl %v, got %v", in.TTL, out.TTL)
	}

	if _, ok := out.Value.(cache.Raw); !ok {
		t.Fatalf("expected cache.Raw value, got %T", out.Value)
	}
	got, err := cache.As[[]category](out.Value)
	if err != nil {
		t.Fatalf("unexpected As error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Groceries" {
		t.Errorf("unexpected value: %+v", got)
	}
}

func TestEnvelope_RawValueIsNotReencoded(t *testing.T) {
	payload, err := msgpack.Marshal("hello")
	if err != nil {
		t.Fatal(err)
	}

	blob, err := EncodeEntry(cache.Entry{
		Key:      "k",
		Value:    cache.Raw(payload),
		StoredAt: time.Unix(10, 0),
		TTL:      time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	out, err := DecodeEntry("k", blob)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	s, err := cache.As[string](out.Value)
	if err != nil || s != "hello" {
		t.Errorf("expected hello, got %q (err %v)", s, err)
	}
}

func TestDecodeEntry_Malformed(t *testing.T) {
	valid, _ := msgpack.Marshal(1)

	encode := func(env envelope) string {
		b, err := msgpack.Marshal(env)
		if err != nil {
			t.Fatal(err)
		}
		return string(b)
	}

	tests := []struct {
		name string
		blob string
	}{
		{name: "not msgpack", blob: "\xc1garbage"},
		{name: "empty", blob: ""},
		{name: "wrong shape", blob: encode(envelope{})},
		{name: "zero ttl", blob: encode(envelope{Value: valid, StoredAt: 1, TTL: 0})},
		{name: "negative ttl", blob: encode(envelope{Value: valid, StoredAt: 1, TTL: -5})},
		{name: "missing storedAt", blob: encode(envelope{Value: valid, TTL: 10})},
		{name: "missing value", blob: encode(envelope{StoredAt: 1, TTL: 10})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEntry("k", tt.blob)
			if !errors.Is(err, errMalformed) {
				t.Errorf("expected errMalformed, got %v", err)
			}
		})
	}
}
