package swrcache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is a single cached payload. The store never inspects Data.
type Entry struct {
	Data     any
	StoredAt time.Time
	TTL      time.Duration
}

// Valid reports whether the entry is still inside its validity window at now.
func (e *Entry) Valid(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Backend persists entries beyond the lifetime of the in-memory store. It is optional;
// a Store without one is memory-only.
//
// Get returns caches.ErrNoCacheItem when nothing is stored under k. Implementations may
// return expired entries, the store applies its own validity check.
type Backend interface {
	Get(ctx context.Context, k string) (*Entry, error)
	Set(ctx context.Context, k string, v *Entry) error
	Delete(ctx context.Context, k string) error
}

type persistedEntry struct {
	Data     json.RawMessage `json:"data"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
}

// EncodeEntry serializes an entry for a Backend. Data is encoded as JSON.
func EncodeEntry(e *Entry) ([]byte, error) {
	var raw json.RawMessage
	switch d := e.Data.(type) {
	case json.RawMessage:
		raw = d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return json.Marshal(persistedEntry{Data: raw, StoredAt: e.StoredAt, TTL: e.TTL})
}

// DecodeEntry is the inverse of EncodeEntry. Data comes back as json.RawMessage.
func DecodeEntry(b []byte) (*Entry, error) {
	var p persistedEntry
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}

	return &Entry{Data: p.Data, StoredAt: p.StoredAt, TTL: p.TTL}, nil
}
