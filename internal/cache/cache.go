package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache stores JSON-encodable values under string keys.
type Cache interface {
	// Get decodes the value for key into dest. It reports false for missing or stale entries.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
}

// Policy is the freshness rule shared by every backend.
type Policy struct {
	MaxAge time.Duration
}

// Fresh reports whether an entry stored at storedAt may still be served. A zero MaxAge
// never expires.
func (p Policy) Fresh(storedAt, now time.Time) bool {
	return p.MaxAge <= 0 || now.Sub(storedAt) <= p.MaxAge
}

type envelope struct {
	StoredAt time.Time       `json:"stored_at"`
	Data     json.RawMessage `json:"data"`
}

func encode(value interface{}, now time.Time) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return json.Marshal(envelope{StoredAt: now, Data: data})
}

// decode unpacks raw into dest when the entry is still fresh.
func decode(raw []byte, dest interface{}, policy Policy, now time.Time) (bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache envelope: %w", err)
	}
	if !policy.Fresh(env.StoredAt, now) {
		return false, nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}
