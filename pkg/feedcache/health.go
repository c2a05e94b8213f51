package feedcache

import "time"

// Health is the payload-free view of a cache, for status endpoints.
type Health struct {
	Name         string     `json:"name"`
	Status       Status     `json:"status"`
	Version      uint64     `json:"version"`
	AgeSeconds   int        `json:"ageSeconds"`
	FetchedAt    *time.Time `json:"fetchedAt"`
	BackoffUntil *time.Time `json:"backoffUntil"`
	LastError    string     `json:"lastError,omitempty"`
}

func (c *Cache[T]) Health() Health {
	snapshot := c.Peek()

	health := Health{
		Name:       c.name,
		Status:     snapshot.Status,
		Version:    snapshot.Version,
		AgeSeconds: int(snapshot.Age / time.Second),
	}
	if !snapshot.FetchedAt.IsZero() {
		health.FetchedAt = &snapshot.FetchedAt
	}
	if snapshot.BackoffUntil.After(c.opts.Clock()) {
		health.BackoffUntil = &snapshot.BackoffUntil
	}
	if snapshot.LastError != nil {
		health.LastError = snapshot.LastError.Error()
	}

	return health
}
