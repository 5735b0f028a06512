// Package livestate mirrors the current session state into Redis so external
// dashboards can poll it without hitting the API.
package livestate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultKey = "sidekick:live"
	ttl        = 30 * time.Second
	opTimeout  = 800 * time.Millisecond
)

// Snapshot is the published view of the live session.
type Snapshot struct {
	Active    bool       `json:"active"`
	SessionID string     `json:"session_id,omitempty"`
	Mode      string     `json:"mode,omitempty"`
	Status    string     `json:"status,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Turns     int        `json:"turns"`
	LastLabel string     `json:"last_label,omitempty"`
	LastText  string     `json:"last_text,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Publisher writes snapshots under a fixed key with a TTL, so a dead process
// leaves no permanently stale state behind.
type Publisher struct {
	rdb *redis.Client
	key string
}

// New returns a publisher for the given Redis address. An empty address
// returns a disabled publisher whose methods are no-ops.
func New(addr, key string) *Publisher {
	p := &Publisher{key: key}
	if p.key == "" {
		p.key = defaultKey
	}
	if addr != "" {
		p.rdb = redis.NewClient(&redis.Options{Addr: addr})
	}
	return p
}

// Enabled reports whether a Redis client is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && p.rdb != nil
}

// Publish writes the snapshot. Errors are returned for logging but the caller
// is expected to carry on; live state is advisory.
func (p *Publisher) Publish(ctx context.Context, snap Snapshot) error {
	if !p.Enabled() {
		return nil
	}
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal live snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := p.rdb.Set(ctx, p.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", p.key, err)
	}
	return nil
}

// Clear removes the published state.
func (p *Publisher) Clear(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := p.rdb.Del(ctx, p.key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", p.key, err)
	}
	return nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.rdb.Close()
}
