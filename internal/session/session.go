// Package session persists per-portal authentication state across ephemeral
// runs through durable remote object storage.
package session

import (
	"context"
	"time"
)

// Material is opaque, portal-specific authentication state: a cookie jar,
// an API token blob, or an archived browser profile. It is owned exclusively
// by one portal's adapter and round-tripped through the Store at lifecycle
// boundaries.
type Material struct {
	Portal    string
	Data      []byte
	UpdatedAt time.Time
}

// Store persists session material. Fetch is silent-absent: a missing key or
// an unconfigured backend returns (nil, nil) and callers fall back to full
// credential login.
//
// If two runs for the same portal overlap, both fetch the same snapshot and
// the last Put wins. Schedules are staggered; the store does not lock.
type Store interface {
	Fetch(ctx context.Context, portal string) (*Material, error)
	Put(ctx context.Context, portal string, m *Material) error
}

// NopStore is the unconfigured backend: every Fetch is absent and Put is
// a discard. Used when no session bucket is configured.
type NopStore struct{}

func (NopStore) Fetch(ctx context.Context, portal string) (*Material, error) { return nil, nil }
func (NopStore) Put(ctx context.Context, portal string, m *Material) error   { return nil }
