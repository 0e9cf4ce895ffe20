// Package overrides persists administrative overrides of storage locations.
package overrides

import (
	"context"
	"time"
)

// Override is one persisted location override.
type Override struct {
	ID        string
	Value     string
	UpdatedAt time.Time
}

// Repository is the persisted tier of the settings resolver.
type Repository interface {
	// Get returns the override stored under id. ok is false when none exists.
	Get(ctx context.Context, id string) (value string, ok bool, err error)

	// Set inserts or replaces the override for id.
	Set(ctx context.Context, id, value string) error

	// Delete removes the override for id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns every stored override ordered by id.
	List(ctx context.Context) ([]Override, error)
}
