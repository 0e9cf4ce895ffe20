// Package ledger records which local files are confirmed stored remotely, so
// the scheduler never deletes a file whose upload was not acknowledged.
package ledger

import (
	"context"
	"time"
)

// Entry is one confirmed upload of a local file version.
type Entry struct {
	Path         string
	SizeBytes    int64
	ModTime      time.Time
	ObjectID     string
	UploadedAt   time.Time
	LocalDeleted bool
}

// Matches reports whether the entry describes the given file version.
func (e *Entry) Matches(size int64, modTime time.Time) bool {
	return e.SizeBytes == size && e.ModTime.Equal(modTime)
}

type Repository interface {
	// Get returns the entry for path or common.ErrNotFound.
	Get(ctx context.Context, path string) (*Entry, error)

	// MarkUploaded upserts the entry, clearing LocalDeleted.
	MarkUploaded(ctx context.Context, e *Entry) error

	// MarkLocalDeleted flags the entry once the local copy was removed.
	MarkLocalDeleted(ctx context.Context, path string) error
}
