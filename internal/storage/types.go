package storage

import (
	"fmt"
	"time"

	"github.com/voyagehub/assetsync/internal/common"
)

// Visibility controls whether an uploaded object is world readable.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(s); v {
	case Public, Private:
		return v, nil
	}
	return "", common.NewOpError("visibility", common.ErrInvalidInput, fmt.Errorf("unknown visibility %q", s))
}

// Asset describes one stored object.
type Asset struct {
	LogicalName  string
	ObjectID     string
	FolderID     string
	MimeType     string
	SizeBytes    int64
	Visibility   Visibility
	LastModified time.Time
}

// UploadResult is returned by a successful upload. URL is the public URL
// for public objects and a time-limited signed URL for private ones.
type UploadResult struct {
	ObjectID string
	URL      string
}
