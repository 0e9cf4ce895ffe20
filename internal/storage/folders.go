package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/voyagehub/assetsync/internal/cache"
	"github.com/voyagehub/assetsync/internal/common"
	"github.com/voyagehub/assetsync/internal/logging"
)

const folderCachePrefix = "folder:"

// DefaultFolderTTL bounds how long a resolved path is trusted.
const DefaultFolderTTL = 10 * time.Minute

// FolderCreator is the single-level primitive Hierarchy builds on.
type FolderCreator interface {
	FindOrCreateFolder(ctx context.Context, name, parentID string) (string, error)
}

// Hierarchy resolves multi-level folder paths one segment at a time and
// memoizes every resolved prefix.
type Hierarchy struct {
	store FolderCreator
	cache cache.Cache
	ttl   time.Duration
	log   logging.Logger
}

// NewHierarchy builds a Hierarchy. c may be nil to disable memoization.
func NewHierarchy(store FolderCreator, c cache.Cache, ttl time.Duration, log logging.Logger) *Hierarchy {
	if ttl <= 0 {
		ttl = DefaultFolderTTL
	}
	return &Hierarchy{store: store, cache: c, ttl: ttl, log: log.With("module", "folders")}
}

// EnsurePath walks segments below rootID ("" for the bucket root) creating
// missing folders and returns the id of the last one.
func (h *Hierarchy) EnsurePath(ctx context.Context, rootID string, segments ...string) (string, error) {
	clean := make([]string, len(segments))
	for i, seg := range segments {
		s, err := SanitizeSegment(seg)
		if err != nil {
			return "", err
		}
		clean[i] = s
	}

	parent := rootID
	for i, seg := range clean {
		key := folderCachePrefix + rootID + "|" + strings.Join(clean[:i+1], "/")
		if h.cache != nil {
			if id, ok := h.cache.Get(ctx, key); ok {
				parent = string(id)
				continue
			}
		}

		id, err := h.store.FindOrCreateFolder(ctx, seg, parent)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", strings.Join(clean[:i+1], "/"), err)
		}
		if h.cache != nil {
			h.cache.Set(ctx, key, []byte(id), h.ttl)
		}
		parent = id
	}
	return parent, nil
}

// Invalidate drops every memoized path, e.g. after folders were renamed
// administratively.
func (h *Hierarchy) Invalidate(ctx context.Context) int {
	if h.cache == nil {
		return 0
	}
	n := h.cache.DeletePattern(ctx, folderCachePrefix+"*")
	h.log.Info(ctx, "folder cache invalidated", "entries", n)
	return n
}

// SplitPath turns "a/b//c/" into ["a", "b", "c"].
func SplitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EntityPath builds the <entity-type>/<entity-id>_<entity-name>/<document-type>
// segments for documents attached to a business entity.
func EntityPath(entityType, entityID, entityName, docType string) ([]string, error) {
	typ, err := SanitizeSegment(entityType)
	if err != nil {
		return nil, err
	}
	id, err := SanitizeSegment(entityID)
	if err != nil {
		return nil, err
	}
	name, err := SanitizeSegment(entityName)
	if err != nil {
		return nil, err
	}
	doc, err := SanitizeSegment(docType)
	if err != nil {
		return nil, err
	}
	return []string{typ, id + "_" + name, doc}, nil
}

// SanitizeSegment makes s usable as one folder name.
func SanitizeSegment(s string) (string, error) {
	s = strings.TrimSpace(strings.NewReplacer("/", "-", `\`, "-").Replace(s))
	if s == "" || s == "." || s == ".." {
		return "", common.NewOpError("folder segment", common.ErrInvalidInput, fmt.Errorf("bad path segment %q", s))
	}
	return s, nil
}
