package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// SnapshotFetcher coalesces concurrent fetches for the same key into a
// single outstanding call, satisfying spec.md §5's "in-flight coalescing"
// requirement for externally-fetched snapshots such as GEX per symbol.
type SnapshotFetcher struct {
	group singleflight.Group
}

// NewSnapshotFetcher constructs a SnapshotFetcher.
func NewSnapshotFetcher() *SnapshotFetcher {
	return &SnapshotFetcher{}
}

// Fetch calls fn for key, sharing the result among concurrent callers that
// request the same key while a fetch is in flight.
func (f *SnapshotFetcher) Fetch(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		return fn(ctx)
	})
	return v, err
}
