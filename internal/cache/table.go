package cache

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// TableCache memoizes candidate tables by source name.
type TableCache struct {
	cache  Cache
	logger *logrus.Entry
}

func NewTableCache(c Cache, logger *logrus.Entry) *TableCache {
	return &TableCache{cache: c, logger: logger}
}

// Load returns the cached table for source or calls load and stores its result. Cache
// failures are logged and fall through to load.
func (t *TableCache) Load(ctx context.Context, source string, load func() ([]types.Candidate, error)) ([]types.Candidate, error) {
	key := "table:" + source
	var rows []types.Candidate
	found, err := t.cache.Get(ctx, key, &rows)
	if err != nil {
		t.logger.WithError(err).WithField("source", source).Warn("Candidate table cache read failed")
	}
	if found {
		return rows, nil
	}

	rows, err = load()
	if err != nil {
		return nil, err
	}
	if err := t.cache.Set(ctx, key, rows); err != nil {
		t.logger.WithError(err).WithField("source", source).Warn("Failed to cache candidate table")
	}
	return rows, nil
}

// Invalidate drops a source so the next Load reads it again.
func (t *TableCache) Invalidate(ctx context.Context, source string) error {
	return t.cache.Delete(ctx, "table:"+source)
}
