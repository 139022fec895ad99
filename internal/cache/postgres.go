package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"linkcheck/internal/db"
	"linkcheck/internal/logger"
	"linkcheck/internal/models"
)

// EntryStore is the row-level persistence the Postgres cache needs.
type EntryStore interface {
	GetCacheEntry(ctx context.Context, url, linkType string) (*db.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, e db.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, url, linkType string) error
}

// PostgresCache keeps results in the link_target_cache table.
type PostgresCache struct {
	store     EntryStore
	freshness Freshness
	log       logger.Logger
}

// NewPostgresCache returns a cache over store with the given default expiry.
func NewPostgresCache(store EntryStore, defaultExpire time.Duration, log logger.Logger) *PostgresCache {
	return &PostgresCache{
		store:     store,
		freshness: Freshness{DefaultExpire: defaultExpire},
		log:       log,
	}
}

func (c *PostgresCache) fresh(ctx context.Context, url, linkType string, useExpire bool, expire time.Duration) (*db.CacheEntry, error) {
	e, err := c.store.GetCacheEntry(ctx, url, linkType)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if useExpire && !c.freshness.IsFresh(e.LastCheck, expire) {
		return nil, nil
	}
	return e, nil
}

func (c *PostgresCache) HasEntry(ctx context.Context, url, linkType string, useExpire bool, expire time.Duration) (bool, error) {
	e, err := c.fresh(ctx, url, linkType, useExpire, expire)
	return e != nil, err
}

func (c *PostgresCache) GetResponse(ctx context.Context, url, linkType string, expire time.Duration) (*models.ResponseRecord, error) {
	e, err := c.fresh(ctx, url, linkType, true, expire)
	if err != nil || e == nil {
		return nil, err
	}
	rec, err := models.ParseResponseRecord(e.Response)
	if err != nil {
		c.log.Warn("Ignoring unreadable cache entry",
			logger.String("url", url),
			logger.String("link_type", linkType),
			logger.Error(err),
		)
		return nil, nil
	}
	return rec, nil
}

func (c *PostgresCache) SetResult(ctx context.Context, url, linkType string, rec *models.ResponseRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return c.store.UpsertCacheEntry(ctx, db.CacheEntry{
		URL:       url,
		LinkType:  linkType,
		Response:  data,
		Status:    rec.Status,
		LastCheck: lastCheckOf(rec, time.Now()),
	})
}

func (c *PostgresCache) Remove(ctx context.Context, url, linkType string) error {
	return c.store.DeleteCacheEntry(ctx, url, linkType)
}
