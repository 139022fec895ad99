package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"linkcheck/internal/logger"
	"linkcheck/internal/models"
)

// KV is the subset of fiber's Storage interface the cache relies on.
// github.com/gofiber/storage/redis/v3 satisfies it.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
	Delete(key string) error
}

// DefaultKeyPrefix namespaces cache keys in a shared Redis.
const DefaultKeyPrefix = "linkcheck:cache:"

type envelope struct {
	LastCheck int64           `json:"last_check"`
	Status    models.Status   `json:"status"`
	Response  json.RawMessage `json:"response"`
}

// StorageCache keeps results in a key-value store such as Redis.
type StorageCache struct {
	kv        KV
	prefix    string
	retention time.Duration
	freshness Freshness
	log       logger.Logger
}

// NewStorageCache returns a cache over kv. Entries are kept for retention
// (0 keeps them until overwritten); freshness is decided on read.
func NewStorageCache(kv KV, defaultExpire, retention time.Duration, log logger.Logger) *StorageCache {
	return &StorageCache{
		kv:        kv,
		prefix:    DefaultKeyPrefix,
		retention: retention,
		freshness: Freshness{DefaultExpire: defaultExpire},
		log:       log,
	}
}

func (c *StorageCache) key(url, linkType string) string {
	return c.prefix + linkType + ":" + models.HashURL(url)
}

func (c *StorageCache) load(url, linkType string) (*envelope, error) {
	data, err := c.kv.Get(c.key(url, linkType))
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("Ignoring unreadable cache entry", logger.String("url", url), logger.Error(err))
		return nil, nil
	}
	return &env, nil
}

func (c *StorageCache) HasEntry(_ context.Context, url, linkType string, useExpire bool, expire time.Duration) (bool, error) {
	env, err := c.load(url, linkType)
	if err != nil || env == nil {
		return false, err
	}
	return !useExpire || c.freshness.IsFresh(env.LastCheck, expire), nil
}

func (c *StorageCache) GetResponse(_ context.Context, url, linkType string, expire time.Duration) (*models.ResponseRecord, error) {
	env, err := c.load(url, linkType)
	if err != nil || env == nil {
		return nil, err
	}
	if !c.freshness.IsFresh(env.LastCheck, expire) {
		return nil, nil
	}
	rec, err := models.ParseResponseRecord(env.Response)
	if err != nil {
		c.log.Warn("Ignoring unreadable cache entry", logger.String("url", url), logger.Error(err))
		return nil, nil
	}
	return rec, nil
}

func (c *StorageCache) SetResult(_ context.Context, url, linkType string, rec *models.ResponseRecord) error {
	response, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	data, err := json.Marshal(envelope{
		LastCheck: lastCheckOf(rec, time.Now()),
		Status:    rec.Status,
		Response:  response,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return c.kv.Set(c.key(url, linkType), data, c.retention)
}

func (c *StorageCache) Remove(_ context.Context, url, linkType string) error {
	return c.kv.Delete(c.key(url, linkType))
}
