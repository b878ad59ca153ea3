package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/okian/dorsal/internal/domain/model"
	"github.com/patrickmn/go-cache"
)

// CachedStore serves the slow-changing event context (device mappings,
// recognition settings, participants) from a TTL cache. Everything else goes
// straight to the wrapped store.
type CachedStore struct {
	Store
	cache *cache.Cache
}

// NewCachedStore wraps s. ttl <= 0 returns a store with caching disabled.
func NewCachedStore(s Store, ttl time.Duration) *CachedStore {
	c := &CachedStore{Store: s}
	if ttl > 0 {
		c.cache = cache.New(ttl, 2*ttl)
	}
	return c
}

func (c *CachedStore) lookup(key string, load func() (any, error)) (any, error) {
	if c.cache == nil {
		return load()
	}
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, v)
	return v, nil
}

func (c *CachedStore) GetCheckpointDevice(ctx context.Context, deviceID, eventID string) (*model.CheckpointDevice, error) {
	v, err := c.lookup("device:"+eventID+":"+deviceID, func() (any, error) {
		return c.Store.GetCheckpointDevice(ctx, deviceID, eventID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.CheckpointDevice), nil
}

func (c *CachedStore) GetCheckpointDeviceByAccessCode(ctx context.Context, accessCode string) (*model.CheckpointDevice, error) {
	v, err := c.lookup("access:"+accessCode, func() (any, error) {
		return c.Store.GetCheckpointDeviceByAccessCode(ctx, accessCode)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.CheckpointDevice), nil
}

// GetEventConfig caches the event's stored settings, not the merged config,
// so callers may pass different bases.
func (c *CachedStore) GetEventConfig(ctx context.Context, eventID string, base model.EventConfig) (model.EventConfig, error) {
	base.EventID = eventID
	v, err := c.lookup("event:"+eventID, func() (any, error) {
		ev, err := c.Store.GetEvent(ctx, eventID)
		if errors.Is(err, ErrNotFound) {
			return (*model.Event)(nil), nil
		}
		return ev, err
	})
	if err != nil {
		return base, err
	}
	return base.Merge(v.(*model.Event)), nil
}

func (c *CachedStore) IsParticipant(ctx context.Context, eventID string, bib int) (bool, error) {
	v, err := c.lookup("participant:"+eventID+":"+strconv.Itoa(bib), func() (any, error) {
		return c.Store.IsParticipant(ctx, eventID, bib)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (c *CachedStore) UpsertEvent(ctx context.Context, ev *model.Event) error {
	c.invalidate("event:" + ev.ID)
	return c.Store.UpsertEvent(ctx, ev)
}

func (c *CachedStore) UpsertCheckpointDevice(ctx context.Context, dev *model.CheckpointDevice) error {
	c.invalidate("device:"+dev.EventID+":"+dev.DeviceID, "access:"+dev.AccessCode)
	return c.Store.UpsertCheckpointDevice(ctx, dev)
}

func (c *CachedStore) AddParticipant(ctx context.Context, p *model.Participant) error {
	c.invalidate("participant:" + p.EventID + ":" + strconv.Itoa(p.Bib))
	return c.Store.AddParticipant(ctx, p)
}

func (c *CachedStore) invalidate(keys ...string) {
	if c.cache == nil {
		return
	}
	for _, k := range keys {
		c.cache.Delete(k)
	}
}

// CachedItems returns the number of cached entries.
func (c *CachedStore) CachedItems() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.ItemCount()
}
