package store

import (
    "context"
    "time"

    "github.com/jellydator/ttlcache/v3"

    "wolfroute/internal/model"
)

// Cached fronts a Store with a TTL read-through cache for datasets, which
// are immutable once created and read on every job start.
type Cached struct {
    Store
    datasets *ttlcache.Cache[string, model.Dataset]
}

func NewCached(s Store, ttl time.Duration, capacity uint64) *Cached {
    opts := []ttlcache.Option[string, model.Dataset]{ttlcache.WithTTL[string, model.Dataset](ttl)}
    if capacity > 0 {
        opts = append(opts, ttlcache.WithCapacity[string, model.Dataset](capacity))
    }
    c := &Cached{Store: s, datasets: ttlcache.New[string, model.Dataset](opts...)}
    go c.datasets.Start()
    return c
}

// Close stops the expiry loop.
func (c *Cached) Close() { c.datasets.Stop() }

func (c *Cached) GetDataset(ctx context.Context, id string) (model.Dataset, error) {
    if item := c.datasets.Get(id); item != nil {
        ds := item.Value()
        ds.Data = copyVRP(ds.Data)
        return ds, nil
    }
    ds, err := c.Store.GetDataset(ctx, id)
    if err != nil { return ds, err }
    c.datasets.Set(id, ds, ttlcache.DefaultTTL)
    return ds, nil
}

func (c *Cached) CreateDataset(ctx context.Context, ds model.Dataset) (model.Dataset, error) {
    out, err := c.Store.CreateDataset(ctx, ds)
    if err == nil { c.datasets.Delete(out.ID) }
    return out, err
}

func (c *Cached) DeleteDataset(ctx context.Context, id string) error {
    c.datasets.Delete(id)
    return c.Store.DeleteDataset(ctx, id)
}

// Len reports the number of cached datasets.
func (c *Cached) Len() int { return c.datasets.Len() }

// Ping checks the underlying store when it supports it.
func (c *Cached) Ping(ctx context.Context) error {
    if p, ok := c.Store.(interface{ Ping(context.Context) error }); ok {
        return p.Ping(ctx)
    }
    return nil
}
