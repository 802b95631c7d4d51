package identity

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/khaledhikmat/vs-face/model"
)

// cachedDirectory keeps the identity list for ttl so that face workers do
// not hit the backing store once per face.
type cachedDirectory struct {
	inner Directory
	ttl   time.Duration
	clk   clock.Clock

	mu       sync.Mutex
	cached   []model.Identity
	loadedAt time.Time
	valid    bool
}

func NewCached(inner Directory, ttl time.Duration, clk clock.Clock) Directory {
	if clk == nil {
		clk = clock.New()
	}
	return &cachedDirectory{
		inner: inner,
		ttl:   ttl,
		clk:   clk,
	}
}

func (d *cachedDirectory) ListKnownIdentities(ctx context.Context) ([]model.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.valid && d.clk.Since(d.loadedAt) < d.ttl {
		return d.cached, nil
	}

	identities, err := d.inner.ListKnownIdentities(ctx)
	if err != nil {
		// Serve stale data rather than failing every face while the store is down
		if d.valid {
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = identities
	d.loadedAt = d.clk.Now()
	d.valid = true
	return identities, nil
}

func (d *cachedDirectory) RecordMatch(ctx context.Context, recognition model.Recognition) error {
	return d.inner.RecordMatch(ctx, recognition)
}

func (d *cachedDirectory) Enroll(ctx context.Context, identity model.Identity) error {
	if err := d.inner.Enroll(ctx, identity); err != nil {
		return err
	}

	d.mu.Lock()
	d.valid = false
	d.mu.Unlock()
	return nil
}

func (d *cachedDirectory) Close(ctx context.Context) error {
	return d.inner.Close(ctx)
}
