// Package group implements the Group: the ordered, per-(vdisk, owner)
// collection of time-partitioned Holders, lazy creation of the "current"
// partition, and fan-out GET/EXIST across every holder reconciled by
// maximum timestamp.
//
// Partition creation is single-flight via golang.org/x/sync/singleflight:
// at most one goroutine performs the directory creation for a given
// interval, every other concurrent caller blocks on that same result.
package group

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/holder"
	"github.com/bobfs/bobd/internal/settings"
)

// Owner identifies which directory tree this Group routes to: either a
// local disk (normal group) or a remote node name (alien group).
type Owner struct {
	VDiskID  uint32
	DiskName string // set for normal groups
	NodeName string // set for alien groups
	Alien    bool
}

// Group owns the ordered Holders for one Owner.
type Group struct {
	owner    Owner
	dir      string
	settings settings.Settings

	mu      sync.RWMutex
	holders []*holder.Holder // ascending by StartTS

	pearlSync singleflight.Group
}

// New constructs an empty Group rooted at dir. Call LoadFromDisk before
// serving traffic so any holders already on disk are picked up.
func New(owner Owner, dir string, s settings.Settings) *Group {
	return &Group{owner: owner, dir: dir, settings: s}
}

func (g *Group) Dir() string { return g.dir }

// LoadFromDisk scans the group directory for existing holder
// sub-directories (named by their decimal start timestamp),
// constructs a Holder for each, and Prepares them all. Safe to call once at
// startup; idempotent if called again with nothing new on disk.
func (g *Group) LoadFromDisk(ctx context.Context) error {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return bobdata.Wrap(bobdata.KindStorageError, "scan group directory", err)
	}

	var loaded []*holder.Holder
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		startTS, err := settings.ParseHolderDirName(entry.Name())
		if err != nil {
			continue // not a holder directory, ignore
		}
		_, end := g.settings.Interval(startTS)
		h := holder.New(g.settings.HolderDir(g.dir, startTS), startTS, end, g.settings.FailRetryTimeout)
		loaded = append(loaded, h)
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].StartTS < loaded[j].StartTS })

	g.mu.Lock()
	g.holders = loaded
	g.mu.Unlock()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, h := range loaded {
		h := h
		eg.Go(func() error { return h.Prepare(egCtx) })
	}
	return eg.Wait()
}

func (g *Group) snapshotHolders() []*holder.Holder {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*holder.Holder, len(g.holders))
	copy(out, g.holders)
	return out
}

// holderFor returns the holder whose interval contains ts, if any is
// currently known.
func (g *Group) holderFor(ts uint64) *holder.Holder {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, h := range g.holders {
		if h.Contains(ts) {
			return h
		}
	}
	return nil
}

// Put routes v to the holder whose interval contains v.Meta.Timestamp,
// creating that holder (single-flight) if none exists yet.
func (g *Group) Put(ctx context.Context, key bobdata.Key, v bobdata.BobData) error {
	h, err := g.actualHolder(ctx, v.Meta.Timestamp)
	if err != nil {
		return err
	}
	return h.Write(ctx, key, v)
}

// actualHolder finds or creates the holder covering ts.
func (g *Group) actualHolder(ctx context.Context, ts uint64) (*holder.Holder, error) {
	if h := g.holderFor(ts); h != nil {
		return h, nil
	}

	start, end := g.settings.Interval(ts)
	sfKey := fmt.Sprintf("%d", start)

	result, err, _ := g.pearlSync.Do(sfKey, func() (any, error) {
		// Re-check: another Do call for a different ts key, or a concurrent
		// LoadFromDisk, may have already created this interval's holder.
		if h := g.holderFor(ts); h != nil {
			return h, nil
		}

		h := holder.New(g.settings.HolderDir(g.dir, start), start, end, g.settings.FailRetryTimeout)
		if err := h.Prepare(ctx); err != nil {
			return nil, err
		}

		g.mu.Lock()
		g.holders = append(g.holders, h)
		sort.Slice(g.holders, func(i, j int) bool { return g.holders[i].StartTS < g.holders[j].StartTS })
		g.mu.Unlock()

		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*holder.Holder), nil
}

// Get fans out to every holder in parallel and reconciles by maximum
// timestamp. Errors other than KeyNotFound are
// remembered; if nothing is found, a remembered non-NotFound error wins
// over a plain KeyNotFound.
func (g *Group) Get(ctx context.Context, key bobdata.Key) (bobdata.BobData, error) {
	holders := g.snapshotHolders()
	if len(holders) == 0 {
		return bobdata.BobData{}, bobdata.ErrKeyNotFound
	}

	type outcome struct {
		value bobdata.BobData
		err   error
	}
	results := make([]outcome, len(holders))

	var wg sync.WaitGroup
	for i, h := range holders {
		wg.Add(1)
		go func(i int, h *holder.Holder) {
			defer wg.Done()
			v, err := h.Read(ctx, key)
			results[i] = outcome{value: v, err: err}
		}(i, h)
	}
	wg.Wait()

	var found []bobdata.BobData
	sawOtherError := false
	for _, r := range results {
		switch {
		case r.err == nil:
			found = append(found, r.value)
		case bobdata.Is(r.err, bobdata.KindKeyNotFound):
			// normal negative result, not remembered as a failure
		default:
			sawOtherError = true
		}
	}

	if len(found) > 0 {
		return bobdata.Reconcile(found), nil
	}
	if sawOtherError {
		return bobdata.BobData{}, bobdata.New(bobdata.KindStorageError, "cannot read from some pearls")
	}
	return bobdata.BobData{}, bobdata.ErrKeyNotFound
}

// Exist reports, per key, whether any holder has it. Preserves input
// order and length.
func (g *Group) Exist(ctx context.Context, keys []bobdata.Key) ([]bool, error) {
	holders := g.snapshotHolders()
	out := make([]bool, len(keys))
	if len(holders) == 0 {
		return out, nil
	}

	perHolder := make([][]bool, len(holders))
	var wg sync.WaitGroup
	for i, h := range holders {
		wg.Add(1)
		go func(i int, h *holder.Holder) {
			defer wg.Done()
			res, err := h.Exist(ctx, keys)
			if err == nil {
				perHolder[i] = res
			}
		}(i, h)
	}
	wg.Wait()

	for _, res := range perHolder {
		for i, present := range res {
			if present {
				out[i] = true
			}
		}
	}
	return out, nil
}

// Keys returns every key across every holder, for the alien drain loop.
func (g *Group) Keys() []bobdata.Key {
	var out []bobdata.Key
	for _, h := range g.snapshotHolders() {
		out = append(out, h.Keys()...)
	}
	return out
}

// Remove deletes key from whichever holder currently has it.
func (g *Group) Remove(ctx context.Context, key bobdata.Key) error {
	for _, h := range g.snapshotHolders() {
		if err := h.Remove(key); err == nil {
			return nil
		}
	}
	return bobdata.ErrKeyNotFound
}

// Close flips every holder back to Initializing, closing their stores.
// Used when a drained alien group is dropped; nothing re-Prepares the
// holders afterward, so the group must not be handed out again.
func (g *Group) Close() {
	for _, h := range g.snapshotHolders() {
		h.TryReinit()
	}
}

// HolderCount reports how many holders currently exist, for metrics/debug.
func (g *Group) HolderCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.holders)
}
