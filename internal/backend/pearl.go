package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/group"
	"github.com/bobfs/bobd/internal/metrics"
	"github.com/bobfs/bobd/internal/settings"
	"github.com/bobfs/bobd/internal/topology"
)

// Pearl is the durable Backend variant: every normal and alien area is a
// group of time-partitioned stores on disk.
type Pearl struct {
	mapper    *topology.Mapper
	settings  settings.Settings
	alienDisk topology.DiskPath

	// normal groups are created once at startup, keyed by vdisk id, and
	// never mutated afterward -- safe to read without a lock.
	normal map[topology.VDiskID]*group.Group

	aliensMu sync.RWMutex
	aliens   map[alienKey]*group.Group
	alienSF  singleflight.Group

	metrics *metrics.BackendMetrics
}

// NewPearl builds the normal Groups from the mapper's local disks and
// vdisks. Call Run to scan their directories and open their holders.
func NewPearl(mapper *topology.Mapper, s settings.Settings, alienDisk topology.DiskPath) *Pearl {
	b := &Pearl{
		mapper:    mapper,
		settings:  s,
		alienDisk: alienDisk,
		normal:    make(map[topology.VDiskID]*group.Group),
		aliens:    make(map[alienKey]*group.Group),
	}

	for _, disk := range mapper.LocalDisks() {
		for _, vdiskID := range mapper.VDisksOnDisk(disk.Name) {
			owner := group.Owner{VDiskID: uint32(vdiskID), DiskName: disk.Name}
			dir := s.GroupDir(disk, vdiskID)
			b.normal[vdiskID] = group.New(owner, dir, s)
		}
	}

	return b
}

func (b *Pearl) SetMetrics(m *metrics.BackendMetrics) {
	b.metrics = m
}

// Run scans every normal group's directory and prepares its holders,
// then walks the alien root for alien groups left behind by a previous
// run so their data is drainable again. Safe to call once at startup;
// idempotent.
func (b *Pearl) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, g := range b.normal {
		g := g
		eg.Go(func() error { return g.LoadFromDisk(egCtx) })
	}
	if err := eg.Wait(); err != nil {
		b.metrics.SetState(false)
		return err
	}
	if err := b.loadAliens(ctx); err != nil {
		b.metrics.SetState(false)
		return err
	}
	b.metrics.SetState(true)
	b.recordBlobCounts()
	return nil
}

// loadAliens pre-populates the alien map from the on-disk layout
// <alien_disk>/<alien_root>/<remote_node>/<vdisk>. Without this scan,
// alien data written before a restart would never be seen by the drain
// loop again — alien groups are otherwise only created by a fresh alien
// write.
func (b *Pearl) loadAliens(ctx context.Context) error {
	root := filepath.Join(b.alienDisk.Path, b.settings.AlienRootDirName)
	nodeEntries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return bobdata.Wrap(bobdata.KindStorageError, "scan alien root", err)
	}

	for _, nodeEntry := range nodeEntries {
		if !nodeEntry.IsDir() {
			continue
		}
		remoteNode := nodeEntry.Name()
		vdiskEntries, err := os.ReadDir(filepath.Join(root, remoteNode))
		if err != nil {
			return bobdata.Wrap(bobdata.KindStorageError, "scan alien dir for "+remoteNode, err)
		}
		for _, vdEntry := range vdiskEntries {
			if !vdEntry.IsDir() {
				continue
			}
			id, err := strconv.ParseUint(vdEntry.Name(), 10, 32)
			if err != nil {
				continue // not a vdisk directory, ignore
			}
			if _, err := b.alienGroup(ctx, remoteNode, topology.VDiskID(id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordBlobCounts sums keys across every normal and alien group into the
// backend.blob_count / backend.alien_count gauges.
func (b *Pearl) recordBlobCounts() {
	normal := 0
	for _, g := range b.normal {
		normal += len(g.Keys())
	}
	b.metrics.SetBlobsCount(normal)

	alien := 0
	for _, t := range b.AlienTargets() {
		alien += len(t.Store.Keys())
	}
	b.metrics.SetAlienBlobsCount(alien)
}

// RunStats periodically refreshes the blob-count gauges, since alien groups
// are created lazily after startup and normal groups gain holders over
// time — Run's one-shot count alone would go stale.
func (b *Pearl) RunStats(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.recordBlobCounts()
		}
	}
}

// RunCleanup periodically drops alien groups whose data has been fully
// drained, closing their stores — the map and the drain loop's target
// list stay bounded by live debt rather than growing with every peer
// outage ever seen. A group that receives a new spill after eviction is
// simply recreated lazily over the same directory.
func (b *Pearl) RunCleanup(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.cleanupAliens()
		}
	}
}

func (b *Pearl) cleanupAliens() {
	b.aliensMu.Lock()
	var evicted []*group.Group
	for k, g := range b.aliens {
		if len(g.Keys()) == 0 {
			delete(b.aliens, k)
			evicted = append(evicted, g)
		}
	}
	b.aliensMu.Unlock()

	for _, g := range evicted {
		g.Close()
	}
}

func (b *Pearl) normalGroup(id topology.VDiskID) (*group.Group, error) {
	g, ok := b.normal[id]
	if !ok {
		return nil, bobdata.ErrVDiskNotFound
	}
	return g, nil
}

// alienGroup returns the alien group for (remoteNode, vdisk), creating it
// (and its directory) on first use. Lazy creation is single-flight per
// (remoteNode, vdisk) so two concurrent alien writes for the same target
// cannot race the directory creation.
func (b *Pearl) alienGroup(ctx context.Context, remoteNode string, id topology.VDiskID) (*group.Group, error) {
	key := alienKey{remoteNode: remoteNode, vdisk: id}

	b.aliensMu.RLock()
	g, ok := b.aliens[key]
	b.aliensMu.RUnlock()
	if ok {
		return g, nil
	}

	sfKey := fmt.Sprintf("%s/%d", remoteNode, id)
	result, err, _ := b.alienSF.Do(sfKey, func() (any, error) {
		b.aliensMu.RLock()
		if g, ok := b.aliens[key]; ok {
			b.aliensMu.RUnlock()
			return g, nil
		}
		b.aliensMu.RUnlock()

		owner := group.Owner{VDiskID: uint32(id), NodeName: remoteNode, Alien: true}
		dir := b.settings.AlienGroupDir(b.alienDisk, remoteNode, id)
		newGroup := group.New(owner, dir, b.settings)
		if err := newGroup.LoadFromDisk(ctx); err != nil {
			return nil, err
		}

		b.aliensMu.Lock()
		b.aliens[key] = newGroup
		b.aliensMu.Unlock()

		return newGroup, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*group.Group), nil
}

// resolve dispatches an operation to its normal or alien group.
func (b *Pearl) resolve(ctx context.Context, op topology.Operation) (*group.Group, error) {
	if op.Alien {
		return b.alienGroup(ctx, op.RemoteNodeName, op.VDiskID)
	}
	return b.normalGroup(op.VDiskID)
}

func (b *Pearl) Put(ctx context.Context, op topology.Operation, key bobdata.Key, v bobdata.BobData) error {
	g, err := b.resolve(ctx, op)
	if err != nil {
		return err
	}
	return g.Put(ctx, key, v)
}

func (b *Pearl) Get(ctx context.Context, op topology.Operation, key bobdata.Key) (bobdata.BobData, error) {
	g, err := b.resolve(ctx, op)
	if err != nil {
		return bobdata.BobData{}, err
	}
	return g.Get(ctx, key)
}

func (b *Pearl) Exist(ctx context.Context, op topology.Operation, keys []bobdata.Key) ([]bool, error) {
	g, err := b.resolve(ctx, op)
	if err != nil {
		return nil, err
	}
	return g.Exist(ctx, keys)
}

// GetAlienForVDisk looks up key across every alien group this node holds
// for vdisk id, regardless of which remote node each was spilled for. The
// cluster layer's Alien-source GET pass doesn't know in advance which
// surviving replica ended up holding the aliened copy of a key whose
// intended replica was unreachable at PUT time, so it asks every replica
// to check everything it's holding for this vdisk.
func (b *Pearl) GetAlienForVDisk(ctx context.Context, id topology.VDiskID, key bobdata.Key) (bobdata.BobData, error) {
	b.aliensMu.RLock()
	var groups []*group.Group
	for k, g := range b.aliens {
		if k.vdisk == id {
			groups = append(groups, g)
		}
	}
	b.aliensMu.RUnlock()

	for _, g := range groups {
		if v, err := g.Get(ctx, key); err == nil {
			return v, nil
		}
	}
	return bobdata.BobData{}, bobdata.ErrKeyNotFound
}

// AlienTargets returns every (remoteNode, vdisk) pair that currently has an
// alien group, for the background drain loop to iterate.
func (b *Pearl) AlienTargets() []AlienTarget {
	b.aliensMu.RLock()
	defer b.aliensMu.RUnlock()

	out := make([]AlienTarget, 0, len(b.aliens))
	for k, g := range b.aliens {
		out = append(out, AlienTarget{RemoteNode: k.remoteNode, VDiskID: k.vdisk, Store: g})
	}
	return out
}

// NormalVDiskIDs returns the vdisk ids this node serves normal groups for.
func (b *Pearl) NormalVDiskIDs() []topology.VDiskID {
	out := make([]topology.VDiskID, 0, len(b.normal))
	for id := range b.normal {
		out = append(out, id)
	}
	return out
}

// HolderCount reports how many holders the normal group for id currently
// has, or zero if this node doesn't serve it.
func (b *Pearl) HolderCount(id topology.VDiskID) int {
	g, ok := b.normal[id]
	if !ok {
		return 0
	}
	return g.HolderCount()
}
