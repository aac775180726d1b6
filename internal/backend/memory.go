package backend

import (
	"context"
	"sync"
	"time"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/metrics"
	"github.com/bobfs/bobd/internal/topology"
)

// Memory is the in_memory Backend variant: plain maps, full Backend
// semantics (normal and alien areas, duplicate detection, drain
// support), no durability. Useful for tests and for running a node
// without provisioned disks.
type Memory struct {
	mapper *topology.Mapper

	mu      sync.RWMutex
	normal  map[topology.VDiskID]map[bobdata.Key]bobdata.BobData
	aliens  map[alienKey]map[bobdata.Key]bobdata.BobData
	metrics *metrics.BackendMetrics
}

func NewMemory(mapper *topology.Mapper) *Memory {
	return &Memory{
		mapper: mapper,
		normal: make(map[topology.VDiskID]map[bobdata.Key]bobdata.BobData),
		aliens: make(map[alienKey]map[bobdata.Key]bobdata.BobData),
	}
}

func (b *Memory) SetMetrics(m *metrics.BackendMetrics) {
	b.metrics = m
}

func (b *Memory) Run(ctx context.Context) error {
	b.mu.Lock()
	for _, disk := range b.mapper.LocalDisks() {
		for _, id := range b.mapper.VDisksOnDisk(disk.Name) {
			if b.normal[id] == nil {
				b.normal[id] = make(map[bobdata.Key]bobdata.BobData)
			}
		}
	}
	b.mu.Unlock()

	b.metrics.SetState(true)
	b.recordBlobCounts()
	return nil
}

func (b *Memory) recordBlobCounts() {
	b.mu.RLock()
	normal, alien := 0, 0
	for _, m := range b.normal {
		normal += len(m)
	}
	for _, m := range b.aliens {
		alien += len(m)
	}
	b.mu.RUnlock()

	b.metrics.SetBlobsCount(normal)
	b.metrics.SetAlienBlobsCount(alien)
}

func (b *Memory) RunStats(ctx context.Context, period time.Duration) {
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

func (b *Memory) RunCleanup(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			for k, m := range b.aliens {
				if len(m) == 0 {
					delete(b.aliens, k)
				}
			}
			b.mu.Unlock()
		}
	}
}

// area resolves an operation to its backing map, lazily creating alien
// areas the way the pearl variant lazily creates alien groups.
func (b *Memory) area(op topology.Operation) (map[bobdata.Key]bobdata.BobData, error) {
	if op.Alien {
		k := alienKey{remoteNode: op.RemoteNodeName, vdisk: op.VDiskID}
		if m, ok := b.aliens[k]; ok {
			return m, nil
		}
		m := make(map[bobdata.Key]bobdata.BobData)
		b.aliens[k] = m
		return m, nil
	}
	m, ok := b.normal[op.VDiskID]
	if !ok {
		return nil, bobdata.ErrVDiskNotFound
	}
	return m, nil
}

func (b *Memory) Put(ctx context.Context, op topology.Operation, key bobdata.Key, v bobdata.BobData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.area(op)
	if err != nil {
		return err
	}
	if existing, ok := m[key]; ok && existing.Meta.Timestamp == v.Meta.Timestamp {
		return bobdata.New(bobdata.KindDuplicateKey, "key already has this timestamp")
	}
	m[key] = v
	return nil
}

func (b *Memory) Get(ctx context.Context, op topology.Operation, key bobdata.Key) (bobdata.BobData, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, err := b.lookupArea(op)
	if err != nil {
		return bobdata.BobData{}, err
	}
	v, ok := m[key]
	if !ok {
		return bobdata.BobData{}, bobdata.ErrKeyNotFound
	}
	return v, nil
}

// lookupArea is the read-path twin of area: it never creates an alien
// map, since a read of a never-written alien area is just a miss.
func (b *Memory) lookupArea(op topology.Operation) (map[bobdata.Key]bobdata.BobData, error) {
	if op.Alien {
		return b.aliens[alienKey{remoteNode: op.RemoteNodeName, vdisk: op.VDiskID}], nil
	}
	m, ok := b.normal[op.VDiskID]
	if !ok {
		return nil, bobdata.ErrVDiskNotFound
	}
	return m, nil
}

func (b *Memory) Exist(ctx context.Context, op topology.Operation, keys []bobdata.Key) ([]bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, err := b.lookupArea(op)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(keys))
	for i, k := range keys {
		_, out[i] = m[k]
	}
	return out, nil
}

func (b *Memory) GetAlienForVDisk(ctx context.Context, id topology.VDiskID, key bobdata.Key) (bobdata.BobData, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for k, m := range b.aliens {
		if k.vdisk != id {
			continue
		}
		if v, ok := m[key]; ok {
			return v, nil
		}
	}
	return bobdata.BobData{}, bobdata.ErrKeyNotFound
}

func (b *Memory) AlienTargets() []AlienTarget {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]AlienTarget, 0, len(b.aliens))
	for k := range b.aliens {
		out = append(out, AlienTarget{
			RemoteNode: k.remoteNode,
			VDiskID:    k.vdisk,
			Store:      &memoryAlienStore{backend: b, key: k},
		})
	}
	return out
}

func (b *Memory) NormalVDiskIDs() []topology.VDiskID {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]topology.VDiskID, 0, len(b.normal))
	for id := range b.normal {
		out = append(out, id)
	}
	return out
}

func (b *Memory) HolderCount(id topology.VDiskID) int {
	return 0
}

// memoryAlienStore adapts one alien map to the drain loop's AlienStore
// view, sharing the backend's lock.
type memoryAlienStore struct {
	backend *Memory
	key     alienKey
}

func (s *memoryAlienStore) Keys() []bobdata.Key {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	m := s.backend.aliens[s.key]
	out := make([]bobdata.Key, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (s *memoryAlienStore) Get(ctx context.Context, key bobdata.Key) (bobdata.BobData, error) {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	v, ok := s.backend.aliens[s.key][key]
	if !ok {
		return bobdata.BobData{}, bobdata.ErrKeyNotFound
	}
	return v, nil
}

func (s *memoryAlienStore) Remove(ctx context.Context, key bobdata.Key) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	m := s.backend.aliens[s.key]
	if _, ok := m[key]; !ok {
		return bobdata.ErrKeyNotFound
	}
	delete(m, key)
	return nil
}
