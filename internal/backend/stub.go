package backend

import (
	"context"
	"time"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/metrics"
	"github.com/bobfs/bobd/internal/topology"
)

// Stub is the backend_type=stub variant: it acknowledges every write and
// holds nothing, so every read misses. Useful for load-testing the
// routing and wire layers without storage in the path.
type Stub struct {
	mapper  *topology.Mapper
	metrics *metrics.BackendMetrics
}

func NewStub(mapper *topology.Mapper) *Stub {
	return &Stub{mapper: mapper}
}

func (b *Stub) SetMetrics(m *metrics.BackendMetrics) { b.metrics = m }

func (b *Stub) Run(ctx context.Context) error {
	b.metrics.SetState(true)
	return nil
}

func (b *Stub) RunStats(ctx context.Context, period time.Duration) {
	<-ctx.Done()
}

func (b *Stub) RunCleanup(ctx context.Context, period time.Duration) {
	<-ctx.Done()
}

func (b *Stub) Put(ctx context.Context, op topology.Operation, key bobdata.Key, v bobdata.BobData) error {
	return nil
}

func (b *Stub) Get(ctx context.Context, op topology.Operation, key bobdata.Key) (bobdata.BobData, error) {
	return bobdata.BobData{}, bobdata.ErrKeyNotFound
}

func (b *Stub) Exist(ctx context.Context, op topology.Operation, keys []bobdata.Key) ([]bool, error) {
	return make([]bool, len(keys)), nil
}

func (b *Stub) GetAlienForVDisk(ctx context.Context, id topology.VDiskID, key bobdata.Key) (bobdata.BobData, error) {
	return bobdata.BobData{}, bobdata.ErrKeyNotFound
}

func (b *Stub) AlienTargets() []AlienTarget { return nil }

func (b *Stub) NormalVDiskIDs() []topology.VDiskID {
	var out []topology.VDiskID
	for _, disk := range b.mapper.LocalDisks() {
		out = append(out, b.mapper.VDisksOnDisk(disk.Name)...)
	}
	return out
}

func (b *Stub) HolderCount(id topology.VDiskID) int { return 0 }
