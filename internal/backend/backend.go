// Package backend implements the node-local storage layer behind the
// Grinder and the cluster fan-out: the container of normal storage (one
// area per local vdisk replica) and alien storage (one area per
// remote-node × vdisk pair, created lazily on first alien write).
//
// Backend is a capability set with three variants selected by the
// backend_type config field at startup: pearl (partition stores on
// disk), in_memory (maps, no durability), and stub (accepts everything,
// stores nothing).
package backend

import (
	"context"
	"time"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/metrics"
	"github.com/bobfs/bobd/internal/settings"
	"github.com/bobfs/bobd/internal/topology"
)

// Backend is the contract every storage variant implements. Operations
// carry a topology.Operation that selects the normal area (by vdisk and
// local disk) or an alien area (by remote node and vdisk).
type Backend interface {
	// Run loads whatever state the variant keeps across restarts and
	// readies it for traffic. Safe to call once at startup; idempotent.
	Run(ctx context.Context) error
	// RunStats periodically refreshes the backend.* gauges.
	RunStats(ctx context.Context, period time.Duration)
	// RunCleanup periodically prunes alien areas whose data has been
	// fully drained to its owner.
	RunCleanup(ctx context.Context, period time.Duration)
	// SetMetrics wires the backend.* gauge facade; optional, a nil
	// facade is a no-op.
	SetMetrics(m *metrics.BackendMetrics)

	Put(ctx context.Context, op topology.Operation, key bobdata.Key, v bobdata.BobData) error
	Get(ctx context.Context, op topology.Operation, key bobdata.Key) (bobdata.BobData, error)
	Exist(ctx context.Context, op topology.Operation, keys []bobdata.Key) ([]bool, error)

	// GetAlienForVDisk looks key up across every alien area held for
	// vdisk id, regardless of which remote node each was spilled for.
	GetAlienForVDisk(ctx context.Context, id topology.VDiskID, key bobdata.Key) (bobdata.BobData, error)
	// AlienTargets returns every (remoteNode, vdisk) pair that currently
	// has an alien area, for the background drain loop to iterate.
	AlienTargets() []AlienTarget

	// NormalVDiskIDs returns the vdisk ids this node serves normally.
	NormalVDiskIDs() []topology.VDiskID
	// HolderCount reports how many time-partitions the normal area for
	// id currently has open; zero for variants without partitions.
	HolderCount(id topology.VDiskID) int
}

// AlienStore is the slice of an alien area the drain loop works with.
type AlienStore interface {
	Keys() []bobdata.Key
	Get(ctx context.Context, key bobdata.Key) (bobdata.BobData, error)
	Remove(ctx context.Context, key bobdata.Key) error
}

// AlienTarget pairs an alien store with the remote node it owes data to.
type AlienTarget struct {
	RemoteNode string
	VDiskID    topology.VDiskID
	Store      AlienStore
}

// Type selects a Backend variant at startup.
type Type int

const (
	TypePearl Type = iota
	TypeInMemory
	TypeStub
)

// ParseType maps a backend_type config value to a Type. The empty string
// defaults to pearl.
func ParseType(s string) (Type, error) {
	switch s {
	case "", "pearl":
		return TypePearl, nil
	case "in_memory":
		return TypeInMemory, nil
	case "stub":
		return TypeStub, nil
	default:
		return 0, bobdata.New(bobdata.KindInvalidConfig, "unknown backend_type "+s+" (want pearl, in_memory or stub)")
	}
}

// New builds the Backend variant for typ. The pearl variant is the only
// one that touches mapper's disk paths; the others ignore alienDisk.
func New(mapper *topology.Mapper, s settings.Settings, alienDisk topology.DiskPath, typ Type) Backend {
	switch typ {
	case TypeInMemory:
		return NewMemory(mapper)
	case TypeStub:
		return NewStub(mapper)
	default:
		return NewPearl(mapper, s, alienDisk)
	}
}

type alienKey struct {
	remoteNode string
	vdisk      topology.VDiskID
}
