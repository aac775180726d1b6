// Package grinder is the facade the gRPC adapter calls into: it owns no
// storage itself, just routes each
// operation to the local Backend or out to the cluster layer depending
// on Flags.ForceNode, and records the grinder.* metrics family around
// every call.
package grinder

import (
	"context"

	"github.com/bobfs/bobd/internal/backend"
	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/bobrpc"
	"github.com/bobfs/bobd/internal/metrics"
	"github.com/bobfs/bobd/internal/quorum"
	"github.com/bobfs/bobd/internal/topology"
)

// Flags are the per-call options that affect routing rather than
// storage semantics.
type Flags struct {
	// ForceNode restricts the operation to this node's own Backend,
	// bypassing the quorum fan-out entirely — used by the gRPC adapter
	// when a peer asks this node specifically (it is itself one leg of
	// someone else's quorum fan-out, not the fan-out's initiator).
	ForceNode bool

	// Source selects which area of the local Backend a force_node Get
	// reads from: the node's own normal group, or any alien group it
	// holds for the key's vdisk. Ignored by Put and Exist.
	Source bobrpc.Source
}

// Grinder is the top-level entry point Backend and Cluster are wired
// behind. One Grinder per node process.
type Grinder struct {
	mapper  *topology.Mapper
	backend backend.Backend
	cluster *quorum.Cluster
	metrics *metrics.GrinderMetrics
}

func New(mapper *topology.Mapper, be backend.Backend, cl *quorum.Cluster, m *metrics.GrinderMetrics) *Grinder {
	return &Grinder{mapper: mapper, backend: be, cluster: cl, metrics: m}
}

func (gr *Grinder) Put(ctx context.Context, key bobdata.Key, v bobdata.BobData, flags Flags) error {
	timer := gr.metrics.StartTimer()
	defer gr.metrics.PutTimerStop(timer)
	gr.metrics.PutCount()

	var err error
	if flags.ForceNode {
		err = gr.backend.Put(ctx, gr.mapper.OperationForKey(key), key, v)
	} else {
		err = gr.cluster.Put(ctx, key, v)
	}
	if err != nil && !bobdata.Is(err, bobdata.KindDuplicateKey) {
		gr.metrics.PutErrorCount()
	}
	return err
}

func (gr *Grinder) Get(ctx context.Context, key bobdata.Key, flags Flags) (bobdata.BobData, error) {
	timer := gr.metrics.StartTimer()
	defer gr.metrics.GetTimerStop(timer)
	gr.metrics.GetCount()

	var v bobdata.BobData
	var err error
	switch {
	case flags.ForceNode && flags.Source == bobrpc.SourceAlien:
		v, err = gr.backend.GetAlienForVDisk(ctx, gr.mapper.VDiskForKey(key), key)
	case flags.ForceNode:
		v, err = gr.backend.Get(ctx, gr.mapper.OperationForKey(key), key)
	default:
		v, err = gr.cluster.Get(ctx, key)
	}
	if err != nil && !bobdata.Is(err, bobdata.KindKeyNotFound) {
		gr.metrics.GetErrorCount()
	}
	return v, err
}

func (gr *Grinder) Exist(ctx context.Context, keys []bobdata.Key, flags Flags) ([]bool, error) {
	timer := gr.metrics.StartTimer()
	defer gr.metrics.ExistTimerStop(timer)
	gr.metrics.ExistCount()

	var out []bool
	var err error
	if flags.ForceNode {
		out, err = gr.localExist(ctx, keys)
	} else {
		out, err = gr.cluster.Exist(ctx, keys)
	}
	if err != nil {
		gr.metrics.ExistErrorCount()
	}
	return out, err
}

// localExist buckets keys by the operation each resolves to locally,
// since Backend.Exist takes a single operation for a single vdisk.
func (gr *Grinder) localExist(ctx context.Context, keys []bobdata.Key) ([]bool, error) {
	byOp := make(map[topology.VDiskID][]int)
	ops := make(map[topology.VDiskID]topology.Operation)
	for i, k := range keys {
		op := gr.mapper.OperationForKey(k)
		byOp[op.VDiskID] = append(byOp[op.VDiskID], i)
		ops[op.VDiskID] = op
	}

	out := make([]bool, len(keys))
	for id, idxs := range byOp {
		bucket := make([]bobdata.Key, len(idxs))
		for j, idx := range idxs {
			bucket[j] = keys[idx]
		}
		res, err := gr.backend.Exist(ctx, ops[id], bucket)
		if err != nil {
			return nil, err
		}
		for j, idx := range idxs {
			out[idx] = res[j]
		}
	}
	return out, nil
}
