// Package quorum is the cluster routing layer: it takes a key, asks the
// Mapper for the vdisk's replica set, and fans PUT/GET/EXIST out across
// the local Backend and every remote replica's BobClient. PUT counts acks
// against a configured quorum and spills failed remote writes to that
// replica's alien area for a later drain pass to deliver.
package quorum

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobfs/bobd/internal/backend"
	"github.com/bobfs/bobd/internal/bobclient"
	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/bobrpc"
	"github.com/bobfs/bobd/internal/linkmanager"
	"github.com/bobfs/bobd/internal/logging"
	"github.com/bobfs/bobd/internal/topology"
)

// Quorum configures how many acks PUT needs before it is considered
// successful, out of the replica set's size.
type Quorum struct {
	Required int
}

// replicaSplit separates a vdisk's replica set into "this node, if it
// participates" and "every other replica's node name", since Put/Get/Exist
// all need exactly this split before choosing between a local Backend call
// and a remote fan-out via LinkManager.
type replicaSplit struct {
	localDisk         string
	localParticipates bool
	remoteNames       []string
}

func (c *Cluster) splitReplicas(replicas []topology.Replica) replicaSplit {
	var rs replicaSplit
	for _, r := range replicas {
		if r.NodeName == c.mapper.LocalNodeName() {
			rs.localParticipates = true
			rs.localDisk = r.DiskName
		} else {
			rs.remoteNames = append(rs.remoteNames, r.NodeName)
		}
	}
	return rs
}

// Cluster is the fan-out layer sitting above one node's Backend.
type Cluster struct {
	mapper  *topology.Mapper
	backend backend.Backend
	lm      *linkmanager.LinkManager
	quorum  Quorum
	log     *logging.Logger

	// drainInFlight backpressures RunAlienDrain: at most one drain
	// attempt per remote peer at a time.
	drainMu      sync.Mutex
	drainInFlight map[string]bool
}

func New(mapper *topology.Mapper, be backend.Backend, lm *linkmanager.LinkManager, q Quorum, log *logging.Logger) *Cluster {
	return &Cluster{
		mapper:        mapper,
		backend:       be,
		lm:            lm,
		quorum:        q,
		log:           log,
		drainInFlight: make(map[string]bool),
	}
}

// Put writes v to every replica of key's vdisk: locally if this node holds
// a replica, remotely via BobClient otherwise. It succeeds once at least
// Quorum.Required replicas ack; remote replicas that failed or were
// unreachable get their data written to the local alien area for that
// node instead, so a later drain pass can deliver it.
func (c *Cluster) Put(ctx context.Context, key bobdata.Key, v bobdata.BobData) error {
	id := c.mapper.VDiskForKey(key)
	replicas := c.mapper.Replicas(id)
	if len(replicas) == 0 {
		return bobdata.ErrVDiskNotFound
	}

	rs := c.splitReplicas(replicas)

	var wg sync.WaitGroup
	var localErr error
	if rs.localParticipates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			localErr = c.backend.Put(ctx, topology.LocalOperation(id, rs.localDisk), key, v)
		}()
	}

	var remoteResults []linkmanager.Result[struct{}]
	if len(rs.remoteNames) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// force_node=true: this is the coordinator's own leg of the
			// fan-out, so the peer must store directly rather than
			// re-running its own quorum fan-out over the same key.
			remoteResults = linkmanager.CallNodes(ctx, rs.remoteNames, c.lm, func(ctx context.Context, conn *bobclient.BobClient) (struct{}, error) {
				out, err := conn.Put(ctx, key, v, bobclient.PutOptions{ForceNode: true})
				return out.Value, err
			})
		}()
	}
	wg.Wait()

	acked := 0
	if rs.localParticipates {
		if localErr == nil || bobdata.Is(localErr, bobdata.KindDuplicateKey) {
			acked++
		}
	}
	for i, res := range remoteResults {
		nodeName := rs.remoteNames[i]
		if res.Err == nil || bobdata.Is(res.Err, bobdata.KindDuplicateKey) {
			acked++
			continue
		}
		c.log.Warnf("put key %d to %s failed: %v, spilling to alien", uint64(key), nodeName, res.Err)
		// Spill in the background so the caller's Put returns as soon as
		// the quorum outcome is known; context.Background() because the
		// spill must outlive the request that triggered it.
		go c.spillToAlien(context.Background(), id, nodeName, key, v)
	}

	if acked < c.quorum.Required {
		return bobdata.New(bobdata.KindQuorumFailed, fmt.Sprintf("only %d/%d replicas acked, needed %d", acked, len(replicas), c.quorum.Required))
	}
	return nil
}

// spillToAlien writes v into this node's alien area for nodeName, so it is
// delivered once nodeName becomes reachable again. Failures here are
// logged, not propagated — the PUT's quorum outcome was already decided by
// the live replicas, and alien spill is best-effort recovery on top.
func (c *Cluster) spillToAlien(ctx context.Context, id topology.VDiskID, nodeName string, key bobdata.Key, v bobdata.BobData) {
	if err := c.backend.Put(ctx, topology.AlienOperation(id, nodeName), key, v); err != nil && !bobdata.Is(err, bobdata.KindDuplicateKey) {
		c.log.Errorf("alien spill for %s failed: %v", nodeName, err)
	}
}

// Get fans a read out across every replica of key's vdisk (local Backend
// plus each remote BobClient), reconciling by highest timestamp across
// whichever replicas returned a value. If none did but at least one
// replica actively reported "not found" (rather than being unreachable),
// the result is ErrKeyNotFound; if every replica was unreachable, it's a
// StorageError instead, since the key's absence couldn't actually be
// confirmed anywhere.
func (c *Cluster) Get(ctx context.Context, key bobdata.Key) (bobdata.BobData, error) {
	id := c.mapper.VDiskForKey(key)
	replicas := c.mapper.Replicas(id)
	if len(replicas) == 0 {
		return bobdata.BobData{}, bobdata.ErrVDiskNotFound
	}
	rs := c.splitReplicas(replicas)

	// First pass only looks at each replica's normal area. Only if that
	// comes back empty but some replica actively
	// said NotFound do we pay for a second, Alien-source pass: a replica
	// that was unreachable during an earlier PUT may have had this key
	// spilled onto one of its *surviving* peers under its own node name,
	// so the key can still be recovered before the drain loop gets to it.
	candidates, anyNotFound := c.getPass(ctx, id, rs, key, bobrpc.SourceNormal)
	if len(candidates) == 0 && anyNotFound {
		alienCandidates, alienNotFound := c.getPass(ctx, id, rs, key, bobrpc.SourceAlien)
		candidates = alienCandidates
		anyNotFound = anyNotFound || alienNotFound
	}

	if len(candidates) > 0 {
		return bobdata.Reconcile(candidates), nil
	}
	if anyNotFound {
		return bobdata.BobData{}, bobdata.ErrKeyNotFound
	}
	return bobdata.BobData{}, bobdata.New(bobdata.KindStorageError, "no replica of the vdisk was reachable")
}

// getPass fans a single-source read across rs's local and remote replicas.
// It returns every value found and whether at least one replica actively
// reported the key absent (as opposed to being unreachable).
func (c *Cluster) getPass(ctx context.Context, id topology.VDiskID, rs replicaSplit, key bobdata.Key, source bobrpc.Source) ([]bobdata.BobData, bool) {
	var wg sync.WaitGroup
	var localValue bobdata.BobData
	var localErr error
	if rs.localParticipates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if source == bobrpc.SourceAlien {
				localValue, localErr = c.backend.GetAlienForVDisk(ctx, id, key)
			} else {
				localValue, localErr = c.backend.Get(ctx, topology.LocalOperation(id, rs.localDisk), key)
			}
		}()
	}

	var remoteResults []linkmanager.Result[bobdata.BobData]
	if len(rs.remoteNames) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// force_node=true here for the same reason as Put's remote
			// leg: the peer must answer from its own Backend for exactly
			// this source, not re-run its own cluster fan-out.
			remoteResults = linkmanager.CallNodes(ctx, rs.remoteNames, c.lm, func(ctx context.Context, conn *bobclient.BobClient) (bobdata.BobData, error) {
				out, err := conn.Get(ctx, key, bobclient.GetOptions{ForceNode: true, Source: source})
				return out.Value, err
			})
		}()
	}
	wg.Wait()

	var candidates []bobdata.BobData
	anyNotFound := false
	if rs.localParticipates {
		switch {
		case localErr == nil:
			candidates = append(candidates, localValue)
		case bobdata.Is(localErr, bobdata.KindKeyNotFound):
			anyNotFound = true
		default:
			c.log.Warnf("get key %d from local backend (source=%d) failed: %v", uint64(key), source, localErr)
		}
	}
	for i, res := range remoteResults {
		switch {
		case res.Err == nil:
			candidates = append(candidates, res.Output.Value)
		case bobdata.Is(res.Err, bobdata.KindKeyNotFound):
			anyNotFound = true
		default:
			c.log.Warnf("get key %d from %s (source=%d) failed: %v", uint64(key), rs.remoteNames[i], source, res.Err)
		}
	}
	return candidates, anyNotFound
}

// Exist reports, for each key, whether ANY replica of its vdisk has it —
// bucketing keys by vdisk so each replica is asked about only the keys it
// could actually hold, then OR-ing results back together per key.
func (c *Cluster) Exist(ctx context.Context, keys []bobdata.Key) ([]bool, error) {
	byVDisk := make(map[topology.VDiskID][]int)
	for i, k := range keys {
		id := c.mapper.VDiskForKey(k)
		byVDisk[id] = append(byVDisk[id], i)
	}

	out := make([]bool, len(keys))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for id, idxs := range byVDisk {
		id, idxs := id, idxs
		replicas := c.mapper.Replicas(id)
		bucketKeys := make([]bobdata.Key, len(idxs))
		for j, idx := range idxs {
			bucketKeys[j] = keys[idx]
		}

		rs := c.splitReplicas(replicas)

		apply := func(exist []bool) {
			mu.Lock()
			defer mu.Unlock()
			for j, idx := range idxs {
				if exist[j] {
					out[idx] = true
				}
			}
		}

		if rs.localParticipates {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if exist, err := c.backend.Exist(ctx, topology.LocalOperation(id, rs.localDisk), bucketKeys); err == nil {
					apply(exist)
				}
			}()
		}
		if len(rs.remoteNames) > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Exist's wire message carries no options at all: the RPC
				// is inherently node-local, and bobserver always answers
				// it against its own Backend, so there is no force_node
				// to set here the way Put/Get need one.
				results := linkmanager.CallNodes(ctx, rs.remoteNames, c.lm, func(ctx context.Context, conn *bobclient.BobClient) ([]bool, error) {
					out, err := conn.Exist(ctx, bucketKeys, bobclient.GetOptions{})
					return out.Value, err
				})
				for _, res := range results {
					if res.Err == nil {
						apply(res.Output.Value)
					}
				}
			}()
		}
	}
	wg.Wait()
	return out, nil
}

// RunAlienDrain periodically tries to deliver every alien group's data to
// its owning remote node, once per period, skipping any remote peer that
// already has a drain in flight.
func (c *Cluster) RunAlienDrain(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drainOnce(ctx)
		}
	}
}

func (c *Cluster) drainOnce(ctx context.Context) {
	for _, target := range c.backend.AlienTargets() {
		target := target
		if !c.tryStartDrain(target.RemoteNode) {
			continue
		}
		go func() {
			defer c.finishDrain(target.RemoteNode)
			c.drainTarget(ctx, target)
		}()
	}
}

func (c *Cluster) tryStartDrain(nodeName string) bool {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()
	if c.drainInFlight[nodeName] {
		return false
	}
	c.drainInFlight[nodeName] = true
	return true
}

func (c *Cluster) finishDrain(nodeName string) {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()
	delete(c.drainInFlight, nodeName)
}

func (c *Cluster) drainTarget(ctx context.Context, target backend.AlienTarget) {
	conn, ok := c.lm.GetConnection(target.RemoteNode)
	if !ok {
		return
	}
	for _, key := range target.Store.Keys() {
		v, err := target.Store.Get(ctx, key)
		if err != nil {
			continue
		}
		if _, err := conn.Put(ctx, key, v, bobclient.PutOptions{ForceNode: true}); err != nil {
			c.log.Warnf("alien drain to %s failed for key %d: %v", target.RemoteNode, uint64(key), err)
			continue
		}
		if err := target.Store.Remove(ctx, key); err != nil {
			c.log.Warnf("alien drain cleanup for %s key %d failed: %v", target.RemoteNode, uint64(key), err)
		}
	}
}
