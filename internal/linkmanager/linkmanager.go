// Package linkmanager is the connection pool the quorum layer routes
// PUT/GET/EXIST fan-out through: zero or one live *bobclient.BobClient
// per remote peer, opened once and reused, with a background checker
// that pings live links and redials dead ones.
package linkmanager

import (
	"context"
	"sync"
	"time"

	"github.com/bobfs/bobd/internal/bobclient"
	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/logging"
	"github.com/bobfs/bobd/internal/metrics"
	"github.com/bobfs/bobd/internal/topology"
)

// Factory produces a connected BobClient for a node; swapped out in tests.
type Factory interface {
	Produce(ctx context.Context, node topology.Node) (*bobclient.BobClient, error)
}

type dialFactory struct {
	timeout time.Duration
	metrics *metrics.BobClientMetrics
}

// NewFactory returns the production Factory, dialing real gRPC channels.
func NewFactory(timeout time.Duration, m *metrics.BobClientMetrics) Factory {
	return &dialFactory{timeout: timeout, metrics: m}
}

func (f *dialFactory) Produce(ctx context.Context, node topology.Node) (*bobclient.BobClient, error) {
	return bobclient.Connect(ctx, node, f.timeout, f.metrics)
}

// LinkManager holds zero or one live BobClient per remote node. A missing
// or recently-failed entry simply means GetConnection reports !ok — the
// quorum layer treats that node as unreachable for this call rather than
// blocking on a fresh dial.
type LinkManager struct {
	mu      sync.RWMutex
	links   map[string]*bobclient.BobClient
	nodes   []topology.Node
	factory Factory
	log     *logging.Logger
	lmm     *metrics.LinkManagerMetrics
}

// New builds a LinkManager over the given remote peers (the local node is
// never included — Backend serves it directly).
func New(nodes []topology.Node, factory Factory, log *logging.Logger, lmm *metrics.LinkManagerMetrics) *LinkManager {
	return &LinkManager{
		links:   make(map[string]*bobclient.BobClient),
		nodes:   nodes,
		factory: factory,
		log:     log,
		lmm:     lmm,
	}
}

// GetConnection returns the live link for nodeName, or !ok if none.
func (lm *LinkManager) GetConnection(nodeName string) (*bobclient.BobClient, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	c, ok := lm.links[nodeName]
	return c, ok
}

// Nodes returns the configured remote peer list.
func (lm *LinkManager) Nodes() []topology.Node {
	return lm.nodes
}

func (lm *LinkManager) set(nodeName string, c *bobclient.BobClient) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.links[nodeName] = c
}

func (lm *LinkManager) clear(nodeName string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if c, ok := lm.links[nodeName]; ok {
		c.Close()
		delete(lm.links, nodeName)
	}
}

func (lm *LinkManager) countAlive() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.links)
}

// ConnectAll eagerly attempts to connect to every configured peer once,
// synchronously. Callers run this right after construction so the node's
// first fan-out doesn't have to wait out CheckerTask's first period.
func (lm *LinkManager) ConnectAll(ctx context.Context) {
	lm.checkOnce(ctx)
}

// CheckerTask runs until ctx is done, pinging every currently-connected
// node and attempting to (re)dial every node without a live connection,
// once per period. It is tick-aligned: a slow ping doesn't push the next
// round later than necessary.
func (lm *LinkManager) CheckerTask(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lm.checkOnce(ctx)
		}
	}
}

func (lm *LinkManager) checkOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, node := range lm.nodes {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.checkNode(ctx, node)
		}()
	}
	wg.Wait()
	lm.lmm.SetAvailableNodes(lm.countAlive())
}

func (lm *LinkManager) checkNode(ctx context.Context, node topology.Node) {
	if c, ok := lm.GetConnection(node.Name); ok {
		if err := c.Ping(ctx); err != nil {
			lm.log.Warnf("link to %s failed ping: %v", node.Name, err)
			lm.clear(node.Name)
		}
		return
	}

	c, err := lm.factory.Produce(ctx, node)
	if err != nil {
		lm.log.Warnf("link to %s still unreachable: %v", node.Name, err)
		return
	}
	lm.log.Infof("link to %s established", node.Name)
	lm.set(node.Name, c)
}

// Result pairs a NodeOutput with the error (if any) the call produced —
// including an Unreachable-kind error when CallNodes found no live
// connection at all.
type Result[T any] struct {
	Output bobclient.NodeOutput[T]
	Err    error
}

// CallNodes fans f out over nodes using whatever link each currently has
// and returns one Result per input node, preserving order so callers can
// zip results back to their originating replica slot. A node with no live
// connection gets an Unreachable error without ever calling f — this is
// the partial-success, raw-goroutines-plus-WaitGroup fan-out pattern
// (one node's failure must never cancel the others' in-flight calls).
func CallNodes[T any](ctx context.Context, nodes []string, lm *LinkManager, f func(ctx context.Context, c *bobclient.BobClient) (T, error)) []Result[T] {
	out := make([]Result[T], len(nodes))
	var wg sync.WaitGroup
	for i, name := range nodes {
		i, name := i, name
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, ok := lm.GetConnection(name)
			if !ok {
				out[i] = Result[T]{
					Output: bobclient.NodeOutput[T]{NodeName: name},
					Err:    bobdata.New(bobdata.KindUnreachable, "no live connection to "+name),
				}
				return
			}
			v, err := f(ctx, c)
			out[i] = Result[T]{Output: bobclient.NodeOutput[T]{NodeName: name, Value: v}, Err: err}
		}()
	}
	wg.Wait()
	return out
}
