// Package bobclient wraps one gRPC channel to one peer node: a per-call
// deadline, bobrpc message translation, and client-side counters/timers
// recorded through the metrics sink.
package bobclient

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/bobrpc"
	"github.com/bobfs/bobd/internal/metrics"
	"github.com/bobfs/bobd/internal/topology"
)

// NodeOutput carries the originating node's name alongside a value, so the
// quorum layer can attribute fan-out results back to the node that
// produced them.
type NodeOutput[T any] struct {
	NodeName string
	Value    T
}

// PutOptions controls how the peer handles a Put.
type PutOptions struct {
	ForceNode   bool
	Overwrite   bool
	RemoteNodes []string
}

// GetOptions controls how the peer answers a Get.
type GetOptions struct {
	ForceNode bool
	Source    bobrpc.Source
}

// BobClient is a live connection to one peer.
type BobClient struct {
	node    topology.Node
	conn    *grpc.ClientConn
	rpc     bobrpc.Client
	timeout time.Duration
	metrics *metrics.BobClientMetrics
}

// Connect dials node with TCP_NODELAY (grpc-go enables this by default on
// its dialer) and returns a ready BobClient, or an Unreachable-kind
// bobdata.Error if the dial fails (counted via the ConnectError metric).
func Connect(ctx context.Context, node topology.Node, timeout time.Duration, m *metrics.BobClientMetrics) (*BobClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, node.Address(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		if m != nil {
			m.ConnectError()
		}
		return nil, bobdata.Wrap(bobdata.KindUnreachable, "connect to "+node.Name, err)
	}

	return &BobClient{
		node:    node,
		conn:    conn,
		rpc:     bobrpc.NewClient(conn),
		timeout: timeout,
		metrics: m,
	}, nil
}

func (c *BobClient) Node() topology.Node { return c.node }

func (c *BobClient) Close() error { return c.conn.Close() }

func (c *BobClient) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Put stores key/value on the peer.
func (c *BobClient) Put(ctx context.Context, key bobdata.Key, v bobdata.BobData, opts PutOptions) (NodeOutput[struct{}], error) {
	timer := c.metrics.StartTimer()
	defer c.metrics.PutTimerStop(timer)
	c.metrics.PutCount()

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	req := &bobrpc.PutRequest{
		Key:  bobrpc.BlobKey{Key: uint64(key)},
		Data: bobrpc.Blob{Bytes: v.Bytes, Meta: bobrpc.BlobMeta{Timestamp: v.Meta.Timestamp}},
		Options: bobrpc.PutOptions{
			ForceNode:   opts.ForceNode,
			Overwrite:   opts.Overwrite,
			RemoteNodes: opts.RemoteNodes,
		},
	}

	resp, err := c.rpc.Put(callCtx, req)
	if err != nil {
		c.metrics.PutErrorCount()
		return NodeOutput[struct{}]{NodeName: c.node.Name}, classifyErr(callCtx, err)
	}
	if resp.Code != bobrpc.StatusOK {
		c.metrics.PutErrorCount()
		return NodeOutput[struct{}]{NodeName: c.node.Name}, bobdata.New(bobdata.KindRemoteError, resp.Error)
	}
	return NodeOutput[struct{}]{NodeName: c.node.Name}, nil
}

// Get fetches key from the peer.
func (c *BobClient) Get(ctx context.Context, key bobdata.Key, opts GetOptions) (NodeOutput[bobdata.BobData], error) {
	timer := c.metrics.StartTimer()
	defer c.metrics.GetTimerStop(timer)
	c.metrics.GetCount()

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	req := &bobrpc.GetRequest{
		Key:     bobrpc.BlobKey{Key: uint64(key)},
		Options: bobrpc.GetOptions{ForceNode: opts.ForceNode, Source: opts.Source},
	}

	resp, err := c.rpc.Get(callCtx, req)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return NodeOutput[bobdata.BobData]{NodeName: c.node.Name}, bobdata.ErrKeyNotFound
		}
		c.metrics.GetErrorCount()
		return NodeOutput[bobdata.BobData]{NodeName: c.node.Name}, classifyErr(callCtx, err)
	}

	value := bobdata.BobData{Bytes: resp.Bytes, Meta: bobdata.Meta{Timestamp: resp.Meta.Timestamp}}
	return NodeOutput[bobdata.BobData]{NodeName: c.node.Name, Value: value}, nil
}

// Exist checks membership for a batch of keys on the peer.
func (c *BobClient) Exist(ctx context.Context, keys []bobdata.Key, opts GetOptions) (NodeOutput[[]bool], error) {
	timer := c.metrics.StartTimer()
	defer c.metrics.ExistTimerStop(timer)
	c.metrics.ExistCount()

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	wireKeys := make([]bobrpc.BlobKey, len(keys))
	for i, k := range keys {
		wireKeys[i] = bobrpc.BlobKey{Key: uint64(k)}
	}

	resp, err := c.rpc.Exist(callCtx, &bobrpc.ExistRequest{Keys: wireKeys})
	if err != nil {
		c.metrics.ExistErrorCount()
		return NodeOutput[[]bool]{NodeName: c.node.Name}, classifyErr(callCtx, err)
	}
	return NodeOutput[[]bool]{NodeName: c.node.Name, Value: resp.Exist}, nil
}

// Ping checks liveness; used by the link manager's checker task.
func (c *BobClient) Ping(ctx context.Context) error {
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	_, err := c.rpc.Ping(callCtx, &bobrpc.Null{})
	if err != nil {
		return classifyErr(callCtx, err)
	}
	return nil
}

func classifyErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return bobdata.Wrap(bobdata.KindTimeout, "deadline exceeded", err)
	}
	if st, ok := status.FromError(err); ok {
		return bobdata.New(bobdata.KindRemoteError, st.Message())
	}
	return bobdata.Wrap(bobdata.KindStorageError, "rpc call", err)
}
