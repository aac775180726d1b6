package linkmanager

import (
	"context"
	"testing"

	"github.com/bobfs/bobd/internal/bobclient"
	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/logging"
	"github.com/bobfs/bobd/internal/topology"
)

func TestGetConnectionMissing(t *testing.T) {
	lm := New(nil, nil, logging.New("node01", "test"), nil)

	if _, ok := lm.GetConnection("node02"); ok {
		t.Errorf("GetConnection(node02) ok = true, want false with an empty pool")
	}
}

func TestCallNodesAllUnreachable(t *testing.T) {
	lm := New([]topology.Node{{Name: "node02"}, {Name: "node03"}}, nil, logging.New("node01", "test"), nil)

	called := false
	results := CallNodes(context.Background(), []string{"node02", "node03"}, lm, func(ctx context.Context, c *bobclient.BobClient) (int, error) {
		called = true
		return 0, nil
	})

	if called {
		t.Errorf("f was called despite no live connections")
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for i, res := range results {
		if !bobdata.Is(res.Err, bobdata.KindUnreachable) {
			t.Errorf("results[%d].Err = %v, want KindUnreachable", i, res.Err)
		}
	}
	// Order must match the input so callers can zip results back to
	// their originating replica slot.
	if results[0].Output.NodeName != "node02" || results[1].Output.NodeName != "node03" {
		t.Errorf("result order = [%s %s], want [node02 node03]",
			results[0].Output.NodeName, results[1].Output.NodeName)
	}
}

func TestCallNodesEmptyInput(t *testing.T) {
	lm := New(nil, nil, logging.New("node01", "test"), nil)

	results := CallNodes(context.Background(), nil, lm, func(ctx context.Context, c *bobclient.BobClient) (int, error) {
		return 0, nil
	})
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}
