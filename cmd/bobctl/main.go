// cmd/bobctl is the operator CLI for a bobd node: one subcommand per
// operation, persistent flags for the target, plus a bench subcommand
// for simple put-throughput load generation.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobfs/bobd/internal/bobclient"
	"github.com/bobfs/bobd/internal/bobdata"
	"github.com/bobfs/bobd/internal/bobrpc"
	"github.com/bobfs/bobd/internal/topology"
)

var (
	host    string
	port    int
	timeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "bobctl",
		Short: "operator CLI for a bobd node",
	}

	root.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "target node host")
	root.PersistentFlags().IntVar(&port, "port", 20000, "target node gRPC port")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "per-call timeout")

	root.AddCommand(putCmd(), getCmd(), existCmd(), pingCmd(), benchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*bobclient.BobClient, error) {
	node := topology.Node{Name: "target", Host: host, Port: port}
	return bobclient.Connect(ctx, node, timeout, nil)
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <payload>",
		Short: "store a value at key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			c, err := connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			v := bobdata.BobData{Bytes: []byte(args[1]), Meta: bobdata.Meta{Timestamp: uint64(time.Now().Unix())}}
			if _, err := c.Put(ctx, key, v, bobclient.PutOptions{}); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "fetch the value at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			c, err := connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Get(ctx, key, bobclient.GetOptions{Source: bobrpc.SourceAll})
			if err != nil {
				return err
			}
			fmt.Printf("%s (timestamp=%d)\n", out.Value.Bytes, out.Value.Meta.Timestamp)
			return nil
		},
	}
}

func existCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exist <key> [key...]",
		Short: "check whether keys exist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]bobdata.Key, len(args))
			for i, a := range args {
				k, err := parseKey(a)
				if err != nil {
					return err
				}
				keys[i] = k
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			c, err := connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Exist(ctx, keys, bobclient.GetOptions{})
			if err != nil {
				return err
			}
			for i, k := range args {
				fmt.Printf("%s: %v\n", k, out.Value[i])
			}
			return nil
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "check node liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			c, err := connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Ping(ctx); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
}

// benchCmd is a small put-throughput load generator.
func benchCmd() *cobra.Command {
	var count int
	var threads int
	var payloadSize int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "run a put-throughput benchmark against a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := make([]byte, payloadSize)

			var ok, failed int64
			var wg sync.WaitGroup
			perThread := count / threads
			start := time.Now()

			for t := 0; t < threads; t++ {
				t := t
				wg.Add(1)
				go func() {
					defer wg.Done()

					ctx, cancel := context.WithTimeout(context.Background(), timeout)
					defer cancel()
					c, err := connect(ctx)
					if err != nil {
						atomic.AddInt64(&failed, int64(perThread))
						return
					}
					defer c.Close()

					for i := 0; i < perThread; i++ {
						key := bobdata.Key(uint64(t)*uint64(perThread) + uint64(i))
						v := bobdata.BobData{Bytes: payload, Meta: bobdata.Meta{Timestamp: uint64(time.Now().UnixNano())}}
						putCtx, putCancel := context.WithTimeout(context.Background(), timeout)
						_, err := c.Put(putCtx, key, v, bobclient.PutOptions{})
						putCancel()
						if err != nil {
							atomic.AddInt64(&failed, 1)
						} else {
							atomic.AddInt64(&ok, 1)
						}
					}
				}()
			}
			wg.Wait()

			elapsed := time.Since(start)
			fmt.Printf("%d ok, %d failed, %s elapsed, %.0f puts/sec\n",
				ok, failed, elapsed, float64(ok)/elapsed.Seconds())
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 1000, "total number of puts")
	cmd.Flags().IntVar(&threads, "threads", 4, "concurrent worker count")
	cmd.Flags().IntVar(&payloadSize, "payload", 100, "payload size in bytes")
	return cmd
}

func parseKey(s string) (bobdata.Key, error) {
	var k uint64
	if _, err := fmt.Sscanf(s, "%d", &k); err != nil {
		return 0, fmt.Errorf("invalid key %q: must be a non-negative integer", s)
	}
	return bobdata.Key(k), nil
}
