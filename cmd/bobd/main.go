// cmd/bobd is the node daemon entrypoint: flags over the two config
// files, wire up storage and the fan-out layer, serve, and shut down
// gracefully on SIGINT/SIGTERM.
//
// Example:
//
//	bobd -c cluster.yml -n node.yml -a node01
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"

	"github.com/bobfs/bobd/internal/adminapi"
	"github.com/bobfs/bobd/internal/backend"
	"github.com/bobfs/bobd/internal/bobrpc"
	"github.com/bobfs/bobd/internal/bobserver"
	"github.com/bobfs/bobd/internal/configs"
	"github.com/bobfs/bobd/internal/grinder"
	"github.com/bobfs/bobd/internal/linkmanager"
	"github.com/bobfs/bobd/internal/logging"
	"github.com/bobfs/bobd/internal/metrics"
	"github.com/bobfs/bobd/internal/quorum"
	"github.com/bobfs/bobd/internal/topology"
)

func main() {
	clusterPath := flag.String("c", "cluster.yml", "path to cluster topology config")
	nodePath := flag.String("n", "node.yml", "path to node-local config")
	nodeName := flag.String("a", "", "this node's name (overrides node.yml's name if set)")
	threads := flag.Int("t", 0, "worker thread cap (0 = runtime default)")
	httpPort := flag.Int("p", 0, "admin http port (overrides node.yml's http_api_port if set)")
	flag.Parse()

	if *threads > 0 {
		runtime.GOMAXPROCS(*threads)
	}

	clusterCfg, err := configs.LoadClusterConfig(*clusterPath)
	if err != nil {
		log.Fatalf("load cluster config: %v", err)
	}
	if err := clusterCfg.Validate(); err != nil {
		log.Fatalf("invalid cluster config: %v", err)
	}

	nodeCfg, err := configs.LoadNodeConfig(*nodePath)
	if err != nil {
		log.Fatalf("load node config: %v", err)
	}
	if *nodeName != "" {
		nodeCfg.Name = *nodeName
	}
	if *httpPort > 0 {
		nodeCfg.HTTPAPIPort = *httpPort
	}
	if err := nodeCfg.Validate(); err != nil {
		log.Fatalf("invalid node config: %v", err)
	}

	logger := logging.New(nodeCfg.Name, "bobd")

	mapper, err := configs.BuildMapper(clusterCfg, nodeCfg.Name)
	if err != nil {
		log.Fatalf("build topology mapper: %v", err)
	}

	nodeSettings, err := configs.BuildSettings(nodeCfg)
	if err != nil {
		log.Fatalf("build settings: %v", err)
	}

	alienDisk := topology.DiskPath{Name: nodeCfg.AlienDiskName, Path: nodeCfg.AlienDiskName}
	for _, d := range mapper.LocalDisks() {
		if d.Name == nodeCfg.AlienDiskName {
			alienDisk = d
			break
		}
	}

	sink := metrics.NewSink()
	clientMetrics := metrics.NewBobClientMetrics(sink)
	linkMetrics := metrics.NewLinkManagerMetrics(sink)
	grinderMetrics := metrics.NewGrinderMetrics(sink)
	backendMetrics := metrics.NewBackendMetrics(sink)

	backendType, err := backend.ParseType(nodeCfg.BackendType)
	if err != nil {
		log.Fatalf("invalid backend_type: %v", err)
	}
	be := backend.New(mapper, nodeSettings, alienDisk, backendType)
	be.SetMetrics(backendMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := be.Run(ctx); err != nil {
		log.Fatalf("load local groups: %v", err)
	}
	go be.RunStats(ctx, 30*time.Second)
	go be.RunCleanup(ctx, nodeCfg.CleanupIntervalOr(time.Minute))

	operationTimeout := nodeCfg.OperationTimeoutOr(3 * time.Second)

	remoteNodes := mapper.RemoteNodes()
	factory := linkmanager.NewFactory(operationTimeout, clientMetrics)
	lm := linkmanager.New(remoteNodes, factory, logger.With("linkmanager"), linkMetrics)
	lm.ConnectAll(ctx)

	pingPeriod := time.Duration(nodeCfg.PingPeriodMS) * time.Millisecond
	if pingPeriod <= 0 {
		pingPeriod = 5 * time.Second
	}
	go lm.CheckerTask(ctx, pingPeriod)

	// The simple policy is satisfied by any single ack; quorum counts
	// acks against the configured requirement.
	qrm := quorum.Quorum{Required: nodeCfg.QuorumRequired}
	if nodeCfg.ClusterPolicy == configs.PolicySimple {
		qrm.Required = 1
	}
	cluster := quorum.New(mapper, be, lm, qrm, logger.With("quorum"))

	drainPeriod := time.Duration(nodeCfg.AlienDrainPeriodMS) * time.Millisecond
	if drainPeriod <= 0 {
		drainPeriod = 30 * time.Second
	}
	go cluster.RunAlienDrain(ctx, drainPeriod)

	gr := grinder.New(mapper, be, cluster, grinderMetrics)

	if nodeCfg.GraphiteAddress != "" {
		flushPeriod := time.Duration(nodeCfg.MetricsFlushPeriodMS) * time.Millisecond
		if flushPeriod <= 0 {
			flushPeriod = 10 * time.Second
		}
		exporter := metrics.NewGraphiteExporter(sink, nodeCfg.GraphiteAddress, nodeCfg.MetricsPrefix, flushPeriod, logger.With("metrics"))
		exportStop := make(chan struct{})
		go exporter.Run(exportStop)
		defer close(exportStop)
	}

	grpcServer := grpc.NewServer()
	bobrpc.RegisterServer(grpcServer, bobserver.New(gr))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", nodeCfg.GRPCPort))
	if err != nil {
		log.Fatalf("listen grpc: %v", err)
	}

	go func() {
		logger.Infof("grpc listening on :%d", nodeCfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Errorf("grpc server stopped: %v", err)
		}
	}()

	var httpSrv *http.Server
	if nodeCfg.HTTPAPIPort > 0 {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(gin.Recovery())
		adminapi.NewHandler(nodeCfg.Name, mapper, be, sink).Register(router)

		httpSrv = &http.Server{
			Addr:         fmt.Sprintf(":%d", nodeCfg.HTTPAPIPort),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Infof("admin http listening on :%d", nodeCfg.HTTPAPIPort)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("admin http server stopped: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	grpcServer.GracefulStop()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("admin http shutdown error: %v", err)
		}
	}
}

