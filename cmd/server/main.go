// cmd/server is the main entrypoint for a KV store node.
//
// Configuration is entirely via flags so a single binary can
// serve any role in the cluster.
//
// Example — single node:
//
//	./server --id node1 --addr :8080 --data-dir /var/kvstore/node1
//
// Example — 3-node cluster:
//
//	./server --id node1 --addr :8080 --data-dir /tmp/n1 \
//	         --peers node2=localhost:8081,node3=localhost:8082
//	./server --id node2 --addr :8081 --data-dir /tmp/n2 \
//	         --peers node1=localhost:8080,node3=localhost:8082
//	./server --id node3 --addr :8082 --data-dir /tmp/n3 \
//	         --peers node1=localhost:8080,node2=localhost:8081
package main

import (
	"context"
	"distributed-kvstore/internal/api"
	"distributed-kvstore/internal/cluster"
	"distributed-kvstore/internal/metrics"
	"distributed-kvstore/internal/store"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	nodeID := flag.String("id", "node1", "Unique node identifier")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/kvstore", "Directory for WAL and snapshots")
	peersFlag := flag.String("peers", "", "Comma-separated list of peer nodes: id=host:port")
	vnodes := flag.Int("vnodes", 150, "Virtual nodes per physical node on the hash ring")
	peerTimeout := flag.Duration("peer-timeout", 3*time.Second, "Per-request timeout for proxied peer calls")
	readRepair := flag.Bool("read-repair", true, "Enable best-effort asynchronous read repair")
	snapshotEvery := flag.Duration("snapshot-interval", 60*time.Second, "Interval between background snapshots")
	devLogging := flag.Bool("dev-log", false, "Use zap's human-readable development logger")
	daoPoolSize := flag.Int("dao-pool-size", 0, "Bounded admission slots for local store dispatch (0 = default)")
	proxyPoolSize := flag.Int("proxy-pool-size", 0, "Bounded admission slots for outbound peer dispatch (0 = default)")
	shutdownDrain := flag.Duration("shutdown-drain", 5*time.Second, "How long to await in-flight requests during shutdown")
	flag.Parse()

	logger, err := newLogger(*devLogging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// ── Storage ────────────────────────────────────────────────────────────
	nodeDataDir := fmt.Sprintf("%s/%s", *dataDir, *nodeID)
	engine, err := store.NewEngine(nodeDataDir, *nodeID)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer engine.Close()

	// ── Cluster topology ───────────────────────────────────────────────────
	selfNode := cluster.Node{ID: *nodeID, Address: *addr}
	nodes := []cluster.Node{selfNode}

	if *peersFlag != "" {
		for _, entry := range strings.Split(*peersFlag, ",") {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				logger.Fatal("invalid peer format, expected id=host:port", zap.String("entry", entry))
			}
			nodes = append(nodes, cluster.Node{ID: parts[0], Address: parts[1]})
		}
	}

	topology, err := cluster.NewCluster(*nodeID, nodes, *vnodes, *peerTimeout)
	if err != nil {
		logger.Fatal("build cluster topology", zap.Error(err))
	}

	// ── Metrics & coordinator ──────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	coordinator := cluster.NewCoordinator(topology, engine, selfNode, *readRepair, logger, m, *daoPoolSize, *proxyPoolSize)

	// ── HTTP server ────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(api.Logger(logger), api.Recovery(logger))

	handler := api.NewHandler(coordinator, topology, registry, *peerTimeout, logger)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming range scans may run long
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────
	go func() {
		logger.Info("node listening",
			zap.String("node", *nodeID),
			zap.String("addr", *addr),
			zap.Int("cluster_size", topology.Size()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Background snapshot ticker.
	snapshotCtx, cancelSnapshot := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(*snapshotEvery)
		defer ticker.Stop()
		for {
			select {
			case <-snapshotCtx.Done():
				return
			case <-ticker.C:
				if err := engine.Snapshot(); err != nil {
					logger.Warn("snapshot failed", zap.Error(err))
				} else {
					logger.Debug("snapshot saved")
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down", zap.String("node", *nodeID))
	cancelSnapshot()
	coordinator.Shutdown() // refuse new admissions before the listener even stops

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	if err := coordinator.AwaitDrain(*shutdownDrain); err != nil {
		logger.Warn("in-flight requests did not drain in time", zap.Error(err))
	}
	if err := engine.Snapshot(); err != nil {
		logger.Warn("final snapshot failed", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
