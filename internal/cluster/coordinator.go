package cluster

import (
	"context"
	"distributed-kvstore/internal/apierr"
	"distributed-kvstore/internal/metrics"
	"distributed-kvstore/internal/store"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// GetResult is the Coordinator's synthesized answer to an originating GET:
// either a live Value (Found) or a definitive absence.
type GetResult struct {
	Found bool
	Value store.Value
}

// Coordinator orchestrates GET/PUT/DELETE across the replica set a Topology
// names for a key. It never blocks synchronously on the network: every
// per-replica call runs in its own goroutine and reports into a
// QuorumCollector.
type Coordinator struct {
	topology   Topology
	local      store.LocalStore
	self       Node
	readRepair bool
	logger     *zap.Logger
	metrics    *metrics.Metrics
	admission  *admission
}

// NewCoordinator builds a Coordinator. readRepair toggles the best-effort,
// non-blocking repair pass after a quorum GET — it never gates the quorum
// verdict. daoPoolSize/proxyPoolSize bound the two admission-control pools:
// local store/orchestration work, and outbound peer I/O. A size of 0 uses a
// sensible default.
func NewCoordinator(topology Topology, local store.LocalStore, self Node, readRepair bool, logger *zap.Logger, m *metrics.Metrics, daoPoolSize, proxyPoolSize int) *Coordinator {
	return &Coordinator{
		topology:   topology,
		local:      local,
		self:       self,
		readRepair: readRepair,
		logger:     logger,
		metrics:    m,
		admission:  newAdmission(daoPoolSize, proxyPoolSize),
	}
}

// Shutdown rejects all new admissions immediately (serving the "HTTP server
// refuses new work" half of a graceful stop) without waiting.
func (c *Coordinator) Shutdown() {
	c.admission.beginShutdown()
}

// AwaitDrain waits up to timeout for in-flight operations admitted before
// Shutdown to finish. A timeout is logged by the caller, not panicked on —
// the returned error is the cooperative shutdown signal.
func (c *Coordinator) AwaitDrain(timeout time.Duration) error {
	return c.admission.awaitDrain(timeout)
}

// LocalGet answers a proxy GET: the raw store lookup, unfiltered by expiry
// or tombstone — the originator applies those read-time rules after merge.
func (c *Coordinator) LocalGet(ctx context.Context, key []byte) (store.Value, bool, error) {
	release, err := c.admission.enter()
	if err != nil {
		c.metrics.RecordError(errorClass(err))
		return store.Value{}, false, err
	}
	defer release()
	return c.local.Get(ctx, key)
}

// LocalPut answers a proxy PUT. When ts is non-nil it installs the value
// exactly as the originator stamped it; otherwise (the proxy request
// carried no Timestamp_Header) it stamps a fresh timestamp itself.
func (c *Coordinator) LocalPut(ctx context.Context, key, data []byte, expiresAt int64, ts *int64) (store.Value, error) {
	release, err := c.admission.enter()
	if err != nil {
		c.metrics.RecordError(errorClass(err))
		return store.Value{}, err
	}
	defer release()

	if ts == nil {
		return c.local.Upsert(ctx, key, data, expiresAt)
	}
	v := store.Value{Timestamp: *ts, ExpiresAt: expiresAt, Data: append([]byte(nil), data...)}
	if err := c.local.ApplyRemote(ctx, key, v); err != nil {
		return store.Value{}, err
	}
	return v, nil
}

// LocalRemove answers a proxy DELETE, same timestamp convention as LocalPut.
func (c *Coordinator) LocalRemove(ctx context.Context, key []byte, ts *int64) (store.Value, error) {
	release, err := c.admission.enter()
	if err != nil {
		c.metrics.RecordError(errorClass(err))
		return store.Value{}, err
	}
	defer release()

	if ts == nil {
		return c.local.Remove(ctx, key)
	}
	v := store.Value{Timestamp: *ts, Tombstone: true}
	if err := c.local.ApplyRemote(ctx, key, v); err != nil {
		return store.Value{}, err
	}
	return v, nil
}

// errorClass buckets an error by its apierr.Kind for the Errors counter
// (ErrInsufficientReplicas unwraps to apierr.InsufficientReplicas, so it is
// found the same way). An error with no recognized Kind is "unknown".
func errorClass(err error) string {
	if k, ok := apierr.Is(err); ok {
		return string(k)
	}
	return "unknown"
}

// Get performs an originating-path quorum GET: fan out to from replicas,
// wait for ack answers, resolve.
func (c *Coordinator) Get(ctx context.Context, key []byte, ack, from int) (GetResult, error) {
	release, err := c.admission.enter()
	if err != nil {
		c.metrics.RecordError(errorClass(err))
		return GetResult{}, err
	}
	defer release()

	start := time.Now()
	defer func() { c.metrics.GetLatency.Observe(time.Since(start).Seconds()) }()

	replicas := c.topology.PrimariesFor(key, from)
	qc := NewQuorumCollector[replicaGet](len(replicas), ack)

	for _, node := range replicas {
		node := node
		go func() {
			qc.Submit(c.dispatchGet(ctx, node, key))
		}()
	}

	raw, err := qc.Wait(ctx)
	if err != nil {
		c.metrics.RecordReadFailure()
		c.metrics.InsufficientReplicas.Inc()
		c.metrics.RecordError(errorClass(err))
		return GetResult{}, err
	}

	result, authoritative, haveAuthoritative := resolveGet(raw, time.Now().UnixMilli())
	c.metrics.RecordReadSuccess()

	if c.readRepair && haveAuthoritative {
		go c.repair(key, authoritative, raw)
	}
	return result, nil
}

type replicaGet struct {
	present   bool
	tombstone bool
	value     store.Value
	nodeID    string
}

func (c *Coordinator) dispatchGet(ctx context.Context, node Node, key []byte) (replicaGet, error) {
	if c.topology.IsLocal(node) {
		v, ok, err := c.local.Get(ctx, key)
		if err != nil {
			return replicaGet{}, fmt.Errorf("%w: local get: %v", apierr.InternalFailure, err)
		}
		if !ok {
			return replicaGet{nodeID: node.ID}, nil
		}
		return replicaGet{present: true, tombstone: v.Tombstone, value: v, nodeID: node.ID}, nil
	}

	if !c.isHealthy(node.ID) {
		return replicaGet{}, fmt.Errorf("%w: %s is flagged unhealthy, skipping dispatch", apierr.TransportFailure, node.ID)
	}

	release, err := c.admission.enterProxy()
	if err != nil {
		return replicaGet{}, err
	}
	defer release()

	pc, ok := c.topology.PeerClient(node)
	if !ok {
		return replicaGet{}, fmt.Errorf("%w: no peer client for node %s", apierr.InternalFailure, node.ID)
	}
	res := pc.Get(ctx, key)
	c.recordOutcome(node.ID, res.Err)
	if res.Err != nil {
		return replicaGet{}, fmt.Errorf("%w: %v", apierr.TransportFailure, res.Err)
	}
	return replicaGet{present: res.Present, tombstone: res.Tombstone, value: res.Value, nodeID: node.ID}, nil
}

// resolveGet merges the responses a quorum of replicas returned: majority
// vote among live values with the Value total order breaking ties, newest
// tombstone beats any staler live value, and expiry is applied last as a
// pure read-time filter. It also returns the authoritative Value
// (live or tombstone) read repair should push to stale replicas, and
// whether one exists at all — a pure NOT_FOUND with no observations has
// nothing for repair to propagate.
func resolveGet(results []replicaGet, nowMillis int64) (result GetResult, authoritative store.Value, haveAuthoritative bool) {
	counts := make(map[string]int)
	best := make(map[string]store.Value)
	var tombstone *store.Value

	for _, r := range results {
		if !r.present {
			continue
		}
		if r.tombstone {
			if tombstone == nil || r.value.Less(*tombstone) {
				v := r.value
				tombstone = &v
			}
			continue
		}
		identity := string(r.value.Data)
		counts[identity]++
		if cur, ok := best[identity]; !ok || r.value.Less(cur) {
			best[identity] = r.value
		}
	}

	var liveWinner store.Value
	haveLive := false
	bestCount := 0
	for identity, cnt := range counts {
		v := best[identity]
		if cnt > bestCount || (cnt == bestCount && haveLive && v.Less(liveWinner)) {
			bestCount, liveWinner, haveLive = cnt, v, true
		}
	}

	if !haveLive && tombstone == nil {
		return GetResult{Found: false}, store.Value{}, false
	}
	if tombstone != nil && (!haveLive || tombstone.Timestamp > liveWinner.Timestamp) {
		return GetResult{Found: false}, *tombstone, true
	}
	if liveWinner.ExpiredAt(nowMillis) {
		return GetResult{Found: false}, liveWinner, true
	}
	return GetResult{Found: true, Value: liveWinner}, liveWinner, true
}

// repair fire-and-forgets the resolved winner back to any replica that
// reported something else. It never blocks Get and never changes its
// verdict — it only shortens the window until a stale replica catches up.
func (c *Coordinator) repair(key []byte, winner store.Value, raw []replicaGet) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, r := range raw {
		stale := !r.present || r.value.Timestamp != winner.Timestamp
		if !stale {
			continue
		}
		node := Node{ID: r.nodeID}
		if c.topology.IsLocal(node) {
			if err := c.local.ApplyRemote(ctx, key, winner); err != nil {
				c.logger.Warn("read repair: local apply failed", zap.Error(err))
			}
			continue
		}
		pc, ok := c.topology.PeerClient(node)
		if !ok {
			continue
		}
		if winner.Tombstone {
			pc.Delete(ctx, key, winner.Timestamp)
		} else {
			pc.Put(ctx, key, winner.Data, winner.Timestamp, winner.ExpiresAt)
		}
	}
}

// Put performs an originating-path quorum PUT. The returned Value carries
// the timestamp every acknowledging replica stored.
func (c *Coordinator) Put(ctx context.Context, key, data []byte, expiresAt int64, ack, from int) (store.Value, error) {
	release, err := c.admission.enter()
	if err != nil {
		c.metrics.RecordError(errorClass(err))
		return store.Value{}, err
	}
	defer release()

	start := time.Now()
	defer func() { c.metrics.PutLatency.Observe(time.Since(start).Seconds()) }()

	v := store.Value{Timestamp: time.Now().UnixMilli(), ExpiresAt: expiresAt, Data: append([]byte(nil), data...)}
	replicas := c.topology.PrimariesFor(key, from)
	qc := NewQuorumCollector[struct{}](len(replicas), ack)

	for _, node := range replicas {
		node := node
		go func() {
			qc.Submit(struct{}{}, c.dispatchPut(ctx, node, key, v))
		}()
	}

	if _, err := qc.Wait(ctx); err != nil {
		c.metrics.RecordWriteFailure()
		c.metrics.InsufficientReplicas.Inc()
		c.metrics.RecordError(errorClass(err))
		return store.Value{}, err
	}
	c.metrics.RecordWriteSuccess()
	return v, nil
}

func (c *Coordinator) dispatchPut(ctx context.Context, node Node, key []byte, v store.Value) error {
	if c.topology.IsLocal(node) {
		if err := c.local.ApplyRemote(ctx, key, v); err != nil {
			return fmt.Errorf("%w: local apply: %v", apierr.InternalFailure, err)
		}
		return nil
	}

	if !c.isHealthy(node.ID) {
		return fmt.Errorf("%w: %s is flagged unhealthy, skipping dispatch", apierr.TransportFailure, node.ID)
	}

	release, err := c.admission.enterProxy()
	if err != nil {
		return err
	}
	defer release()

	pc, ok := c.topology.PeerClient(node)
	if !ok {
		return fmt.Errorf("%w: no peer client for node %s", apierr.InternalFailure, node.ID)
	}
	res := pc.Put(ctx, key, v.Data, v.Timestamp, v.ExpiresAt)
	c.recordOutcome(node.ID, res.Err)
	if res.Err != nil {
		return fmt.Errorf("%w: %v", apierr.TransportFailure, res.Err)
	}
	return nil
}

// Delete performs an originating-path quorum DELETE by replicating a
// tombstone; it is not a physical removal.
func (c *Coordinator) Delete(ctx context.Context, key []byte, ack, from int) error {
	release, err := c.admission.enter()
	if err != nil {
		c.metrics.RecordError(errorClass(err))
		return err
	}
	defer release()

	v := store.Value{Timestamp: time.Now().UnixMilli(), Tombstone: true}
	replicas := c.topology.PrimariesFor(key, from)
	qc := NewQuorumCollector[struct{}](len(replicas), ack)

	for _, node := range replicas {
		node := node
		go func() {
			qc.Submit(struct{}{}, c.dispatchDelete(ctx, node, key, v))
		}()
	}

	if _, err := qc.Wait(ctx); err != nil {
		c.metrics.RecordWriteFailure()
		c.metrics.InsufficientReplicas.Inc()
		c.metrics.RecordError(errorClass(err))
		return err
	}
	c.metrics.RecordWriteSuccess()
	return nil
}

func (c *Coordinator) dispatchDelete(ctx context.Context, node Node, key []byte, v store.Value) error {
	if c.topology.IsLocal(node) {
		if err := c.local.ApplyRemote(ctx, key, v); err != nil {
			return fmt.Errorf("%w: local apply: %v", apierr.InternalFailure, err)
		}
		return nil
	}

	if !c.isHealthy(node.ID) {
		return fmt.Errorf("%w: %s is flagged unhealthy, skipping dispatch", apierr.TransportFailure, node.ID)
	}

	release, err := c.admission.enterProxy()
	if err != nil {
		return err
	}
	defer release()

	pc, ok := c.topology.PeerClient(node)
	if !ok {
		return fmt.Errorf("%w: no peer client for node %s", apierr.InternalFailure, node.ID)
	}
	res := pc.Delete(ctx, key, v.Timestamp)
	c.recordOutcome(node.ID, res.Err)
	if res.Err != nil {
		return fmt.Errorf("%w: %v", apierr.TransportFailure, res.Err)
	}
	return nil
}

// RangeScan delegates straight to the local store; range requests are
// never replicated.
func (c *Coordinator) RangeScan(ctx context.Context, from, to []byte) (store.RecordIterator, error) {
	return c.local.RecordIterator(ctx, from, to)
}

func (c *Coordinator) recordOutcome(nodeID string, err error) {
	if cl, ok := c.topology.(*Cluster); ok {
		cl.RecordOutcome(nodeID, err)
	}
}

// isHealthy reports whether nodeID is still under the flakiness threshold.
// Topology implementations that don't track health (e.g. in tests) are
// treated as always healthy.
func (c *Coordinator) isHealthy(nodeID string) bool {
	if cl, ok := c.topology.(*Cluster); ok {
		return cl.IsHealthy(nodeID)
	}
	return true
}
