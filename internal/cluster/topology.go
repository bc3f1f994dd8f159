package cluster

import (
	"fmt"
	"sync"
	"time"
)

// Node represents a single cluster member.
type Node struct {
	ID      string `json:"id"`
	Address string `json:"address"` // host:port
	IsAlive bool   `json:"is_alive"`
}

// Topology maps keys to the replica nodes that should hold them, answers
// identity questions about this process, and owns the long-lived PeerClient
// for every remote member.
type Topology interface {
	IsLocal(node Node) bool
	PrimaryFor(key []byte) Node
	PrimariesFor(key []byte, count int) []Node
	All() []Node
	Size() int
	QuorumCount() int
	PeerClient(node Node) (*PeerClient, bool)
}

// ErrDuplicateNode is returned by NewCluster when two seed nodes share an ID.
// Duplicate membership is a fatal configuration error, not something the
// cluster can reconcile at runtime.
type ErrDuplicateNode struct{ NodeID string }

func (e ErrDuplicateNode) Error() string {
	return fmt.Sprintf("duplicate node id %q in cluster configuration", e.NodeID)
}

// Cluster is the concrete, static-membership Topology. Node health is
// tracked opportunistically (see bumpFail) but only to skip known-flaky
// peers as a micro-optimization — it never substitutes for the
// QuorumCollector's own accounting of success and failure.
type Cluster struct {
	mu     sync.RWMutex
	selfID string
	nodes  map[string]*Node
	ring   *Ring
	peers  map[string]*PeerClient

	maxFailures int
	failCounts  map[string]int
}

var _ Topology = (*Cluster)(nil)

// NewCluster builds a Cluster seeded with nodes. selfID must be one of the
// seeded node IDs. peerTimeout bounds every PeerClient request.
func NewCluster(selfID string, nodes []Node, vnodes int, peerTimeout time.Duration) (*Cluster, error) {
	c := &Cluster{
		selfID:      selfID,
		nodes:       make(map[string]*Node),
		ring:        NewRing(vnodes),
		peers:       make(map[string]*PeerClient),
		maxFailures: 5,
		failCounts:  make(map[string]int),
	}
	for i := range nodes {
		n := nodes[i]
		if _, ok := c.nodes[n.ID]; ok {
			return nil, ErrDuplicateNode{NodeID: n.ID}
		}
		n.IsAlive = true
		c.nodes[n.ID] = &n
		c.ring.AddNode(n.ID)
		if n.ID != selfID {
			c.peers[n.ID] = NewPeerClient(n.Address, peerTimeout)
		}
	}
	return c, nil
}

// Join admits a new node at runtime. It is an administrative operation
// exposed over /cluster/join, not automatic gossip-driven membership.
func (c *Cluster) Join(node Node, peerTimeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[node.ID]; ok {
		return ErrDuplicateNode{NodeID: node.ID}
	}
	node.IsAlive = true
	c.nodes[node.ID] = &node
	c.ring.AddNode(node.ID)
	if node.ID != c.selfID {
		c.peers[node.ID] = NewPeerClient(node.Address, peerTimeout)
	}
	return nil
}

// Leave removes a node at runtime (graceful departure, not failure detection).
func (c *Cluster) Leave(nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[nodeID]; !ok {
		return fmt.Errorf("node %s not in cluster", nodeID)
	}
	delete(c.nodes, nodeID)
	delete(c.peers, nodeID)
	delete(c.failCounts, nodeID)
	c.ring.RemoveNode(nodeID)
	return nil
}

func (c *Cluster) IsLocal(node Node) bool { return node.ID == c.selfID }

func (c *Cluster) PrimaryFor(key []byte) Node {
	nodes := c.PrimariesFor(key, 1)
	if len(nodes) == 0 {
		return Node{}
	}
	return nodes[0]
}

func (c *Cluster) PrimariesFor(key []byte, count int) []Node {
	ids := c.ring.NodesFor(key, count)

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := c.nodes[id]; ok {
			out = append(out, *n)
		}
	}
	return out
}

func (c *Cluster) All() []Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, *n)
	}
	return out
}

func (c *Cluster) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

func (c *Cluster) QuorumCount() int {
	return c.Size()/2 + 1
}

func (c *Cluster) PeerClient(node Node) (*PeerClient, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pc, ok := c.peers[node.ID]
	return pc, ok
}

// bumpFail records a failed contact with nodeID. Once a node crosses
// maxFailures, IsHealthy reports it as flaky so the coordinator can choose
// to skip dispatching to it — the QuorumCollector still treats a skipped
// dispatch as a failed replica, so this never changes a quorum verdict,
// only how quickly the coordinator gives up on a peer it already expects
// to fail.
func (c *Cluster) bumpFail(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCounts[nodeID]++
}

func (c *Cluster) resetFail(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failCounts, nodeID)
}

// IsHealthy reports whether nodeID has stayed under the failure threshold.
func (c *Cluster) IsHealthy(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failCounts[nodeID] < c.maxFailures
}

// RecordOutcome updates the flakiness tracker for nodeID given the result
// of a peer dispatch. Call it after every PeerClient round trip.
func (c *Cluster) RecordOutcome(nodeID string, err error) {
	if err != nil {
		c.bumpFail(nodeID)
		return
	}
	c.resetFail(nodeID)
}
