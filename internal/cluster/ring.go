package cluster

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// defaultVnodes is used when NewRing is given a non-positive vnode count.
// 100-200 virtual nodes per physical node is the usual range for even load
// distribution on a 32-bit ring.
const defaultVnodes = 150

// Ring is a consistent-hash ring over physical node IDs. Each physical node
// is placed at vnodes positions so that adding or removing a node only
// remaps roughly 1/N of the keyspace instead of all of it. Safe for
// concurrent use.
type Ring struct {
	mu     sync.RWMutex
	vnodes int
	ring   map[uint32]string
	sorted []uint32
}

// NewRing builds an empty ring. vnodes <= 0 falls back to defaultVnodes.
func NewRing(vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = defaultVnodes
	}
	return &Ring{
		vnodes: vnodes,
		ring:   make(map[uint32]string),
	}
}

// AddNode places nodeID's virtual nodes on the ring.
func (r *Ring) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.vnodes; i++ {
		pos := r.hashString(fmt.Sprintf("%s#%d", nodeID, i))
		r.ring[pos] = nodeID
	}
	r.rebuild()
}

// RemoveNode removes every virtual node belonging to nodeID.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.vnodes; i++ {
		pos := r.hashString(fmt.Sprintf("%s#%d", nodeID, i))
		delete(r.ring, pos)
	}
	r.rebuild()
}

// NodesFor returns up to n distinct physical node IDs responsible for key,
// walking clockwise from key's ring position. Keys are hashed as raw bytes
// so callers never pay a string conversion just to place a key.
func (r *Ring) NodesFor(key []byte, n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sorted) == 0 {
		return nil
	}

	idx := r.search(r.hashBytes(key))

	seen := make(map[string]bool, n)
	nodes := make([]string, 0, n)
	for i := 0; i < len(r.sorted) && len(nodes) < n; i++ {
		vpos := r.sorted[(idx+i)%len(r.sorted)]
		nodeID := r.ring[vpos]
		if !seen[nodeID] {
			seen[nodeID] = true
			nodes = append(nodes, nodeID)
		}
	}
	return nodes
}

// Nodes returns all distinct physical node IDs currently on the ring,
// sorted for stable output.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var nodes []string
	for _, id := range r.ring {
		if !seen[id] {
			seen[id] = true
			nodes = append(nodes, id)
		}
	}
	sort.Strings(nodes)
	return nodes
}

// NodeCount returns the number of physical (not virtual) nodes on the ring.
func (r *Ring) NodeCount() int {
	return len(r.Nodes())
}

func (r *Ring) hashString(s string) uint32 {
	h := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint32(h[:4])
}

func (r *Ring) hashBytes(b []byte) uint32 {
	h := sha256.Sum256(b)
	return binary.BigEndian.Uint32(h[:4])
}

// rebuild recomputes the sorted position slice search relies on. Call after
// every AddNode/RemoveNode.
func (r *Ring) rebuild() {
	r.sorted = make([]uint32, 0, len(r.ring))
	for pos := range r.ring {
		r.sorted = append(r.sorted, pos)
	}
	slices.Sort(r.sorted)
}

// search returns the index of the first ring position >= pos, wrapping to
// 0 if pos is past every position (circular ring).
func (r *Ring) search(pos uint32) int {
	idx := sort.Search(len(r.sorted), func(i int) bool {
		return r.sorted[i] >= pos
	})
	if idx == len(r.sorted) {
		idx = 0
	}
	return idx
}
