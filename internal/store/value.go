// Package store contains the core storage engine of our distributed key-value system.
//
// This store:
//   - Keeps data in memory (fast reads/writes)
//   - Persists every write to disk using a Write-Ahead Log (WAL)
//   - Periodically creates full snapshots to speed up recovery
//
// Big idea:
//
//  1. WAL (Write-Ahead Log)
//     Every write is first written to disk before updating memory.
//     If the process crashes, we replay the WAL to rebuild the state.
//     This is how real databases like PostgreSQL and MySQL stay safe.
//
//  2. Snapshot
//     Instead of replaying the entire WAL from the beginning of time,
//     we sometimes save the full in-memory state to disk.
//     After that, we only need to replay newer WAL entries.
//
//  3. Concurrency
//     We use sync.RWMutex so:
//     - Many readers can read at the same time
//     - Only one writer can write at a time
//     This pattern works well for read-heavy systems.
package store

import "bytes"

// NeverExpires is the sentinel ExpiresAt value meaning "no expiration".
// Zero is safe to reuse here: no Value written by this system legitimately
// carries a zero millisecond timestamp.
const NeverExpires int64 = 0

// Value represents one stored record in the key-value store.
//
// It contains:
//   - The actual data
//   - A timestamp, assigned by the originating node at write time
//   - An expiration deadline (or NeverExpires)
//   - A tombstone flag (used for soft deletes in distributed replication)
//
// Why tombstone?
// In distributed systems, deletes must also be replicated.
// If we just removed the key, other nodes would not know it was deleted.
// So we mark it as deleted instead.
type Value struct {
	Timestamp int64  `json:"timestamp"` // ms since epoch, set at the originating node
	ExpiresAt int64  `json:"expires_at"`
	Tombstone bool   `json:"tombstone"`
	Data      []byte `json:"data,omitempty"`
}

// Less implements the total order used for conflict resolution: the
// smaller Value wins. Larger timestamp sorts first (last-writer-wins);
// among equal timestamps a tombstone sorts before a live value, and
// otherwise data bytes break the tie lexicographically. Two Values with
// the same timestamp resolve to the same winner on every node regardless
// of comparison order — that is the whole point of a total order here.
func (v Value) Less(other Value) bool {
	if v.Timestamp != other.Timestamp {
		return v.Timestamp > other.Timestamp // larger timestamp wins -> sorts first
	}
	if v.Tombstone != other.Tombstone {
		return v.Tombstone // tombstone wins a same-millisecond race
	}
	return bytes.Compare(v.Data, other.Data) < 0
}

// ExpiredAt reports whether v is logically absent at the given instant.
// Expiration is a pure read-side filter: it never physically removes data.
func (v Value) ExpiredAt(nowMillis int64) bool {
	return v.ExpiresAt != NeverExpires && v.ExpiresAt <= nowMillis
}

// Cell is a (key, Value) pair emitted by the low-level iterator. Cells are
// ordered ascending by key; within a key, newest timestamp first (this only
// happens transiently, while multiple generations of a key are merged).
type Cell struct {
	Key   []byte
	Value Value
}

// Record is the client-visible projection of a live, non-tombstoned,
// non-expired Value.
type Record struct {
	Key  []byte
	Data []byte
}
