package cluster

import "testing"

func TestRingNodesForReturnsDistinctNodes(t *testing.T) {
	r := NewRing(100)
	r.AddNode("a")
	r.AddNode("b")
	r.AddNode("c")

	nodes := r.NodesFor([]byte("some-key"), 2)
	if len(nodes) != 2 {
		t.Fatalf("want 2 distinct nodes, got %v", nodes)
	}
	if nodes[0] == nodes[1] {
		t.Fatalf("expected distinct nodes, got %v twice", nodes[0])
	}
}

func TestRingNodesForDeterministic(t *testing.T) {
	r1 := NewRing(100)
	r2 := NewRing(100)
	for _, id := range []string{"a", "b", "c"} {
		r1.AddNode(id)
		r2.AddNode(id)
	}

	n1 := r1.NodesFor([]byte("key-42"), 3)
	n2 := r2.NodesFor([]byte("key-42"), 3)
	if len(n1) != len(n2) {
		t.Fatalf("different node counts: %v vs %v", n1, n2)
	}
	for i := range n1 {
		if n1[i] != n2[i] {
			t.Fatalf("two identically-built rings disagree: %v vs %v", n1, n2)
		}
	}
}

func TestRingRemoveNodeStopsOwningKeys(t *testing.T) {
	r := NewRing(100)
	r.AddNode("a")
	r.AddNode("b")
	r.RemoveNode("b")

	for _, k := range []string{"k1", "k2", "k3", "k4", "k5"} {
		for _, owner := range r.NodesFor([]byte(k), 1) {
			if owner == "b" {
				t.Fatalf("removed node b still owns key %s", k)
			}
		}
	}
}
