package cluster

import (
	"testing"
	"time"
)

func TestNewClusterRejectsDuplicateNode(t *testing.T) {
	_, err := NewCluster("a", []Node{
		{ID: "a", Address: "localhost:9001"},
		{ID: "a", Address: "localhost:9002"},
	}, 50, time.Second)
	if err == nil {
		t.Fatal("expected ErrDuplicateNode")
	}
	if _, ok := err.(ErrDuplicateNode); !ok {
		t.Fatalf("want ErrDuplicateNode, got %T: %v", err, err)
	}
}

func TestClusterIsLocal(t *testing.T) {
	c, err := NewCluster("a", []Node{
		{ID: "a", Address: "localhost:9001"},
		{ID: "b", Address: "localhost:9002"},
	}, 50, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsLocal(Node{ID: "a"}) {
		t.Fatal("expected node a to be local")
	}
	if c.IsLocal(Node{ID: "b"}) {
		t.Fatal("expected node b to not be local")
	}
}

func TestClusterQuorumCount(t *testing.T) {
	c, err := NewCluster("a", []Node{
		{ID: "a", Address: "localhost:9001"},
		{ID: "b", Address: "localhost:9002"},
		{ID: "c", Address: "localhost:9003"},
	}, 50, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.QuorumCount(); got != 2 {
		t.Fatalf("want quorum 2 of 3, got %d", got)
	}
}

func TestClusterPeerClientExcludesSelf(t *testing.T) {
	c, err := NewCluster("a", []Node{
		{ID: "a", Address: "localhost:9001"},
		{ID: "b", Address: "localhost:9002"},
	}, 50, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.PeerClient(Node{ID: "a"}); ok {
		t.Fatal("self should not have a PeerClient")
	}
	if _, ok := c.PeerClient(Node{ID: "b"}); !ok {
		t.Fatal("expected a PeerClient for remote node b")
	}
}

func TestClusterJoinAndLeave(t *testing.T) {
	c, err := NewCluster("a", []Node{{ID: "a", Address: "localhost:9001"}}, 50, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Join(Node{ID: "b", Address: "localhost:9002"}, time.Second); err != nil {
		t.Fatal(err)
	}
	if c.Size() != 2 {
		t.Fatalf("want size 2 after join, got %d", c.Size())
	}
	if err := c.Leave("b"); err != nil {
		t.Fatal(err)
	}
	if c.Size() != 1 {
		t.Fatalf("want size 1 after leave, got %d", c.Size())
	}
}
