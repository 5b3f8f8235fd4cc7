package balance

import (
	"fmt"
	"testing"

	"github.com/bx-d/bus/discovery"
)

var testPeers = []discovery.Peer{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all peers
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		peer, err := b.Pick(testPeers)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = peer.Addr
	}

	// Pick again, should wrap around to first
	peer, _ := b.Pick(testPeers)
	if peer.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], peer.Addr)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick([]discovery.Peer{})
	if err == nil {
		t.Fatal("expect error for empty peer list")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		peer, err := b.Pick(testPeers)
		if err != nil {
			t.Fatal(err)
		}
		counts[peer.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomUnweighted(t *testing.T) {
	b := &WeightedRandomBalancer{}
	peers := []discovery.Peer{{Addr: ":9001"}, {Addr: ":9002"}}
	for i := 0; i < 100; i++ {
		if _, err := b.Pick(peers); err != nil {
			t.Fatalf("unweighted pick failed: %v", err)
		}
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := range testPeers {
		b.Add(&testPeers[i])
	}

	// Same key should always map to the same peer
	peer1, _ := b.Pick("auth.users")
	peer2, _ := b.Pick("auth.users")
	if peer1.Addr != peer2.Addr {
		t.Fatalf("same key mapped to different peers: %s vs %s", peer1.Addr, peer2.Addr)
	}

	// Different keys should (likely) map to different peers
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		peer, _ := b.Pick(fmt.Sprintf("api-%d", i))
		seen[peer.Addr] = true
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different peers, got %d", len(seen))
	}
}

func TestConsistentHashEmptyRing(t *testing.T) {
	b := NewConsistentHashBalancer()
	if _, err := b.Pick("auth"); err == nil {
		t.Fatal("expect error for empty ring")
	}
}
