// Package balance provides peer-selection strategies used when a bus call
// has more than one peer to reach: RPC calls with several processes serving
// the same API, or event deliveries where a listener group has several
// competing-consumer instances.
//
// Three strategies are implemented:
//   - RoundRobin:      stateless peers, equal-capacity processes
//   - WeightedRandom:  heterogeneous peers (different CPU/memory)
//   - ConsistentHash:  affinity by correlation key (e.g., api_name)
package balance

import "github.com/bx-d/bus/discovery"

// Balancer is the interface for peer-selection strategies.
// The transport calls Pick() before each dispatch to select a target peer.
type Balancer interface {
	// Pick selects one peer from the available list.
	// Called on every dispatch — must be goroutine-safe.
	Pick(peers []discovery.Peer) (*discovery.Peer, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
