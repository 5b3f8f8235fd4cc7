package balance

import (
	"fmt"
	"math/rand"

	"github.com/bx-d/bus/discovery"
)

// WeightedRandomBalancer selects peers probabilistically based on their weight.
// A peer with weight 10 gets roughly 2x the traffic of one with weight 5.
//
// Best for: heterogeneous peers (e.g., some processes have more CPU/memory).
//
// Algorithm:
//  1. Sum all weights → totalWeight
//  2. Generate random number r in [0, totalWeight)
//  3. Subtract each peer's weight from r until r < 0
//  4. The peer that makes r negative is selected
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(peers []discovery.Peer) (*discovery.Peer, error) {
	if len(peers) == 0 {
		return nil, fmt.Errorf("no peers available")
	}

	// Calculate total weight
	totalWeight := 0
	for _, v := range peers {
		totalWeight += v.Weight
	}
	if totalWeight <= 0 {
		// Unweighted registrations degrade to uniform selection
		return &peers[rand.Intn(len(peers))], nil
	}

	// Random selection proportional to weight
	r := rand.Intn(totalWeight)
	for _, v := range peers {
		r -= v.Weight
		if r < 0 {
			return &v, nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
