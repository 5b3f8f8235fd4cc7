package discovery

import "sync"

// StaticDiscovery is an in-memory Discovery for single-process deployments
// and tests: peers registered in this process are visible only to this
// process. TTLs are ignored — entries live until Deregister.
type StaticDiscovery struct {
	mu     sync.RWMutex
	topics map[string]map[string]Peer
}

// NewStaticDiscovery constructs an empty in-memory discovery table.
func NewStaticDiscovery() *StaticDiscovery {
	return &StaticDiscovery{topics: map[string]map[string]Peer{}}
}

func (d *StaticDiscovery) Register(topic string, peer Peer, ttl int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.topics[topic] == nil {
		d.topics[topic] = map[string]Peer{}
	}
	d.topics[topic][peer.Key()] = peer
	return nil
}

func (d *StaticDiscovery) Deregister(topic string, peer Peer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.topics[topic], peer.Key())
	return nil
}

func (d *StaticDiscovery) Discover(topic string) ([]Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	peers := make([]Peer, 0, len(d.topics[topic]))
	for _, peer := range d.topics[topic] {
		peers = append(peers, peer)
	}
	return peers, nil
}

// Watch is a no-op for static discovery: the table only changes through
// this process's own Register/Deregister calls.
func (d *StaticDiscovery) Watch(topic string) <-chan []Peer {
	return nil
}

func (d *StaticDiscovery) Close() error {
	return nil
}
