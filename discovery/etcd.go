// Etcd-backed implementation of the Discovery interface.
//
// etcd is a distributed key-value store that provides strong consistency
// (Raft protocol). We use it as a "distributed phonebook" for bus peers:
//
//	Key:   /bus/{topic}/{peerKey}
//	Value: JSON-encoded Peer
//
// Registration uses TTL-based leases: if the process crashes, the lease
// expires and the entry is automatically removed — preventing "ghost" peers.
package discovery

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/bus/"

// EtcdDiscovery implements the Discovery interface using etcd v3.
type EtcdDiscovery struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
}

// NewEtcdDiscovery creates a discovery backend connected to the given etcd endpoints.
func NewEtcdDiscovery(endpoints []string) (*EtcdDiscovery, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdDiscovery{client: c}, nil
}

// Register adds a peer to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
//
// Note: leaseID is a local variable, NOT stored on the struct.
// This prevents a data race when multiple bus processes share one
// EtcdDiscovery instance.
func (d *EtcdDiscovery) Register(topic string, peer Peer, ttl int64) error {
	ctx := context.TODO()

	// Create a TTL-based lease — if KeepAlive stops, the entry auto-expires
	lease, err := d.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	// Serialize the peer metadata
	val, err := json.Marshal(peer)
	if err != nil {
		return err
	}

	// Store in etcd: key = /bus/{topic}/{peerKey}, value = JSON metadata
	_, err = d.client.Put(ctx, keyPrefix+topic+"/"+peer.Key(), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// Start background lease renewal — KeepAlive sends heartbeats to etcd
	ch, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a peer from etcd.
// Called during graceful shutdown before closing the listener socket.
func (d *EtcdDiscovery) Deregister(topic string, peer Peer) error {
	ctx := context.TODO()
	_, err := d.client.Delete(ctx, keyPrefix+topic+"/"+peer.Key())
	return err
}

// Discover returns all currently registered peers for a topic.
// Queries etcd with a key prefix to find all entries under /bus/{topic}/.
func (d *EtcdDiscovery) Discover(topic string) ([]Peer, error) {
	ctx := context.TODO()
	prefix := keyPrefix + topic + "/"

	// Get all keys with the prefix
	resp, err := d.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	// Deserialize each value into a Peer
	peers := make([]Peer, 0)
	for _, kv := range resp.Kvs {
		var peer Peer
		if err := json.Unmarshal(kv.Value, &peer); err != nil {
			continue // Skip malformed entries
		}
		peers = append(peers, peer)
	}

	return peers, nil
}

// Watch monitors a topic prefix in etcd and emits updated peer lists
// whenever changes occur (new registrations, deregistrations, lease expirations).
//
// Uses etcd's Watch API (server-push), which is more efficient than polling.
func (d *EtcdDiscovery) Watch(topic string) <-chan []Peer {
	ctx := context.TODO()
	ch := make(chan []Peer, 1)
	prefix := keyPrefix + topic + "/"

	go func() {
		// Watch all keys under the topic prefix
		watchChan := d.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full peer list
			// (simpler than parsing individual watch events)
			peers, _ := d.Discover(topic)
			ch <- peers
		}
	}()

	return ch
}

// Close shuts down the etcd client connection.
func (d *EtcdDiscovery) Close() error {
	return d.client.Close()
}
