package discovery

import "testing"

func TestStaticRegisterAndDiscover(t *testing.T) {
	d := NewStaticDiscovery()

	peer1 := Peer{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	peer2 := Peer{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := d.Register(RpcTopic("auth"), peer1, 10); err != nil {
		t.Fatal(err)
	}
	if err := d.Register(RpcTopic("auth"), peer2, 10); err != nil {
		t.Fatal(err)
	}

	peers, err := d.Discover(RpcTopic("auth"))
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 2 {
		t.Fatalf("expect 2 peers, got %d", len(peers))
	}

	if err := d.Deregister(RpcTopic("auth"), peer1); err != nil {
		t.Fatal(err)
	}

	peers, err = d.Discover(RpcTopic("auth"))
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 {
		t.Fatalf("expect 1 peer after deregister, got %d", len(peers))
	}
	if peers[0].Addr != peer2.Addr {
		t.Fatalf("expect %s, got %s", peer2.Addr, peers[0].Addr)
	}
}

func TestEventTopicKeysListenersApart(t *testing.T) {
	d := NewStaticDiscovery()
	topic := EventTopic("auth", "logged_in")

	// Same address, two listener names — both registrations must survive.
	_ = d.Register(topic, Peer{Addr: "127.0.0.1:9000", Listener: "audit"}, 10)
	_ = d.Register(topic, Peer{Addr: "127.0.0.1:9000", Listener: "billing"}, 10)

	peers, _ := d.Discover(topic)
	if len(peers) != 2 {
		t.Fatalf("expect 2 listener registrations, got %d", len(peers))
	}
}

func TestDiscoverUnknownTopicIsEmpty(t *testing.T) {
	d := NewStaticDiscovery()
	peers, err := d.Discover(RpcTopic("nope"))
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 0 {
		t.Fatalf("expect no peers, got %d", len(peers))
	}
}
