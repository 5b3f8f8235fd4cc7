package nettransport

import (
	"context"
	"testing"
	"time"

	"github.com/bx-d/bus/buserr"
	"github.com/bx-d/bus/codec"
	"github.com/bx-d/bus/discovery"
	"github.com/bx-d/bus/message"
	"github.com/bx-d/bus/transport"
)

func newPair(t *testing.T) (caller, server *Transport) {
	t.Helper()
	disc := discovery.NewStaticDiscovery()

	var err error
	caller, err = New(Config{ListenAddr: "127.0.0.1:0", Discovery: disc, Codec: codec.CodecTypeJSON})
	if err != nil {
		t.Fatal(err)
	}
	server, err = New(Config{ListenAddr: "127.0.0.1:0", Discovery: disc, Codec: codec.CodecTypeBinary})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		caller.Close()
		server.Close()
	})
	return caller, server
}

func TestRpcCallAndResultAcrossTcp(t *testing.T) {
	caller, server := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls, err := server.ConsumeRpcs(ctx, []string{"auth"})
	if err != nil {
		t.Fatal(err)
	}

	// Caller side: allocate the return path, then publish the call
	call := message.NewRpcMessage("", "auth", "greet", map[string]interface{}{"name": "x"}, "")
	returnPath, err := caller.GetReturnPath(ctx, call)
	if err != nil {
		t.Fatal(err)
	}
	call.ReturnPath = returnPath
	if err := caller.CallRpc(ctx, call, transport.CallOptions{}); err != nil {
		t.Fatal(err)
	}

	// Server side: receive, reply along the embedded return path
	var received *message.RpcMessage
	select {
	case received = <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("call never crossed the wire")
	}
	if received.ID() != call.ID() || received.CanonicalName() != "auth.greet" {
		t.Fatalf("wrong call arrived: %s %s", received.ID(), received.CanonicalName())
	}
	if received.ReturnPath != returnPath {
		t.Fatalf("return path lost in transit: got %q", received.ReturnPath)
	}
	reply := message.NewResultMessage("", received.ID(), "hi x", false, "")
	if err := server.SendResult(ctx, received, reply, received.ReturnPath); err != nil {
		t.Fatal(err)
	}

	// Caller side: the result lands at the rendezvous
	result, err := caller.ReceiveResult(ctx, call, returnPath, transport.CallOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if result.Result != "hi x" || result.RpcMessageID != call.ID() {
		t.Fatalf("wrong result: %+v", result)
	}
}

func TestCallRpcWithNoPeer(t *testing.T) {
	caller, _ := newPair(t)
	call := message.NewRpcMessage("", "ghost", "do", nil, "")
	err := caller.CallRpc(context.Background(), call, transport.CallOptions{})
	if !buserr.Is(err, buserr.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestReceiveResultTimeout(t *testing.T) {
	caller, _ := newPair(t)
	call := message.NewRpcMessage("", "auth", "slow", nil, "")
	returnPath, err := caller.GetReturnPath(context.Background(), call)
	if err != nil {
		t.Fatal(err)
	}
	_, err = caller.ReceiveResult(context.Background(), call, returnPath, transport.CallOptions{Timeout: 50 * time.Millisecond})
	if !buserr.Is(err, buserr.ErrRpcTimeout) {
		t.Fatalf("expected ErrRpcTimeout, got %v", err)
	}
}

func TestEventAcrossTcp(t *testing.T) {
	publisher, subscriber := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := subscriber.Consume(ctx,
		[]transport.ListenFor{{APIName: "auth", EventName: "logged_in"}},
		map[string]interface{}{"listener_name": "audit"})
	if err != nil {
		t.Fatal(err)
	}

	evt := message.NewEventMessage("", "auth", "logged_in", map[string]interface{}{"user": "x"})
	if err := publisher.SendEvent(ctx, evt, transport.CallOptions{}); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-stream:
		if got.ID() != evt.ID() || got.Kwargs["user"] != "x" {
			t.Fatalf("wrong event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never crossed the wire")
	}
}

func TestCompetingConsumersReceiveOnce(t *testing.T) {
	disc := discovery.NewStaticDiscovery()
	publisher, err := New(Config{ListenAddr: "127.0.0.1:0", Discovery: disc})
	if err != nil {
		t.Fatal(err)
	}
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two processes share the listener name "audit" — one competing group
	streams := make([]<-chan *message.EventMessage, 2)
	for i := range streams {
		sub, err := New(Config{ListenAddr: "127.0.0.1:0", Discovery: disc})
		if err != nil {
			t.Fatal(err)
		}
		defer sub.Close()
		streams[i], err = sub.Consume(ctx,
			[]transport.ListenFor{{APIName: "auth", EventName: "logged_in"}},
			map[string]interface{}{"listener_name": "audit"})
		if err != nil {
			t.Fatal(err)
		}
	}

	evt := message.NewEventMessage("", "auth", "logged_in", nil)
	if err := publisher.SendEvent(ctx, evt, transport.CallOptions{}); err != nil {
		t.Fatal(err)
	}

	delivered := 0
	deadline := time.After(time.Second)
	for {
		select {
		case <-streams[0]:
			delivered++
		case <-streams[1]:
			delivered++
		case <-deadline:
			if delivered != 1 {
				t.Fatalf("a competing-consumer group must receive the event once, got %d deliveries", delivered)
			}
			return
		}
	}
}

func TestSplitReturnPath(t *testing.T) {
	addr, id, err := splitReturnPath("bus://127.0.0.1:9000/abc123")
	if err != nil {
		t.Fatal(err)
	}
	if addr != "127.0.0.1:9000" || id != "abc123" {
		t.Fatalf("got addr=%q id=%q", addr, id)
	}

	for _, malformed := range []string{"127.0.0.1:9000/abc", "bus://noid", "bus:///abc", "bus://addr/"} {
		if _, _, err := splitReturnPath(malformed); err == nil {
			t.Fatalf("expected error for %q", malformed)
		}
	}
}
