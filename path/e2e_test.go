package path_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bx-d/bus/api"
	"github.com/bx-d/bus/buserr"
	"github.com/bx-d/bus/busconfig"
	"github.com/bx-d/bus/client"
	"github.com/bx-d/bus/memtransport"
	"github.com/bx-d/bus/message"
	"github.com/bx-d/bus/path"
)

// newBus assembles a complete loopback bus: one client that both serves the
// auth API and calls it through the path façade.
func newBus(t *testing.T, opts ...memtransport.Option) (*path.BusPath, *client.Client) {
	t.Helper()

	registry := api.NewRegistry()
	auth := api.New("auth", nil)
	auth.AddProcedure("greet", func(ctx context.Context, kwargs map[string]interface{}) (interface{}, error) {
		name, _ := kwargs["name"].(string)
		return "hi " + name, nil
	})
	auth.AddProcedure("slow", func(ctx context.Context, kwargs map[string]interface{}) (interface{}, error) {
		time.Sleep(2 * time.Second)
		return nil, nil
	})
	auth.AddEvent("logged_in", []string{"user"})
	if err := registry.Add("auth", auth); err != nil {
		t.Fatal(err)
	}

	config := busconfig.NewLoader()
	config.Set("auth", busconfig.APIConfig{
		RPCTimeout:       200 * time.Millisecond,
		EventFireTimeout: time.Second,
	})
	config.Set("nope", busconfig.APIConfig{
		RPCTimeout:       200 * time.Millisecond,
		EventFireTimeout: time.Second,
	})

	bus := memtransport.New(opts...)
	c, err := client.New(client.Options{
		Registry: registry,
		Config:   config,
		Rpc:      bus,
		Results:  bus,
		Events:   bus,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.ConsumeRpcs(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond) // let the server loop open its consume stream
	t.Cleanup(func() { c.Shutdown(time.Second) })

	return path.NewRoot(c), c
}

func TestRpcRoundTrip(t *testing.T) {
	root, _ := newBus(t)

	value, err := root.Path("auth", "greet").Call(map[string]interface{}{"name": "x"})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if value != "hi x" {
		t.Fatalf("expected 'hi x', got %v", value)
	}
}

func TestUnknownApiSurfacesAsRemoteError(t *testing.T) {
	root, _ := newBus(t)

	_, err := root.Path("nope", "do").Call(nil)
	if err == nil {
		t.Fatal("expected remote error for unknown api")
	}
	if !buserr.Is(err, buserr.ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if !strings.Contains(err.Error(), "unknown api") {
		t.Fatalf("expected the remote unknown-api text, got %v", err)
	}
}

func TestEventDelivery(t *testing.T) {
	root, _ := newBus(t)

	received := make(chan *message.EventMessage, 8)
	listener := func(ctx context.Context, e *message.EventMessage) error {
		received <- e
		return nil
	}
	if err := root.Path("auth", "logged_in").Listen(listener, "audit"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond) // let the subscription settle

	if err := root.Path("auth", "logged_in").Fire(map[string]interface{}{"user": "x"}); err != nil {
		t.Fatalf("fire failed: %v", err)
	}

	select {
	case evt := <-received:
		if evt.APIName != "auth" || evt.EventName != "logged_in" {
			t.Fatalf("wrong event: %s", evt.CanonicalName())
		}
		if evt.Kwargs["user"] != "x" {
			t.Fatalf("wrong kwargs: %v", evt.Kwargs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the event")
	}

	select {
	case evt := <-received:
		t.Fatalf("expected exactly one delivery, also got %s", evt.ID())
	case <-time.After(150 * time.Millisecond):
	}
}

func TestTwoListenersEachReceiveTheEvent(t *testing.T) {
	root, _ := newBus(t)

	gotA := make(chan *message.EventMessage, 8)
	gotB := make(chan *message.EventMessage, 8)
	listen := func(ch chan *message.EventMessage) func(context.Context, *message.EventMessage) error {
		return func(ctx context.Context, e *message.EventMessage) error {
			ch <- e
			return nil
		}
	}
	node := root.Path("auth", "logged_in")
	if err := node.Listen(listen(gotA), "a"); err != nil {
		t.Fatal(err)
	}
	if err := node.Listen(listen(gotB), "b"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := node.Fire(map[string]interface{}{"user": "x"}); err != nil {
		t.Fatal(err)
	}

	for name, ch := range map[string]chan *message.EventMessage{"a": gotA, "b": gotB} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("listener %s never received the event", name)
		}
	}
}

func TestFailedListenerIsRedelivered(t *testing.T) {
	root, _ := newBus(t, memtransport.WithRedeliveryInterval(20*time.Millisecond))

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	listener := func(ctx context.Context, e *message.EventMessage) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return context.DeadlineExceeded // any failure suppresses the ack
		}
		if attempts == 2 {
			close(done)
		}
		return nil
	}
	node := root.Path("auth", "logged_in")
	if err := node.Listen(listener, "flaky"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := node.Fire(map[string]interface{}{"user": "x"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was never redelivered after the failed first attempt")
	}

	// The successful second delivery was acknowledged: no further redelivery
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected exactly two deliveries, got %d", attempts)
	}
}

func TestRpcTimeout(t *testing.T) {
	root, _ := newBus(t)

	start := time.Now()
	_, err := root.Path("auth", "slow").Call(map[string]interface{}{"x": 1})
	elapsed := time.Since(start)

	if !buserr.Is(err, buserr.ErrRpcTimeout) {
		t.Fatalf("expected ErrRpcTimeout, got %v", err)
	}
	// rpc_timeout is 200ms; the client's wait ends at 1x and the blocking
	// façade's outer bound is 1.5x, nowhere near the procedure's 2s sleep.
	if elapsed > time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
}
