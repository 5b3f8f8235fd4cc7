// Package memtransport implements all three transport contracts over
// in-process channels. It is the loopback bus used by the end-to-end tests
// and works as a same-process bus for applications whose callers and
// servers live in one binary.
//
// Delivery semantics: RPC calls and results are delivered at most once;
// events are at-least-once — a delivered event stays pending until the
// consumer signals ConsumptionComplete, and unacknowledged events are
// redelivered on a fixed interval. There is no persistence: messages die
// with the process.
package memtransport

import (
	"context"
	"sync"
	"time"

	"github.com/bx-d/bus/buserr"
	"github.com/bx-d/bus/message"
	"github.com/bx-d/bus/transport"
)

const (
	streamBuffer       = 64
	defaultRedelivery  = 50 * time.Millisecond
	defaultRpcTimeout  = 5 * time.Second
	listenerContextKey = "listener_name"
)

// Transport is a single in-process bus. Every client that should see the
// same messages must hold the same *Transport instance.
type Transport struct {
	mu sync.Mutex

	// rpcStreams maps api name → consumer streams; calls go to one stream
	// round-robin when several processes-worth of consumers coexist.
	rpcStreams map[string][]chan *message.RpcMessage
	rpcCounter uint64

	// rendezvous maps return path → the channel the caller awaits on.
	// Allocated by GetReturnPath, released by ReceiveResult (delivery or
	// timeout).
	rendezvous map[string]chan *message.ResultMessage

	// subs maps listener name → its one active subscription.
	subs map[string]*subscription

	redeliveryInterval time.Duration
	closed             bool
}

type subscription struct {
	name   string
	wanted map[transport.ListenFor]bool
	stream chan *message.EventMessage

	mu      sync.Mutex
	pending map[string]*message.EventMessage // event id → unacknowledged event
	closed  bool
}

// Option adjusts transport behaviour.
type Option func(*Transport)

// WithRedeliveryInterval sets how often unacknowledged events are redelivered.
func WithRedeliveryInterval(d time.Duration) Option {
	return func(t *Transport) { t.redeliveryInterval = d }
}

// New constructs an in-process transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		rpcStreams:         map[string][]chan *message.RpcMessage{},
		rendezvous:         map[string]chan *message.ResultMessage{},
		subs:               map[string]*subscription{},
		redeliveryInterval: defaultRedelivery,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ---- RpcTransport ----

// CallRpc routes the call to one consumer stream for its API. A call for
// an API no stream serves is handed to an arbitrary server stream instead —
// the same shape a networked bus produces when discovery is stale — so the
// dispatch layer gets to answer with its unknown-api error result.
func (t *Transport) CallRpc(ctx context.Context, rpcMessage *message.RpcMessage, options transport.CallOptions) error {
	t.mu.Lock()
	streams := t.rpcStreams[rpcMessage.APIName]
	if len(streams) == 0 {
		for _, other := range t.rpcStreams {
			if len(other) > 0 {
				streams = other
				break
			}
		}
	}
	if len(streams) == 0 {
		t.mu.Unlock()
		return buserr.Wrapf(buserr.ErrTransport, "no consumer for api %q", rpcMessage.APIName)
	}
	t.rpcCounter++
	stream := streams[t.rpcCounter%uint64(len(streams))]
	t.mu.Unlock()

	select {
	case stream <- rpcMessage:
		return nil
	case <-ctx.Done():
		return buserr.Wrapf(buserr.ErrTransport, "call %s cancelled before delivery", rpcMessage.CanonicalName())
	}
}

// ConsumeRpcs opens a stream of calls directed at any of apiNames. The
// stream closes when ctx is cancelled.
func (t *Transport) ConsumeRpcs(ctx context.Context, apiNames []string) (<-chan *message.RpcMessage, error) {
	stream := make(chan *message.RpcMessage, streamBuffer)

	t.mu.Lock()
	for _, name := range apiNames {
		t.rpcStreams[name] = append(t.rpcStreams[name], stream)
	}
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		for _, name := range apiNames {
			t.rpcStreams[name] = removeStream(t.rpcStreams[name], stream)
		}
		t.mu.Unlock()
		close(stream)
	}()

	return stream, nil
}

func removeStream(streams []chan *message.RpcMessage, target chan *message.RpcMessage) []chan *message.RpcMessage {
	out := streams[:0]
	for _, s := range streams {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// ---- ResultTransport ----

// GetReturnPath allocates the rendezvous for the call's reply and returns
// its token. The rendezvous lives until ReceiveResult consumes it or times out.
func (t *Transport) GetReturnPath(ctx context.Context, rpcMessage *message.RpcMessage) (string, error) {
	path := "mem://" + rpcMessage.ID()
	t.mu.Lock()
	t.rendezvous[path] = make(chan *message.ResultMessage, 1)
	t.mu.Unlock()
	return path, nil
}

// SendResult delivers resultMessage to the rendezvous named by returnPath.
// A missing rendezvous means the caller already gave up (timeout or crash).
func (t *Transport) SendResult(ctx context.Context, rpcMessage *message.RpcMessage, resultMessage *message.ResultMessage, returnPath string) error {
	t.mu.Lock()
	ch, ok := t.rendezvous[returnPath]
	t.mu.Unlock()
	if !ok {
		return buserr.Wrapf(buserr.ErrTransport, "rendezvous %q released", returnPath)
	}
	select {
	case ch <- resultMessage:
		return nil
	default:
		return buserr.Wrapf(buserr.ErrTransport, "rendezvous %q already answered", returnPath)
	}
}

// ReceiveResult awaits the reply, honouring options.Timeout. The rendezvous
// is released on return — delivered, timed out, or cancelled.
func (t *Transport) ReceiveResult(ctx context.Context, rpcMessage *message.RpcMessage, returnPath string, options transport.CallOptions) (*message.ResultMessage, error) {
	t.mu.Lock()
	ch, ok := t.rendezvous[returnPath]
	t.mu.Unlock()
	if !ok {
		return nil, buserr.Wrapf(buserr.ErrTransport, "unknown return path %q", returnPath)
	}
	defer func() {
		t.mu.Lock()
		delete(t.rendezvous, returnPath)
		t.mu.Unlock()
	}()

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultRpcTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		return result, nil
	case <-timer.C:
		return nil, buserr.Wrapf(buserr.ErrRpcTimeout, "no result for %s within %s", rpcMessage.CanonicalName(), timeout)
	case <-ctx.Done():
		return nil, buserr.Wrapf(buserr.ErrTransport, "receive for %s cancelled", rpcMessage.CanonicalName())
	}
}

// ---- EventTransport ----

// SendEvent fans the event out to every subscription whose listen set
// matches. Each matching listener's pending table records the event until
// ConsumptionComplete; a redelivery loop re-sends what stays unacknowledged.
func (t *Transport) SendEvent(ctx context.Context, eventMessage *message.EventMessage, options transport.CallOptions) error {
	pair := transport.ListenFor{APIName: eventMessage.APIName, EventName: eventMessage.EventName}

	t.mu.Lock()
	matched := make([]*subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		if sub.wanted[pair] {
			matched = append(matched, sub)
		}
	}
	t.mu.Unlock()

	for _, sub := range matched {
		sub.offer(eventMessage)
	}
	return nil
}

// Consume opens the delivery stream for one listener name. The listener
// name arrives in consumerContext under "listener_name"; subscribing the
// same name again replaces the previous stream (a restarted consumer
// resumes its identity).
func (t *Transport) Consume(ctx context.Context, listenFor []transport.ListenFor, consumerContext map[string]interface{}) (<-chan *message.EventMessage, error) {
	if len(listenFor) == 0 {
		return nil, buserr.Wrap(buserr.ErrNothingToListenFor, "empty listen_for")
	}
	name, _ := consumerContext[listenerContextKey].(string)
	if name == "" {
		return nil, buserr.Wrap(buserr.ErrTransport, "consumer context missing listener_name")
	}

	wanted := make(map[transport.ListenFor]bool, len(listenFor))
	for _, lf := range listenFor {
		wanted[lf] = true
	}
	sub := &subscription{
		name:    name,
		wanted:  wanted,
		stream:  make(chan *message.EventMessage, streamBuffer),
		pending: map[string]*message.EventMessage{},
	}

	t.mu.Lock()
	if previous, ok := t.subs[name]; ok {
		previous.close()
		// Carry the replaced stream's unacknowledged events over, so a
		// resumed listener sees what its predecessor never finished.
		previous.mu.Lock()
		for id, evt := range previous.pending {
			sub.pending[id] = evt
		}
		previous.mu.Unlock()
	}
	t.subs[name] = sub
	t.mu.Unlock()

	go t.redeliverLoop(ctx, sub)
	go func() {
		<-ctx.Done()
		t.mu.Lock()
		if t.subs[name] == sub {
			delete(t.subs, name)
		}
		t.mu.Unlock()
		sub.close()
	}()

	return sub.stream, nil
}

// ConsumptionComplete acknowledges one delivery, removing it from the
// listener's pending table so it is never redelivered.
func (t *Transport) ConsumptionComplete(ctx context.Context, eventMessage *message.EventMessage, consumerContext map[string]interface{}) error {
	name, _ := consumerContext[listenerContextKey].(string)
	t.mu.Lock()
	sub, ok := t.subs[name]
	t.mu.Unlock()
	if !ok {
		return buserr.Wrapf(buserr.ErrTransport, "no subscription for listener %q", name)
	}
	sub.mu.Lock()
	delete(sub.pending, eventMessage.ID())
	sub.mu.Unlock()
	return nil
}

// redeliverLoop re-offers unacknowledged events until the subscription ends.
func (t *Transport) redeliverLoop(ctx context.Context, sub *subscription) {
	ticker := time.NewTicker(t.redeliveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sub.mu.Lock()
			unacked := make([]*message.EventMessage, 0, len(sub.pending))
			for _, evt := range sub.pending {
				unacked = append(unacked, evt)
			}
			sub.mu.Unlock()
			for _, evt := range unacked {
				sub.redeliver(evt)
			}
		}
	}
}

// offer records the event as pending and attempts first delivery. A full
// stream is not an error: the redelivery loop will try again.
func (s *subscription) offer(evt *message.EventMessage) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending[evt.ID()] = evt
	s.mu.Unlock()
	s.redeliver(evt)
}

func (s *subscription) redeliver(evt *message.EventMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, stillPending := s.pending[evt.ID()]; !stillPending {
		return
	}
	select {
	case s.stream <- evt:
	default:
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.stream)
}

// Close marks the transport closed. In-flight streams close as their
// contexts cancel; no other method checks the closed mark, so calls,
// subscriptions and sends made after Close still go through.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
