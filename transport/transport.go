// Package transport defines the three orthogonal contracts a bus transport
// plugin may implement: RpcTransport, ResultTransport and EventTransport.
// A concrete plugin implements the subset it supports — the bus client
// holds one implementation per capability rather than requiring a single
// monolithic transport type.
//
// This package never implements a wire protocol itself — see nettransport
// for the one concrete plugin this repository ships, and memtransport for
// the in-process loopback used by tests.
package transport

import (
	"context"
	"time"

	"github.com/bx-d/bus/message"
)

// CallOptions carries per-call options understood by the core (a timeout)
// plus an opaque bag for transport-specific knobs.
type CallOptions struct {
	Timeout time.Duration
	Extra   map[string]interface{}
}

// RpcTransport publishes RPC calls and yields calls directed at local APIs.
type RpcTransport interface {
	// CallRpc publishes rpcMessage. It does not await a result — that is
	// ResultTransport's concern. Connectivity failures surface as a
	// buserr.ErrTransport-wrapped error.
	CallRpc(ctx context.Context, rpcMessage *message.RpcMessage, options CallOptions) error

	// ConsumeRpcs returns a channel of calls directed at any of apiNames.
	// The stream may be unbounded; cancelling ctx must release consumer
	// resources cleanly and close the returned channel.
	ConsumeRpcs(ctx context.Context, apiNames []string) (<-chan *message.RpcMessage, error)

	// Close releases the transport's connection resources.
	Close() error
}

// ResultTransport ties an RPC call to its result across possibly-different
// transports via an opaque return-path token.
type ResultTransport interface {
	// GetReturnPath deterministically computes a routing token for the
	// reply to rpcMessage. Must not require network I/O at minimum; may
	// suspend (return an error) if the transport needs to allocate a
	// rendezvous resource.
	GetReturnPath(ctx context.Context, rpcMessage *message.RpcMessage) (string, error)

	// SendResult delivers resultMessage to the caller identified by returnPath.
	SendResult(ctx context.Context, rpcMessage *message.RpcMessage, resultMessage *message.ResultMessage, returnPath string) error

	// ReceiveResult awaits the reply for rpcMessage at returnPath, honoring
	// options.Timeout. On expiry it fails with buserr.ErrRpcTimeout.
	ReceiveResult(ctx context.Context, rpcMessage *message.RpcMessage, returnPath string, options CallOptions) (*message.ResultMessage, error)

	// Close releases the transport's connection resources.
	Close() error
}

// ListenFor identifies one (api_name, event_name) pair a consumer wants to
// receive.
type ListenFor struct {
	APIName   string
	EventName string
}

// EventTransport publishes events and yields events matching a consumer's
// subscriptions.
type EventTransport interface {
	// SendEvent publishes eventMessage.
	SendEvent(ctx context.Context, eventMessage *message.EventMessage, options CallOptions) error

	// Consume returns a channel of events. listenFor must be non-empty —
	// an empty list is a programmer error (buserr.ErrNothingToListenFor).
	// Events not in listenFor may still be yielded and must be silently
	// ignored by the consumer runtime.
	Consume(ctx context.Context, listenFor []ListenFor, consumerContext map[string]interface{}) (<-chan *message.EventMessage, error)

	// ConsumptionComplete is signalled by the consumer runtime after a
	// listener finishes successfully, so the transport may commit offsets
	// or acknowledge. Not called on listener failure.
	ConsumptionComplete(ctx context.Context, eventMessage *message.EventMessage, consumerContext map[string]interface{}) error

	// Close releases the transport's connection resources.
	Close() error
}

// DynamicEventTransport is an optional refinement an EventTransport may
// additionally implement to narrow subscriptions at runtime instead of
// re-subscribing via Consume.
type DynamicEventTransport interface {
	EventTransport
	StartListeningFor(ctx context.Context, listenFor ListenFor) error
	StopListeningFor(ctx context.Context, listenFor ListenFor) error
}
