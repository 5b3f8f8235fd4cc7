// Package consumer implements the two long-running loops a bus process
// runs when it hosts servers: the RPC server loop (consume calls, dispatch
// to the local API registry, send results along each call's return path)
// and event consumer loops (one per listener, delivering events and
// acknowledging successful consumption).
//
// Both loops support cooperative cancellation through their context. A
// failed dispatch never kills a loop; transport failures are logged and the
// loop reconnects with exponential backoff.
package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bx-d/bus/api"
	"github.com/bx-d/bus/buserr"
	"github.com/bx-d/bus/message"
	"github.com/bx-d/bus/netmiddleware"
	"github.com/bx-d/bus/transport"
)

// backoff schedule for reconnecting a broken consumer stream.
const (
	backoffBase = 100 * time.Millisecond
	backoffMax  = 10 * time.Second
)

// RpcServer consumes RPC calls for every API in the local registry and
// routes results back along each call's embedded return path.
type RpcServer struct {
	registry    *api.Registry
	rpc         transport.RpcTransport
	results     transport.ResultTransport
	logger      *zap.SugaredLogger
	metrics     *Metrics
	middlewares []netmiddleware.Middleware
	handler     netmiddleware.HandlerFunc
}

// NewRpcServer wires a server loop. metrics may be nil to disable instrumentation.
func NewRpcServer(registry *api.Registry, rpc transport.RpcTransport, results transport.ResultTransport, logger *zap.SugaredLogger, metrics *Metrics) *RpcServer {
	return &RpcServer{registry: registry, rpc: rpc, results: results, logger: logger, metrics: metrics}
}

// Use wraps dispatch with a middleware. Middlewares are applied in the
// order they are added and must all be registered before Run.
func (s *RpcServer) Use(mw netmiddleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Run consumes calls until ctx is cancelled. The stream is re-opened with
// exponential backoff if the transport fails; Run only returns on
// cancellation.
func (s *RpcServer) Run(ctx context.Context) error {
	// Build the middleware chain once at startup (not per-call):
	// Chain(A, B, C)(invoke) → A(B(C(invoke)))
	s.handler = netmiddleware.Chain(s.middlewares...)(s.invoke)

	delay := backoffBase
	for {
		stream, err := s.rpc.ConsumeRpcs(ctx, s.registry.Names())
		if err != nil {
			s.logger.Errorw("rpc consume stream failed, backing off", "error", err, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = nextDelay(delay)
			continue
		}
		delay = backoffBase

		// Drain the stream. A closed channel means the transport ended the
		// stream: on cancellation we are done, otherwise reconnect.
		for rpcMessage := range stream {
			// One goroutine per call, so a slow procedure doesn't stall
			// the calls queued behind it.
			go s.dispatch(ctx, rpcMessage)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warnw("rpc consume stream closed, reconnecting")
	}
}

// dispatch resolves and invokes one call, then sends the result along the
// call's return path. Lookup misses and procedure failures become
// ResultMessage(error=true) — they are the caller's problem, not the loop's.
func (s *RpcServer) dispatch(ctx context.Context, rpcMessage *message.RpcMessage) {
	start := time.Now()
	result := s.handler(ctx, rpcMessage)
	s.metrics.observeRpc(rpcMessage.APIName, rpcMessage.ProcedureName, resultErr(result), time.Since(start))

	if err := s.results.SendResult(ctx, rpcMessage, result, rpcMessage.ReturnPath); err != nil {
		// The caller's rendezvous may be gone (timeout, crash). Nothing to
		// do but log — the caller-side timeout covers the rest.
		s.logger.Errorw("failed to send rpc result",
			"procedure", rpcMessage.CanonicalName(),
			"rpc_message_id", rpcMessage.ID(),
			"return_path", rpcMessage.ReturnPath,
			"error", err,
		)
	}
}

func (s *RpcServer) invoke(ctx context.Context, rpcMessage *message.RpcMessage) *message.ResultMessage {
	a, err := s.registry.Get(rpcMessage.APIName)
	if err != nil {
		return message.NewResultMessageFromError(rpcMessage.ID(), err)
	}
	value, err := a.Call(ctx, rpcMessage.ProcedureName, rpcMessage.Kwargs)
	if err != nil {
		return message.NewResultMessageFromError(rpcMessage.ID(), err)
	}
	return message.NewResultMessage("", rpcMessage.ID(), value, false, "")
}

func resultErr(result *message.ResultMessage) error {
	if result.Error {
		return buserr.ErrRemote
	}
	return nil
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > backoffMax {
		return backoffMax
	}
	return d
}
