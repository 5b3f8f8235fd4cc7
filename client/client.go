// Package client implements the bus client: the orchestration layer that
// owns the API registry, per-API configuration, the optional schema
// provider, and one transport per capability.
//
// Call flow (RPC):
//
//	CallRpcRemote("auth", "get_user", kwargs)
//	  → build RpcMessage
//	  → ResultTransport.GetReturnPath     → allocate the reply rendezvous
//	  → RpcTransport.CallRpc              → publish the call
//	  → ResultTransport.ReceiveResult     → await the reply, bounded by the
//	                                        API's configured rpc_timeout
//	  → error=true → RemoteError, else the remote result value
//
// Consumers (the RPC server loop and event listeners) run as background
// goroutines owned by the client; Shutdown cancels them, waits out a grace
// period, then closes the transports.
package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bx-d/bus/api"
	"github.com/bx-d/bus/buserr"
	"github.com/bx-d/bus/busconfig"
	"github.com/bx-d/bus/busschema"
	"github.com/bx-d/bus/consumer"
	"github.com/bx-d/bus/message"
	"github.com/bx-d/bus/netmiddleware"
	"github.com/bx-d/bus/transport"
)

// Options wires a Client. Registry, Rpc, Results and Events are required;
// the rest default to no-op collaborators.
type Options struct {
	Registry *api.Registry
	Config   busconfig.Provider
	Schema   busschema.Provider // nil disables parameter validation against schemas
	Rpc      transport.RpcTransport
	Results  transport.ResultTransport
	Events   transport.EventTransport
	Logger   *zap.SugaredLogger
	Metrics  *consumer.Metrics // nil disables instrumentation
	// Middlewares wrap server-side RPC dispatch, outermost first.
	Middlewares []netmiddleware.Middleware
}

// Client is the bus client façade. One Client per process side; transports
// must not be shared across processes.
type Client struct {
	registry    *api.Registry
	config      busconfig.Provider
	schema      busschema.Provider
	rpc         transport.RpcTransport
	results     transport.ResultTransport
	events      transport.EventTransport
	logger      *zap.SugaredLogger
	metrics     *consumer.Metrics
	middlewares []netmiddleware.Middleware

	// rootCtx governs every consumer loop this client starts; Shutdown
	// cancels it once.
	rootCtx    context.Context
	cancelRoot context.CancelFunc
	consumers  sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
}

// New constructs a Client from opts.
func New(opts Options) (*Client, error) {
	if opts.Registry == nil || opts.Rpc == nil || opts.Results == nil || opts.Events == nil {
		return nil, buserr.Wrap(buserr.ErrInvalidParameters, "client requires a registry and all three transports")
	}
	if opts.Config == nil {
		opts.Config = busconfig.NewLoader()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	rootCtx, cancel := context.WithCancel(context.Background())
	return &Client{
		registry:    opts.Registry,
		config:      opts.Config,
		schema:      opts.Schema,
		rpc:         opts.Rpc,
		results:     opts.Results,
		events:      opts.Events,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		middlewares: opts.Middlewares,
		rootCtx:     rootCtx,
		cancelRoot:  cancel,
	}, nil
}

// Registry exposes the client's API registry for startup-time registration.
func (c *Client) Registry() *api.Registry { return c.registry }

// Config exposes the per-API configuration provider.
func (c *Client) Config() busconfig.Provider { return c.config }

// Schema exposes the optional schema provider; nil when none is configured.
func (c *Client) Schema() busschema.Provider { return c.schema }

// CallRpcRemote invokes api_name.name on whichever peer serves it and
// returns the remote result.
//
// The reply rendezvous is allocated before the call is published, and the
// return path is written into the message so the remote peer knows where to
// route its result. The wait is bounded by the API's configured
// rpc_timeout; expiry surfaces as ErrRpcTimeout and the rendezvous is
// released. A remote failure (ResultMessage.error=true) surfaces as a
// *buserr.RemoteError carrying the remote result text and stack trace.
func (c *Client) CallRpcRemote(ctx context.Context, apiName, name string, kwargs map[string]interface{}) (interface{}, error) {
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	if err := c.validateAgainstSchema(apiName, name, kwargs); err != nil {
		return nil, err
	}

	options := transport.CallOptions{Timeout: c.config.API(apiName).RPCTimeout}
	rpcMessage := message.NewRpcMessage("", apiName, name, kwargs, "")

	returnPath, err := c.results.GetReturnPath(ctx, rpcMessage)
	if err != nil {
		return nil, err
	}
	rpcMessage.ReturnPath = returnPath

	if err := c.rpc.CallRpc(ctx, rpcMessage, options); err != nil {
		return nil, err
	}

	result, err := c.results.ReceiveResult(ctx, rpcMessage, returnPath, options)
	if err != nil {
		return nil, err
	}
	if result.Error {
		text, _ := result.Result.(string)
		return nil, buserr.NewRemoteError(text, result.Trace)
	}
	return result.Result, nil
}

// FireEvent publishes api_name.name with kwargs. The API must be
// registered locally (events are fired by their owning API's process) and
// the kwarg names must exactly match the event's declared argument set.
func (c *Client) FireEvent(ctx context.Context, apiName, name string, kwargs map[string]interface{}) error {
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	a, err := c.registry.Get(apiName)
	if err != nil {
		return err
	}
	event, err := a.GetEvent(name)
	if err != nil {
		return err
	}
	if !event.Accepts(kwargs) {
		return buserr.Wrapf(buserr.ErrInvalidParameters,
			"event %s.%s declares arguments %v, got %v", apiName, name, event.Arguments, kwargNames(kwargs))
	}

	options := transport.CallOptions{Timeout: c.config.API(apiName).EventFireTimeout}
	eventMessage := message.NewEventMessage("", apiName, name, kwargs)
	return c.events.SendEvent(ctx, eventMessage, options)
}

// ListenForEvent subscribes listener under listenerName to one
// (api_name, name) pair and starts its consumer loop. The listener name is
// the subscription's stable identity across restarts; it must be non-empty.
// Several listener names may subscribe to the same pair — each gets its own
// delivery stream.
func (c *Client) ListenForEvent(apiName, name string, listener consumer.Listener, listenerName string) error {
	return c.ListenForEvents([]transport.ListenFor{{APIName: apiName, EventName: name}}, listener, listenerName)
}

// ListenForEvents is ListenForEvent for a group of pairs sharing one
// listener identity and one delivery stream.
func (c *Client) ListenForEvents(listenFor []transport.ListenFor, listener consumer.Listener, listenerName string) error {
	if listenerName == "" {
		return buserr.Wrap(buserr.ErrInvalidParameters, "listener name must be non-empty and stable across restarts")
	}
	if listener == nil {
		return buserr.Wrap(buserr.ErrInvalidParameters, "listener must not be nil")
	}
	ec, err := consumer.NewEventConsumer(listenerName, listenFor, listener, c.events, c.logger, c.metrics)
	if err != nil {
		return err
	}
	return c.startConsumer("event listener "+listenerName, ec.Run)
}

// ConsumeRpcs starts the RPC server loop for every API in the registry.
func (c *Client) ConsumeRpcs() error {
	server := consumer.NewRpcServer(c.registry, c.rpc, c.results, c.logger, c.metrics)
	for _, mw := range c.middlewares {
		server.Use(mw)
	}
	return c.startConsumer("rpc server", server.Run)
}

func (c *Client) startConsumer(name string, run func(context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return buserr.Wrapf(buserr.ErrTransport, "client is shut down, cannot start %s", name)
	}
	c.consumers.Add(1)
	go func() {
		defer c.consumers.Done()
		if err := run(c.rootCtx); err != nil && c.rootCtx.Err() == nil {
			c.logger.Errorw("consumer exited", "consumer", name, "error", err)
		}
	}()
	return nil
}

// Shutdown cancels all running consumers, waits up to grace for them to
// finish, then closes the transports. After the grace period transports are
// closed regardless — a wedged consumer does not hold the process hostage.
func (c *Client) Shutdown(grace time.Duration) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.mu.Unlock()

	c.cancelRoot()

	done := make(chan struct{})
	go func() {
		c.consumers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		c.logger.Warnw("consumers did not stop within grace period, force-closing transports", "grace", grace)
	}

	var firstErr error
	for _, closer := range []interface{ Close() error }{c.rpc, c.results, c.events} {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// validateAgainstSchema runs the optional schema hook before any transport
// is touched. An unknown schema is not an error — schemas are an opt-in
// collaborator, so only an actual parameter mismatch blocks the call.
func (c *Client) validateAgainstSchema(apiName, name string, kwargs map[string]interface{}) error {
	if c.schema == nil {
		return nil
	}
	err := c.schema.ValidateParameters(apiName, name, kwargs)
	if err != nil && !buserr.Is(err, buserr.ErrSchemaNotFound) {
		return err
	}
	return nil
}

func kwargNames(kwargs map[string]interface{}) []string {
	names := make([]string, 0, len(kwargs))
	for name := range kwargs {
		names = append(names, name)
	}
	return names
}
