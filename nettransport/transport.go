// Package nettransport is the concrete transport plugin this repository
// ships: all three bus transport contracts over plain TCP, with peer
// discovery deciding where calls and events go.
//
// Outbound flow (RPC call):
//
//	CallRpc(msg)
//	  → Discovery.Discover("rpc/"+api)   → live peers serving the API
//	  → Balancer.Pick(peers)             → select one address
//	  → framePool.send                   → borrow a TCP connection, write
//	                                       one frame, return the conn
//
// The return path for a call is "bus://{advertiseAddr}/{rpcMessageID}": the
// caller's own listener address plus the call's id. The serving peer dials
// that address and writes a result frame; the caller's server half routes
// it to the rendezvous the id names.
//
// Events are routed through discovery too: every listener registers under
// "event/{api}.{event}" with its listener name, the publisher groups
// registrations by listener name (instances sharing a name are competing
// consumers), picks one address per group, and writes one event frame per
// distinct address. Delivery is at-most-once: a TCP write that succeeds is
// considered delivered, so ConsumptionComplete has nothing left to commit.
// A process hosting several listeners of one event receives one frame and
// fans it out locally.
package nettransport

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bx-d/bus/balance"
	"github.com/bx-d/bus/buserr"
	"github.com/bx-d/bus/codec"
	"github.com/bx-d/bus/discovery"
	"github.com/bx-d/bus/message"
	"github.com/bx-d/bus/transport"
	"github.com/bx-d/bus/wireproto"
)

const (
	returnPathScheme = "bus://"
	defaultTTL       = 10 // seconds, KeepAlive renews automatically
	defaultPoolSize  = 4
	defaultTimeout   = 5 * time.Second
	closeGrace       = 5 * time.Second
	streamBuffer     = 64
)

// Config wires a Transport. Discovery is required; everything else has
// defaults.
type Config struct {
	ListenAddr    string // e.g. ":0" to let the kernel pick
	AdvertiseAddr string // routable address registered in discovery; defaults to the listener's
	Discovery     discovery.Discovery
	Balancer      balance.Balancer // defaults to round-robin
	Codec         codec.CodecType
	Logger        *zap.SugaredLogger
	TTL           int64 // discovery lease seconds
	PoolSize      int   // outbound connections per remote address
}

// Transport implements transport.RpcTransport, transport.ResultTransport
// and transport.EventTransport over TCP.
type Transport struct {
	server    *Server
	advertise string
	disc      discovery.Discovery
	balancer  balance.Balancer
	codecType codec.CodecType
	logger    *zap.SugaredLogger
	ttl       int64
	poolSize  int

	mu    sync.Mutex
	pools map[string]*framePool
}

// New starts the transport's listener and returns the wired transport.
func New(cfg Config) (*Transport, error) {
	if cfg.Discovery == nil {
		return nil, buserr.Wrap(buserr.ErrTransport, "nettransport requires a discovery backend")
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &balance.RoundRobinBalancer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, buserr.Wrapf(buserr.ErrTransport, "listen %s: %v", cfg.ListenAddr, err)
	}
	advertise := cfg.AdvertiseAddr
	if advertise == "" {
		advertise = listener.Addr().String()
	}

	return &Transport{
		server:    newServer(listener, cfg.Logger),
		advertise: advertise,
		disc:      cfg.Discovery,
		balancer:  cfg.Balancer,
		codecType: cfg.Codec,
		logger:    cfg.Logger,
		ttl:       cfg.TTL,
		poolSize:  cfg.PoolSize,
		pools:     map[string]*framePool{},
	}, nil
}

// Addr is the address this transport's listener is reachable at.
func (t *Transport) Addr() string { return t.advertise }

// ---- RpcTransport ----

// CallRpc publishes the call to one peer serving its API. It does not
// await a result — that is the ResultTransport's concern.
func (t *Transport) CallRpc(ctx context.Context, rpcMessage *message.RpcMessage, options transport.CallOptions) error {
	peers, err := t.disc.Discover(discovery.RpcTopic(rpcMessage.APIName))
	if err != nil {
		return buserr.Wrapf(buserr.ErrTransport, "discovering api %q: %v", rpcMessage.APIName, err)
	}
	peer, err := t.balancer.Pick(peers)
	if err != nil {
		return buserr.Wrapf(buserr.ErrTransport, "no peer serves api %q", rpcMessage.APIName)
	}
	return t.sendFrame(peer.Addr, wireproto.KindRpc, rpcMessage)
}

// ConsumeRpcs registers this process as a server for apiNames and returns
// the stream of incoming calls. Cancelling ctx deregisters and closes the
// stream.
func (t *Transport) ConsumeRpcs(ctx context.Context, apiNames []string) (<-chan *message.RpcMessage, error) {
	stream := make(chan *message.RpcMessage, streamBuffer)
	t.server.addRpcStream(apiNames, stream)

	peer := discovery.Peer{Addr: t.advertise}
	for _, name := range apiNames {
		if err := t.disc.Register(discovery.RpcTopic(name), peer, t.ttl); err != nil {
			t.server.removeRpcStream(apiNames, stream)
			return nil, buserr.Wrapf(buserr.ErrTransport, "registering api %q: %v", name, err)
		}
	}

	go func() {
		<-ctx.Done()
		for _, name := range apiNames {
			if err := t.disc.Deregister(discovery.RpcTopic(name), peer); err != nil {
				t.logger.Warnw("failed to deregister api", "api", name, "error", err)
			}
		}
		t.server.removeRpcStream(apiNames, stream)
		close(stream)
	}()

	return stream, nil
}

// ---- ResultTransport ----

// GetReturnPath allocates the local rendezvous for the call's reply and
// returns its routing token: this process's address plus the call id.
func (t *Transport) GetReturnPath(ctx context.Context, rpcMessage *message.RpcMessage) (string, error) {
	t.server.addRendezvous(rpcMessage.ID())
	return returnPathScheme + t.advertise + "/" + rpcMessage.ID(), nil
}

// SendResult dials the address the return path names and writes one result
// frame.
func (t *Transport) SendResult(ctx context.Context, rpcMessage *message.RpcMessage, resultMessage *message.ResultMessage, returnPath string) error {
	addr, _, err := splitReturnPath(returnPath)
	if err != nil {
		return err
	}
	return t.sendFrame(addr, wireproto.KindResult, resultMessage)
}

// ReceiveResult awaits the reply at the rendezvous the return path names,
// honouring options.Timeout. The rendezvous is released on return.
func (t *Transport) ReceiveResult(ctx context.Context, rpcMessage *message.RpcMessage, returnPath string, options transport.CallOptions) (*message.ResultMessage, error) {
	_, id, err := splitReturnPath(returnPath)
	if err != nil {
		return nil, err
	}
	ch, ok := t.server.takeRendezvous(id)
	if !ok {
		return nil, buserr.Wrapf(buserr.ErrTransport, "unknown return path %q", returnPath)
	}
	defer t.server.releaseRendezvous(id)

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
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

func splitReturnPath(returnPath string) (addr, id string, err error) {
	rest, ok := strings.CutPrefix(returnPath, returnPathScheme)
	if !ok {
		return "", "", buserr.Wrapf(buserr.ErrTransport, "malformed return path %q", returnPath)
	}
	// Message ids use the URL-safe base64 alphabet, so the last slash
	// always separates address from id.
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", buserr.Wrapf(buserr.ErrTransport, "malformed return path %q", returnPath)
	}
	return rest[:idx], rest[idx+1:], nil
}

// ---- EventTransport ----

// SendEvent fans the event out: one frame per distinct address chosen
// across the event's listener groups.
func (t *Transport) SendEvent(ctx context.Context, eventMessage *message.EventMessage, options transport.CallOptions) error {
	peers, err := t.disc.Discover(discovery.EventTopic(eventMessage.APIName, eventMessage.EventName))
	if err != nil {
		return buserr.Wrapf(buserr.ErrTransport, "discovering listeners for %s: %v", eventMessage.CanonicalName(), err)
	}

	// Group registrations by listener name; each group is one
	// competing-consumer set and receives the event once.
	groups := map[string][]discovery.Peer{}
	for _, peer := range peers {
		groups[peer.Listener] = append(groups[peer.Listener], peer)
	}

	targets := map[string]bool{}
	for _, group := range groups {
		peer, err := t.balancer.Pick(group)
		if err != nil {
			continue
		}
		targets[peer.Addr] = true
	}

	var firstErr error
	for addr := range targets {
		if err := t.sendFrame(addr, wireproto.KindEvent, eventMessage); err != nil {
			t.logger.Warnw("event delivery failed", "event", eventMessage.CanonicalName(), "addr", addr, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Consume registers this process's subscription in discovery and returns
// the local delivery stream.
func (t *Transport) Consume(ctx context.Context, listenFor []transport.ListenFor, consumerContext map[string]interface{}) (<-chan *message.EventMessage, error) {
	if len(listenFor) == 0 {
		return nil, buserr.Wrap(buserr.ErrNothingToListenFor, "empty listen_for")
	}
	name, _ := consumerContext["listener_name"].(string)
	if name == "" {
		return nil, buserr.Wrap(buserr.ErrTransport, "consumer context missing listener_name")
	}

	wanted := make(map[transport.ListenFor]bool, len(listenFor))
	for _, lf := range listenFor {
		wanted[lf] = true
	}
	stream := make(chan *message.EventMessage, streamBuffer)
	sub := t.server.addEventSub(wanted, stream)

	peer := discovery.Peer{Addr: t.advertise, Listener: name}
	for _, lf := range listenFor {
		if err := t.disc.Register(discovery.EventTopic(lf.APIName, lf.EventName), peer, t.ttl); err != nil {
			t.server.removeEventSub(sub)
			return nil, buserr.Wrapf(buserr.ErrTransport, "registering listener %q: %v", name, err)
		}
	}

	go func() {
		<-ctx.Done()
		for _, lf := range listenFor {
			if err := t.disc.Deregister(discovery.EventTopic(lf.APIName, lf.EventName), peer); err != nil {
				t.logger.Warnw("failed to deregister listener", "listener", name, "error", err)
			}
		}
		t.server.removeEventSub(sub)
		close(stream)
	}()

	return stream, nil
}

// ConsumptionComplete is a no-op for this transport: a successfully written
// frame is already as delivered as TCP gets, and there is no offset to
// commit.
func (t *Transport) ConsumptionComplete(ctx context.Context, eventMessage *message.EventMessage, consumerContext map[string]interface{}) error {
	return nil
}

// ---- shared plumbing ----

// sendFrame hands the message to addr's frame pool, which owns encoding,
// sequencing and connection health.
func (t *Transport) sendFrame(addr string, kind wireproto.MessageKind, msg message.Message) error {
	return t.pool(addr).send(kind, msg)
}

func (t *Transport) pool(addr string) *framePool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pools[addr]; ok {
		return p
	}
	p := newFramePool(addr, t.poolSize, t.codecType, func() (net.Conn, error) {
		return net.Dial("tcp", addr)
	})
	t.pools[addr] = p
	return p
}

// Close stops the listener, waits out in-flight routing, and closes every
// outbound pool.
func (t *Transport) Close() error {
	err := t.server.close(closeGrace)

	t.mu.Lock()
	pools := t.pools
	t.pools = map[string]*framePool{}
	t.mu.Unlock()
	for _, p := range pools {
		p.close()
	}
	return err
}
