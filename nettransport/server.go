package nettransport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bx-d/bus/codec"
	"github.com/bx-d/bus/message"
	"github.com/bx-d/bus/transport"
	"github.com/bx-d/bus/wireproto"
)

// Server is the inbound half of the TCP transport: it accepts connections,
// reads frames, and routes each decoded message to the local party waiting
// for it — RPC calls to the consume stream for their API, results to the
// rendezvous their return path names, events to every matching local
// subscription.
type Server struct {
	listener net.Listener
	logger   *zap.SugaredLogger
	wg       sync.WaitGroup // Tracks in-flight frames for graceful shutdown
	shutdown atomic.Bool    // Set during shutdown to suppress Accept errors

	mu         sync.Mutex
	rpcStreams map[string][]chan *message.RpcMessage
	rendezvous map[string]chan *message.ResultMessage
	eventSubs  []*eventSub
}

type eventSub struct {
	wanted map[transport.ListenFor]bool
	stream chan *message.EventMessage
}

func newServer(listener net.Listener, logger *zap.SugaredLogger) *Server {
	s := &Server{
		listener:   listener,
		logger:     logger,
		rpcStreams: map[string][]chan *message.RpcMessage{},
		rendezvous: map[string]chan *message.ResultMessage{},
	}
	go s.acceptLoop()
	return s
}

// acceptLoop runs one goroutine per connection, like any Go TCP server.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an
			// error; the flag distinguishes intentional close from failure.
			if !s.shutdown.Load() {
				s.logger.Errorw("bus listener accept failed", "error", err)
			}
			return
		}
		go s.handleConn(conn)
	}
}

// handleConn reads frames sequentially — TCP is a byte stream, so a single
// reader per connection is required to parse frame boundaries — and routes
// each one. Routing is non-blocking (buffered streams), so one slow
// consumer never stalls the connection.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		header, body, err := wireproto.Decode(conn)
		if err != nil {
			return // Connection closed or protocol error
		}

		// Heartbeat frames exist only to keep the connection alive
		if header.Kind == wireproto.KindHeartbeat {
			continue
		}

		env, err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body)
		if err != nil {
			s.logger.Warnw("dropping undecodable frame", "kind", header.Kind, "seq", header.Seq, "error", err)
			continue
		}

		s.wg.Add(1)
		s.route(header.Kind, env)
		s.wg.Done()
	}
}

func (s *Server) route(kind wireproto.MessageKind, env *codec.Envelope) {
	switch kind {
	case wireproto.KindRpc:
		s.routeRpc(message.RpcMessageFromDict(env.Metadata, env.Kwargs))
	case wireproto.KindResult:
		s.routeResult(message.ResultMessageFromDict(env.Metadata, env.Kwargs))
	case wireproto.KindEvent:
		s.routeEvent(message.EventMessageFromDict(env.Metadata, env.Kwargs))
	}
}

func (s *Server) routeRpc(rpcMessage *message.RpcMessage) {
	s.mu.Lock()
	streams := s.rpcStreams[rpcMessage.APIName]
	s.mu.Unlock()
	if len(streams) == 0 {
		s.logger.Warnw("rpc call for api with no local consumer", "api", rpcMessage.APIName)
		return
	}
	// Several consume streams for one API on one process is unusual but
	// legal; deliver to the first with room.
	for _, stream := range streams {
		select {
		case stream <- rpcMessage:
			return
		default:
		}
	}
	s.logger.Warnw("rpc consume stream full, dropping call",
		"api", rpcMessage.APIName, "rpc_message_id", rpcMessage.ID())
}

func (s *Server) routeResult(resultMessage *message.ResultMessage) {
	s.mu.Lock()
	ch, ok := s.rendezvous[resultMessage.RpcMessageID]
	s.mu.Unlock()
	if !ok {
		// Caller gave up (timeout) before the result arrived. Expected
		// under load; nothing to route to.
		return
	}
	select {
	case ch <- resultMessage:
	default:
	}
}

func (s *Server) routeEvent(eventMessage *message.EventMessage) {
	pair := transport.ListenFor{APIName: eventMessage.APIName, EventName: eventMessage.EventName}
	s.mu.Lock()
	subs := make([]*eventSub, 0, len(s.eventSubs))
	for _, sub := range s.eventSubs {
		if sub.wanted[pair] {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.stream <- eventMessage:
		default:
			s.logger.Warnw("event stream full, dropping delivery", "event", eventMessage.CanonicalName())
		}
	}
}

// addRpcStream registers a consume stream for each of apiNames.
func (s *Server) addRpcStream(apiNames []string, stream chan *message.RpcMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range apiNames {
		s.rpcStreams[name] = append(s.rpcStreams[name], stream)
	}
}

func (s *Server) removeRpcStream(apiNames []string, stream chan *message.RpcMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range apiNames {
		kept := s.rpcStreams[name][:0]
		for _, existing := range s.rpcStreams[name] {
			if existing != stream {
				kept = append(kept, existing)
			}
		}
		s.rpcStreams[name] = kept
	}
}

// addRendezvous allocates the local reply slot for one outstanding call.
func (s *Server) addRendezvous(rpcMessageID string) chan *message.ResultMessage {
	ch := make(chan *message.ResultMessage, 1)
	s.mu.Lock()
	s.rendezvous[rpcMessageID] = ch
	s.mu.Unlock()
	return ch
}

func (s *Server) takeRendezvous(rpcMessageID string) (chan *message.ResultMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.rendezvous[rpcMessageID]
	return ch, ok
}

func (s *Server) releaseRendezvous(rpcMessageID string) {
	s.mu.Lock()
	delete(s.rendezvous, rpcMessageID)
	s.mu.Unlock()
}

func (s *Server) addEventSub(wanted map[transport.ListenFor]bool, stream chan *message.EventMessage) *eventSub {
	sub := &eventSub{wanted: wanted, stream: stream}
	s.mu.Lock()
	s.eventSubs = append(s.eventSubs, sub)
	s.mu.Unlock()
	return sub
}

func (s *Server) removeEventSub(target *eventSub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.eventSubs[:0]
	for _, sub := range s.eventSubs {
		if sub != target {
			kept = append(kept, sub)
		}
	}
	s.eventSubs = kept
}

// close stops accepting, then waits out in-flight frame routing within the
// grace period.
func (s *Server) close(grace time.Duration) error {
	if s.shutdown.Swap(true) {
		return nil // already closed; Close is idempotent across the three contracts
	}
	err := s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
	return err
}
