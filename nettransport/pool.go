// Outbound connection management for the TCP transport. Every send —
// publishing a call, routing a result, fanning out an event — is a single
// framed write, so connections are borrowed exclusively for one frame and
// returned; there is no multiplexing state to share between borrowers.
package nettransport

import (
	"net"
	"sync"
	"time"

	"github.com/bx-d/bus/buserr"
	"github.com/bx-d/bus/codec"
	"github.com/bx-d/bus/message"
	"github.com/bx-d/bus/wireproto"
)

// A connection idle longer than this must survive a heartbeat frame before
// it is trusted with a real message.
const idleProbeAfter = 30 * time.Second

// framePool owns the connections to one peer address and the frame writing
// on them. It caps the number of live connections; at the cap, send waits
// for a borrowed connection to come back rather than dialing past the
// limit.
type framePool struct {
	addr      string
	codecType codec.CodecType
	dial      func() (net.Conn, error)

	mu     sync.Mutex
	idle   chan *frameConn // returned connections, FIFO
	open   int             // live connections, idle + borrowed
	max    int
	closed bool
}

// frameConn is one pooled connection plus the frame state scoped to it:
// the sequence counter stamped onto outgoing headers and the idle clock
// the probe decision reads.
type frameConn struct {
	net.Conn
	seq      uint32
	lastUsed time.Time
}

func newFramePool(addr string, max int, codecType codec.CodecType, dial func() (net.Conn, error)) *framePool {
	return &framePool{
		addr:      addr,
		codecType: codecType,
		dial:      dial,
		idle:      make(chan *frameConn, max),
		max:       max,
	}
}

// send encodes msg's metadata/kwargs envelope and writes it to the peer as
// one frame of the given kind. Encoding happens before a connection is
// borrowed, so a bad message never costs a dial. A write failure discards
// the connection; the next send dials fresh.
func (p *framePool) send(kind wireproto.MessageKind, msg message.Message) error {
	env := &codec.Envelope{Metadata: msg.GetMetadata(), Kwargs: msg.GetKwargs()}
	body, err := codec.GetCodec(p.codecType).Encode(env)
	if err != nil {
		return buserr.Wrapf(buserr.ErrTransport, "encoding message %s: %v", msg.ID(), err)
	}

	conn, err := p.get()
	if err != nil {
		return buserr.Wrapf(buserr.ErrTransport, "connecting to %s: %v", p.addr, err)
	}
	if err := conn.writeFrame(p.codecType, kind, body); err != nil {
		p.discard(conn)
		return buserr.Wrapf(buserr.ErrTransport, "writing frame to %s: %v", p.addr, err)
	}
	p.put(conn)
	return nil
}

// writeFrame stamps the connection's next sequence number onto the header
// and writes header + body as one frame.
func (c *frameConn) writeFrame(codecType codec.CodecType, kind wireproto.MessageKind, body []byte) error {
	c.seq++
	header := &wireproto.Header{
		CodecType: byte(codecType),
		Kind:      kind,
		Seq:       c.seq,
		BodyLen:   uint32(len(body)),
	}
	if err := wireproto.Encode(c.Conn, header, body); err != nil {
		return err
	}
	c.lastUsed = time.Now()
	return nil
}

// get borrows a connection: a probed idle one when available, a fresh dial
// while under the cap, otherwise whatever comes back next. Stale idle
// connections that fail their probe are discarded and the loop tries
// again.
func (p *framePool) get() (*frameConn, error) {
	for {
		select {
		case conn := <-p.idle:
			if p.probe(conn) {
				return conn, nil
			}
			p.discard(conn)
			continue
		default:
		}

		p.mu.Lock()
		if p.open < p.max {
			p.open++
			p.mu.Unlock()
			raw, err := p.dial()
			if err != nil {
				p.mu.Lock()
				p.open--
				p.mu.Unlock()
				return nil, err
			}
			return &frameConn{Conn: raw, lastUsed: time.Now()}, nil
		}
		p.mu.Unlock()

		// At the cap: block until a borrower returns a connection
		conn := <-p.idle
		if p.probe(conn) {
			return conn, nil
		}
		p.discard(conn)
	}
}

// probe reports whether an idle connection is still trustworthy. A
// recently used connection passes without traffic; one idle past the
// threshold must carry a heartbeat frame first, and a failed heartbeat
// condemns it.
func (p *framePool) probe(conn *frameConn) bool {
	if time.Since(conn.lastUsed) < idleProbeAfter {
		return true
	}
	return conn.writeFrame(p.codecType, wireproto.KindHeartbeat, nil) == nil
}

func (p *framePool) put(conn *frameConn) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.discard(conn)
		return
	}
	select {
	case p.idle <- conn:
	default:
		// idle buffer == cap, so this only races a concurrent close
		p.discard(conn)
	}
}

func (p *framePool) discard(conn *frameConn) {
	conn.Close()
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
}

// close drains and closes the idle connections. Borrowed connections are
// closed by their borrower's put once the closed flag is set.
func (p *framePool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case conn := <-p.idle:
			p.discard(conn)
		default:
			return
		}
	}
}
