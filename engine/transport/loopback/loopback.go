// Package loopback connects peers inside one process, for tests and local simulations.
//
// Streams are net.Pipe pairs and datagrams are bounded channels that drop when full.
package loopback

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/transport"
)

// Addr is the address of a loopback endpoint
type Addr string

// Network returns "loopback"
func (a Addr) Network() string { return "loopback" }

func (a Addr) String() string { return string(a) }

// DatagramFilter decides the fate of one datagram: it returns the datagrams to deliver instead,
// so it can drop (nil), pass ([][]byte{b}) or hold and release out of order
type DatagramFilter func(b []byte) [][]byte

type link struct {
	closed    xnsyncutil.AtomicBool
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	pipes []net.Conn
}

func (l *link) track(c net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		c.Close()
		return false
	}
	l.pipes = append(l.pipes, c)
	return true
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed.Store(true)
		pipes := l.pipes
		l.pipes = nil
		l.mu.Unlock()

		close(l.done)
		for _, p := range pipes {
			p.Close()
		}
	})
}

// Conn is one end of a loopback connection
type Conn struct {
	link   *link
	local  common.PeerID
	remote common.PeerID
	addr   Addr
	peer   *Conn

	uniAccept chan net.Conn
	biAccept  chan net.Conn
	datagrams chan []byte

	filterLock sync.Mutex
	filter     DatagramFilter
}

var _ transport.Conn = (*Conn)(nil)

// Pair creates two connected Conns: a is the end of peer a, talking to peer b
func Pair(a, b common.PeerID) (*Conn, *Conn) {
	l := &link{done: make(chan struct{})}
	ca := newConn(l, a, b, Addr("loopback:"+a.String()))
	cb := newConn(l, b, a, Addr("loopback:"+b.String()))
	ca.peer, cb.peer = cb, ca
	return ca, cb
}

func newConn(l *link, local, remote common.PeerID, addr Addr) *Conn {
	return &Conn{
		link:      l,
		local:     local,
		remote:    remote,
		addr:      addr,
		uniAccept: make(chan net.Conn, 16),
		biAccept:  make(chan net.Conn, 16),
		datagrams: make(chan []byte, consts.DATAGRAM_RECV_QUEUE_SIZE),
	}
}

func (c *Conn) String() string {
	return fmt.Sprintf("loopback.Conn<%s -> %s>", c.local, c.remote)
}

func (c *Conn) errClosed() error {
	return errors.Wrapf(net.ErrClosed, "%s", c)
}

// RemotePeer returns the peer at the other end
func (c *Conn) RemotePeer() common.PeerID {
	return c.remote
}

// RemoteAddr returns the address of the other end
func (c *Conn) RemoteAddr() net.Addr {
	return c.peer.addr
}

// SetDatagramFilter installs f on datagrams sent from this end; nil passes everything
func (c *Conn) SetDatagramFilter(f DatagramFilter) {
	c.filterLock.Lock()
	c.filter = f
	c.filterLock.Unlock()
}

func (c *Conn) openPipe(ctx context.Context, accept chan net.Conn) (net.Conn, error) {
	local, remote := net.Pipe()
	if !c.link.track(local) || !c.link.track(remote) {
		return nil, c.errClosed()
	}
	select {
	case accept <- remote:
		return local, nil
	case <-c.link.done:
		return nil, c.errClosed()
	case <-ctx.Done():
		local.Close()
		remote.Close()
		return nil, ctx.Err()
	}
}

func (c *Conn) acceptPipe(ctx context.Context, accept chan net.Conn) (net.Conn, error) {
	select {
	case p := <-accept:
		return p, nil
	case <-c.link.done:
		return nil, c.errClosed()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OpenUniStream opens a stream the peer accepts with AcceptUniStream
func (c *Conn) OpenUniStream(ctx context.Context) (transport.SendStream, error) {
	return c.openPipe(ctx, c.peer.uniAccept)
}

// AcceptUniStream accepts a stream opened by the peer with OpenUniStream
func (c *Conn) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	return c.acceptPipe(ctx, c.uniAccept)
}

// OpenStream opens a stream the peer accepts with AcceptStream
func (c *Conn) OpenStream(ctx context.Context) (transport.Stream, error) {
	return c.openPipe(ctx, c.peer.biAccept)
}

// AcceptStream accepts a stream opened by the peer with OpenStream
func (c *Conn) AcceptStream(ctx context.Context) (transport.Stream, error) {
	return c.acceptPipe(ctx, c.biAccept)
}

// TrySendDatagram copies b into the peer's datagram queue, dropping it if the queue is full
func (c *Conn) TrySendDatagram(b []byte) bool {
	if c.link.closed.Load() {
		return false
	}

	dg := append([]byte(nil), b...)
	c.filterLock.Lock()
	filter := c.filter
	c.filterLock.Unlock()
	if filter == nil {
		return c.peer.enqueue(dg)
	}

	ok := true
	for _, out := range filter(dg) {
		ok = c.peer.enqueue(out) && ok
	}
	return ok
}

func (c *Conn) enqueue(b []byte) bool {
	select {
	case c.datagrams <- b:
		return true
	default:
		return false
	}
}

// ReceiveDatagram returns the next datagram sent by the peer
func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.datagrams:
		return b, nil
	case <-c.link.done:
		return nil, c.errClosed()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends of the connection
func (c *Conn) Close() error {
	c.link.close()
	return nil
}

// IsClosed returns if the connection is closed
func (c *Conn) IsClosed() bool {
	return c.link.closed.Load()
}
