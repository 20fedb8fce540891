package loopback

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/transport"
)

// Network is an in-process address space of loopback listeners
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Listener
}

// NewNetwork creates an empty Network
func NewNetwork() *Network {
	return &Network{
		listeners: map[string]*Listener{},
	}
}

// Listen registers a listener of peer at addr
func (n *Network) Listen(addr string, peer common.PeerID) (*Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[addr]; ok {
		return nil, errors.Errorf("loopback address %s already in use", addr)
	}

	ln := &Listener{
		network: n,
		addr:    Addr(addr),
		peer:    peer,
		conns:   make(chan *Conn, 16),
		done:    make(chan struct{}),
	}
	n.listeners[addr] = ln
	return ln, nil
}

// Dialer returns a transport.Dialer connecting as peer
func (n *Network) Dialer(peer common.PeerID) transport.Dialer {
	return func(ctx context.Context, addr string) (transport.Conn, error) {
		n.mu.Lock()
		ln := n.listeners[addr]
		n.mu.Unlock()
		if ln == nil {
			return nil, errors.Errorf("loopback dial %s: connection refused", addr)
		}

		local, remote := Pair(peer, ln.peer)
		select {
		case ln.conns <- remote:
			return local, nil
		case <-ln.done:
			local.Close()
			return nil, errors.Errorf("loopback dial %s: connection refused", addr)
		case <-ctx.Done():
			local.Close()
			return nil, ctx.Err()
		}
	}
}

// Listener accepts loopback connections dialed through its Network
type Listener struct {
	network *Network
	addr    Addr
	peer    common.PeerID
	conns   chan *Conn
	done    chan struct{}
	closed  xnsyncutil.AtomicBool
}

var _ transport.Listener = (*Listener)(nil)

// Accept waits for the next connection
func (ln *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-ln.conns:
		return c, nil
	case <-ln.done:
		return nil, errors.Wrapf(net.ErrClosed, "loopback listener %s", ln.addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the listening address
func (ln *Listener) Addr() net.Addr {
	return ln.addr
}

// Close unregisters the listener
func (ln *Listener) Close() error {
	ln.network.mu.Lock()
	defer ln.network.mu.Unlock()
	if ln.closed.Load() {
		return nil
	}
	ln.closed.Store(true)
	delete(ln.network.listeners, string(ln.addr))
	close(ln.done)
	return nil
}
