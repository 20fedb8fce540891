// Package kcptransport runs the replication protocol over a KCP session multiplexed with smux.
//
// KCP has no unreliable channel, so datagrams travel framed on a dedicated smux stream behind a
// bounded queue that drops when full. Every smux stream starts with one tag byte telling its role.
// The first stream of a session is a hello exchanging the 32 byte PeerIDs of both sides.
package kcptransport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwioutil"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/netutil"
	"github.com/xiaonanln/gwsync/engine/transport"
	"github.com/xiaonanln/netconnutil"
	"github.com/xtaci/kcp-go"
	"github.com/xtaci/smux"
)

const (
	tagHello    byte = 'H'
	tagUni      byte = 'U'
	tagBidi     byte = 'B'
	tagDatagram byte = 'D'

	kcpDataShards   = 10
	kcpParityShards = 3
	kcpBufferSize   = 4 * 1024 * 1024
)

// ErrBadHello is returned when a session does not start with a valid hello stream
var ErrBadHello = errors.New("bad kcp hello")

func tuneSession(sess *kcp.UDPSession) {
	sess.SetReadBuffer(kcpBufferSize)
	sess.SetWriteBuffer(kcpBufferSize)
	// turbo mode, see https://github.com/skywind3000/kcp/blob/master/README.en.md#protocol-configuration
	sess.SetStreamMode(true)
	sess.SetWriteDelay(true)
	sess.SetNoDelay(1, 10, 2, 1)
}

func smuxConfig() *smux.Config {
	cfg := smux.DefaultConfig()
	cfg.KeepAliveTimeout = consts.IDLE_TIMEOUT
	return cfg
}

// Listener accepts KCP sessions
type Listener struct {
	ln     *kcp.Listener
	local  common.PeerID
	conns  chan *Conn
	done   chan struct{}
	closed xnsyncutil.AtomicBool
}

var _ transport.Listener = (*Listener)(nil)

// Listen listens on the UDP address addr as peer local
func Listen(addr string, local common.PeerID) (*Listener, error) {
	ln, err := kcp.ListenWithOptions(addr, nil, kcpDataShards, kcpParityShards)
	if err != nil {
		return nil, errors.Wrapf(err, "kcp listen %s", addr)
	}
	gwlog.Infof("Listening on KCP: %s ...", ln.Addr())

	l := &Listener{
		ln:    ln,
		local: local,
		conns: make(chan *Conn),
		done:  make(chan struct{}),
	}
	go l.acceptRoutine()
	return l, nil
}

func (l *Listener) acceptRoutine() {
	for {
		sess, err := l.ln.AcceptKCP()
		if err != nil {
			if !l.closed.Load() {
				gwlog.Errorf("kcp accept on %s failed: %v", l.ln.Addr(), err)
			}
			return
		}
		go l.handleSession(sess)
	}
}

func (l *Listener) handleSession(sess *kcp.UDPSession) {
	gwlog.Infof("KCP connection from %s", sess.RemoteAddr())
	tuneSession(sess)

	mux, err := smux.Server(netconnutil.NewNoTempErrorConn(sess), smuxConfig())
	if err != nil {
		gwlog.Errorf("kcp %s: smux server failed: %v", sess.RemoteAddr(), err)
		sess.Close()
		return
	}

	remote, err := acceptHello(mux, l.local)
	if err != nil {
		gwlog.Warnf("kcp %s: %v", sess.RemoteAddr(), err)
		mux.Close()
		return
	}

	c := newConn(mux, remote)
	select {
	case l.conns <- c:
	case <-l.done:
		c.Close()
	}
}

// Accept waits for the next session that completed its hello
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, errors.Wrap(net.ErrClosed, "kcp listener")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the listening address
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting sessions
func (l *Listener) Close() error {
	if l.closed.Load() {
		return nil
	}
	l.closed.Store(true)
	close(l.done)
	return l.ln.Close()
}

// Dialer returns a transport.Dialer connecting as peer local
func Dialer(local common.PeerID) transport.Dialer {
	return func(ctx context.Context, addr string) (transport.Conn, error) {
		sess, err := kcp.DialWithOptions(addr, nil, kcpDataShards, kcpParityShards)
		if err != nil {
			return nil, errors.Wrapf(err, "kcp dial %s", addr)
		}
		tuneSession(sess)

		mux, err := smux.Client(netconnutil.NewNoTempErrorConn(sess), smuxConfig())
		if err != nil {
			sess.Close()
			return nil, errors.Wrapf(err, "kcp dial %s", addr)
		}

		remote, err := sendHello(ctx, mux, local)
		if err != nil {
			mux.Close()
			return nil, errors.WithMessagef(err, "kcp dial %s", addr)
		}
		return newConn(mux, remote), nil
	}
}

func handshakeDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(consts.HANDSHAKE_TIMEOUT)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

func sendHello(ctx context.Context, mux *smux.Session, local common.PeerID) (common.PeerID, error) {
	var remote common.PeerID
	s, err := mux.OpenStream()
	if err != nil {
		return remote, err
	}
	defer s.Close()
	s.SetDeadline(handshakeDeadline(ctx))

	var hello [1 + common.PEERID_LENGTH]byte
	hello[0] = tagHello
	copy(hello[1:], local[:])
	if err := gwioutil.WriteAll(s, hello[:]); err != nil {
		return remote, err
	}
	if err := gwioutil.ReadAll(s, remote[:]); err != nil {
		return remote, errors.Wrap(ErrBadHello, err.Error())
	}
	return remote, nil
}

func acceptHello(mux *smux.Session, local common.PeerID) (common.PeerID, error) {
	var remote common.PeerID
	mux.SetDeadline(time.Now().Add(consts.HANDSHAKE_TIMEOUT))
	s, err := mux.AcceptStream()
	mux.SetDeadline(time.Time{})
	if err != nil {
		return remote, errors.Wrap(ErrBadHello, err.Error())
	}
	defer s.Close()
	s.SetDeadline(time.Now().Add(consts.HANDSHAKE_TIMEOUT))

	var hello [1 + common.PEERID_LENGTH]byte
	if err := gwioutil.ReadAll(s, hello[:]); err != nil {
		return remote, errors.Wrap(ErrBadHello, err.Error())
	}
	if hello[0] != tagHello {
		return remote, errors.Wrapf(ErrBadHello, "first stream has tag %q", hello[0])
	}
	copy(remote[:], hello[1:])
	if err := gwioutil.WriteAll(s, local[:]); err != nil {
		return remote, err
	}
	return remote, nil
}

// Conn adapts an smux session over KCP to transport.Conn
type Conn struct {
	mux    *smux.Session
	remote common.PeerID

	uniAccept chan *smux.Stream
	biAccept  chan *smux.Stream
	incoming  chan []byte
	outgoing  chan *transport.Datagram
	closed    xnsyncutil.AtomicBool
}

var _ transport.Conn = (*Conn)(nil)

func newConn(mux *smux.Session, remote common.PeerID) *Conn {
	c := &Conn{
		mux:       mux,
		remote:    remote,
		uniAccept: make(chan *smux.Stream, 16),
		biAccept:  make(chan *smux.Stream, 16),
		incoming:  make(chan []byte, consts.DATAGRAM_RECV_QUEUE_SIZE),
		outgoing:  make(chan *transport.Datagram, consts.DATAGRAM_SEND_QUEUE_SIZE),
	}
	go c.dispatchRoutine()
	go c.sendDatagramRoutine()
	return c
}

func (c *Conn) String() string {
	return fmt.Sprintf("kcp.Conn<%s@%s>", c.remote, c.mux.RemoteAddr())
}

func (c *Conn) errClosed() error {
	return errors.Wrapf(net.ErrClosed, "%s", c)
}

// dispatchRoutine routes accepted streams by their tag byte
func (c *Conn) dispatchRoutine() {
	defer c.Close()
	for {
		s, err := c.mux.AcceptStream()
		if err != nil {
			if consts.DEBUG_SESSIONS {
				gwlog.Debugf("%s: accept stream: %v", c, err)
			}
			return
		}

		var tag [1]byte
		s.SetReadDeadline(time.Now().Add(consts.HANDSHAKE_TIMEOUT))
		if err := gwioutil.ReadAll(s, tag[:]); err != nil {
			gwlog.Warnf("%s: stream %d sent no tag: %v", c, s.ID(), err)
			s.Close()
			continue
		}
		s.SetReadDeadline(time.Time{})

		switch tag[0] {
		case tagUni:
			c.push(c.uniAccept, s)
		case tagBidi:
			c.push(c.biAccept, s)
		case tagDatagram:
			go c.receiveDatagramRoutine(s)
		default:
			gwlog.Warnf("%s: stream %d has unknown tag %q", c, s.ID(), tag[0])
			s.Close()
		}
	}
}

func (c *Conn) push(ch chan *smux.Stream, s *smux.Stream) {
	select {
	case ch <- s:
	case <-c.mux.CloseChan():
		s.Close()
	}
}

func (c *Conn) receiveDatagramRoutine(s *smux.Stream) {
	defer s.Close()
	buf := make([]byte, consts.MAX_TRANSPORT_DATAGRAM_SIZE)
	for {
		b, err := netutil.ReadMessage(s, buf, consts.MAX_TRANSPORT_DATAGRAM_SIZE)
		if err != nil {
			if !netutil.IsConnectionError(err) {
				gwlog.Errorf("%s: datagram stream failed: %v", c, err)
				c.Close()
			}
			return
		}

		select {
		case c.incoming <- append([]byte(nil), b...):
		default:
			// receiver is behind: drop like a lossy channel would
		}
	}
}

func (c *Conn) sendDatagramRoutine() {
	var s *smux.Stream
	defer func() {
		if s != nil {
			s.Close()
		}
	}()

	done := c.mux.CloseChan()
	for {
		select {
		case d := <-c.outgoing:
			if s == nil {
				var err error
				if s, err = c.openTagged(tagDatagram); err != nil {
					d.Release()
					return
				}
			}
			err := netutil.WriteMessage(s, d.Bytes())
			d.Release()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Conn) openTagged(tag byte) (*smux.Stream, error) {
	s, err := c.mux.OpenStream()
	if err != nil {
		return nil, err
	}
	if _, err := s.Write([]byte{tag}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (c *Conn) accept(ctx context.Context, ch chan *smux.Stream) (*smux.Stream, error) {
	select {
	case s := <-ch:
		return s, nil
	case <-c.mux.CloseChan():
		return nil, c.errClosed()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RemotePeer returns the PeerID sent in the hello
func (c *Conn) RemotePeer() common.PeerID {
	return c.remote
}

// RemoteAddr returns the UDP address of the peer
func (c *Conn) RemoteAddr() net.Addr {
	return c.mux.RemoteAddr()
}

// OpenUniStream opens a stream the peer accepts with AcceptUniStream
func (c *Conn) OpenUniStream(ctx context.Context) (transport.SendStream, error) {
	s, err := c.openTagged(tagUni)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AcceptUniStream accepts a stream opened by the peer with OpenUniStream
func (c *Conn) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	s, err := c.accept(ctx, c.uniAccept)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenStream opens a stream the peer accepts with AcceptStream
func (c *Conn) OpenStream(ctx context.Context) (transport.Stream, error) {
	s, err := c.openTagged(tagBidi)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AcceptStream accepts a stream opened by the peer with OpenStream
func (c *Conn) AcceptStream(ctx context.Context) (transport.Stream, error) {
	s, err := c.accept(ctx, c.biAccept)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// TrySendDatagram queues a copy of b, dropping it if the send queue is full
func (c *Conn) TrySendDatagram(b []byte) bool {
	if c.closed.Load() {
		return false
	}
	d, ok := transport.NewDatagram(b)
	if !ok {
		return false
	}
	select {
	case c.outgoing <- d:
		return true
	default:
		d.Release()
		return false
	}
}

// ReceiveDatagram returns the next datagram
func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.incoming:
		return b, nil
	case <-c.mux.CloseChan():
		return nil, c.errClosed()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the smux session and the KCP session under it
func (c *Conn) Close() error {
	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)
	return c.mux.Close()
}
