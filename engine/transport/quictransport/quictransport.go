// Package quictransport runs the replication protocol over QUIC streams and datagrams.
package quictransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/transport"
)

const (
	closeCodeNormal quic.ApplicationErrorCode = 0
)

func quicConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams:      true,
		MaxIdleTimeout:       consts.IDLE_TIMEOUT,
		KeepAlivePeriod:      consts.IDLE_TIMEOUT / 3,
		HandshakeIdleTimeout: consts.HANDSHAKE_TIMEOUT,
	}
}

// Listener accepts QUIC connections
type Listener struct {
	ln *quic.Listener
}

var _ transport.Listener = (*Listener)(nil)

// Listen listens on the UDP address addr, presenting cert to clients
func Listen(addr string, cert tls.Certificate) (*Listener, error) {
	ln, err := quic.ListenAddr(addr, ServerTLSConfig(cert), quicConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "quic listen %s", addr)
	}
	gwlog.Infof("Listening on QUIC: %s ...", ln.Addr())
	return &Listener{ln: ln}, nil
}

// Accept waits for the next connection whose client presented a certificate
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	for {
		qc, err := l.ln.Accept(ctx)
		if err != nil {
			return nil, err
		}

		c, err := newConn(qc)
		if err != nil {
			gwlog.Warnf("quic: rejected connection from %s: %v", qc.RemoteAddr(), err)
			continue
		}
		return c, nil
	}
}

// Addr returns the listening address
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting connections
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dialer returns a transport.Dialer presenting cert to the server
func Dialer(cert tls.Certificate) transport.Dialer {
	tlsConf := ClientTLSConfig(cert)
	return func(ctx context.Context, addr string) (transport.Conn, error) {
		qc, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
		if err != nil {
			return nil, errors.Wrapf(err, "quic dial %s", addr)
		}
		return newConn(qc)
	}
}

// Conn adapts a QUIC connection to transport.Conn
type Conn struct {
	qc       *quic.Conn
	remote   common.PeerID
	outgoing chan *transport.Datagram
}

var _ transport.Conn = (*Conn)(nil)

func newConn(qc *quic.Conn) (*Conn, error) {
	certs := qc.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		qc.CloseWithError(closeCodeNormal, "certificate required")
		return nil, errors.New("peer presented no certificate")
	}

	c := &Conn{
		qc:       qc,
		remote:   common.PeerIDFromCertificate(certs[0].Raw),
		outgoing: make(chan *transport.Datagram, consts.DATAGRAM_SEND_QUEUE_SIZE),
	}
	go c.sendDatagramRoutine()
	return c, nil
}

func (c *Conn) String() string {
	return fmt.Sprintf("quic.Conn<%s@%s>", c.remote, c.qc.RemoteAddr())
}

// sendDatagramRoutine feeds quic's datagram queue, which blocks when full
func (c *Conn) sendDatagramRoutine() {
	done := c.qc.Context().Done()
	for {
		select {
		case d := <-c.outgoing:
			// SendDatagram copies the payload, so d can be reused right away
			err := c.qc.SendDatagram(d.Bytes())
			n := len(d.Bytes())
			d.Release()
			if err != nil {
				var tooLarge *quic.DatagramTooLargeError
				if errors.As(err, &tooLarge) {
					gwlog.Errorf("%s: datagram of %d bytes dropped: %v", c, n, err)
					continue
				}
				return
			}
		case <-done:
			return
		}
	}
}

// RemotePeer returns the hash of the peer's certificate
func (c *Conn) RemotePeer() common.PeerID {
	return c.remote
}

// RemoteAddr returns the UDP address of the peer
func (c *Conn) RemoteAddr() net.Addr {
	return c.qc.RemoteAddr()
}

// OpenUniStream opens a unidirectional stream
func (c *Conn) OpenUniStream(ctx context.Context) (transport.SendStream, error) {
	s, err := c.qc.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AcceptUniStream accepts a unidirectional stream
func (c *Conn) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	s, err := c.qc.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenStream opens a bidirectional stream
func (c *Conn) OpenStream(ctx context.Context) (transport.Stream, error) {
	s, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AcceptStream accepts a bidirectional stream
func (c *Conn) AcceptStream(ctx context.Context) (transport.Stream, error) {
	s, err := c.qc.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// TrySendDatagram queues a copy of b, dropping it if the send queue is full
func (c *Conn) TrySendDatagram(b []byte) bool {
	if c.qc.Context().Err() != nil {
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
	return c.qc.ReceiveDatagram(ctx)
}

// Close closes the connection
func (c *Conn) Close() error {
	return c.qc.CloseWithError(closeCodeNormal, "closed")
}
