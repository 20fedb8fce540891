// Package transport defines the connection primitives the replication protocol runs on.
//
// A Conn offers ordered reliable streams, both unidirectional and bidirectional, plus best
// effort datagrams, and a stable identity of the remote peer. Adapters live in sub packages.
package transport

import (
	"context"
	"io"
	"net"

	"github.com/xiaonanln/gwsync/engine/common"
)

// SendStream is the writing end of a unidirectional stream; Close signals EOF to the reader
type SendStream interface {
	io.WriteCloser
}

// ReceiveStream is the reading end of a unidirectional stream
type ReceiveStream interface {
	io.Reader
}

// Stream is a bidirectional stream
type Stream interface {
	io.ReadWriteCloser
}

// Conn is an established connection to one peer
//
// Closing a Conn makes every pending and future stream or datagram operation on both ends fail.
type Conn interface {
	RemotePeer() common.PeerID
	RemoteAddr() net.Addr

	OpenUniStream(ctx context.Context) (SendStream, error)
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)
	OpenStream(ctx context.Context) (Stream, error)
	AcceptStream(ctx context.Context) (Stream, error)

	// TrySendDatagram queues b without blocking and returns false if it was dropped
	//
	// b is not retained after TrySendDatagram returns.
	TrySendDatagram(b []byte) bool
	ReceiveDatagram(ctx context.Context) ([]byte, error)

	Close() error
}

// Listener accepts incoming connections
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Dialer establishes a connection to addr
type Dialer func(ctx context.Context, addr string) (Conn, error)
