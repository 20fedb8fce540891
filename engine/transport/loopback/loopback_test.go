package loopback

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/xiaonanln/gwsync/engine/common"
	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/netutil"
)

var (
	alice = common.PeerIDFromString("alice")
	bob   = common.PeerIDFromString("bob")
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestUniStream(t *testing.T) {
	ctx := testContext(t)
	a, b := Pair(alice, bob)
	defer a.Close()
	assert.Equal(t, bob, a.RemotePeer())
	assert.Equal(t, alice, b.RemotePeer())

	go func() {
		s, err := a.OpenUniStream(ctx)
		if err != nil {
			return
		}
		netutil.WriteMessage(s, []byte("hello"))
		s.Close()
	}()

	r, err := b.AcceptUniStream(ctx)
	assert.Equal(t, nil, err)
	msg, err := netutil.ReadMessage(r, nil, 16)
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte("hello"), msg)
	_, err = netutil.ReadMessage(r, nil, 16)
	assert.Equal(t, io.EOF, err)
}

func TestBidiStream(t *testing.T) {
	ctx := testContext(t)
	a, b := Pair(alice, bob)
	defer a.Close()

	go func() {
		s, err := b.AcceptStream(ctx)
		if err != nil {
			return
		}
		msg, _ := netutil.ReadMessage(s, nil, 16)
		netutil.WriteMessage(s, append(msg, '!'))
	}()

	s, err := a.OpenStream(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, netutil.WriteMessage(s, []byte("ping")))
	msg, err := netutil.ReadMessage(s, nil, 16)
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte("ping!"), msg)
}

func TestDatagrams(t *testing.T) {
	ctx := testContext(t)
	a, b := Pair(alice, bob)
	defer a.Close()

	buf := []byte{1, 2, 3}
	assert.T(t, a.TrySendDatagram(buf))
	buf[0] = 9 // not retained
	dg, err := b.ReceiveDatagram(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte{1, 2, 3}, dg)

	for i := 0; i < consts.DATAGRAM_RECV_QUEUE_SIZE; i++ {
		assert.T(t, a.TrySendDatagram(buf))
	}
	assert.T(t, !a.TrySendDatagram(buf), "full queue should drop")
}

func TestDatagramFilter(t *testing.T) {
	ctx := testContext(t)
	a, b := Pair(alice, bob)
	defer a.Close()

	var held []byte
	a.SetDatagramFilter(func(dg []byte) [][]byte {
		switch dg[0] {
		case 1:
			held = dg
			return nil
		case 2:
			return [][]byte{dg, held}
		}
		return nil
	})
	a.TrySendDatagram([]byte{1})
	a.TrySendDatagram([]byte{2})
	a.TrySendDatagram([]byte{3})

	first, _ := b.ReceiveDatagram(ctx)
	second, _ := b.ReceiveDatagram(ctx)
	assert.Equal(t, []byte{2}, first)
	assert.Equal(t, []byte{1}, second)
}

func TestCloseFailsBothEnds(t *testing.T) {
	ctx := testContext(t)
	a, b := Pair(alice, bob)

	s, err := a.OpenUniStream(ctx)
	assert.Equal(t, nil, err)
	r, err := b.AcceptUniStream(ctx)
	assert.Equal(t, nil, err)

	errs := make(chan error, 2)
	go func() {
		_, err := b.ReceiveDatagram(ctx)
		errs <- err
	}()
	go func() {
		_, err := netutil.ReadMessage(r, nil, 16)
		errs <- err
	}()

	a.Close()
	for i := 0; i < 2; i++ {
		err := <-errs
		assert.T(t, netutil.IsConnectionError(err), err)
	}
	assert.T(t, b.IsClosed())
	_, err = s.Write([]byte{1})
	assert.T(t, err != nil)
	_, err = b.AcceptStream(ctx)
	assert.T(t, netutil.IsConnectionError(err), err)
	assert.T(t, !a.TrySendDatagram([]byte{1}))
}

func TestNetwork(t *testing.T) {
	ctx := testContext(t)
	n := NewNetwork()
	ln, err := n.Listen("peer-b", bob)
	assert.Equal(t, nil, err)
	_, err = n.Listen("peer-b", bob)
	assert.T(t, err != nil)

	dial := n.Dialer(alice)
	c, err := dial(ctx, "peer-b")
	assert.Equal(t, nil, err)
	assert.Equal(t, bob, c.RemotePeer())

	accepted, err := ln.Accept(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, alice, accepted.RemotePeer())
	assert.Equal(t, "peer-b", ln.Addr().String())

	assert.Equal(t, nil, ln.Close())
	_, err = ln.Accept(ctx)
	assert.T(t, netutil.IsConnectionError(err), err)
	_, err = dial(ctx, "peer-b")
	assert.T(t, err != nil)
}
