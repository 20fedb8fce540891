package quictransport

import (
	"context"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/xiaonanln/gwsync/engine/netutil"
	"github.com/xiaonanln/gwsync/engine/transport"
)

func TestGenerateCertificate(t *testing.T) {
	a, err := GenerateCertificate()
	assert.Equal(t, nil, err)
	b, err := GenerateCertificate()
	assert.Equal(t, nil, err)
	assert.T(t, !PeerIDOf(a).IsNil())
	assert.NotEqual(t, PeerIDOf(a), PeerIDOf(b))
	assert.Equal(t, PeerIDOf(a), PeerIDOf(a))
}

func TestQUICConn(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverCert, err := GenerateCertificate()
	assert.Equal(t, nil, err)
	clientCert, err := GenerateCertificate()
	assert.Equal(t, nil, err)

	ln, err := Listen("127.0.0.1:0", serverCert)
	assert.Equal(t, nil, err)
	defer ln.Close()

	accepted := make(chan transport.Conn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err == nil {
			accepted <- c
		}
	}()

	client, err := Dialer(clientCert)(ctx, ln.Addr().String())
	assert.Equal(t, nil, err)
	defer client.Close()
	assert.Equal(t, PeerIDOf(serverCert), client.RemotePeer())

	var server transport.Conn
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatalf("accept timed out")
	}
	assert.Equal(t, PeerIDOf(clientCert), server.RemotePeer())

	// uni stream
	s, err := client.OpenUniStream(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, netutil.WriteMessage(s, []byte("iframe")))
	r, err := server.AcceptUniStream(ctx)
	assert.Equal(t, nil, err)
	msg, err := netutil.ReadMessage(r, nil, 64)
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte("iframe"), msg)

	// bidirectional stream
	bs, err := server.OpenStream(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, netutil.WriteMessage(bs, []byte{1, 30}))
	cs, err := client.AcceptStream(ctx)
	assert.Equal(t, nil, err)
	msg, err = netutil.ReadMessage(cs, nil, 8)
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte{1, 30}, msg)
	assert.Equal(t, nil, netutil.WriteMessage(cs, []byte{2, 30}))
	msg, err = netutil.ReadMessage(bs, nil, 8)
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte{2, 30}, msg)

	// datagrams are best effort: keep sending until one arrives
	got := make(chan []byte, 1)
	go func() {
		dg, err := server.ReceiveDatagram(ctx)
		if err == nil {
			got <- dg
		}
	}()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for done := false; !done; {
		client.TrySendDatagram([]byte("pframe"))
		select {
		case dg := <-got:
			assert.Equal(t, []byte("pframe"), dg)
			done = true
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatalf("no datagram received")
		}
	}
	assert.T(t, !client.TrySendDatagram(make([]byte, 4096)), "oversized datagram should be refused")

	assert.Equal(t, nil, client.Close())
	_, err = server.ReceiveDatagram(ctx)
	assert.T(t, err != nil)
}
