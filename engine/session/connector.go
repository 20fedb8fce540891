package session

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaonanln/gwsync/engine/consts"
	"github.com/xiaonanln/gwsync/engine/gwlog"
	"github.com/xiaonanln/gwsync/engine/transport"
)

// connector keeps one outgoing session to a configured address
type connector struct {
	mgr         *Manager
	dial        transport.Dialer
	addr        string
	retryDelay  time.Duration
	session     *Session
	isReconnect bool
}

func (c *connector) String() string {
	return fmt.Sprintf("connector<%s>", c.addr)
}

// assureConnected dials until a session is running or ctx is done
func (c *connector) assureConnected(ctx context.Context) error {
	for c.session == nil || c.session.IsClosed() {
		if c.mgr.terminating.Load() {
			return errManagerClosed
		}
		if err := c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			gwlog.Errorf("%s: connect failed: %s", c, err)
			if err := c.sleep(ctx); err != nil {
				return err
			}
			continue
		}
		gwlog.Infof("%s: connected to %s (reconnect=%v)", c, c.session, c.isReconnect)
		c.isReconnect = true
	}
	return nil
}

func (c *connector) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, consts.HANDSHAKE_TIMEOUT)
	defer cancel()
	conn, err := c.dial(dialCtx, c.addr)
	if err != nil {
		return err
	}
	c.session = c.mgr.AddConn(conn)
	return nil
}

func (c *connector) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.retryDelay):
		return nil
	}
}

func (c *connector) serve(ctx context.Context) error {
	for {
		if err := c.assureConnected(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			c.session.Close()
			return ctx.Err()
		case <-c.session.Done():
		}
		c.session = nil
		if c.mgr.terminating.Load() {
			return errManagerClosed
		}
		if err := c.sleep(ctx); err != nil {
			return err
		}
	}
}

// Connect keeps a session to the peer at addr, redialing ConnectRetryInterval after every failure
//
// It returns when ctx is done or the Manager is closed.
func (m *Manager) Connect(ctx context.Context, dial transport.Dialer, addr string) error {
	c := &connector{
		mgr:        m,
		dial:       dial,
		addr:       addr,
		retryDelay: m.opts.ConnectRetryInterval,
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return c.serve(ctx)
}
