package p2p

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/WendelHime/peerswarm/internal/shared/models"
)

type P2PClient interface {
	// Handshake sends our greeting, waits for the remote one and hands the
	// remote id to verify. Cancelling ctx aborts the wait.
	Handshake(ctx context.Context, verify func(remoteID int) error) (int, error)
	ReadMessage() (models.PeerMessage, error)
	WriteMessage(msg models.PeerMessage) error
	RemoteAddr() net.Addr
	Close() error
}

type client struct {
	localID   int
	maxLength int
	conn      net.Conn

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewClient wraps an established connection. maxLength bounds incoming
// frames, 0 disables the check.
func NewClient(conn net.Conn, localID, maxLength int) P2PClient {
	return &client{localID: localID, maxLength: maxLength, conn: conn}
}

func (c *client) Handshake(ctx context.Context, verify func(remoteID int) error) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// unblock a pending read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer func() {
		if stop() {
			return
		}
		c.conn.SetDeadline(time.Time{})
	}()

	if err := c.write(EncodeHandshake(c.localID)); err != nil {
		return 0, c.ctxErr(ctx, errors.Wrap(err, "sending handshake"))
	}

	buf := make([]byte, HandshakeLength)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return 0, c.ctxErr(ctx, errors.Wrap(err, "reading handshake"))
	}

	remoteID, err := DecodeHandshake(buf)
	if err != nil {
		return 0, errors.Wrapf(err, "handshake from %s", c.conn.RemoteAddr())
	}
	if verify != nil {
		if err := verify(remoteID); err != nil {
			return remoteID, err
		}
	}
	return remoteID, nil
}

func (c *client) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *client) ReadMessage() (models.PeerMessage, error) {
	return ReadMessage(c.conn, c.maxLength)
}

func (c *client) WriteMessage(msg models.PeerMessage) error {
	return c.write(EncodeMessage(msg))
}

func (c *client) write(buf []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(buf)
	return err
}

func (c *client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close shuts the write side first so queued bytes reach the remote, then
// releases the socket. Both steps always run.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
			if err := cw.CloseWrite(); err != nil {
				errs = append(errs, errors.Wrap(err, "closing write side"))
			}
		}
		if err := c.conn.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "closing connection"))
		}
		c.closeErr = stderrors.Join(errs...)
	})
	return c.closeErr
}
