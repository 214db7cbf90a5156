package gateway

import (
	"bufio"
	"context"
	"io"
	"io/ioutil"
	"net"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is a single websocket connection to the gateway.
// ReadMessage returns a *CloseError when the server closed the connection
// with a close frame. WriteMessage may be called concurrently with
// ReadMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens gateway connections
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// closeCodeReconnect is sent when we close a connection we intend to resume,
// 1000 and 1001 would invalidate the session.
const closeCodeReconnect ws.StatusCode = 4000

var writeTimeout = 10 * time.Second

// WSDialer dials gateway connections using gobwas/ws
type WSDialer struct {
	Dialer ws.Dialer
}

var _ Dialer = (*WSDialer)(nil)

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, br, _, err := d.Dialer.Dial(ctx, url)
	if err != nil {
		return nil, errors.WithMessage(err, "dial")
	}

	return newWSConn(conn, br), nil
}

type wsConn struct {
	conn   net.Conn
	reader *wsutil.Reader

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSConn(conn net.Conn, br *bufio.Reader) *wsConn {
	var src io.Reader = conn
	if br != nil {
		// the handshake response may have been followed by frames that are now buffered
		src = br
	}

	c := &wsConn{conn: conn}
	c.reader = &wsutil.Reader{
		Source: src,
		State:  ws.StateClientSide,
	}
	c.reader.OnIntermediate = c.handleControl
	return c
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		header, err := c.reader.NextFrame()
		if err != nil {
			return nil, err
		}

		if header.OpCode.IsControl() {
			if err := c.handleControl(header, c.reader); err != nil {
				return nil, err
			}
			continue
		}

		data, err := ioutil.ReadAll(c.reader)
		if err != nil {
			return nil, err
		}

		if header.OpCode != ws.OpText && header.OpCode != ws.OpBinary {
			logger.Errorf("Don't know how to respond to websocket frame type: 0x%x", header.OpCode)
			continue
		}

		return data, nil
	}
}

func (c *wsConn) handleControl(header ws.Header, r io.Reader) error {
	payload, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}

	switch header.OpCode {
	case ws.OpPing:
		return c.writeFrame(ws.NewPongFrame(payload))
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(payload)
		// best effort, the server closes the tcp connection after this
		c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		return &CloseError{Code: int(code), Reason: reason}
	}

	return nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.writeFrame(ws.NewTextFrame(data))
}

// writeFrame writes a complete frame in a single write so control frames
// sent from the reader never interleave with messages
func (c *wsConn) writeFrame(frame ws.Frame) error {
	compiled, err := ws.CompileFrame(ws.MaskFrameInPlace(frame))
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = c.conn.Write(compiled)
	return err
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(closeCodeReconnect, "reconnecting")))
		err = c.conn.Close()
	})
	return err
}

