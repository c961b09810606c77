package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"keygate/internal/constants"
	"keygate/internal/protocol"
)

var errInterrupted = errors.New("session interrupted")

// FrameConn is one client transport. Each ReadFrame returns one candidate
// message; the transport decides what a message boundary is.
type FrameConn interface {
	// ReadFrame blocks until a frame arrives or deadline passes.
	ReadFrame(deadline time.Time) ([]byte, error)
	WriteToken(tok protocol.Token) error
	// Interrupt makes a blocked or future ReadFrame return errInterrupted.
	Interrupt()
	Close() error
}

// interrupter serializes deadline changes with Interrupt so a read armed
// just after an interrupt cannot push the deadline back into the future.
type interrupter struct {
	mu          sync.Mutex
	interrupted bool
}

func (i *interrupter) arm(set func(time.Time) error, deadline time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.interrupted {
		return errInterrupted
	}
	return set(deadline)
}

func (i *interrupter) interrupt(set func(time.Time) error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.interrupted = true
	set(time.Unix(1, 0))
}

func (i *interrupter) wasInterrupted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.interrupted
}

// tcpConn treats every Read as one frame, matching a stream peer that
// writes one JSON document per send.
type tcpConn struct {
	conn net.Conn
	buf  []byte
	intr interrupter
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{conn: conn, buf: make([]byte, constants.ReadBufferSize)}
}

func (c *tcpConn) ReadFrame(deadline time.Time) ([]byte, error) {
	if err := c.intr.arm(c.conn.SetReadDeadline, deadline); err != nil {
		return nil, err
	}
	for {
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, c.buf[:n])
			return frame, nil
		}
		if err != nil {
			if c.intr.wasInterrupted() {
				return nil, errInterrupted
			}
			return nil, err
		}
	}
}

func (c *tcpConn) WriteToken(tok protocol.Token) error {
	c.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	_, err := io.WriteString(c.conn, tok.String())
	return err
}

func (c *tcpConn) Interrupt() {
	c.intr.interrupt(c.conn.SetReadDeadline)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// wsConn treats every WebSocket data message as one frame.
type wsConn struct {
	conn *websocket.Conn
	intr interrupter
}

func newWSConn(conn *websocket.Conn) *wsConn {
	conn.SetReadLimit(constants.ReadBufferSize)
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadFrame(deadline time.Time) ([]byte, error) {
	if err := c.intr.arm(c.conn.SetReadDeadline, deadline); err != nil {
		return nil, err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if c.intr.wasInterrupted() {
			return nil, errInterrupted
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteToken(tok protocol.Token) error {
	c.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(tok))
}

func (c *wsConn) Interrupt() {
	c.intr.interrupt(c.conn.SetReadDeadline)
}

func (c *wsConn) Close() error {
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}
