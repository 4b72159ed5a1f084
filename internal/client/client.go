// Package client implements buxtonctl's over-socket mode: a small wire
// protocol client dialing the daemon's Unix socket, using bufio read/write
// buffers over one guarded net.Conn with responses routed by message id.
package client

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buxton-project/buxtond/internal/wire"
)

// Client is a single connection to the daemon's socket. It is safe for
// concurrent Call use; replies are routed back to their caller by
// msg-id the same way a pooled upstream connection routes pool responses.
type Client struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	nextMsgID uint32

	mu      sync.Mutex
	pending map[uint32]chan reply
}

type reply struct {
	kind   wire.Kind
	params []wire.Param
	err    error
}

// Dial connects to the daemon's Unix domain socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing buxtond socket: %w", err)
	}
	c := &Client{
		conn:    conn,
		br:      bufio.NewReader(conn),
		bw:      bufio.NewWriter(conn),
		pending: make(map[uint32]chan reply),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one framed request and blocks for its matching reply.
func (c *Client) Call(kind wire.Kind, params []wire.Param) ([]wire.Param, error) {
	msgid := atomic.AddUint32(&c.nextMsgID, 1)
	ch := make(chan reply, 1)

	c.mu.Lock()
	c.pending[msgid] = ch
	c.mu.Unlock()

	frame := wire.EncodeFrame(kind, msgid, params)
	c.mu.Lock()
	_, err := c.bw.Write(frame)
	if err == nil {
		err = c.bw.Flush()
	}
	c.mu.Unlock()
	if err != nil {
		c.forget(msgid)
		return nil, fmt.Errorf("writing request: %w", err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.params, nil
	case <-time.After(30 * time.Second):
		c.forget(msgid)
		return nil, fmt.Errorf("timed out waiting for reply to msgid %d", msgid)
	}
}

func (c *Client) forget(msgid uint32) {
	c.mu.Lock()
	delete(c.pending, msgid)
	c.mu.Unlock()
}

// readLoop demultiplexes frames by msg-id onto the caller blocked in
// Call. It is the only reader of the connection.
func (c *Client) readLoop() {
	var buf []byte
	header := make([]byte, wire.HeaderLen)
	for {
		if _, err := readFull(c.br, header); err != nil {
			c.failAll(err)
			return
		}
		length := wire.FrameSize(header)
		buf = append(buf[:0], header...)
		if length > wire.HeaderLen {
			rest := make([]byte, length-wire.HeaderLen)
			if _, err := readFull(c.br, rest); err != nil {
				c.failAll(err)
				return
			}
			buf = append(buf, rest...)
		}

		kind, msgid, params, err := wire.DecodeFrame(buf)
		c.mu.Lock()
		ch, ok := c.pending[msgid]
		if ok {
			delete(c.pending, msgid)
		}
		c.mu.Unlock()
		if ok {
			ch <- reply{kind: kind, params: params, err: err}
		}
	}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for msgid, ch := range c.pending {
		ch <- reply{err: fmt.Errorf("connection closed: %w", err)}
		delete(c.pending, msgid)
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
