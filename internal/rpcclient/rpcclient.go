// Package rpcclient implements the client half of the connection layer
// (spec §4.9/§5): connect, endianness handshake, protocol-version
// negotiation, one reader goroutine correlating responses by sequence
// number, and a stop flag that aborts the reader's blocking read on
// teardown.
package rpcclient

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/scorep-tools/tracecost/internal/framing"
	"github.com/scorep-tools/tracecost/internal/request"
	"github.com/scorep-tools/tracecost/internal/wire"
)

// ErrUnrecoverable wraps a response whose code was ERROR_UNRECOVERABLE;
// the connection should be dropped after receiving it.
type ErrUnrecoverable struct{ Message string }

func (e *ErrUnrecoverable) Error() string { return "rpcclient: unrecoverable: " + e.Message }

// ErrRecoverable wraps a response whose code was ERROR_RECOVERABLE; the
// connection's framing state is intact and further requests may be sent.
type ErrRecoverable struct{ Message string }

func (e *ErrRecoverable) Error() string { return "rpcclient: recoverable: " + e.Message }

// ErrStopped is returned to any request in flight when the client is
// torn down.
var ErrStopped = fmt.Errorf("rpcclient: connection stopped")

type waiter struct {
	done chan struct{}
	body []byte
	code framing.ResponseCode
	msg  string
	err  error
}

// Client owns one connection, its reader goroutine, and the sequence
// counter and waiter map used to correlate requests with responses.
type Client struct {
	conn    net.Conn
	swapped bool
	version uint32

	seq framing.SequenceCounter

	mu      sync.Mutex
	waiters map[uint64]*waiter

	writeMu sync.Mutex

	stopped atomic.Bool
	readerW sync.WaitGroup
}

// Dial connects to addr, performs the endianness and protocol-version
// handshake with maxClientVersion, and starts the reader goroutine.
func Dial(addr string, maxClientVersion uint32) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", addr, err)
	}
	c := &Client{conn: conn, waiters: make(map[uint64]*waiter)}

	if err := c.sendEndiannessWord(); err != nil {
		conn.Close()
		return nil, err
	}
	var ack [1]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rpcclient: reading endianness ack: %w", err)
	}
	c.swapped = ack[0] != 0

	c.readerW.Add(1)
	go c.readLoop()

	if err := c.negotiateProtocol(maxClientVersion); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) sendEndiannessWord() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := c.conn.Write(buf[:])
	return err
}

func (c *Client) negotiateProtocol(maxClientVersion uint32) error {
	req := &request.NegotiateProtocolReq{MaxClientVersion: maxClientVersion}
	if err := c.Do(req); err != nil {
		return err
	}
	c.version = req.NegotiatedVersion
	c.seq.Reset()
	return nil
}

// readLoop is the connection's single reader: it reads response headers
// one at a time and wakes the waiter registered under that sequence
// number (spec §4.9).
func (c *Client) readLoop() {
	defer c.readerW.Done()
	rd := wire.NewReader(c.conn, c.swapped)
	for {
		header, err := framing.ReadHeader(rd)
		if err != nil {
			c.failAllWaiters(err)
			return
		}
		code, msg, err := framing.ReadResponseCode(rd)
		if err != nil {
			c.failAllWaiters(err)
			return
		}
		var body []byte
		if code == framing.OK && header.BodyLength > 4 {
			body, err = rd.Bytes(int(header.BodyLength) - 4)
			if err != nil {
				c.failAllWaiters(err)
				return
			}
		}

		c.mu.Lock()
		w, ok := c.waiters[header.Sequence]
		if ok {
			delete(c.waiters, header.Sequence)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}
		w.code, w.msg, w.body = code, msg, body
		close(w.done)

		if c.stopped.Load() {
			return
		}
	}
}

func (c *Client) failAllWaiters(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for seq, w := range c.waiters {
		w.err = err
		close(w.done)
		delete(c.waiters, seq)
	}
}

// Do sends req, blocks until its response arrives (or the client is
// stopped), and decodes the response into req.
func (c *Client) Do(req request.Request) error {
	seq := c.seq.Next()
	w := &waiter{done: make(chan struct{})}

	c.mu.Lock()
	c.waiters[seq] = w
	c.mu.Unlock()

	if err := c.sendRequest(seq, req); err != nil {
		c.mu.Lock()
		delete(c.waiters, seq)
		c.mu.Unlock()
		return err
	}

	<-w.done
	if w.err != nil {
		return w.err
	}
	switch w.code {
	case framing.OK:
		if len(w.body) == 0 {
			return nil
		}
		return req.DecodeResponse(wire.NewReader(newByteReader(w.body), c.swapped))
	case framing.ErrorRecoverable:
		return &ErrRecoverable{Message: w.msg}
	default:
		return &ErrUnrecoverable{Message: w.msg}
	}
}

func (c *Client) sendRequest(seq uint64, req request.Request) error {
	var body fixedBuffer
	if err := req.EncodeRequest(wire.NewWriter(&body)); err != nil {
		return err
	}
	h := framing.Header{RequestID: uint32(req.ID()), Sequence: seq, BodyLength: uint32(len(body.b))}
	var out fixedBuffer
	if err := framing.WriteHeader(wire.NewWriter(&out), h); err != nil {
		return err
	}
	out.b = append(out.b, body.b...)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(out.b)
	return err
}

// Close stops the reader, sends Disconnect, and closes the socket.
func (c *Client) Close() error {
	if c.stopped.Swap(true) {
		return nil
	}
	_ = c.Do(&request.DisconnectReq{})
	err := c.conn.Close()
	c.readerW.Wait()
	return err
}

// fixedBuffer is a tiny io.Writer/io.Reader adapter so wire.Writer can
// accumulate a request body before the header's length is known.
type fixedBuffer struct{ b []byte }

func (f *fixedBuffer) Write(p []byte) (int, error) {
	f.b = append(f.b, p...)
	return len(p), nil
}

func newByteReader(b []byte) io.Reader { return &byteReader{b: b} }

type byteReader struct {
	b []byte
	i int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
