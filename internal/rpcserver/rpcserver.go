// Package rpcserver implements the server half of the connection layer
// (spec §4.9/§5): per-connection endianness and protocol-version
// negotiation, a sequential receive loop that dispatches each decoded
// request to its own goroutine, and a per-connection write lock
// serializing response writes.
package rpcserver

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/scorep-tools/tracecost/internal/framing"
	"github.com/scorep-tools/tracecost/internal/request"
	"github.com/scorep-tools/tracecost/internal/wire"
	"go.uber.org/zap"
)

// ErrEndiannessMismatch is returned when neither byte order of the
// client's handshake word reads back as 1 (spec §4.7: abort).
var ErrEndiannessMismatch = errors.New("rpcserver: endianness handshake failed")

// SessionFactory builds the request.Session backing one connection.
type SessionFactory func() request.Session

// Conn serves one accepted connection until Disconnect, EOF, or a
// framing error ends it.
type Conn struct {
	conn    net.Conn
	log     *zap.Logger
	maxVer  uint32
	session request.Session

	writeMu sync.Mutex
	seq     framing.SequenceCounter

	swapped bool
	version uint32
	catalog map[request.ID]bool
}

// Serve negotiates endianness and protocol version on conn, then runs
// the receive loop until the connection ends. It always closes conn
// before returning.
func Serve(conn net.Conn, maxServerVersion uint32, sessionFactory SessionFactory, log *zap.Logger) error {
	defer conn.Close()

	swapped, err := negotiateEndianness(conn)
	if err != nil {
		return err
	}
	// The handshake word only tells the server whether a swap is
	// needed; the server acks it back as a single byte so the client's
	// reader goroutine knows its swap state before anything else is
	// exchanged (spec §4.7 leaves the ack channel unspecified; this is
	// this implementation's concrete choice, recorded in DESIGN.md).
	ack := byte(0)
	if swapped {
		ack = 1
	}
	if _, err := conn.Write([]byte{ack}); err != nil {
		return fmt.Errorf("rpcserver: writing endianness ack: %w", err)
	}

	c := &Conn{conn: conn, log: log, maxVer: maxServerVersion, session: sessionFactory(), swapped: swapped}
	if err := c.negotiateProtocol(); err != nil {
		return err
	}
	return c.loop()
}

// negotiateEndianness implements spec §4.7's handshake: the client
// writes uint64(1) native; the server reads the raw bytes (swap status
// is not yet known) and decides by trial.
func negotiateEndianness(conn net.Conn) (bool, error) {
	var buf [8]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return false, fmt.Errorf("rpcserver: endianness handshake: %w", err)
	}
	v := binary.NativeEndian.Uint64(buf[:])
	if v == 1 {
		return false, nil
	}
	if byteSwap64(v) == 1 {
		return true, nil
	}
	return false, ErrEndiannessMismatch
}

func byteSwap64(v uint64) uint64 {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], v)
	for i, j := 0, 7; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return binary.NativeEndian.Uint64(b[:])
}

func (c *Conn) negotiateProtocol() error {
	rd := wire.NewReader(c.conn, c.swapped)
	header, err := framing.ReadHeader(rd)
	if err != nil {
		return fmt.Errorf("rpcserver: reading negotiation header: %w", err)
	}
	if request.ID(header.RequestID) != request.IDNegotiateProtocol {
		return fmt.Errorf("rpcserver: expected NegotiateProtocol, got id %d", header.RequestID)
	}
	req := &request.NegotiateProtocolReq{}
	if err := req.DecodeRequest(rd); err != nil {
		return fmt.Errorf("rpcserver: decoding NegotiateProtocol: %w", err)
	}
	req.MaxServerVersion = c.maxVer
	if err := req.Execute(c.session); err != nil {
		return err
	}
	c.version = req.NegotiatedVersion
	c.catalog = request.CatalogueForVersion(c.version)
	c.seq.Reset()

	var body bytes.Buffer
	if err := req.EncodeResponse(wire.NewWriter(&body)); err != nil {
		return err
	}
	return c.writeResponse(header.Sequence, request.IDNegotiateProtocol, framing.OK, "", body.Bytes())
}

func (c *Conn) loop() error {
	rd := wire.NewReader(c.conn, c.swapped)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		header, err := framing.ReadHeader(rd)
		if err != nil {
			if errors.Is(err, wire.ErrShortRead) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		id := request.ID(header.RequestID)

		if !c.catalog[id] {
			if err := c.writeResponse(header.Sequence, id, framing.ErrorUnrecoverable,
				fmt.Sprintf("request id %d not legal for negotiated protocol version %d", id, c.version), nil); err != nil {
				return err
			}
			continue
		}

		req, err := request.New(id)
		if err != nil {
			if err := c.writeResponse(header.Sequence, id, framing.ErrorUnrecoverable, err.Error(), nil); err != nil {
				return err
			}
			continue
		}
		if err := req.DecodeRequest(rd); err != nil {
			return fmt.Errorf("rpcserver: decoding request %d: %w", id, err)
		}

		if id == request.IDDisconnect {
			c.writeResponse(header.Sequence, id, framing.OK, "", nil)
			return nil
		}

		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			c.process(seq, id, req)
		}(header.Sequence)
	}
}

func (c *Conn) process(seq uint64, id request.ID, req request.Request) {
	if err := req.Execute(c.session); err != nil {
		code := framing.ErrorRecoverable
		if request.SeverityFor(id) == request.SeverityUnrecoverable {
			code = framing.ErrorUnrecoverable
		}
		c.writeResponse(seq, id, code, err.Error(), nil)
		if c.log != nil {
			c.log.Warn("request failed", zap.Uint32("id", uint32(id)), zap.Error(err))
		}
		return
	}
	var body bytes.Buffer
	if err := req.EncodeResponse(wire.NewWriter(&body)); err != nil {
		c.writeResponse(seq, id, framing.ErrorUnrecoverable, err.Error(), nil)
		return
	}
	c.writeResponse(seq, id, framing.OK, "", body.Bytes())
}

// writeResponse frames one response and writes its header and body
// while holding the connection's write lock, so no other response's
// bytes interleave with it (spec §4.9).
func (c *Conn) writeResponse(seq uint64, id request.ID, code framing.ResponseCode, errMsg string, payload []byte) error {
	var out bytes.Buffer
	w := wire.NewWriter(&out)
	if err := w.Uint32(uint32(code)); err != nil {
		return err
	}
	if code != framing.OK {
		if err := w.String(errMsg); err != nil {
			return err
		}
	} else if len(payload) > 0 {
		if err := w.Bytes(payload); err != nil {
			return err
		}
	}

	h := framing.Header{RequestID: uint32(id), Sequence: seq, BodyLength: uint32(out.Len())}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	hw := wire.NewWriter(c.conn)
	if err := framing.WriteHeader(hw, h); err != nil {
		return err
	}
	_, err := c.conn.Write(out.Bytes())
	return err
}
