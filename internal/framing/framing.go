// Package framing implements the length-framed message header shared
// by every request and response on the wire (spec §4.7):
//
//	marker:uint32 | request-id:uint32 | sequence:uint64 | body-length:uint32 | body
//
// Responses additionally carry a response-code immediately inside the
// body, which callers decode themselves via wire.Reader once they have
// read the body into memory (or streamed it directly).
package framing

import (
	"errors"
	"sync/atomic"

	"github.com/scorep-tools/tracecost/internal/wire"
)

// Marker is the fixed magic value that opens every framed message.
// Its specific numeric value only needs to be agreed between client
// and server implementations built from this package; 0x43554245
// spells "CUBE" in ASCII.
const Marker uint32 = 0x43554245

// ErrBadMarker is returned when a decoded header's marker doesn't
// match Marker, meaning the stream has desynchronized.
var ErrBadMarker = errors.New("framing: bad marker, stream desynchronized")

// ResponseCode is the in-body status word on every response.
type ResponseCode uint32

const (
	OK ResponseCode = iota
	ErrorRecoverable
	ErrorUnrecoverable
)

func (c ResponseCode) String() string {
	switch c {
	case OK:
		return "OK"
	case ErrorRecoverable:
		return "ERROR_RECOVERABLE"
	case ErrorUnrecoverable:
		return "ERROR_UNRECOVERABLE"
	default:
		return "UNKNOWN"
	}
}

// Header is the fixed-size envelope preceding every message body.
type Header struct {
	RequestID  uint32
	Sequence   uint64
	BodyLength uint32
}

// WriteHeader writes the marker and header fields.
func WriteHeader(w *wire.Writer, h Header) error {
	if err := w.Uint32(Marker); err != nil {
		return err
	}
	if err := w.Uint32(h.RequestID); err != nil {
		return err
	}
	if err := w.Uint64(h.Sequence); err != nil {
		return err
	}
	return w.Uint32(h.BodyLength)
}

// ReadHeader reads and validates the marker, returning the header that
// follows it.
func ReadHeader(r *wire.Reader) (Header, error) {
	marker, err := r.Uint32()
	if err != nil {
		return Header{}, err
	}
	if marker != Marker {
		return Header{}, ErrBadMarker
	}
	reqID, err := r.Uint32()
	if err != nil {
		return Header{}, err
	}
	seq, err := r.Uint64()
	if err != nil {
		return Header{}, err
	}
	bodyLen, err := r.Uint32()
	if err != nil {
		return Header{}, err
	}
	return Header{RequestID: reqID, Sequence: seq, BodyLength: bodyLen}, nil
}

// WriteResponseHeader writes a response header plus its response code,
// and (if code != OK) the error message that follows it on the wire.
func WriteResponseHeader(w *wire.Writer, h Header, code ResponseCode, errMsg string) error {
	if err := WriteHeader(w, h); err != nil {
		return err
	}
	if err := w.Uint32(uint32(code)); err != nil {
		return err
	}
	if code != OK {
		return w.String(errMsg)
	}
	return nil
}

// ReadResponseCode reads the response-code word (and, on error, the
// message string) at the start of a response body, right after its header.
func ReadResponseCode(r *wire.Reader) (ResponseCode, string, error) {
	raw, err := r.Uint32()
	if err != nil {
		return 0, "", err
	}
	code := ResponseCode(raw)
	if code == OK {
		return code, "", nil
	}
	msg, err := r.String()
	if err != nil {
		return code, "", err
	}
	return code, msg, nil
}

// SequenceCounter hands out strictly monotonic sequence numbers for one
// connection side, reset by the caller whenever the negotiated
// protocol version changes (spec §4.7). It is an atomic counter: Next may
// be called concurrently from any goroutine issuing a request without
// risk of two callers allocating the same sequence number.
type SequenceCounter struct {
	next atomic.Uint64
}

// Next returns the next sequence number, starting at 1 (0 is reserved
// so a zero-valued Header is visibly not-yet-assigned).
func (s *SequenceCounter) Next() uint64 {
	return s.next.Add(1)
}

// Reset restarts the counter, used on protocol version renegotiation.
func (s *SequenceCounter) Reset() {
	s.next.Store(0)
}
