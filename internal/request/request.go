// Package request implements the protocol request catalogue (spec
// §4.8): one type per operation, each knowing how to decode itself off
// the wire, execute against a Session, and encode its response — and,
// symmetrically, how a client encodes the request and decodes the
// response. The client and server share this catalogue, differing
// only in which half of each request type they invoke (spec's
// "virtual-method hierarchy of requests").
package request

import (
	"fmt"

	"github.com/scorep-tools/tracecost/internal/report"
	"github.com/scorep-tools/tracecost/internal/value"
	"github.com/scorep-tools/tracecost/internal/wire"
)

// ID identifies a request kind on the wire.
type ID uint32

const (
	IDDisconnect ID = iota
	IDNegotiateProtocol
	IDClientServerVersion
	IDOpenCube
	IDCloseCube
	IDSaveCube
	IDDefineMetric
	IDMetricTreeValues
	IDMetricSubtreeValues
	IDCallpathTreeValues
	IDCallpathSubtreeValues
	IDFlatTreeValues
	IDSystemTreeValues
	IDTreeValue
	IDMiscData
	IDFileSystem
	IDVersion
)

// Version0Catalogue and Version1Catalogue list the request ids legal
// under each negotiated protocol version (spec §4.7).
var Version0Catalogue = map[ID]bool{
	IDDisconnect:          true,
	IDNegotiateProtocol:   true,
	IDClientServerVersion: true,
}

var Version1Catalogue = func() map[ID]bool {
	m := map[ID]bool{
		IDOpenCube: true, IDCloseCube: true, IDSaveCube: true, IDDefineMetric: true,
		IDMetricTreeValues: true, IDCallpathTreeValues: true, IDFlatTreeValues: true,
		IDSystemTreeValues: true, IDMetricSubtreeValues: true, IDCallpathSubtreeValues: true,
		IDFileSystem: true, IDTreeValue: true, IDMiscData: true, IDVersion: true,
	}
	for id := range Version0Catalogue {
		m[id] = true
	}
	return m
}()

// CatalogueForVersion returns the legal request-id set for a negotiated
// protocol version.
func CatalogueForVersion(v uint32) map[ID]bool {
	if v == 0 {
		return Version0Catalogue
	}
	return Version1Catalogue
}

// FileEntry describes one directory entry returned by FileSystem.
type FileEntry struct {
	Name        string
	IsDirectory bool
	Size        int64
	ModTime     int64 // unix seconds
}

// Session is the server-side state a request executes against: the
// currently open report (if any), a key/value blob store, and
// filesystem browsing for remote OpenCube target selection.
type Session interface {
	OpenCube(path string) error
	CloseCube()
	SaveCube(path string) error
	Report() (report.Report, bool)
	DefineMetric(def report.MetricDefinition) (report.MetricID, error)
	MiscData(name string) []byte
	FileSystem(path string) ([]FileEntry, error)
	LibraryVersion() int32
}

// Request is the interface every catalogue entry implements (spec
// §4.7/§4.8's request dispatch).
type Request interface {
	ID() ID

	// Server side.
	DecodeRequest(r *wire.Reader) error
	Execute(s Session) error
	EncodeResponse(w *wire.Writer) error

	// Client side.
	EncodeRequest(w *wire.Writer) error
	DecodeResponse(r *wire.Reader) error
}

// Factory constructs a zero-valued Request for an id.
type Factory func() Request

// Factories maps every known request id to its constructor, used by
// both sides to instantiate the request named by an incoming header
// (spec §4.7's "Each request type has a registered factory by id").
var Factories = map[ID]Factory{
	IDDisconnect:            func() Request { return &DisconnectReq{} },
	IDNegotiateProtocol:     func() Request { return &NegotiateProtocolReq{} },
	IDClientServerVersion:   func() Request { return &ClientServerVersionReq{} },
	IDOpenCube:              func() Request { return &OpenCubeReq{} },
	IDCloseCube:             func() Request { return &CloseCubeReq{} },
	IDSaveCube:              func() Request { return &SaveCubeReq{} },
	IDDefineMetric:          func() Request { return &DefineMetricReq{} },
	IDMetricTreeValues:      func() Request { return &MetricTreeValuesReq{} },
	IDMetricSubtreeValues:   func() Request { return &MetricSubtreeValuesReq{} },
	IDCallpathTreeValues:    func() Request { return &CallpathTreeValuesReq{} },
	IDCallpathSubtreeValues: func() Request { return &CallpathSubtreeValuesReq{} },
	IDFlatTreeValues:        func() Request { return &FlatTreeValuesReq{} },
	IDSystemTreeValues:      func() Request { return &SystemTreeValuesReq{} },
	IDTreeValue:             func() Request { return &TreeValueReq{} },
	IDMiscData:              func() Request { return &MiscDataReq{} },
	IDFileSystem:            func() Request { return &FileSystemReq{} },
	IDVersion:               func() Request { return &VersionReq{} },
}

// New constructs the zero-valued request for id, or an error if id is
// unknown to this catalogue (spec example 7: "an Unrecoverable error").
func New(id ID) (Request, error) {
	f, ok := Factories[id]
	if !ok {
		return nil, fmt.Errorf("request: unknown request id %d", id)
	}
	return f(), nil
}

// Severity classifies an Execute failure for the server's response-code
// choice (spec §4.7/§4.8's recoverable-vs-unrecoverable distinction).
type Severity int

const (
	SeverityRecoverable Severity = iota
	SeverityUnrecoverable
)

// recoverableIDs lists requests whose failure leaves the connection's
// framing state intact: a bad path or malformed definition doesn't
// desynchronize the stream, so the client may continue issuing requests.
var recoverableIDs = map[ID]bool{
	IDOpenCube:     true,
	IDSaveCube:     true,
	IDDefineMetric: true,
}

// SeverityFor classifies an Execute error raised while handling id.
// Unknown-id lookups (New's error) are always unrecoverable (spec's
// worked example 7).
func SeverityFor(id ID) Severity {
	if recoverableIDs[id] {
		return SeverityRecoverable
	}
	return SeverityUnrecoverable
}

// Selection is an ordered id list plus a per-dimension flavour flag
// (spec §4.8: "tuples of ordered id lists plus flavour flags").
type Selection struct {
	IDs     []uint32
	Flavour value.Flavour
}

func encodeSelection(w *wire.Writer, s Selection) error {
	if err := w.Uint32(uint32(len(s.IDs))); err != nil {
		return err
	}
	for _, id := range s.IDs {
		if err := w.Uint32(id); err != nil {
			return err
		}
	}
	return w.Uint32(uint32(s.Flavour))
}

func decodeSelection(r *wire.Reader) (Selection, error) {
	n, err := r.Uint32()
	if err != nil {
		return Selection{}, err
	}
	ids := make([]uint32, n)
	for i := range ids {
		v, err := r.Uint32()
		if err != nil {
			return Selection{}, err
		}
		ids[i] = v
	}
	flavour, err := r.Uint32()
	if err != nil {
		return Selection{}, err
	}
	return Selection{IDs: ids, Flavour: value.Flavour(flavour)}, nil
}

// NodeSelection picks between a call-tree selection (by cnode id) and
// a flat selection (by region id); several queries accept either (spec
// §4.8: "cnode-sel | region-sel").
type NodeSelection struct {
	ByRegion bool
	Sel      Selection
}

func encodeNodeSelection(w *wire.Writer, n NodeSelection) error {
	var flag uint32
	if n.ByRegion {
		flag = 1
	}
	if err := w.Uint32(flag); err != nil {
		return err
	}
	return encodeSelection(w, n.Sel)
}

func decodeNodeSelection(r *wire.Reader) (NodeSelection, error) {
	flag, err := r.Uint32()
	if err != nil {
		return NodeSelection{}, err
	}
	sel, err := decodeSelection(r)
	if err != nil {
		return NodeSelection{}, err
	}
	return NodeSelection{ByRegion: flag != 0, Sel: sel}, nil
}

// writeValues implements the "Value streaming rule" (spec §4.8): a
// uint32 count, then each element at its type's on-wire size, swap
// applied per field. The server never swaps its own writes (spec
// §4.7), so swapped is always false here; it exists for symmetry with
// readValues, which a client uses with its connection's swap flag.
func writeValues(w *wire.Writer, vs []value.Value) error {
	if err := w.Uint32(uint32(len(vs))); err != nil {
		return err
	}
	for _, v := range vs {
		if err := w.Bytes(value.ToByteStream(v, false)); err != nil {
			return err
		}
	}
	return nil
}

func readValues(r *wire.Reader, t value.Type, arity int, swapped bool) ([]value.Value, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	out := make([]value.Value, n)
	for i := range out {
		size := value.FromType(t).Size()
		if t == value.NDoubles || t == value.Histogram {
			size = 4 + arity*8
		} else if t == value.ScaleFunction {
			size = 4 + arity*16
		}
		raw, err := r.Bytes(size)
		if err != nil {
			return nil, err
		}
		v, _, err := value.FromByteStream(t, arity, raw, swapped)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
