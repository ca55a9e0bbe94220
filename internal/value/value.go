// Package value implements the polymorphic numeric cell used throughout
// the profile report and the wire protocol: a tagged union discriminated
// by Type, with a fixed wire size, a byte-swap rule, and +/- semantics
// per variant.
package value

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Type discriminates a Value's payload.
type Type uint8

const (
	Int8 Type = iota
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Double
	Complex
	TauAtomic
	MinDouble
	MaxDouble
	NDoubles
	Histogram
	ScaleFunction
)

func (t Type) String() string {
	switch t {
	case Int8:
		return "INT8"
	case UInt8:
		return "UINT8"
	case Int16:
		return "INT16"
	case UInt16:
		return "UINT16"
	case Int32:
		return "INT32"
	case UInt32:
		return "UINT32"
	case Int64:
		return "INT64"
	case UInt64:
		return "UINT64"
	case Double:
		return "DOUBLE"
	case Complex:
		return "COMPLEX"
	case TauAtomic:
		return "TAUATOMIC"
	case MinDouble:
		return "MINDOUBLE"
	case MaxDouble:
		return "MAXDOUBLE"
	case NDoubles:
		return "NDOUBLES"
	case Histogram:
		return "HISTOGRAM"
	case ScaleFunction:
		return "SCALEFUNC"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ErrShapeMismatch is returned when two values of incompatible variants
// (or incompatible arity, for NDoubles/Histogram) are combined.
var ErrShapeMismatch = errors.New("value: shape mismatch")

// Flavour distinguishes inclusive vs. exclusive aggregation of a metric
// at a tree node (see spec GLOSSARY).
type Flavour uint8

const (
	Inclusive Flavour = iota
	Exclusive
)

// Value is a single polymorphic numeric cell.
//
// Exactly one payload field is meaningful for a given Type; the others
// are zero. This mirrors the C++ hierarchy's discriminated variants
// while keeping Value a plain, copyable Go struct.
type Value struct {
	typ Type

	i64 int64   // Int8/16/32/64 (sign-extended), UInt8/16/32/64 (zero-extended)
	f64 float64 // Double, MinDouble, MaxDouble
	re  float64 // Complex real part
	im  float64 // Complex imaginary part

	tau TauAtomicData

	nd []float64 // NDoubles payload
	hg []uint64  // Histogram bucket counts
	sf []ScalePoint // ScaleFunction piecewise points
}

// TauAtomicData is the fixed five-field payload (n, min, max, sum, sum^2)
// of a TauAtomic value, described in spec §3/§4.1. Field order is part
// of the wire format.
type TauAtomicData struct {
	N    uint32
	Min  float64
	Max  float64
	Sum  float64
	Sum2 float64
}

// ScalePoint is one (x, y) sample of a piecewise scale-function value.
type ScalePoint struct {
	X float64
	Y float64
}

// Type returns the value's discriminator.
func (v Value) Type() Type { return v.typ }

// FromType returns the neutral (zero) element for t, suitable as an
// accumulator seed. For NDoubles/Histogram/ScaleFunction the arity must
// be supplied via FromTypeN.
func FromType(t Type) Value {
	return FromTypeN(t, 0)
}

// FromTypeN returns the neutral element for t, with n giving the arity
// for NDoubles (n doubles) and Histogram (n buckets). Other types ignore n.
func FromTypeN(t Type, n int) Value {
	v := Value{typ: t}
	switch t {
	case NDoubles:
		v.nd = make([]float64, n)
	case Histogram:
		v.hg = make([]uint64, n)
	case ScaleFunction:
		v.sf = nil
	}
	return v
}

// IntValue constructs a signed or unsigned fixed-width integral value.
func IntValue(t Type, n int64) Value {
	return Value{typ: t, i64: n}
}

// DoubleValue constructs a Double/MinDouble/MaxDouble value.
func DoubleValue(t Type, f float64) Value {
	return Value{typ: t, f64: f}
}

// ComplexValue constructs a ComplexDouble value.
func ComplexValue(re, im float64) Value {
	return Value{typ: Complex, re: re, im: im}
}

// TauAtomicValue constructs a TauAtomic value from its five fields.
func TauAtomicValue(t TauAtomicData) Value {
	return Value{typ: TauAtomic, tau: t}
}

// NDoublesValue constructs an NDoubles value of runtime-fixed arity.
func NDoublesValue(xs []float64) Value {
	cp := append([]float64(nil), xs...)
	return Value{typ: NDoubles, nd: cp}
}

// HistogramValue constructs a fixed-bin-count Histogram value.
func HistogramValue(counts []uint64) Value {
	cp := append([]uint64(nil), counts...)
	return Value{typ: Histogram, hg: cp}
}

// ScaleFunctionValue constructs a piecewise ScaleFunction value.
func ScaleFunctionValue(points []ScalePoint) Value {
	cp := append([]ScalePoint(nil), points...)
	return Value{typ: ScaleFunction, sf: cp}
}

// Int64 returns the integral payload, sign/zero-extended to int64.
func (v Value) Int64() int64 { return v.i64 }

// Float64 returns the Double/MinDouble/MaxDouble payload.
func (v Value) Float64() float64 { return v.f64 }

// Complex128 returns the ComplexDouble payload.
func (v Value) Complex128() (re, im float64) { return v.re, v.im }

// Tau returns the TauAtomic payload.
func (v Value) Tau() TauAtomicData { return v.tau }

// NDoubles returns the NDoubles payload.
func (v Value) NDoubles() []float64 { return v.nd }

// Histogram returns the Histogram bucket counts.
func (v Value) Histogram() []uint64 { return v.hg }

// ScalePoints returns the ScaleFunction payload.
func (v Value) ScalePoints() []ScalePoint { return v.sf }

// Size returns the on-wire byte size of v, per the table in spec §3/SPEC_FULL.
func (v Value) Size() int {
	switch v.typ {
	case Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32:
		return 4
	case Int64, UInt64:
		return 8
	case Double, MinDouble, MaxDouble:
		return 8
	case Complex:
		return 16
	case TauAtomic:
		return 4 + 8 + 8 + 8 + 8
	case NDoubles:
		return 4 + 8*len(v.nd)
	case Histogram:
		return 4 + 8*len(v.hg)
	case ScaleFunction:
		return 4 + 16*len(v.sf)
	default:
		return 0
	}
}

// NeutralElement returns the identity element of v's type for the given
// aggregation operator ("sum", "min", or "max"). Types that only support
// one operator (e.g. TauAtomic always sums counts and min/maxes bounds
// internally) ignore op.
func (v Value) NeutralElement(op string) Value {
	switch v.typ {
	case Int8, UInt8, Int16, UInt16, Int32, UInt32, Int64, UInt64:
		switch op {
		case "min":
			return IntValue(v.typ, math.MaxInt64)
		case "max":
			return IntValue(v.typ, math.MinInt64)
		default:
			return IntValue(v.typ, 0)
		}
	case Double:
		switch op {
		case "min":
			return DoubleValue(Double, math.Inf(1))
		case "max":
			return DoubleValue(Double, math.Inf(-1))
		default:
			return DoubleValue(Double, 0)
		}
	case MinDouble:
		return DoubleValue(MinDouble, math.Inf(1))
	case MaxDouble:
		return DoubleValue(MaxDouble, math.Inf(-1))
	case Complex:
		return ComplexValue(0, 0)
	case TauAtomic:
		return TauAtomicValue(TauAtomicData{N: 0, Min: math.Inf(1), Max: math.Inf(-1), Sum: 0, Sum2: 0})
	case NDoubles:
		return NDoublesValue(make([]float64, len(v.nd)))
	case Histogram:
		return HistogramValue(make([]uint64, len(v.hg)))
	case ScaleFunction:
		return ScaleFunctionValue(nil)
	default:
		return Value{typ: v.typ}
	}
}

// Add returns v+other. ScaleFunction addition is the concatenation of
// breakpoints already defined by the opaque CubePL expressions and is
// not second-guessed here; it returns ErrShapeMismatch since this
// package only implements the numeric aggregation semantics spec §4.1
// assigns to it (opaque beyond add/subtract, supplied by the report
// model, not recomputed here).
func (v Value) Add(o Value) (Value, error) {
	if v.typ != o.typ {
		return Value{}, fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, v.typ, o.typ)
	}
	switch v.typ {
	case Int8, UInt8, Int16, UInt16, Int32, UInt32, Int64, UInt64:
		return IntValue(v.typ, v.i64+o.i64), nil
	case Double:
		return DoubleValue(Double, v.f64+o.f64), nil
	case MinDouble:
		return DoubleValue(MinDouble, math.Min(v.f64, o.f64)), nil
	case MaxDouble:
		return DoubleValue(MaxDouble, math.Max(v.f64, o.f64)), nil
	case Complex:
		return ComplexValue(v.re+o.re, v.im+o.im), nil
	case TauAtomic:
		return TauAtomicValue(TauAtomicData{
			N:    v.tau.N + o.tau.N,
			Min:  math.Min(v.tau.Min, o.tau.Min),
			Max:  math.Max(v.tau.Max, o.tau.Max),
			Sum:  v.tau.Sum + o.tau.Sum,
			Sum2: v.tau.Sum2 + o.tau.Sum2,
		}), nil
	case NDoubles:
		if len(v.nd) != len(o.nd) {
			return Value{}, fmt.Errorf("%w: ndoubles arity %d vs %d", ErrShapeMismatch, len(v.nd), len(o.nd))
		}
		out := make([]float64, len(v.nd))
		for i := range out {
			out[i] = v.nd[i] + o.nd[i]
		}
		return NDoublesValue(out), nil
	case Histogram:
		if len(v.hg) != len(o.hg) {
			return Value{}, fmt.Errorf("%w: histogram arity %d vs %d", ErrShapeMismatch, len(v.hg), len(o.hg))
		}
		out := make([]uint64, len(v.hg))
		for i := range out {
			out[i] = v.hg[i] + o.hg[i]
		}
		return HistogramValue(out), nil
	default:
		return Value{}, fmt.Errorf("%w: add undefined for %s", ErrShapeMismatch, v.typ)
	}
}

// Subtract returns v-o where defined (TauAtomic subtraction is
// undefined per spec §4.1, since min/max cannot be un-aggregated).
func (v Value) Subtract(o Value) (Value, error) {
	if v.typ != o.typ {
		return Value{}, fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, v.typ, o.typ)
	}
	switch v.typ {
	case Int8, UInt8, Int16, UInt16, Int32, UInt32, Int64, UInt64:
		return IntValue(v.typ, v.i64-o.i64), nil
	case Double:
		return DoubleValue(Double, v.f64-o.f64), nil
	case Complex:
		return ComplexValue(v.re-o.re, v.im-o.im), nil
	case NDoubles:
		if len(v.nd) != len(o.nd) {
			return Value{}, fmt.Errorf("%w: ndoubles arity %d vs %d", ErrShapeMismatch, len(v.nd), len(o.nd))
		}
		out := make([]float64, len(v.nd))
		for i := range out {
			out[i] = v.nd[i] - o.nd[i]
		}
		return NDoublesValue(out), nil
	case Histogram:
		if len(v.hg) != len(o.hg) {
			return Value{}, fmt.Errorf("%w: histogram arity %d vs %d", ErrShapeMismatch, len(v.hg), len(o.hg))
		}
		out := make([]uint64, len(v.hg))
		for i := range out {
			out[i] = v.hg[i] - o.hg[i]
		}
		return HistogramValue(out), nil
	default:
		return Value{}, fmt.Errorf("%w: subtract undefined for %s", ErrShapeMismatch, v.typ)
	}
}

// ByteSwap returns v with every primitive sub-field byte-reversed in
// declaration order. ByteSwap is its own inverse: swap(swap(v)) == v.
func (v Value) ByteSwap() Value {
	out := v
	switch v.typ {
	case Int8, UInt8:
		// single byte: nothing to reverse
	case Int16:
		out.i64 = int64(int16(swap16(uint16(v.i64))))
	case UInt16:
		out.i64 = int64(swap16(uint16(v.i64)))
	case Int32:
		out.i64 = int64(int32(swap32(uint32(v.i64))))
	case UInt32:
		out.i64 = int64(swap32(uint32(v.i64)))
	case Int64, UInt64:
		out.i64 = int64(swap64(uint64(v.i64)))
	case Double, MinDouble, MaxDouble:
		out.f64 = swapFloat64(v.f64)
	case Complex:
		out.re = swapFloat64(v.re)
		out.im = swapFloat64(v.im)
	case TauAtomic:
		out.tau = TauAtomicData{
			N:    swap32(v.tau.N),
			Min:  swapFloat64(v.tau.Min),
			Max:  swapFloat64(v.tau.Max),
			Sum:  swapFloat64(v.tau.Sum),
			Sum2: swapFloat64(v.tau.Sum2),
		}
	case NDoubles:
		out.nd = make([]float64, len(v.nd))
		for i, x := range v.nd {
			out.nd[i] = swapFloat64(x)
		}
	case Histogram:
		out.hg = make([]uint64, len(v.hg))
		for i, c := range v.hg {
			out.hg[i] = swap64(c)
		}
	case ScaleFunction:
		out.sf = make([]ScalePoint, len(v.sf))
		for i, p := range v.sf {
			out.sf[i] = ScalePoint{X: swapFloat64(p.X), Y: swapFloat64(p.Y)}
		}
	}
	return out
}

func swap16(v uint16) uint16 {
	return (v>>8)&0x00ff | (v<<8)&0xff00
}

func swap32(v uint32) uint32 {
	return (v>>24)&0x000000ff | (v>>8)&0x0000ff00 | (v<<8)&0x00ff0000 | (v<<24)&0xff000000
}

func swap64(v uint64) uint64 {
	return (v>>56)&0x00000000000000ff | (v>>40)&0x000000000000ff00 |
		(v>>24)&0x0000000000ff0000 | (v>>8)&0x00000000ff000000 |
		(v<<8)&0x000000ff00000000 | (v<<24)&0x0000ff0000000000 |
		(v<<40)&0x00ff000000000000 | (v<<56)&0xff00000000000000
}

func swapFloat64(f float64) float64 {
	return math.Float64frombits(swap64(math.Float64bits(f)))
}

// FromByteStream parses a single Value of type t (with arity n for
// NDoubles/Histogram/ScaleFunction) from the front of b, applying a
// byte-swap if swapped is true. It returns the value and the number of
// bytes consumed.
func FromByteStream(t Type, n int, b []byte, swapped bool) (Value, int, error) {
	switch t {
	case Int8:
		if len(b) < 1 {
			return Value{}, 0, ErrShortStream
		}
		return IntValue(Int8, int64(int8(b[0]))), 1, nil
	case UInt8:
		if len(b) < 1 {
			return Value{}, 0, ErrShortStream
		}
		return IntValue(UInt8, int64(b[0])), 1, nil
	case Int16, UInt16:
		if len(b) < 2 {
			return Value{}, 0, ErrShortStream
		}
		u := binary.BigEndian.Uint16(b)
		if swapped {
			u = swap16(u)
		}
		if t == Int16 {
			return IntValue(Int16, int64(int16(u))), 2, nil
		}
		return IntValue(UInt16, int64(u)), 2, nil
	case Int32, UInt32:
		if len(b) < 4 {
			return Value{}, 0, ErrShortStream
		}
		u := binary.BigEndian.Uint32(b)
		if swapped {
			u = swap32(u)
		}
		if t == Int32 {
			return IntValue(Int32, int64(int32(u))), 4, nil
		}
		return IntValue(UInt32, int64(u)), 4, nil
	case Int64, UInt64:
		if len(b) < 8 {
			return Value{}, 0, ErrShortStream
		}
		u := binary.BigEndian.Uint64(b)
		if swapped {
			u = swap64(u)
		}
		if t == Int64 {
			return IntValue(Int64, int64(u)), 8, nil
		}
		return IntValue(UInt64, int64(u)), 8, nil
	case Double, MinDouble, MaxDouble:
		if len(b) < 8 {
			return Value{}, 0, ErrShortStream
		}
		f := readFloat64(b, swapped)
		return DoubleValue(t, f), 8, nil
	case Complex:
		if len(b) < 16 {
			return Value{}, 0, ErrShortStream
		}
		re := readFloat64(b[0:8], swapped)
		im := readFloat64(b[8:16], swapped)
		return ComplexValue(re, im), 16, nil
	case TauAtomic:
		if len(b) < 36 {
			return Value{}, 0, ErrShortStream
		}
		nr := binary.BigEndian.Uint32(b[0:4])
		if swapped {
			nr = swap32(nr)
		}
		tau := TauAtomicData{
			N:    nr,
			Min:  readFloat64(b[4:12], swapped),
			Max:  readFloat64(b[12:20], swapped),
			Sum:  readFloat64(b[20:28], swapped),
			Sum2: readFloat64(b[28:36], swapped),
		}
		return TauAtomicValue(tau), 36, nil
	case NDoubles:
		need := 4 + 8*n
		if len(b) < need {
			return Value{}, 0, ErrShortStream
		}
		xs := make([]float64, n)
		for i := 0; i < n; i++ {
			xs[i] = readFloat64(b[4+8*i:4+8*i+8], swapped)
		}
		return NDoublesValue(xs), need, nil
	case Histogram:
		need := 4 + 8*n
		if len(b) < need {
			return Value{}, 0, ErrShortStream
		}
		counts := make([]uint64, n)
		for i := 0; i < n; i++ {
			u := binary.BigEndian.Uint64(b[4+8*i : 4+8*i+8])
			if swapped {
				u = swap64(u)
			}
			counts[i] = u
		}
		return HistogramValue(counts), need, nil
	case ScaleFunction:
		need := 4 + 16*n
		if len(b) < need {
			return Value{}, 0, ErrShortStream
		}
		pts := make([]ScalePoint, n)
		for i := 0; i < n; i++ {
			off := 4 + 16*i
			pts[i] = ScalePoint{
				X: readFloat64(b[off:off+8], swapped),
				Y: readFloat64(b[off+8:off+16], swapped),
			}
		}
		return ScaleFunctionValue(pts), need, nil
	default:
		return Value{}, 0, fmt.Errorf("value: unknown type tag %d", uint8(t))
	}
}

func readFloat64(b []byte, swapped bool) float64 {
	u := binary.BigEndian.Uint64(b)
	if swapped {
		u = swap64(u)
	}
	return math.Float64frombits(u)
}

// ErrShortStream is returned when FromByteStream runs out of input.
var ErrShortStream = errors.New("value: short byte stream")

// ToByteStream is the inverse of FromByteStream: it serializes v using
// the same big-endian baseline, applying a byte-swap per field if
// swapped is true, so that ToByteStream followed by FromByteStream
// with the same swapped flag round-trips.
func ToByteStream(v Value, swapped bool) []byte {
	switch v.typ {
	case Int8, UInt8:
		return []byte{byte(v.i64)}
	case Int16, UInt16:
		u := uint16(v.i64)
		if swapped {
			u = swap16(u)
		}
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, u)
		return b
	case Int32, UInt32:
		u := uint32(v.i64)
		if swapped {
			u = swap32(u)
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, u)
		return b
	case Int64, UInt64:
		u := uint64(v.i64)
		if swapped {
			u = swap64(u)
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, u)
		return b
	case Double, MinDouble, MaxDouble:
		return writeFloat64(v.f64, swapped)
	case Complex:
		b := make([]byte, 0, 16)
		b = append(b, writeFloat64(v.re, swapped)...)
		b = append(b, writeFloat64(v.im, swapped)...)
		return b
	case TauAtomic:
		n := v.tau.N
		if swapped {
			n = swap32(n)
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, n)
		b = append(b, writeFloat64(v.tau.Min, swapped)...)
		b = append(b, writeFloat64(v.tau.Max, swapped)...)
		b = append(b, writeFloat64(v.tau.Sum, swapped)...)
		b = append(b, writeFloat64(v.tau.Sum2, swapped)...)
		return b
	case NDoubles:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(len(v.nd)))
		for _, x := range v.nd {
			b = append(b, writeFloat64(x, swapped)...)
		}
		return b
	case Histogram:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(len(v.hg)))
		for _, c := range v.hg {
			u := c
			if swapped {
				u = swap64(u)
			}
			cb := make([]byte, 8)
			binary.BigEndian.PutUint64(cb, u)
			b = append(b, cb...)
		}
		return b
	case ScaleFunction:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(len(v.sf)))
		for _, p := range v.sf {
			b = append(b, writeFloat64(p.X, swapped)...)
			b = append(b, writeFloat64(p.Y, swapped)...)
		}
		return b
	default:
		return nil
	}
}

func writeFloat64(f float64, swapped bool) []byte {
	u := math.Float64bits(f)
	if swapped {
		u = swap64(u)
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, u)
	return b
}
