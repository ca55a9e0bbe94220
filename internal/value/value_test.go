package value

import (
	"math"
	"testing"
)

func TestByteSwapIsSelfInverse(t *testing.T) {
	cases := []Value{
		IntValue(Int16, -7),
		IntValue(UInt32, 123456),
		IntValue(Int64, -9007199254740993),
		DoubleValue(Double, 3.14159),
		ComplexValue(1.5, -2.5),
		TauAtomicValue(TauAtomicData{N: 4, Min: 1, Max: 9, Sum: 20, Sum2: 120}),
		NDoublesValue([]float64{1, 2, 3}),
		HistogramValue([]uint64{1, 2, 3, 4}),
		ScaleFunctionValue([]ScalePoint{{X: 1, Y: 2}, {X: 3, Y: 4}}),
	}

	for _, v := range cases {
		got := v.ByteSwap().ByteSwap()
		if !valuesEqual(t, v, got) {
			t.Errorf("swap(swap(%v)) = %v, want %v", v, got, v)
		}
	}
}

func valuesEqual(t *testing.T, a, b Value) bool {
	t.Helper()
	if a.Type() != b.Type() {
		return false
	}
	switch a.Type() {
	case NDoubles:
		if len(a.NDoubles()) != len(b.NDoubles()) {
			return false
		}
		for i := range a.NDoubles() {
			if a.NDoubles()[i] != b.NDoubles()[i] {
				return false
			}
		}
		return true
	case Histogram:
		if len(a.Histogram()) != len(b.Histogram()) {
			return false
		}
		for i := range a.Histogram() {
			if a.Histogram()[i] != b.Histogram()[i] {
				return false
			}
		}
		return true
	case ScaleFunction:
		if len(a.ScalePoints()) != len(b.ScalePoints()) {
			return false
		}
		for i := range a.ScalePoints() {
			if a.ScalePoints()[i] != b.ScalePoints()[i] {
				return false
			}
		}
		return true
	case TauAtomic:
		return a.Tau() == b.Tau()
	case Complex:
		are, aim := a.Complex128()
		bre, bim := b.Complex128()
		return are == bre && aim == bim
	case Double, MinDouble, MaxDouble:
		return a.Float64() == b.Float64()
	default:
		return a.Int64() == b.Int64()
	}
}

func TestTauAtomicAdd(t *testing.T) {
	a := TauAtomicValue(TauAtomicData{N: 2, Min: 1, Max: 5, Sum: 6, Sum2: 26})
	b := TauAtomicValue(TauAtomicData{N: 3, Min: 0, Max: 9, Sum: 14, Sum2: 90})

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	tau := sum.Tau()
	if tau.N != 5 {
		t.Errorf("N = %d, want 5", tau.N)
	}
	if tau.Min != 0 {
		t.Errorf("Min = %v, want 0", tau.Min)
	}
	if tau.Max != 9 {
		t.Errorf("Max = %v, want 9", tau.Max)
	}
	if tau.Sum != 20 {
		t.Errorf("Sum = %v, want 20", tau.Sum)
	}
	if tau.Sum2 != 116 {
		t.Errorf("Sum2 = %v, want 116", tau.Sum2)
	}
}

func TestAddShapeMismatch(t *testing.T) {
	a := IntValue(Int32, 1)
	b := DoubleValue(Double, 1)
	if _, err := a.Add(b); err == nil {
		t.Fatal("expected ErrShapeMismatch")
	}
}

func TestAddArityMismatch(t *testing.T) {
	a := NDoublesValue([]float64{1, 2})
	b := NDoublesValue([]float64{1, 2, 3})
	if _, err := a.Add(b); err == nil {
		t.Fatal("expected ErrShapeMismatch for differing arity")
	}
}

func TestSizeTable(t *testing.T) {
	cases := []struct {
		v    Value
		want int
	}{
		{IntValue(Int8, 0), 1},
		{IntValue(UInt16, 0), 2},
		{IntValue(Int32, 0), 4},
		{IntValue(UInt64, 0), 8},
		{DoubleValue(Double, 0), 8},
		{ComplexValue(0, 0), 16},
		{TauAtomicValue(TauAtomicData{}), 36},
		{NDoublesValue([]float64{1, 2, 3}), 4 + 24},
		{HistogramValue([]uint64{1, 2}), 4 + 16},
		{ScaleFunctionValue([]ScalePoint{{1, 2}}), 4 + 16},
	}
	for _, c := range cases {
		if got := c.v.Size(); got != c.want {
			t.Errorf("%s.Size() = %d, want %d", c.v.Type(), got, c.want)
		}
	}
}

func TestFromByteStreamRoundTrip(t *testing.T) {
	orig := DoubleValue(Double, 2.71828)
	var buf [8]byte
	bits := math.Float64bits(orig.Float64())
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(bits >> (8 * i))
	}
	got, n, err := FromByteStream(Double, 0, buf[:], false)
	if err != nil {
		t.Fatalf("FromByteStream: %v", err)
	}
	if n != 8 {
		t.Fatalf("consumed %d bytes, want 8", n)
	}
	if got.Float64() != orig.Float64() {
		t.Errorf("got %v, want %v", got.Float64(), orig.Float64())
	}
}

func TestToByteStreamRoundTrip(t *testing.T) {
	cases := []struct {
		v Value
		n int
	}{
		{IntValue(Int32, -123), 0},
		{IntValue(UInt64, 123456789), 0},
		{DoubleValue(Double, 3.14159), 0},
		{ComplexValue(1.5, -2.5), 0},
		{TauAtomicValue(TauAtomicData{N: 4, Min: 1, Max: 9, Sum: 20, Sum2: 120}), 0},
		{NDoublesValue([]float64{1, 2, 3}), 3},
		{HistogramValue([]uint64{1, 2, 3, 4}), 4},
	}
	for _, swapped := range []bool{false, true} {
		for _, c := range cases {
			b := ToByteStream(c.v, swapped)
			got, n, err := FromByteStream(c.v.Type(), c.n, b, swapped)
			if err != nil {
				t.Fatalf("FromByteStream(%v, swapped=%v): %v", c.v.Type(), swapped, err)
			}
			if n != len(b) {
				t.Errorf("consumed %d bytes, want %d (type %v)", n, len(b), c.v.Type())
			}
			if !valuesEqual(t, got, c.v) {
				t.Errorf("round trip (swapped=%v) got %+v, want %+v", swapped, got, c.v)
			}
		}
	}
}

func TestNeutralElementIdentity(t *testing.T) {
	zero := FromType(Double).NeutralElement("sum")
	v := DoubleValue(Double, 42)
	sum, err := v.Add(zero)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Float64() != 42 {
		t.Errorf("v + neutral = %v, want 42", sum.Float64())
	}
}
