package chunk

import (
	"fmt"
	"math"
)

type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindString
	KindFloat
	KindInt
)

// Value is a metadata variant: none, string, float64 or int64.
type Value struct {
	kind ValueKind
	s    string
	f    float64
	i    int64
}

func NoneValue() Value           { return Value{} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func IntValue(i int64) Value     { return Value{kind: KindInt, i: i} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNone() bool    { return v.kind == KindNone }

func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) Float() (float64, bool) {
	return v.f, v.kind == KindFloat
}

func (v Value) Int() (int64, bool) {
	return v.i, v.kind == KindInt
}

// Equal compares floats bitwise so NaN round-trips compare equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindFloat:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindInt:
		return v.i == o.i
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	default:
		return "none"
	}
}
