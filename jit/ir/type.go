// Package ir defines the typed instruction tree the JIT kernel generator
// emits, together with the layout/view model that maps iteration-space
// coordinates to physical memory offsets with bounds checks.
//
// Everything here is build-time data: expressions and statements are
// immutable values, rewriting happens through pure functions (see mutate.go),
// and a kernel body is assembled bottom-up and discarded wholesale if the
// build attempt turns out infeasible.
package ir

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

// Type is an element datatype plus a vector lane count.
// Lanes == 1 means scalar. The zero value is invalid.
type Type struct {
	DType dtypes.DType
	Lanes int
}

// ScalarType returns the scalar Type for the given element datatype.
func ScalarType(dt dtypes.DType) Type {
	return Type{DType: dt, Lanes: 1}
}

// VectorType returns a Type with the given number of lanes.
func VectorType(dt dtypes.DType, lanes int) Type {
	if lanes < 1 {
		exceptions.Panicf("ir.VectorType: lanes must be >= 1, got %d", lanes)
	}
	return Type{DType: dt, Lanes: lanes}
}

// BytePtr is the type of buffer variables; offsets into them are in bytes.
func BytePtr() Type {
	return Type{DType: dtypes.Uint8, Lanes: 0}
}

// IsPtr reports whether t is a buffer (pointer) type.
func (t Type) IsPtr() bool { return t.Lanes == 0 }

// Ok reports whether t is a valid (non-zero) type.
func (t Type) Ok() bool { return t.DType != dtypes.InvalidDType }

// Scalar returns the scalar version of t.
func (t Type) Scalar() Type { return Type{DType: t.DType, Lanes: 1} }

// WithLanes returns t with the lane count replaced.
func (t Type) WithLanes(lanes int) Type { return VectorType(t.DType, lanes) }

// ElemSize returns the size in bytes of one element.
func (t Type) ElemSize() int { return t.DType.Size() }

// Size returns the total size in bytes (element size times lanes).
func (t Type) Size() int { return t.DType.Size() * t.Lanes }

// IsFloat reports whether the element kind is a floating-point type.
func (t Type) IsFloat() bool { return t.DType.IsFloat() }

// IsInt reports whether the element kind is an integer type.
func (t Type) IsInt() bool { return t.DType.IsInt() }

// IsSigned reports whether the element kind is a signed integer type.
func (t Type) IsSigned() bool { return t.IsInt() && !t.DType.IsUnsigned() }

// ReduceKind selects the reduction a windowed accumulator performs.
type ReduceKind int

const (
	ReduceMax ReduceKind = iota
	ReduceSum
)

// AccType returns the accumulator type that carries a windowed reduction of
// readType without overflow: max keeps the source kind, averaging (sum)
// widens floats to f32, and any integer source widens to signed s32.
func AccType(readType Type, kind ReduceKind) Type {
	if !readType.IsInt() {
		if kind == ReduceMax {
			return readType
		}
		return VectorType(dtypes.Float32, readType.Lanes)
	}
	return VectorType(dtypes.Int32, readType.Lanes)
}

// ReduceIdentity returns the scalar identity value of the reduction over a
// floating-point accumulator: negative infinity for max, zero for sum.
// Float16 accumulators use the f16 negative infinity (the value round-trips
// through float16 so the bit pattern the kernel materializes is exact).
func ReduceIdentity(t Type, kind ReduceKind) float64 {
	if t.IsInt() {
		exceptions.Panicf("ir.ReduceIdentity: integer accumulators use PackedReduceIdentity")
	}
	if kind != ReduceMax {
		return 0
	}
	if t.DType == dtypes.Float16 {
		return float64(float16.Inf(-1).Float32())
	}
	return math.Inf(-1)
}

// PackedReduceIdentity returns the 32-bit fill pattern holding the reduction
// identity for integer sources, replicated across the sub-register elements
// that share one 32-bit slot. elemSize is the source element size in bytes.
// Max over signed elements packs the most-negative value per element; max
// over unsigned elements and sum both fill with zero.
func PackedReduceIdentity(t Type, kind ReduceKind, elemSize int) uint32 {
	if !t.IsInt() {
		exceptions.Panicf("ir.PackedReduceIdentity: float accumulators use ReduceIdentity")
	}
	if kind != ReduceMax || !t.IsSigned() {
		return 0x00000000
	}
	switch 4 / elemSize {
	case 1:
		return 0x80000000
	case 2:
		return 0x80008000
	case 4:
		return 0x80808080
	}
	exceptions.Panicf("ir.PackedReduceIdentity: unsupported element size %d", elemSize)
	return 0
}
