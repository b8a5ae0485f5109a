package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
)

// Block is one blocking level of a layout: Extent consecutive values of axis
// Axis, placed Stride elements apart.
type Block struct {
	Axis   int
	Extent int64
	Stride int64
}

// Layout describes how a tensor of some rank is placed in memory: an element
// type, a base offset (in elements) and a list of blocks ordered
// innermost-first (ascending stride). An axis may appear in several blocks
// (e.g. the channel axis of a NChw16c layout); an axis without blocks has
// extent 1.
type Layout struct {
	T      Type
	NDims  int
	Offset int64
	Blocks []Block
}

// NewLayout builds a layout from explicit blocks, which must be ordered
// innermost-first.
func NewLayout(t Type, ndims int, offset int64, blocks []Block) Layout {
	for _, b := range blocks {
		if b.Axis < 0 || b.Axis >= ndims {
			exceptions.Panicf("ir.NewLayout: block axis %d out of range for rank %d", b.Axis, ndims)
		}
		if b.Extent <= 0 {
			exceptions.Panicf("ir.NewLayout: block extent must be positive, got %d", b.Extent)
		}
	}
	return Layout{T: t, NDims: ndims, Offset: offset, Blocks: blocks}
}

// DenseLayout builds a row-major layout over the given dimensions.
func DenseLayout(t Type, dims ...int64) Layout {
	blocks := make([]Block, 0, len(dims))
	stride := int64(1)
	for axis := len(dims) - 1; axis >= 0; axis-- {
		if dims[axis] != 1 {
			blocks = append(blocks, Block{Axis: axis, Extent: dims[axis], Stride: stride})
		}
		stride *= dims[axis]
	}
	return Layout{T: t, NDims: len(dims), Blocks: blocks}
}

// Dim returns the total extent of one axis (the product of its blocks).
func (l Layout) Dim(axis int) int64 {
	dim := int64(1)
	for _, b := range l.Blocks {
		if b.Axis == axis {
			dim *= b.Extent
		}
	}
	return dim
}

// Dims returns the extents of all axes.
func (l Layout) Dims() []int64 {
	dims := make([]int64, l.NDims)
	for i := range dims {
		dims[i] = l.Dim(i)
	}
	return dims
}

// Size returns the number of addressable elements.
func (l Layout) Size() int64 {
	size := int64(1)
	for _, b := range l.Blocks {
		size *= b.Extent
	}
	return size
}

// Retype returns the layout with the element type replaced.
func (l Layout) Retype(t Type) Layout {
	l.T = t
	return l
}

// InnermostBlock returns the first block of the given axis (the one with the
// smallest stride), or a unit block if the axis is not blocked.
func (l Layout) InnermostBlock(axis int) Block {
	for _, b := range l.Blocks {
		if b.Axis == axis {
			return b
		}
	}
	return Block{Axis: axis, Extent: 1, Stride: 0}
}

// axisBlocks returns the blocks of one axis, innermost first.
func (l Layout) axisBlocks(axis int) []Block {
	var out []Block
	for _, b := range l.Blocks {
		if b.Axis == axis {
			out = append(out, b)
		}
	}
	return out
}

// ElemOffset returns the element offset of an integer coordinate.
func (l Layout) ElemOffset(coord []int64) int64 {
	if len(coord) != l.NDims {
		exceptions.Panicf("ir.Layout.ElemOffset: coordinate rank %d != layout rank %d", len(coord), l.NDims)
	}
	off := l.Offset
	for axis, i := range coord {
		inner := int64(1)
		for _, b := range l.axisBlocks(axis) {
			off += ((i / inner) % b.Extent) * b.Stride
			inner *= b.Extent
		}
	}
	return off
}

// OffsetExpr returns the element offset of a symbolic coordinate as an
// expression. The outermost block of every axis is unbounded (no modulus),
// so indices past the padded extent address past the buffer, which is what
// the bounds-check masks exist to guard.
func (l Layout) OffsetExpr(coord []Expr) Expr {
	if len(coord) != l.NDims {
		exceptions.Panicf("ir.Layout.OffsetExpr: coordinate rank %d != layout rank %d", len(coord), l.NDims)
	}
	off := Expr(I(l.Offset))
	for axis, idx := range coord {
		blocks := l.axisBlocks(axis)
		inner := int64(1)
		for bi, b := range blocks {
			component := idx
			if inner > 1 {
				component = Div(component, I(inner))
			}
			if bi < len(blocks)-1 {
				component = Mod(component, I(b.Extent))
			}
			off = Add(off, Mul(component, I(b.Stride)))
			inner *= b.Extent
		}
	}
	return Fold(off)
}

// SplitIntoMaxTile returns per-axis tile extents covering at most maxElems
// contiguous-in-layout elements, greedily absorbing whole blocks from the
// innermost out.
func (l Layout) SplitIntoMaxTile(maxElems int64) []int64 {
	dims := make([]int64, l.NDims)
	for i := range dims {
		dims[i] = 1
	}
	capacity := maxElems
	for _, b := range l.Blocks {
		if capacity <= 1 {
			break
		}
		if b.Extent <= capacity {
			dims[b.Axis] *= b.Extent
			capacity /= b.Extent
			continue
		}
		if b.Extent%capacity == 0 {
			dims[b.Axis] *= capacity
		}
		capacity = 1
	}
	return dims
}

// ForEachTile calls fn with the start coordinate of every tile of the given
// extents, last axis fastest.
func (l Layout) ForEachTile(tileDims []int64, fn func(start []int64)) {
	if len(tileDims) != l.NDims {
		exceptions.Panicf("ir.Layout.ForEachTile: tile rank %d != layout rank %d", len(tileDims), l.NDims)
	}
	dims := l.Dims()
	start := make([]int64, l.NDims)
	for {
		coord := make([]int64, l.NDims)
		copy(coord, start)
		fn(coord)
		axis := l.NDims - 1
		for axis >= 0 {
			start[axis] += tileDims[axis]
			if start[axis] < dims[axis] {
				break
			}
			start[axis] = 0
			axis--
		}
		if axis < 0 {
			return
		}
	}
}

func (l Layout) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:%dd[", l.T, l.NDims)
	for i, b := range l.Blocks {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d:%dx%d", b.Axis, b.Extent, b.Stride)
	}
	sb.WriteByte(']')
	return sb.String()
}

// CanonicalRank is the fixed rank every view is normalized to before
// scheduling: batch, channel and three spatial axes.
const CanonicalRank = 5

// ReshapeRank pads dims with trailing broadcast (extent 1) axes up to ndims.
// Tensors participating in the epilogue may have fewer dims than the
// operation (e.g. a per-channel bias); the missing trailing axes broadcast.
func ReshapeRank(dims []int64, ndims int) []int64 {
	for len(dims) < ndims {
		dims = append(dims, 1)
	}
	return dims
}

// DimsTo3D canonicalizes a dim vector of rank >= 2 to CanonicalRank: the
// first two axes (batch, channel) are kept, a spatial rank below three pads
// leading broadcast axes, and a spatial rank above three merges the trailing
// extras into the canonical innermost spatial axis (extent product). The
// same reduction applies to raw and padded extents so they stay comparable.
func DimsTo3D(dims []int64) []int64 {
	if len(dims) < 2 {
		exceptions.Panicf("ir.DimsTo3D: rank %d < 2", len(dims))
	}
	sp := dims[2:]
	out := []int64{dims[0], dims[1], 1, 1, 1}
	switch {
	case len(sp) <= 3:
		copy(out[2+3-len(sp):], sp)
	default:
		out[2] = sp[0]
		out[3] = sp[1]
		for _, d := range sp[2:] {
			out[4] *= d
		}
	}
	return out
}

// SpatialsTo3D canonicalizes a layout the same way DimsTo3D canonicalizes a
// dim vector, remapping block axes. Merged spatial axes must be plainly
// strided (a single block each) so their flattened index decomposes through
// the block list.
func SpatialsTo3D(l Layout) Layout {
	if l.NDims < 2 {
		exceptions.Panicf("ir.SpatialsTo3D: rank %d < 2", l.NDims)
	}
	nsp := l.NDims - 2
	axisMap := make([]int, l.NDims)
	axisMap[0], axisMap[1] = 0, 1
	for j := 0; j < nsp; j++ {
		switch {
		case nsp <= 3:
			axisMap[2+j] = 2 + (3 - nsp) + j
		case j < 2:
			axisMap[2+j] = 2 + j
		default:
			axisMap[2+j] = 4
			if len(l.axisBlocks(2+j)) > 1 {
				exceptions.Panicf("ir.SpatialsTo3D: cannot merge blocked spatial axis %d", 2+j)
			}
		}
	}
	blocks := make([]Block, len(l.Blocks))
	for i, b := range l.Blocks {
		b.Axis = axisMap[b.Axis]
		blocks[i] = b
	}
	return Layout{T: l.T, NDims: CanonicalRank, Offset: l.Offset, Blocks: blocks}
}

// maskSentinel tags dummy extents when re-deriving a caller bitmask through
// the canonicalization reduction.
const maskSentinel = 2

// NormalizeMask re-derives a per-axis bitmask expressed in pre-canonical
// axis numbering (rank origNDims) into canonical numbering: each masked axis
// is tagged with a sentinel extent, the dummy extents run through the same
// reduction as real dims, and the canonical axes that retain the sentinel
// (merged groups multiply extents, so divisibility is the survival test)
// make up the new mask.
func NormalizeMask(mask uint32, origNDims int) uint32 {
	dummy := make([]int64, origNDims)
	for i := range dummy {
		dummy[i] = 1
		if mask&(1<<i) != 0 {
			dummy[i] = maskSentinel
		}
	}
	cvt := DimsTo3D(dummy)
	var out uint32
	for i, d := range cvt {
		if d%maskSentinel == 0 {
			out |= 1 << i
		}
	}
	return out
}
