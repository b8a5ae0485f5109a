package ir

import (
	"github.com/gomlx/exceptions"
)

// AccessOp is the direction of an access builder.
type AccessOp int

const (
	AccessLoad AccessOp = iota
	AccessStore
)

// AccessBuilder emits the memory instructions moving a per-thread view tile
// between global memory and a dense register buffer, one vector per SIMD
// group of lanes. The vector lanes run along vecVar, whose physical stride
// must be one element; out-of-range lanes are suppressed by the view's
// bounds-check masks.
type AccessBuilder struct {
	view      *View
	op        AccessOp
	regLayout Layout
	stmt      Stmt
	regSize   int
}

// NewAccessBuilder builds the access statements for view between memBuf and
// regBuf. vecVar is the iteration variable the vector lanes run along.
func NewAccessBuilder(ctx *Context, view *View, memBuf, regBuf *Var, op AccessOp, vecVar *Var) *AccessBuilder {
	simd := ctx.Exec().SIMD
	vi := view.VVarIndex(vecVar)
	vdims := view.VDims()
	for i := 0; i < view.NTDims(); i++ {
		if !ContainsVar(view.TIndex(i), vecVar) {
			continue
		}
		if b := view.TLayout().InnermostBlock(i); b.Extent > 1 && b.Stride != 1 {
			exceptions.Panicf("ir.NewAccessBuilder: vector axis %q has physical stride %d, want 1",
				vecVar.Name, b.Stride)
		}
	}
	a := &AccessBuilder{view: view, op: op}
	a.regLayout = regLayoutFor(view, vi)

	// One instruction moves whatever contiguous slice of the register
	// layout covers the vector width, and it must land entirely on the
	// vector axis.
	tile := a.regLayout.SplitIntoMaxTile(int64(simd))
	elems := int64(1)
	for _, d := range tile {
		elems *= d
	}
	if elems != int64(simd) || tile[vi] != int64(simd) {
		exceptions.Panicf("ir.NewAccessBuilder: vector extent %d of %q does not tile by simd %d",
			vdims[vi], vecVar.Name, simd)
	}

	elem := view.TLayout().T.Scalar()
	vecType := VectorType(elem.DType, simd)

	vals := make(map[*Var]Expr, len(vdims))
	a.regLayout.ForEachTile(tile, func(coord []int64) {
		for i, va := range view.VVars() {
			vals[va] = I(coord[i])
		}
		elemOff, mask := view.AccessVec(vals, vecVar, simd)
		memOff := Fold(Mul(elemOff, I(int64(elem.ElemSize()))))
		regOff := I(a.regLayout.ElemOffset(coord) * int64(elem.ElemSize()))
		var s Stmt
		if op == AccessLoad {
			s = NewStore(regBuf, regOff, NewMaskedLoad(vecType, memBuf, memOff, mask))
		} else {
			s = NewMaskedStore(memBuf, memOff, NewLoad(vecType, regBuf, regOff), mask)
		}
		a.stmt = Append(a.stmt, s)
	})

	a.regSize = roundUp(int(a.regLayout.Size())*elem.ElemSize(), ctx.Exec().GRFSize)
	return a
}

// Stmt returns the emitted access statements.
func (a *AccessBuilder) Stmt() Stmt { return a.stmt }

// RegLayout returns the dense register layout of the moved tile. Its
// coordinates are the view's iteration variables.
func (a *AccessBuilder) RegLayout() Layout { return a.regLayout }

// RegBufSize returns the register buffer size in bytes, rounded up to whole
// registers.
func (a *AccessBuilder) RegBufSize() int { return a.regSize }

// regLayoutFor lays the view tile out densely in registers with the vector
// axis innermost.
func regLayoutFor(view *View, vecAxis int) Layout {
	return RegLayout(view.TLayout().T.Scalar(), view.VDims(), vecAxis)
}

// RegLayout builds a dense register layout over the given extents with the
// vector axis innermost (unit stride) and the remaining axes row-major
// around it.
func RegLayout(t Type, dims []int64, vecAxis int) Layout {
	blocks := []Block{{Axis: vecAxis, Extent: dims[vecAxis], Stride: 1}}
	stride := dims[vecAxis]
	for axis := len(dims) - 1; axis >= 0; axis-- {
		if axis == vecAxis {
			continue
		}
		if dims[axis] != 1 {
			blocks = append(blocks, Block{Axis: axis, Extent: dims[axis], Stride: stride})
		}
		stride *= dims[axis]
	}
	return Layout{T: t, NDims: len(dims), Blocks: blocks}
}

// VecTile returns the per-instruction tile over dims: one point per axis,
// simd lanes along the vector axis.
func VecTile(dims []int64, vecAxis int, simd int64) []int64 {
	tile := make([]int64, len(dims))
	for i := range tile {
		tile[i] = 1
	}
	tile[vecAxis] = simd
	return tile
}

func roundUp(n, mult int) int {
	return (n + mult - 1) / mult * mult
}
