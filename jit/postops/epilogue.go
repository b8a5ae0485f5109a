package postops

import (
	"github.com/gomlx/exceptions"

	"github.com/crazydemo/oneDNN/jit/ir"
)

// EltwiseAlg selects the activation applied by an eltwise post-op.
type EltwiseAlg int

const (
	EltwiseReLU EltwiseAlg = iota
	EltwiseLinear
)

// Eltwise is a lane-wise activation: relu, or alpha*x+beta.
type Eltwise struct {
	Alg         EltwiseAlg
	Alpha, Beta float64
}

// BinaryAlg selects the combine of a binary post-op.
type BinaryAlg int

const (
	BinaryAdd BinaryAlg = iota
	BinaryMul
	BinaryMin
	BinaryMax
)

// Binary combines the accumulator with an auxiliary tensor, broadcast along
// its extent-1 axes. ArgIndex selects the kernel argument holding the
// operand; bias is expressed as BinaryAdd of a per-channel operand.
type Binary struct {
	Alg      BinaryAlg
	Operand  ir.TensorDesc
	ArgIndex int
}

// PostOp is one stage of the fused epilogue; exactly one field is set.
type PostOp struct {
	Eltwise *Eltwise
	Binary  *Binary
}

// Context carries the epilogue configuration of one build attempt: the
// post-op sequence, the view mapper, the kernel-argument buffers binary
// operands load from, and the output scale applied before the destination
// cast.
type Context struct {
	ops      []PostOp
	mapper   ViewMapper
	args     map[int]*ir.Var
	outScale float64
}

// NewContext creates an epilogue context. args maps Binary.ArgIndex to the
// kernel-argument buffer variables. The output scale defaults to 1.
func NewContext(mapper ViewMapper, ops []PostOp, args map[int]*ir.Var) *Context {
	if mapper == nil {
		exceptions.Panicf("postops: nil view mapper")
	}
	return &Context{ops: ops, mapper: mapper, args: args, outScale: 1}
}

// Mapper returns the view mapper.
func (c *Context) Mapper() ViewMapper { return c.mapper }

// SetOutputScale sets the multiplier applied to the accumulator after the
// post-op sequence, before the cast to the destination type.
func (c *Context) SetOutputScale(s float64) {
	if s == 0 {
		exceptions.Panicf("postops: zero output scale")
	}
	c.outScale = s
}

func (c *Context) argVar(idx int) *ir.Var {
	v, ok := c.args[idx]
	if !ok {
		exceptions.Panicf("postops: no kernel argument bound for post-op operand %d", idx)
	}
	return v
}

// CreateEpilogueStmt emits the epilogue over one per-thread destination
// tile: for every vector of the accumulator it applies the post-op
// sequence, converts to the destination type and stores through the
// destination view's bounds masks.
//
// dstView maps absolute output coordinates; absStart gives the absolute
// coordinate expression of each iteration variable at the tile origin, and
// accLayout places the tile in the accumulator buffer (vecAxis innermost).
// When the mapper demands zero-padding restoration, stores to axes with
// bounds masks write zeros to the out-of-range lanes instead of skipping
// them: a windowed reduction may have smeared accumulator identities into
// physical padding, and padding must read back as zero.
func CreateEpilogueStmt(irCtx *ir.Context, po *Context, dstView *ir.View,
	absStart []ir.Expr, vecAxis int, dstBuf, accBuf *ir.Var, accLayout ir.Layout) ir.Stmt {

	simd := irCtx.Exec().SIMD
	accType := ir.VectorType(accLayout.T.DType, simd)
	dstElem := dstView.TLayout().T.Scalar()
	dstType := ir.VectorType(dstElem.DType, simd)
	vvars := dstView.VVars()

	var stmt ir.Stmt
	vals := make(map[*ir.Var]ir.Expr, len(vvars))
	accLayout.ForEachTile(ir.VecTile(accLayout.Dims(), vecAxis, int64(simd)), func(coord []int64) {
		for i, va := range vvars {
			vals[va] = ir.Fold(ir.Add(absStart[i], ir.I(coord[i])))
		}
		accOff := ir.I(accLayout.ElemOffset(coord) * int64(accLayout.T.ElemSize()))
		v := ir.Expr(ir.NewLoad(accType, accBuf, accOff))

		for _, op := range po.ops {
			switch {
			case op.Eltwise != nil:
				v = applyEltwise(v, op.Eltwise, accType, simd)
			case op.Binary != nil:
				v = applyBinary(v, op.Binary, po, vals, accType, simd)
			default:
				exceptions.Panicf("postops: empty post-op")
			}
		}

		if po.outScale != 1 {
			scale := ir.NewCast(accType, ir.NewBroadcast(ir.F(po.outScale), simd))
			v = ir.Mul(v, scale)
		}

		out := ir.NewCast(dstType, v)
		dstOff, mask := dstView.AccessVec(vals, vvars[vecAxis], simd)
		dstOff = ir.Fold(ir.Mul(dstOff, ir.I(int64(dstElem.ElemSize()))))
		if mask != nil && po.mapper.NeedToRestoreZeroPadding() {
			out = ir.NewSelect(vecCond(mask, simd), out, zeroVec(dstType, simd))
			stmt = ir.Append(stmt, ir.NewStore(dstBuf, dstOff, out))
			return
		}
		var vecMask ir.Expr
		if mask != nil {
			vecMask = vecCond(mask, simd)
		}
		stmt = ir.Append(stmt, ir.NewMaskedStore(dstBuf, dstOff, out, vecMask))
	})
	return stmt
}

func applyEltwise(v ir.Expr, e *Eltwise, accType ir.Type, simd int) ir.Expr {
	switch e.Alg {
	case EltwiseReLU:
		return ir.Max(v, zeroVec(accType, simd))
	case EltwiseLinear:
		alpha := ir.NewCast(accType, ir.NewBroadcast(ir.F(e.Alpha), simd))
		beta := ir.NewCast(accType, ir.NewBroadcast(ir.F(e.Beta), simd))
		return ir.Add(ir.Mul(v, alpha), beta)
	}
	exceptions.Panicf("postops: unknown eltwise alg %d", e.Alg)
	return nil
}

func applyBinary(v ir.Expr, b *Binary, po *Context, vals map[*ir.Var]ir.Expr,
	accType ir.Type, simd int) ir.Expr {

	view := po.mapper.CreateViewForDesc(b.Operand)
	buf := po.argVar(b.ArgIndex)
	elem := view.TLayout().T.Scalar()

	var operand ir.Expr
	if view.VDims()[1] == 1 {
		// Operand broadcasts along the vector (channel) axis: one
		// scalar feeds all lanes.
		off, mask := view.Access(vals)
		off = ir.Fold(ir.Mul(off, ir.I(int64(elem.ElemSize()))))
		operand = ir.NewBroadcast(ir.NewMaskedLoad(elem, buf, off, mask), simd)
	} else {
		off, mask := view.AccessVec(vals, view.VVars()[1], simd)
		off = ir.Fold(ir.Mul(off, ir.I(int64(elem.ElemSize()))))
		var vecMask ir.Expr
		if mask != nil {
			vecMask = vecCond(mask, simd)
		}
		operand = ir.NewMaskedLoad(ir.VectorType(elem.DType, simd), buf, off, vecMask)
	}
	operand = ir.NewCast(accType, operand)

	switch b.Alg {
	case BinaryAdd:
		return ir.Add(v, operand)
	case BinaryMul:
		return ir.Mul(v, operand)
	case BinaryMin:
		return ir.Min(v, operand)
	case BinaryMax:
		return ir.Max(v, operand)
	}
	exceptions.Panicf("postops: unknown binary alg %d", b.Alg)
	return nil
}

// vecCond widens a bounds mask to the vector width. Masks with a per-lane
// term are already vector-typed and pass through unchanged.
func vecCond(mask ir.Expr, simd int) ir.Expr {
	if mask.Type().Lanes == 1 {
		return ir.NewBroadcast(mask, simd)
	}
	return mask
}

func zeroVec(t ir.Type, simd int) ir.Expr {
	var zero ir.Expr
	if t.IsFloat() {
		zero = ir.NewFloatImm(0, t.Scalar())
	} else {
		zero = ir.NewIntImm(0, t.Scalar())
	}
	return ir.NewBroadcast(zero, simd)
}
