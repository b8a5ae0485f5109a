package postops

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/crazydemo/oneDNN/jit/ir"
)

func testExec() ir.ExecConfig {
	return ir.ExecConfig{SIMD: 16, Regs: 128, GRFSize: 32}
}

func canonicalVars() []*ir.Var {
	names := []string{"mb", "oc", "od", "oh", "ow"}
	vars := make([]*ir.Var, len(names))
	for i, n := range names {
		vars[i] = ir.NewVar(n, ir.ScalarType(dtypes.Int32))
	}
	return vars
}

// cpView builds a computation view with the channel axis at unit stride.
func cpView(dims []int64, boundsCheckMask uint32) *ir.View {
	f32 := ir.ScalarType(dtypes.Float32)
	blocks := []ir.Block{{Axis: 1, Extent: dims[1], Stride: 1}}
	stride := dims[1]
	for axis := len(dims) - 1; axis >= 0; axis-- {
		if axis == 1 {
			continue
		}
		if dims[axis] > 1 {
			blocks = append(blocks, ir.Block{Axis: axis, Extent: dims[axis], Stride: stride})
		}
		stride *= dims[axis]
	}
	l := ir.Layout{T: f32, NDims: len(dims), Blocks: blocks}
	return ir.NewIdentityView(l, canonicalVars(), dims, boundsCheckMask)
}

func TestCreateViewForMask(t *testing.T) {
	m := NewBaseViewMapper(cpView([]int64{2, 16, 1, 7, 9}, 0))
	f32 := ir.ScalarType(dtypes.Float32)

	// A channel-only mask broadcasts every other axis.
	v := m.CreateViewForMask(f32, 1<<1)
	require.Equal(t, []int64{1, 16, 1, 1, 1}, v.VDims())
	for i := 0; i < v.NTDims(); i++ {
		require.False(t, v.HasTMask(i))
	}
}

func TestViewForCanonicalBoundsMask(t *testing.T) {
	cp := cpView([]int64{2, 16, 1, 7, 9}, 0)
	m := NewBaseViewMapper(cp)
	f32 := ir.ScalarType(dtypes.Float32)

	// Operand padded differently from the computation tensor on the
	// trailing axis gets a bounds check there; broadcast axes never do.
	dims := []int64{2, 16, 1, 7, 8}
	pad := []int64{2, 16, 1, 7, 8}
	v := m.ViewForCanonical(ir.DenseLayout(f32, dims...), dims, pad)
	require.False(t, v.HasTMask(0))
	require.False(t, v.HasTMask(2)) // broadcast
	require.True(t, v.HasTMask(4))
}

func TestEpilogueZeroPaddingRestore(t *testing.T) {
	ctx := ir.NewContext(testExec())
	dims := []int64{1, 16, 1, 1, 2}

	run := func(boundsCheckMask uint32, restore bool) []*ir.Store {
		view := cpView(dims, boundsCheckMask)
		var mapper ViewMapper = NewBaseViewMapper(view)
		if restore {
			mapper = restoringMapper{BaseViewMapper: NewBaseViewMapper(view)}
		}
		po := NewContext(mapper, nil, nil)
		dst := ir.NewVar("dst", ir.BytePtr())
		acc := ir.NewVar("acc", ir.BytePtr())
		accLayout := ir.RegLayout(ir.ScalarType(dtypes.Float32), dims, 1)
		start := make([]ir.Expr, len(dims))
		for i := range start {
			start[i] = ir.I(0)
		}
		stmt := CreateEpilogueStmt(ctx, po, view, start, 1, dst, acc, accLayout)
		var stores []*ir.Store
		ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
			if st, ok := s.(*ir.Store); ok && st.Buf == dst {
				stores = append(stores, st)
			}
			return s
		})
		return stores
	}

	// Without restoration, bounds-checked stores are masked.
	stores := run(1<<4, false)
	require.Len(t, stores, 2)
	for _, st := range stores {
		require.NotNil(t, st.Mask)
	}

	// With restoration, out-of-range lanes are written as zeros through a
	// select: the store itself is unmasked.
	stores = run(1<<4, true)
	require.Len(t, stores, 2)
	for _, st := range stores {
		require.Nil(t, st.Mask)
		require.IsType(t, &ir.Select{}, st.Value)
	}

	// No masks at all keeps plain stores either way.
	for _, st := range run(0, true) {
		require.Nil(t, st.Mask)
		require.IsType(t, &ir.Load{}, st.Value)
	}
}

type restoringMapper struct {
	BaseViewMapper
}

func (restoringMapper) NeedToRestoreZeroPadding() bool { return true }

func TestEpilogueLaneMasks(t *testing.T) {
	ctx := ir.NewContext(testExec())
	f32 := ir.ScalarType(dtypes.Float32)
	// 20 physical channels, iteration padded to two vectors of 16: the
	// second vector straddles the channel bound.
	phys := ir.Layout{T: f32, NDims: 5, Blocks: []ir.Block{{Axis: 1, Extent: 20, Stride: 1}}}
	dims := []int64{1, 32, 1, 1, 1}
	view := ir.NewIdentityView(phys, canonicalVars(), dims, 1<<1)

	po := NewContext(NewBaseViewMapper(view), nil, nil)
	dst := ir.NewVar("dst", ir.BytePtr())
	acc := ir.NewVar("acc", ir.BytePtr())
	accLayout := ir.RegLayout(f32, dims, 1)
	start := []ir.Expr{ir.I(0), ir.I(0), ir.I(0), ir.I(0), ir.I(0)}

	stmt := CreateEpilogueStmt(ctx, po, view, start, 1, dst, acc, accLayout)
	var stores []*ir.Store
	ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		if st, ok := s.(*ir.Store); ok && st.Buf == dst {
			stores = append(stores, st)
		}
		return s
	})
	require.Len(t, stores, 2)
	for _, st := range stores {
		require.NotNil(t, st.Mask)
		require.Equal(t, 16, st.Mask.Type().Lanes)
	}
	// Channels 16..31 are only partially in range; a uniform predicate
	// would write 12 lanes past the bound.
	require.False(t, ir.IsTrue(ir.Fold(stores[1].Mask)))
}

func TestEpilogueOutputScale(t *testing.T) {
	ctx := ir.NewContext(testExec())
	dims := []int64{1, 16, 1, 1, 1}
	view := cpView(dims, 0)

	po := NewContext(NewBaseViewMapper(view), nil, nil)
	po.SetOutputScale(0.5)
	dst := ir.NewVar("dst", ir.BytePtr())
	acc := ir.NewVar("acc", ir.BytePtr())
	accLayout := ir.RegLayout(ir.ScalarType(dtypes.Float32), dims, 1)
	start := []ir.Expr{ir.I(0), ir.I(0), ir.I(0), ir.I(0), ir.I(0)}

	stmt := CreateEpilogueStmt(ctx, po, view, start, 1, dst, acc, accLayout)
	st, ok := stmt.(*ir.Store)
	require.True(t, ok)

	// The accumulator is multiplied by the scale before the store.
	mul, ok := st.Value.(*ir.Binary)
	require.True(t, ok)
	require.Equal(t, ir.OpMul, mul.Op)
	found := false
	ir.VisitExprs(stmt, func(e ir.Expr) {
		if f, ok := e.(*ir.FloatImm); ok && f.Value == 0.5 {
			found = true
		}
	})
	require.True(t, found)

	require.Panics(t, func() { po.SetOutputScale(0) })
}

func TestEpilogueEltwiseAndBinary(t *testing.T) {
	ctx := ir.NewContext(testExec())
	dims := []int64{1, 16, 1, 1, 1}
	view := cpView(dims, 0)
	mapper := NewBaseViewMapper(view)

	bias := ir.NewVar("bias", ir.BytePtr())
	biasDesc := ir.DenseTensorDesc(dtypes.Float32, 1, 16, 1, 1, 1)
	ops := []PostOp{
		{Binary: &Binary{Alg: BinaryAdd, Operand: biasDesc, ArgIndex: 2}},
		{Eltwise: &Eltwise{Alg: EltwiseReLU}},
	}
	po := NewContext(mapper, ops, map[int]*ir.Var{2: bias})

	dst := ir.NewVar("dst", ir.BytePtr())
	acc := ir.NewVar("acc", ir.BytePtr())
	accLayout := ir.RegLayout(ir.ScalarType(dtypes.Float32), dims, 1)
	start := []ir.Expr{ir.I(0), ir.I(0), ir.I(0), ir.I(0), ir.I(0)}

	stmt := CreateEpilogueStmt(ctx, po, view, start, 1, dst, acc, accLayout)
	st, ok := stmt.(*ir.Store)
	require.True(t, ok)

	// The store value is dst-typed; a max against zero (relu) sits under
	// the final cast, and the bias load underneath reads the operand
	// buffer.
	foundBias := false
	ir.VisitExprs(stmt, func(e ir.Expr) {
		if ld, ok := e.(*ir.Load); ok && ld.Buf == bias {
			foundBias = true
		}
	})
	require.True(t, foundBias)
	require.Equal(t, dtypes.Float32, st.Value.Type().DType)
	require.Equal(t, 16, st.Value.Type().Lanes)
}
