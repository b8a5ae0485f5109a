package schedule

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/crazydemo/oneDNN/jit/ir"
)

func testExec() ir.ExecConfig {
	return ir.ExecConfig{SIMD: 16, Regs: 128, GRFSize: 32}
}

func newTestSchedule(t *testing.T, dims []int64) (*Schedule, []*ir.Var) {
	t.Helper()
	ctx := ir.NewContext(testExec())
	names := []string{"mb", "oc", "od", "oh", "ow"}
	vars := make([]*ir.Var, len(names))
	for i, n := range names {
		vars[i] = ir.NewVar(n, ir.ScalarType(dtypes.Int32))
	}
	v := ir.NewIdentityView(ir.DenseLayout(ir.ScalarType(dtypes.Float32), dims...), vars, dims, 0)
	s := New(ctx, [3]int{4, 2, 1}, [3]int{1, 2, 1})
	s.SetView(v)
	return s, vars
}

func TestSplitBounds(t *testing.T) {
	s, vars := newTestSchedule(t, []int64{8, 32, 1, 6, 10})
	outer, inner := s.Split(vars[4], 4, "ow_o", "ow_i")
	require.Equal(t, int64(3), s.VarBound(outer)) // ceil(10/4)
	require.Equal(t, int64(4), s.VarBound(inner))

	// A split variable is no longer a leaf.
	require.Panics(t, func() { s.Split(vars[4], 2, "a", "b") })
	// Out-of-range factors are configuration errors.
	require.Panics(t, func() { s.Split(vars[3], 7, "a", "b") })
	require.Panics(t, func() { s.Split(vars[3], 0, "a", "b") })
}

func TestFuseRowMajor(t *testing.T) {
	s, vars := newTestSchedule(t, []int64{8, 32, 1, 6, 10})
	f := s.Fuse(vars[1], vars[3])
	require.Equal(t, int64(32*6), s.VarBound(f))

	s.Bind(f, KernelGridAxis(0))
	s.Finalize()

	// The first fused part varies slowest.
	fv := f
	oc := s.Expand(vars[1])
	oh := s.Expand(vars[3])
	sub := func(e ir.Expr, v int64) int64 {
		n, ok := ir.AsInt(ir.Fold(ir.SubstituteVar(e, fv, ir.I(v))))
		require.True(t, ok)
		return n
	}
	require.Equal(t, int64(0), sub(oc, 5))
	require.Equal(t, int64(5), sub(oh, 5))
	require.Equal(t, int64(1), sub(oc, 6))
	require.Equal(t, int64(0), sub(oh, 6))
	require.Equal(t, int64(31), sub(oc, 32*6-1))
	require.Equal(t, int64(5), sub(oh, 32*6-1))
}

func TestExpandSplit(t *testing.T) {
	s, vars := newTestSchedule(t, []int64{8, 32, 1, 6, 10})
	outer, inner := s.Split(vars[0], 2, "mb_o", "mb_i")
	s.Finalize()

	e := s.Expand(vars[0])
	vals := map[*ir.Var]ir.Expr{outer: ir.I(3), inner: ir.I(1)}
	n, ok := ir.AsInt(ir.Fold(ir.Substitute(e, vals)))
	require.True(t, ok)
	require.Equal(t, int64(3*2+1), n)
}

func TestTensorizedLeavesExpandToZero(t *testing.T) {
	s, vars := newTestSchedule(t, []int64{8, 32, 1, 6, 10})
	outer, inner := s.Split(vars[1], 16, "oc_kg", "oc_lg")
	s.Tensorize(inner)
	s.Bind(outer, KernelGridAxis(0))
	s.Finalize()

	e := s.Expand(vars[1])
	n, ok := ir.AsInt(ir.Fold(ir.SubstituteVar(e, outer, ir.I(1))))
	require.True(t, ok)
	require.Equal(t, int64(16), n)
}

func TestBindRules(t *testing.T) {
	s, vars := newTestSchedule(t, []int64{8, 32, 1, 6, 10})
	s.Bind(vars[0], KernelGridAxis(1))
	// One variable per axis.
	require.Panics(t, func() { s.Bind(vars[1], KernelGridAxis(1)) })
	// A resolved variable cannot be re-bound.
	require.Panics(t, func() { s.Bind(vars[0], KernelGridAxis(2)) })
}

func TestFinalizeSerialLoops(t *testing.T) {
	s, vars := newTestSchedule(t, []int64{8, 32, 1, 6, 10})
	s.Finalize()
	require.Panics(t, func() { s.Split(vars[0], 2, "a", "b") })

	// Every unresolved leaf became a serial loop, creation order outermost
	// first.
	body := s.CreateLoopNest(ir.NewStore(ir.NewVar("b", ir.BytePtr()), ir.I(0), ir.I(0)))
	loop, ok := body.(*ir.For)
	require.True(t, ok)
	require.Same(t, vars[0], loop.V)
	require.Equal(t, int64(8), loop.Bound)
	inner, ok := loop.Body.(*ir.For)
	require.True(t, ok)
	require.Same(t, vars[1], inner.V)
}

func TestThreadViewTile(t *testing.T) {
	s, vars := newTestSchedule(t, []int64{8, 32, 1, 6, 10})
	kg, lg := s.Split(vars[1], 16, "oc_kg", "oc_lg")
	s.Tensorize(lg)
	s.Bind(kg, KernelGridAxis(0))
	s.Finalize()

	v := ir.NewIdentityView(
		ir.DenseLayout(ir.ScalarType(dtypes.Float32), 8, 32, 1, 6, 10), vars,
		[]int64{8, 32, 1, 6, 10}, 0)
	tile := s.ThreadViewTile(v)
	require.Equal(t, []int64{1, 16, 1, 1, 1}, tile.Dims)
}

func TestMaxLoopIndex(t *testing.T) {
	s, vars := newTestSchedule(t, []int64{8, 32, 1, 6, 10})
	s.Split(vars[4], 2, "ow_o", "ow_i")
	s.Finalize()

	require.Equal(t, int64(9), MaxLoopIndex(s, s.Expand(vars[4])))
	require.Equal(t, int64(7), MaxLoopIndex(s, s.Expand(vars[0])))
	require.Panics(t, func() {
		MaxLoopIndex(s, ir.NewVar("stranger", ir.ScalarType(dtypes.Int32)))
	})
}
