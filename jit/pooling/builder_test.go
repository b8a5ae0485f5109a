package pooling

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/crazydemo/oneDNN/jit/ir"
	"github.com/crazydemo/oneDNN/jit/schedule"
)

// nchwcDesc builds a 4-D descriptor with the channel axis at unit stride,
// the layout the vectorized channel access needs.
func nchwcDesc(dt dtypes.DType, mb, c, h, w int64) ir.TensorDesc {
	var blocks []ir.Block
	addBlock := func(axis int, extent, stride int64) {
		if extent > 1 {
			blocks = append(blocks, ir.Block{Axis: axis, Extent: extent, Stride: stride})
		}
	}
	addBlock(1, c, 1)
	addBlock(3, w, c)
	addBlock(2, h, c*w)
	addBlock(0, mb, c*w*h)
	return ir.TensorDesc{
		DType:      dt,
		Dims:       []int64{mb, c, h, w},
		PaddedDims: []int64{mb, c, h, w},
		Layout:     ir.NewLayout(ir.ScalarType(dt), 4, 0, blocks),
	}
}

// exactPoolConfig is a 4x4 -> 2x2 max pool with window 2 stride 2: no
// padding, no edge overhang, no grid-padded iterations.
func exactPoolConfig(t *testing.T, regs int) Config {
	t.Helper()
	conf := NewPoolConf(PoolConf{
		MB: 1, C: 16,
		ID: 1, IH: 4, IW: 4,
		OD: 1, OH: 2, OW: 2,
		KD: 1, KH: 2, KW: 2,
		StrideD: 1, StrideH: 2, StrideW: 2,
		Alg:      AlgMax,
		Spatials: 2,
	})
	exec := ir.ExecConfig{SIMD: 16, Regs: regs, GRFSize: 32}
	return DefaultConfig(conf, exec,
		nchwcDesc(dtypes.Float32, 1, 16, 4, 4),
		nchwcDesc(dtypes.Float32, 1, 16, 2, 2))
}

func collectIfs(body ir.Stmt) []*ir.If {
	var ifs []*ir.If
	ir.MutateStmt(body, nil, func(s ir.Stmt) ir.Stmt {
		if f, ok := s.(*ir.If); ok {
			ifs = append(ifs, f)
		}
		return s
	})
	return ifs
}

func TestSpatialPairToSchedule(t *testing.T) {
	conf := NewPoolConf(validConf())
	exec := ir.ExecConfig{SIMD: 16, Regs: 128, GRFSize: 32}
	cfg := DefaultConfig(conf, exec,
		ir.DenseTensorDesc(dtypes.Float32, 7, 32, 13, 13),
		ir.DenseTensorDesc(dtypes.Float32, 7, 32, 13, 13))

	names := []string{"mb", "oc", "od", "oh", "ow"}
	vars := make([]*ir.Var, len(names))
	for i, n := range names {
		vars[i] = ir.NewVar(n, ir.ScalarType(dtypes.Int32))
	}
	view := ir.NewView(vars, ir.CanonicalRank)
	for i, va := range vars {
		view.SetVDim(va, cfg.DimsPadded[i])
	}

	ctx := ir.NewContext(exec)
	sch := schedule.New(ctx, cfg.KernelGrid, cfg.ThreadGroupGrid)
	sch.SetView(view)
	spatialPairToSchedule(sch, view, &cfg, vars[1], vars[2], nil)
	spatialPairToSchedule(sch, view, &cfg, vars[3], vars[0], vars[4])
	sch.Finalize()

	// The per-thread tile is exactly the loop-grid footprint.
	tile := sch.ThreadViewTile(view)
	require.Equal(t, []int64{4, 16, 1, 1, 1}, tile.Dims)

	// Every expansion reaches exactly the last tile start of its padded
	// extent: the fused kernel-grid indices decompose consistently.
	wantMax := []int64{4, 16, 0, 15, 15}
	for i, va := range vars {
		require.Equal(t, wantMax[i], schedule.MaxLoopIndex(sch, sch.Expand(va)), "axis %s", names[i])
	}

	// All six hierarchy axes of this distribution end up bound.
	lets := 0
	ir.MutateStmt(sch.CreateBindStmt(nil), nil, func(s ir.Stmt) ir.Stmt {
		if _, ok := s.(*ir.Let); ok {
			lets++
		}
		return s
	})
	require.Equal(t, 6, lets)
}

func TestOverlapDim(t *testing.T) {
	// i=5, k=3, stride 1, padding 1: the window hangs over one element at
	// each edge.
	want := []int64{2, 3, 3, 3, 2}
	for pos, w := range want {
		v, ok := ir.AsInt(ir.Fold(overlapDim(ir.I(int64(pos)), 1, 1, 3, 5)))
		require.True(t, ok)
		require.Equal(t, w, v, "output position %d", pos)
	}

	// Degenerate window: always one element.
	v, ok := ir.AsInt(ir.Fold(overlapDim(ir.I(2), 1, 0, 1, 5)))
	require.True(t, ok)
	require.EqualValues(t, 1, v)
}

func TestTryBuildExactShapes(t *testing.T) {
	cfg := exactPoolConfig(t, 128)
	ki := NewKernelInfo()

	body, regs, ok := tryBuild(&cfg, ki, nil)
	require.True(t, ok)
	require.Greater(t, regs, 0)

	// Exact shapes need no guards: no batch padding, no tail exits, no
	// bounds checks.
	require.Empty(t, collectIfs(body))
}

func TestTryBuildBatchPaddingGuard(t *testing.T) {
	conf := NewPoolConf(PoolConf{
		MB: 5, C: 16,
		ID: 1, IH: 16, IW: 16,
		OD: 1, OH: 16, OW: 16,
		KD: 1, KH: 1, KW: 1,
		StrideD: 1, StrideH: 1, StrideW: 1,
		Alg:      AlgMax,
		Spatials: 2,
	})
	exec := ir.ExecConfig{SIMD: 16, Regs: 256, GRFSize: 32}
	cfg := DefaultConfig(conf, exec,
		nchwcDesc(dtypes.Float32, 5, 16, 16, 16),
		nchwcDesc(dtypes.Float32, 5, 16, 16, 16))
	require.Greater(t, cfg.DimsPadded[0], conf.MB)

	ki := NewKernelInfo()
	body, _, ok := tryBuild(&cfg, ki, nil)
	require.True(t, ok)

	// The padded batch iterations take the zero-store branch; the guard
	// is the only conditional in this kernel.
	ifs := collectIfs(body)
	require.Len(t, ifs, 1)
	require.NotNil(t, ifs[0].Then)
	require.NotNil(t, ifs[0].Else)
}

func TestTryBuildAvgDynamicFilter(t *testing.T) {
	conf := NewPoolConf(PoolConf{
		MB: 1, C: 16,
		ID: 1, IH: 16, IW: 16,
		OD: 1, OH: 16, OW: 16,
		KD: 1, KH: 3, KW: 3,
		StrideD: 1, StrideH: 1, StrideW: 1,
		PadT: 1, PadL: 1,
		Alg:      AlgAvgExcludePadding,
		Spatials: 2,
	})
	exec := ir.ExecConfig{SIMD: 16, Regs: 256, GRFSize: 32}
	cfg := DefaultConfig(conf, exec,
		nchwcDesc(dtypes.Float32, 1, 16, 16, 16),
		nchwcDesc(dtypes.Float32, 1, 16, 16, 16))

	ki := NewKernelInfo()
	body, _, ok := tryBuild(&cfg, ki, nil)
	require.True(t, ok)

	// Excluding padding with an overhanging window normalizes by the
	// clamped per-position overlap: a division fed by a min/max clamp.
	foundDiv, foundClamp := false, false
	ir.VisitExprs(body, func(e ir.Expr) {
		b, isBinary := e.(*ir.Binary)
		if !isBinary {
			return
		}
		switch b.Op {
		case ir.OpDiv:
			foundDiv = true
		case ir.OpMin, ir.OpMax:
			foundClamp = true
		}
	})
	require.True(t, foundDiv)
	require.True(t, foundClamp)
}

func TestTryBuildMaxIdentityPrefill(t *testing.T) {
	conf := NewPoolConf(PoolConf{
		MB: 1, C: 16,
		ID: 1, IH: 16, IW: 16,
		OD: 1, OH: 16, OW: 16,
		KD: 1, KH: 3, KW: 3,
		StrideD: 1, StrideH: 1, StrideW: 1,
		PadT: 1, PadL: 1,
		Alg:      AlgMax,
		Spatials: 2,
	})
	exec := ir.ExecConfig{SIMD: 16, Regs: 256, GRFSize: 32}
	cfg := DefaultConfig(conf, exec,
		nchwcDesc(dtypes.Float32, 1, 16, 16, 16),
		nchwcDesc(dtypes.Float32, 1, 16, 16, 16))
	require.True(t, needSrcOrDstCheck(true, conf.OH, conf.IH, conf.KH, conf.PadT, conf.StrideH, conf.DilH))

	ki := NewKernelInfo()
	body, _, ok := tryBuild(&cfg, ki, nil)
	require.True(t, ok)

	// A bounds-checked max kernel seeds both the accumulator and the read
	// scratch with -inf, so a load suppressed at the padding border
	// contributes the reduction identity instead of stale bytes.
	isNegInf := func(e ir.Expr) bool {
		found := false
		ir.MutateExpr(e, func(x ir.Expr) ir.Expr {
			if f, isImm := x.(*ir.FloatImm); isImm && math.IsInf(f.Value, -1) {
				found = true
			}
			return x
		})
		return found
	}
	idBufs := map[*ir.Var]bool{}
	idStores, firstID, firstMax := 0, -1, -1
	pos := 0
	ir.MutateStmt(body, nil, func(s ir.Stmt) ir.Stmt {
		st, isStore := s.(*ir.Store)
		if !isStore {
			return s
		}
		pos++
		if isNegInf(st.Value) {
			idStores++
			idBufs[st.Buf] = true
			if firstID < 0 {
				firstID = pos
			}
		}
		if b, isBinary := st.Value.(*ir.Binary); isBinary && b.Op == ir.OpMax {
			if firstMax < 0 {
				firstMax = pos
			}
		}
		return s
	})

	// Both the accumulator init and the read-scratch pre-fill store the
	// identity, and the fill lands before any reduction consumes it.
	require.GreaterOrEqual(t, idStores, 2)
	require.Len(t, idBufs, 2)
	require.Greater(t, firstMax, 0)
	require.Greater(t, firstMax, firstID)
}
