package pooling

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/crazydemo/oneDNN/jit/ir"
	"github.com/crazydemo/oneDNN/jit/pass"
	"github.com/crazydemo/oneDNN/jit/postops"
	"github.com/crazydemo/oneDNN/jit/schedule"
)

var s32 = ir.ScalarType(dtypes.Int32)

// viewMapper specializes the epilogue view mapping for the reduction
// domain: caller bitmasks are re-derived through the spatials-to-3D
// canonicalization, operand descriptors canonicalize like the main tensors,
// and zero padding must be restored after stores (the reduction can smear
// non-zero accumulator identities into physical padding).
type viewMapper struct {
	postops.BaseViewMapper
	spatials int
}

func newViewMapper(dstView *ir.View, spatials int) viewMapper {
	return viewMapper{
		BaseViewMapper: postops.NewBaseViewMapper(dstView),
		spatials:       spatials,
	}
}

func (m viewMapper) CreateViewForMask(t ir.Type, mask uint32) *ir.View {
	return m.BaseViewMapper.CreateViewForMask(t, ir.NormalizeMask(mask, 2+m.spatials))
}

func (m viewMapper) CreateViewForDesc(desc ir.TensorDesc) *ir.View {
	c := canonicalDesc(desc, m.spatials)
	return m.ViewForCanonical(c.Layout, c.Dims, c.PaddedDims)
}

func (m viewMapper) NeedToRestoreZeroPadding() bool { return true }

// kgBind fuses the collected kernel-grid parts of one spatial axis and
// binds the result. The fuse order is the order parts were collected in;
// Expand later decomposes the fused index in the same order, so collection
// order is part of the addressing contract.
func kgBind(sch *schedule.Schedule, fuse []*ir.Var, idx int) {
	switch {
	case len(fuse) > 1:
		sch.Bind(sch.Fuse(fuse...), schedule.KernelGridAxis(idx-2))
	case len(fuse) == 1:
		sch.Bind(fuse[0], schedule.KernelGridAxis(idx-2))
	}
}

// spatialPairToSchedule distributes one spatial axis s1, its non-spatial
// partner ns (batch or channel) and optionally the following spatial axis
// s0 across the hierarchy. s1 splits into kernel-grid, thread-group and
// tensorized parts; ns splits into a kernel-grid part fused with s1's and a
// tensorized part.
//
// When s0 is present its configured grid footprint is compacted against its
// actual extent: an extent overflowing the footprint folds its excess into
// s1's kernel-grid index, and an extent underfilling half of it borrows the
// slack from s1's instead. Both directions keep the fuse order aligned with
// the later Bind, which is what makes the folded addressing decompose
// correctly.
func spatialPairToSchedule(sch *schedule.Schedule, view *ir.View, cfg *Config, s1, ns, s0 *ir.Var) {
	lg, tg, kg := cfg.LoopGrid, cfg.ThreadGroupGrid, cfg.KernelGrid
	dims := cfg.DimsPadded

	s1Idx := view.VVarIndex(s1)
	nsIdx := view.VVarIndex(ns)
	s0Idx := -1
	if s0 != nil {
		s0Idx = view.VVarIndex(s0)
	}

	// s1 and ns may arrive swapped; the fuse order below has to replicate
	// the argument order exactly, so remember which way they came in.
	needSwap := s1Idx <= 1
	if needSwap == (nsIdx <= 1) {
		exceptions.Panicf("pooling: schedule pair wants one spatial and one non-spatial axis, got %q and %q",
			s1.Name, ns.Name)
	}
	if needSwap {
		s1, ns = ns, s1
		s1Idx, nsIdx = nsIdx, s1Idx
	}

	s1TLGUnroll := int64(lg[s1Idx])
	s1Unroll := s1TLGUnroll * int64(tg[s1Idx-2])

	s1KG, s1TLG := sch.Split(s1, s1Unroll, s1.Name+"_kg", s1.Name+"_tlg")
	s1TG, s1LG := sch.Split(s1TLG, s1TLGUnroll, s1.Name+"_tg", s1.Name+"_lg")
	sch.Tensorize(s1LG)
	sch.Bind(s1TG, schedule.ThreadGroupAxis(s1Idx-2))
	s1Fuse := []*ir.Var{s1KG}

	var s0Fuse []*ir.Var
	if s0 != nil {
		if s0Idx != s1Idx+1 {
			exceptions.Panicf("pooling: trailing spatial %q must follow %q", s0.Name, s1.Name)
		}
		s0TLGUnroll := int64(lg[s0Idx])
		s0Unroll := s0TLGUnroll * int64(tg[s0Idx-2])
		s0Full := s0Unroll * int64(kg[s0Idx-2])

		if dims[s0Idx] > s0Full {
			// Part of s0's kernel-grid index lives in s1's axis.
			s0Split, s0KTLG := sch.Split(s0, s0Full, s0.Name+"_split", s0.Name+"_ktlg")
			s1Fuse = append(s1Fuse, s0Split)
			s0 = s0KTLG
		} else if dims[s0Idx] <= (s0Full+1)/2 {
			// Part of s1's kernel-grid index lives in s0's axis.
			s1Ext := (s0Full + dims[s0Idx] - 1) / dims[s0Idx]
			if b := sch.VarBound(s1Fuse[0]); s1Ext > b {
				s1Ext = b
			}
			s1KTLG, s1Split := sch.Split(s1Fuse[0], s1Ext, s1.Name+"_ktlg", s1.Name+"_split")
			s1Fuse[0] = s1KTLG
			s0Fuse = append(s0Fuse, s1Split)
		}

		s0KG, s0TLG := sch.Split(s0, s0Unroll, s0.Name+"_kg", s0.Name+"_tlg")
		s0TG, s0LG := sch.Split(s0TLG, s0TLGUnroll, s0.Name+"_tg", s0.Name+"_lg")
		sch.Tensorize(s0LG)
		sch.Bind(s0TG, schedule.ThreadGroupAxis(s0Idx-2))
		s0Fuse = append(s0Fuse, s0KG)
	}

	nsKG, nsLG := sch.Split(ns, int64(lg[nsIdx]), ns.Name+"_kg", ns.Name+"_lg")
	if needSwap {
		s1Fuse = append([]*ir.Var{nsKG}, s1Fuse...)
	} else {
		s1Fuse = append(s1Fuse, nsKG)
	}
	sch.Tensorize(nsLG)

	kgBind(sch, s0Fuse, s0Idx)
	kgBind(sch, s1Fuse, s1Idx)
}

// windowToSchedule resolves one window axis: fully tensorized when the
// configured footprint covers its bound, otherwise a serial loop around a
// tensorized tail. A footprint exceeding the bound is a configuration
// error.
func windowToSchedule(sch *schedule.Schedule, cfg *Config, k *ir.Var, idx int) {
	kDim := int64(cfg.LoopGrid[idx])
	bound := sch.VarBound(k)
	switch {
	case kDim == bound:
		sch.Tensorize(k)
	case kDim < bound:
		if kDim > 1 {
			_, kTnz := sch.Split(k, kDim, k.Name+"_lg", k.Name+"_tnz")
			sch.Tensorize(kTnz)
		}
	default:
		exceptions.Panicf("pooling: window footprint %d exceeds %q bound %d", kDim, k.Name, bound)
	}
}

// overlapDim is the clamped number of in-range window elements along one
// axis for the output position o: min(o*s-p+k, i) - max(o*s-p, 0).
func overlapDim(o ir.Expr, s, p, k, i int64) ir.Expr {
	if k <= 1 {
		return ir.I(1)
	}
	base := ir.Sub(ir.Mul(o, ir.I(s)), ir.I(p))
	return ir.Sub(ir.Min(ir.Add(base, ir.I(k)), ir.I(i)), ir.Max(base, ir.I(0)))
}

func zeroImm(t ir.Type) ir.Expr {
	if t.IsFloat() {
		return ir.NewFloatImm(0, t.Scalar())
	}
	return ir.NewIntImm(0, t.Scalar())
}

// tryBuild is one deterministic build attempt: it assembles, lowers and
// estimates the kernel for the given grid triple. ok is false when the
// estimated register usage exceeds the device budget, the only retryable
// outcome; configuration inconsistencies panic.
func tryBuild(cfg *Config, ki *KernelInfo, ops []postops.PostOp) (body ir.Stmt, regs int, ok bool) {
	conf := &cfg.Conf
	exec := cfg.Exec
	simd := exec.SIMD
	srcLayout := cfg.SrcDesc.Layout
	dstLayout := cfg.DstDesc.Layout
	if srcLayout.NDims != dstLayout.NDims {
		exceptions.Panicf("pooling: source rank %d != destination rank %d", srcLayout.NDims, dstLayout.NDims)
	}

	mb := ir.NewVar("mb", s32)
	oc := ir.NewVar("oc", s32)
	od := ir.NewVar("od", s32)
	oh := ir.NewVar("oh", s32)
	ow := ir.NewVar("ow", s32)
	kd := ir.NewVar("kd", s32)
	kh := ir.NewVar("kh", s32)
	kw := ir.NewVar("kw", s32)

	isFwd := !conf.IsBackward
	checkIW := needSrcOrDstCheck(isFwd, conf.OW, conf.IW, conf.KW, conf.PadL, conf.StrideW, conf.DilW)
	checkIH := needSrcOrDstCheck(isFwd, conf.OH, conf.IH, conf.KH, conf.PadT, conf.StrideH, conf.DilH)
	checkID := needSrcOrDstCheck(isFwd, conf.OD, conf.ID, conf.KD, conf.PadF, conf.StrideD, conf.DilD)
	checkIDHW := checkID || checkIH || checkIW

	x := ir.Placeholder
	inRange := func(extent int64) ir.Expr {
		return ir.And(ir.Ge(x, ir.I(0)), ir.Lt(x, ir.I(extent)))
	}
	var idMask, ihMask, iwMask ir.Expr
	if checkID {
		idMask = inRange(conf.ID)
	}
	if checkIH {
		ihMask = inRange(conf.IH)
	}
	if checkIW {
		iwMask = inRange(conf.IW)
	}

	dims := cfg.DimsPadded[:]

	// The source view folds the output and window coordinates into the
	// strided, dilated, shifted input position per spatial axis.
	srcView := ir.NewView([]*ir.Var{mb, oc, od, oh, ow, kd, kh, kw}, ir.CanonicalRank)
	srcView.SetVDim(mb, dims[0])
	srcView.SetVDim(oc, dims[1])
	srcView.SetVDim(od, dims[2])
	srcView.SetVDim(oh, dims[3])
	srcView.SetVDim(ow, dims[4])
	srcView.SetVDim(kd, conf.KD)
	srcView.SetVDim(kh, conf.KH)
	srcView.SetVDim(kw, conf.KW)
	window := func(o, k *ir.Var, stride, pad, dil int64) ir.Expr {
		return ir.Add(ir.Sub(ir.Mul(o, ir.I(stride)), ir.I(pad)), ir.Mul(k, ir.I(1+dil)))
	}
	srcView.SetTDim(0, mb, nil)
	srcView.SetTDim(1, oc, nil)
	srcView.SetTDim(2, window(od, kd, conf.StrideD, conf.PadF, conf.DilD), idMask)
	srcView.SetTDim(3, window(oh, kh, conf.StrideH, conf.PadT, conf.DilH), ihMask)
	srcView.SetTDim(4, window(ow, kw, conf.StrideW, conf.PadL, conf.DilW), iwMask)
	srcView.SetTLayout(srcLayout)
	srcView.SetTMasks(dims)

	dstView := ir.NewView([]*ir.Var{mb, oc, od, oh, ow}, ir.CanonicalRank)
	for i, va := range dstView.VVars() {
		dstView.SetVDim(va, dims[i])
		dstView.SetTDim(i, va, nil)
	}
	dstView.SetTLayout(dstLayout)
	dstView.SetTMasks(dims)

	ctx := ir.NewContext(exec)
	sch := schedule.New(ctx, cfg.KernelGrid, cfg.ThreadGroupGrid)
	sch.SetView(srcView)
	sch.SetView(dstView)

	spatialPairToSchedule(sch, srcView, cfg, oc, od, nil)
	if (len(srcLayout.Blocks) > 1 && srcLayout.Blocks[1].Axis == 0) || dims[0] < dims[1] {
		spatialPairToSchedule(sch, srcView, cfg, oh, mb, ow)
	} else {
		spatialPairToSchedule(sch, srcView, cfg, mb, oh, ow)
	}
	windowToSchedule(sch, cfg, kd, 5)
	windowToSchedule(sch, cfg, kh, 6)
	windowToSchedule(sch, cfg, kw, 7)
	sch.Finalize()

	mbE := sch.Expand(mb)
	ocE := sch.Expand(oc)
	odE := sch.Expand(od)
	ohE := sch.Expand(oh)
	owE := sch.Expand(ow)

	srcThrTile := sch.ThreadViewTile(srcView)
	srcThrView := srcView.CreateSubView(srcThrTile)
	dstThrTile := sch.ThreadViewTile(dstView)
	dstThrView := dstView.CreateSubView(dstThrTile)

	srcBuf := ki.ArgVar(0)
	dstBuf := ki.ArgVar(1)
	var allocs []ir.AllocPair
	for i := 0; i < ki.NArgs(); i++ {
		v := ki.ArgVar(i)
		if !v.T.IsPtr() {
			continue
		}
		ctx.MarkGlobal(v)
		allocs = append(allocs, ir.AllocPair{Buf: v, Kind: ir.AllocGlobal})
	}

	readBuf := ctx.NewTmpVar(ir.BytePtr(), "read")
	read := ir.NewAccessBuilder(ctx, srcThrView, srcBuf, readBuf, ir.AccessLoad, oc)
	allocs = append(allocs, ir.AllocPair{Buf: readBuf, Size: read.RegBufSize(), Kind: ir.AllocGRF})
	readLayout := read.RegLayout()

	// Shall only get used on padded batch iterations; everything else goes
	// through the epilogue.
	write := ir.NewAccessBuilder(ctx, dstThrView, dstBuf, readBuf, ir.AccessStore, oc)
	writeLayout := write.RegLayout()

	isIdentity := conf.WindowVolume() <= 1
	isMax := conf.Alg == AlgMax
	isPad := conf.Alg == AlgAvgIncludePadding
	kind := ir.ReduceSum
	if isMax {
		kind = ir.ReduceMax
	}

	readElem := readLayout.T
	readType := ir.VectorType(readElem.DType, simd)
	accType := ir.AccType(readType, kind)
	accElem := accType.Scalar()

	dstTileDims := dstThrTile.Dims
	dstVecTile := ir.VecTile(dstTileDims, 1, int64(simd))
	readVecTile := ir.VecTile(srcThrTile.Dims, 1, int64(simd))

	accBuf := ctx.NewTmpVar(ir.BytePtr(), "acc")
	accLayout := ir.RegLayout(accElem, dstTileDims, 1)

	var stmt ir.Stmt
	if isIdentity {
		// A single-element window reduces to a copy: the read buffer is
		// the accumulator.
		accBuf = readBuf
		accType = readType
		accElem = readElem
		accLayout = accLayout.Retype(readElem)
		stmt = read.Stmt()
	} else {
		accSize := roundUp64(accLayout.Size()*int64(accElem.ElemSize()), int64(exec.GRFSize))
		allocs = append(allocs, ir.AllocPair{Buf: accBuf, Size: int(accSize), Kind: ir.AllocGRF})

		// Initialize the accumulator to the reduction identity, and when
		// any bounds check is active also pre-fill the read buffer so a
		// suppressed out-of-range load contributes nothing instead of
		// reading garbage.
		var accInit, readInit ir.Expr
		if !readType.IsInt() {
			id := ir.F(ir.ReduceIdentity(readElem, kind))
			accInit = ir.NewCast(accType, ir.NewBroadcast(id, simd))
			readInit = ir.NewCast(readType, ir.NewBroadcast(id, simd))
		} else {
			accPacked := ir.PackedReduceIdentity(readElem, kind, 4)
			accInit = ir.NewBroadcast(ir.NewIntImm(int64(int32(accPacked)), s32), simd)
			// Sub-register elements share one 32-bit fill slot.
			mult := 4 / readElem.ElemSize()
			readPacked := ir.PackedReduceIdentity(readElem, kind, readElem.ElemSize())
			readInit = ir.NewBroadcast(ir.NewIntImm(int64(int32(readPacked)), s32), simd/mult)
		}
		accLayout.ForEachTile(dstVecTile, func(c []int64) {
			off := ir.I(accLayout.ElemOffset(c) * int64(accElem.ElemSize()))
			stmt = ir.Append(stmt, ir.NewStore(accBuf, off, accInit))
		})
		var fill ir.Stmt
		if checkIDHW {
			readLayout.ForEachTile(readVecTile, func(c []int64) {
				off := ir.I(readLayout.ElemOffset(c) * int64(readElem.ElemSize()))
				fill = ir.Append(fill, ir.NewStore(readBuf, off, readInit))
			})
		}

		compute := read.Stmt()
		readLayout.ForEachTile(readVecTile, func(c []int64) {
			offL := ir.I(readLayout.ElemOffset(c) * int64(readElem.ElemSize()))
			offA := ir.I(accLayout.ElemOffset(c[:ir.CanonicalRank]) * int64(accElem.ElemSize()))
			loaded := ir.NewCast(accType, ir.NewLoad(readType, readBuf, offL))
			acc := ir.NewLoad(accType, accBuf, offA)
			var red ir.Expr
			if isMax {
				red = ir.Max(acc, loaded)
			} else {
				red = ir.Add(acc, loaded)
			}
			compute = ir.Append(compute, ir.NewStore(accBuf, offA, red))
		})

		loopBody := compute
		if checkIDHW {
			loopBody = ir.Append(fill, compute)
		}
		stmt = ir.Append(stmt, sch.CreateLoopNest(loopBody))

		if !isMax {
			// Average: divide by the static window volume, or by the
			// clamped per-position overlap when padding is excluded and
			// the window can hang over an edge.
			f32Vec := ir.VectorType(dtypes.Float32, simd)
			dynamic := !isPad && checkIDHW
			accLayout.ForEachTile(dstVecTile, func(c []int64) {
				off := ir.I(accLayout.ElemOffset(c) * int64(accElem.ElemSize()))
				var filter ir.Expr
				if dynamic {
					dhw := ir.Mul(ir.Mul(
						overlapDim(ir.Fold(ir.Add(odE, ir.I(c[2]))), conf.StrideD, conf.PadF, conf.KD, conf.ID),
						overlapDim(ir.Fold(ir.Add(ohE, ir.I(c[3]))), conf.StrideH, conf.PadT, conf.KH, conf.IH)),
						overlapDim(ir.Fold(ir.Add(owE, ir.I(c[4]))), conf.StrideW, conf.PadL, conf.KW, conf.IW))
					filter = ir.NewBroadcast(ir.NewCast(ir.ScalarType(dtypes.Float32), dhw), simd)
				} else {
					filter = ir.NewBroadcast(ir.F(float64(conf.WindowVolume())), simd)
				}
				acc := ir.NewCast(f32Vec, ir.NewLoad(accType, accBuf, off))
				stmt = ir.Append(stmt, ir.NewStore(accBuf, off, ir.Div(acc, filter)))
			})
			accType = f32Vec
			accElem = accType.Scalar()
			accLayout = accLayout.Retype(accElem)
		}
	}

	mapper := newViewMapper(dstView, conf.Spatials)
	argBufs := make(map[int]*ir.Var, ki.NArgs())
	for i := 0; i < ki.NArgs(); i++ {
		if v := ki.ArgVar(i); v.T.IsPtr() {
			argBufs[i] = v
		}
	}
	poCtx := postops.NewContext(mapper, ops, argBufs)
	if cfg.OutputScale != 0 {
		poCtx.SetOutputScale(cfg.OutputScale)
	}
	absStart := []ir.Expr{mbE, ocE, odE, ohE, owE}
	stmt = ir.Append(stmt, postops.CreateEpilogueStmt(ctx, poCtx, dstView, absStart, 1, dstBuf, accBuf, accLayout))

	if dims[0] > conf.MB {
		// Batch iterations existing only due to grid padding never touch
		// the source: zero the scratch and store it directly.
		var stop ir.Stmt
		wElem := writeLayout.T
		zero := ir.NewBroadcast(zeroImm(wElem), simd)
		writeLayout.ForEachTile(dstVecTile, func(c []int64) {
			off := ir.I(writeLayout.ElemOffset(c) * int64(wElem.ElemSize()))
			stop = ir.Append(stop, ir.NewStore(readBuf, off, zero))
		})
		cond := ir.NewBroadcast(ir.Ge(mbE, ir.I(conf.MB)), simd)
		stmt = ir.NewIf(cond, ir.Append(stop, write.Stmt()), stmt)
	}

	var exitCond ir.Expr
	if schedule.MaxLoopIndex(sch, owE) >= conf.OW {
		exitCond = ir.Lt(owE, ir.I(conf.OW))
	}
	if schedule.MaxLoopIndex(sch, ohE) >= conf.OH {
		c := ir.Lt(ohE, ir.I(conf.OH))
		if exitCond != nil {
			exitCond = ir.And(c, exitCond)
		} else {
			exitCond = c
		}
	}
	if schedule.MaxLoopIndex(sch, odE) >= conf.OD {
		c := ir.Lt(odE, ir.I(conf.OD))
		if exitCond != nil {
			exitCond = ir.And(c, exitCond)
		} else {
			exitCond = c
		}
	}
	if exitCond != nil {
		stmt = ir.NewIf(ir.NewBroadcast(exitCond, simd), stmt, nil)
	}

	stmt = sch.CreateBindStmt(stmt)
	stmt = ir.InjectAllocs(stmt, allocs)
	stmt = ctx.InjectExternLets(stmt)

	stmt = pass.Pipeline(stmt, ctx)
	stmt = ir.NewGroup("kernel", stmt)

	regs = pass.PeakRegs(stmt, exec.GRFSize)
	if klog.V(2).Enabled() {
		klog.Infof("pooling kernel body:\n%s", stmt)
		klog.Infof("pooling config (%d regs): %s", regs, cfg)
	}
	if regs > exec.Regs {
		return nil, regs, false
	}
	return stmt, regs, true
}
