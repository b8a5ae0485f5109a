package pass

import "github.com/crazydemo/oneDNN/jit/ir"

// InjectSends materializes abstract accesses to kernel-argument buffers as
// send instructions: a register store of a global load becomes a send-load,
// a global store of a register load becomes a send-store. Accesses between
// register buffers are left as plain moves.
func InjectSends(stmt ir.Stmt, ctx *ir.Context) ir.Stmt {
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		st, ok := s.(*ir.Store)
		if !ok {
			return s
		}
		if ld, ok := st.Value.(*ir.Load); ok && ctx.IsGlobal(ld.Buf) && !ctx.IsGlobal(st.Buf) {
			return &ir.Send{
				Op: ir.SendLoad, T: ld.T,
				Addr: ld.Buf, AddrOff: ld.Off,
				Reg: st.Buf, RegOff: st.Off,
				Mask: ld.Mask,
			}
		}
		if ctx.IsGlobal(st.Buf) {
			if ld, ok := st.Value.(*ir.Load); ok && !ctx.IsGlobal(ld.Buf) {
				return &ir.Send{
					Op: ir.SendStore, T: ld.T,
					Addr: st.Buf, AddrOff: st.Off,
					Reg: ld.Buf, RegOff: ld.Off,
					Mask: st.Mask,
				}
			}
		}
		return s
	})
}

// SplitWideStores splits register moves wider than two registers into
// register-sized chunks; the hardware cannot move more in one instruction.
func SplitWideStores(stmt ir.Stmt, ctx *ir.Context) ir.Stmt {
	maxBytes := 2 * ctx.Exec().GRFSize
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		st, ok := s.(*ir.Store)
		if !ok || st.Mask != nil {
			return s
		}
		t := st.Value.Type()
		if t.IsPtr() || t.Size() <= maxBytes {
			return s
		}
		ld, ok := st.Value.(*ir.Load)
		if !ok || ld.Mask != nil {
			return s
		}
		chunkLanes := maxBytes / t.ElemSize()
		if chunkLanes < 1 || t.Lanes%chunkLanes != 0 {
			return s
		}
		chunkT := t.WithLanes(chunkLanes)
		chunkBytes := int64(chunkT.Size())
		var out ir.Stmt
		for off := int64(0); off < int64(t.Size()); off += chunkBytes {
			out = ir.Append(out, ir.NewStore(
				st.Buf, ir.Fold(ir.Add(st.Off, ir.I(off))),
				ir.NewLoad(chunkT, ld.Buf, ir.Fold(ir.Add(ld.Off, ir.I(off))))))
		}
		return out
	})
}
