package pass

import "github.com/crazydemo/oneDNN/jit/ir"

// OptimizeAllocLet drops bindings and allocations nothing refers to and
// shrinks register allocations to the bytes actually addressed.
func OptimizeAllocLet(stmt ir.Stmt, ctx *ir.Context) ir.Stmt {
	grf := ctx.Exec().GRFSize
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		switch s := s.(type) {
		case *ir.Let:
			if !usesVar(s.Body, s.V) {
				return s.Body
			}
		case *ir.Alloc:
			if s.Kind != ir.AllocGRF {
				return s
			}
			if !usesBuf(s.Body, s.Buf) {
				return s.Body
			}
			if end, ok := maxAccessEnd(s.Body, s.Buf); ok && end < s.Size {
				out := *s
				out.Size = roundUp(end, grf)
				return &out
			}
		}
		return s
	})
}

func usesVar(stmt ir.Stmt, v *ir.Var) bool {
	found := false
	ir.VisitExprs(stmt, func(e ir.Expr) {
		if e == ir.Expr(v) {
			found = true
		}
	})
	return found
}

func usesBuf(stmt ir.Stmt, buf *ir.Var) bool {
	found := false
	visitAccesses(stmt, func(b *ir.Var, _ ir.Expr, _ ir.Type) {
		if b == buf {
			found = true
		}
	})
	return found
}

// maxAccessEnd returns the highest byte past any access to buf, or false if
// some access offset is not a constant.
func maxAccessEnd(stmt ir.Stmt, buf *ir.Var) (int, bool) {
	end := 0
	allConst := true
	visitAccesses(stmt, func(b *ir.Var, off ir.Expr, t ir.Type) {
		if b != buf {
			return
		}
		c, ok := ir.AsInt(ir.Fold(off))
		if !ok {
			allConst = false
			return
		}
		if e := int(c) + t.Size(); e > end {
			end = e
		}
	})
	return end, allConst
}

// visitAccesses calls fn for every buffer access (loads, stores and sends)
// in stmt with the buffer, byte offset and accessed type.
func visitAccesses(stmt ir.Stmt, fn func(buf *ir.Var, off ir.Expr, t ir.Type)) {
	ir.MutateStmt(stmt, func(e ir.Expr) ir.Expr {
		if ld, ok := e.(*ir.Load); ok {
			fn(ld.Buf, ld.Off, ld.T)
		}
		return e
	}, func(s ir.Stmt) ir.Stmt {
		switch s := s.(type) {
		case *ir.Store:
			fn(s.Buf, s.Off, s.Value.Type())
		case *ir.Send:
			fn(s.Addr, s.AddrOff, s.T)
			fn(s.Reg, s.RegOff, s.T)
		}
		return s
	})
}

func roundUp(n, mult int) int {
	return (n + mult - 1) / mult * mult
}
