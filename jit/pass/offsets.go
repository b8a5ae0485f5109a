package pass

import (
	"fmt"

	"github.com/crazydemo/oneDNN/jit/ir"
)

// LiftBufferOffsets canonicalizes global-access offsets into base-plus-
// constant form and hoists a base shared by several accesses in the same
// scope into one scoped binding, so the address arithmetic is computed once.
func LiftBufferOffsets(stmt ir.Stmt, ctx *ir.Context) ir.Stmt {
	counter := 0
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		seq, ok := s.(*ir.Seq)
		if !ok {
			return s
		}
		return liftInSeq(seq, ctx, &counter)
	})
}

func liftInSeq(seq *ir.Seq, ctx *ir.Context, counter *int) ir.Stmt {
	// Count non-trivial offset bases of global accesses in this scope.
	counts := map[string]ir.Expr{}
	occur := map[string]int{}
	note := func(buf *ir.Var, off ir.Expr) {
		if buf == nil || !ctx.IsGlobal(buf) {
			return
		}
		base, _ := splitAddConst(off)
		if isTrivial(base) {
			return
		}
		key := base.String()
		counts[key] = base
		occur[key]++
	}
	for _, sub := range seq.Stmts {
		switch s := sub.(type) {
		case *ir.Store:
			note(s.Buf, s.Off)
			if ld, ok := s.Value.(*ir.Load); ok {
				note(ld.Buf, ld.Off)
			}
		case *ir.Send:
			note(s.Addr, s.AddrOff)
		}
	}

	var lets []ir.LetPair
	repl := map[string]*ir.Var{}
	for _, sub := range seq.Stmts { // first-occurrence order
		off := offsetOf(sub, ctx)
		if off == nil {
			continue
		}
		base, _ := splitAddConst(off)
		key := base.String()
		if occur[key] < 2 || repl[key] != nil || isTrivial(base) {
			continue
		}
		v := ir.NewVar(fmt.Sprintf("off_%d", *counter), base.Type())
		*counter++
		repl[key] = v
		lets = append(lets, ir.LetPair{V: v, Value: base})
	}
	if len(lets) == 0 {
		return seq
	}

	rewrite := func(off ir.Expr) ir.Expr {
		base, c := splitAddConst(off)
		v, ok := repl[base.String()]
		if !ok {
			return off
		}
		if c == 0 {
			return v
		}
		return ir.Add(v, ir.I(c))
	}
	body := ir.MutateStmt(ir.Stmt(seq), nil, func(s ir.Stmt) ir.Stmt {
		switch s := s.(type) {
		case *ir.Store:
			out := *s
			if ctx.IsGlobal(s.Buf) {
				out.Off = rewrite(s.Off)
			}
			if ld, ok := s.Value.(*ir.Load); ok && ctx.IsGlobal(ld.Buf) {
				out.Value = &ir.Load{T: ld.T, Buf: ld.Buf, Off: rewrite(ld.Off), Mask: ld.Mask}
			}
			return &out
		case *ir.Send:
			out := *s
			out.AddrOff = rewrite(s.AddrOff)
			return &out
		}
		return s
	})
	return ir.InjectLets(body, lets)
}

func offsetOf(s ir.Stmt, ctx *ir.Context) ir.Expr {
	switch s := s.(type) {
	case *ir.Store:
		if ctx.IsGlobal(s.Buf) {
			return s.Off
		}
		if ld, ok := s.Value.(*ir.Load); ok && ctx.IsGlobal(ld.Buf) {
			return ld.Off
		}
	case *ir.Send:
		return s.AddrOff
	}
	return nil
}

// splitAddConst decomposes e into a non-constant base and a constant byte
// displacement.
func splitAddConst(e ir.Expr) (ir.Expr, int64) {
	if b, ok := e.(*ir.Binary); ok {
		switch b.Op {
		case ir.OpAdd:
			if c, ok := ir.AsInt(b.Y); ok {
				base, c2 := splitAddConst(b.X)
				return base, c + c2
			}
			if c, ok := ir.AsInt(b.X); ok {
				base, c2 := splitAddConst(b.Y)
				return base, c + c2
			}
		case ir.OpSub:
			if c, ok := ir.AsInt(b.Y); ok {
				base, c2 := splitAddConst(b.X)
				return base, c2 - c
			}
		}
	}
	return e, 0
}

func isTrivial(e ir.Expr) bool {
	switch e.(type) {
	case *ir.IntImm, *ir.Var, *ir.Extern:
		return true
	}
	return false
}
