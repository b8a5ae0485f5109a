package pass

import "github.com/crazydemo/oneDNN/jit/ir"

// Simplify folds constant subexpressions, applies arithmetic identities and
// prunes statically-decided control flow.
func Simplify(stmt ir.Stmt, _ *ir.Context) ir.Stmt {
	fe := func(e ir.Expr) ir.Expr { return ir.Fold(e) }
	fs := func(s ir.Stmt) ir.Stmt {
		switch s := s.(type) {
		case *ir.If:
			if ir.IsTrue(cond(s.Cond)) {
				return s.Then
			}
			if ir.IsFalse(cond(s.Cond)) {
				return s.Else
			}
		case *ir.Store:
			// A store whose mask is statically false never executes.
			if s.Mask != nil && ir.IsFalse(s.Mask) {
				return nil
			}
		}
		return s
	}
	return ir.MutateStmt(stmt, fe, fs)
}

// cond unwraps a broadcast condition: a uniform vector predicate is decided
// by its scalar.
func cond(e ir.Expr) ir.Expr {
	if b, ok := e.(*ir.Broadcast); ok {
		return b.X
	}
	return e
}
