package ir

// Expression and statement rewriting is done through pure functions: a
// rewrite takes nodes in and returns nodes out, never holding references
// back into the structures it rewrites.

// MutateExpr rebuilds e bottom-up, applying f to every node after its
// children have been rewritten. f receives a node whose children are already
// rewritten and returns its replacement.
func MutateExpr(e Expr, f func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	switch e := e.(type) {
	case *Binary:
		x := MutateExpr(e.X, f)
		y := MutateExpr(e.Y, f)
		if x != e.X || y != e.Y {
			return f(NewBinary(e.Op, x, y))
		}
	case *Cast:
		if x := MutateExpr(e.X, f); x != e.X {
			return f(NewCast(e.To, x))
		}
	case *Broadcast:
		if x := MutateExpr(e.X, f); x != e.X {
			return f(NewBroadcast(x, e.Lanes))
		}
	case *Select:
		c := MutateExpr(e.Cond, f)
		x := MutateExpr(e.X, f)
		y := MutateExpr(e.Y, f)
		if c != e.Cond || x != e.X || y != e.Y {
			return f(NewSelect(c, x, y))
		}
	case *Load:
		off := MutateExpr(e.Off, f)
		mask := MutateExpr(e.Mask, f)
		if off != e.Off || mask != e.Mask {
			return f(&Load{T: e.T, Buf: e.Buf, Off: off, Mask: mask})
		}
	}
	return f(e)
}

// Substitute replaces variables in e according to vals. Variables without a
// replacement are kept.
func Substitute(e Expr, vals map[*Var]Expr) Expr {
	return MutateExpr(e, func(e Expr) Expr {
		if v, ok := e.(*Var); ok {
			if repl, ok := vals[v]; ok {
				return repl
			}
		}
		return e
	})
}

// SubstituteVar replaces a single variable in e.
func SubstituteVar(e Expr, v *Var, repl Expr) Expr {
	return Substitute(e, map[*Var]Expr{v: repl})
}

// MutateStmt rebuilds s bottom-up, applying fe to every expression and fs to
// every statement after its children have been rewritten. Either function
// may be nil.
func MutateStmt(s Stmt, fe func(Expr) Expr, fs func(Stmt) Stmt) Stmt {
	if fe == nil {
		fe = func(e Expr) Expr { return e }
	}
	if fs == nil {
		fs = func(s Stmt) Stmt { return s }
	}
	return mutateStmt(s, fe, fs)
}

func mutateStmt(s Stmt, fe func(Expr) Expr, fs func(Stmt) Stmt) Stmt {
	if s == nil {
		return nil
	}
	expr := func(e Expr) Expr {
		if e == nil {
			return nil
		}
		return MutateExpr(e, fe)
	}
	switch s := s.(type) {
	case *Seq:
		stmts := make([]Stmt, 0, len(s.Stmts))
		for _, sub := range s.Stmts {
			if out := mutateStmt(sub, fe, fs); out != nil {
				stmts = append(stmts, out)
			}
		}
		switch len(stmts) {
		case 0:
			return nil
		case 1:
			return fs(stmts[0])
		}
		return fs(&Seq{Stmts: stmts})
	case *Store:
		return fs(&Store{Buf: s.Buf, Off: expr(s.Off), Value: expr(s.Value), Mask: expr(s.Mask)})
	case *Let:
		return fs(&Let{V: s.V, Value: expr(s.Value), Body: mutateStmt(s.Body, fe, fs)})
	case *If:
		return fs(&If{Cond: expr(s.Cond), Then: mutateStmt(s.Then, fe, fs), Else: mutateStmt(s.Else, fe, fs)})
	case *For:
		return fs(&For{V: s.V, Bound: s.Bound, Body: mutateStmt(s.Body, fe, fs)})
	case *Alloc:
		return fs(&Alloc{Buf: s.Buf, Size: s.Size, Kind: s.Kind, Body: mutateStmt(s.Body, fe, fs)})
	case *Group:
		return fs(&Group{Label: s.Label, Body: mutateStmt(s.Body, fe, fs)})
	case *Send:
		return fs(&Send{Op: s.Op, T: s.T, Addr: s.Addr, AddrOff: expr(s.AddrOff),
			Reg: s.Reg, RegOff: expr(s.RegOff), Mask: expr(s.Mask)})
	}
	return fs(s)
}

// ContainsVar reports whether v occurs in e.
func ContainsVar(e Expr, v *Var) bool {
	found := false
	MutateExpr(e, func(e Expr) Expr {
		if e == Expr(v) {
			found = true
		}
		return e
	})
	return found
}

// VisitExprs calls f on every expression in s, outside-in.
func VisitExprs(s Stmt, f func(Expr)) {
	MutateStmt(s, func(e Expr) Expr { f(e); return e }, nil)
}
