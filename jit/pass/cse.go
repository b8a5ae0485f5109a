package pass

import (
	"fmt"

	"github.com/crazydemo/oneDNN/jit/ir"
)

// cseMinNodes is the smallest expression worth a register: anything smaller
// recomputes cheaper than it stores.
const cseMinNodes = 3

// EliminateCommonSubexprs hoists pure expressions computed more than once in
// a scope into scoped bindings. grfLimit caps how many bytes of temporaries
// the pass may introduce: past a quarter of it, recomputation is cheaper
// than spilling.
func EliminateCommonSubexprs(stmt ir.Stmt, _ *ir.Context, grfLimit int) ir.Stmt {
	budget := grfLimit / 4
	counter := 0
	return ir.MutateStmt(stmt, nil, func(s ir.Stmt) ir.Stmt {
		seq, ok := s.(*ir.Seq)
		if !ok {
			return s
		}
		return cseInSeq(seq, &budget, &counter)
	})
}

func cseInSeq(seq *ir.Seq, budget, counter *int) ir.Stmt {
	occur := map[string]int{}
	first := map[string]ir.Expr{}
	var order []string
	count := func(e ir.Expr) {
		ir.MutateExpr(e, func(e ir.Expr) ir.Expr {
			if cseCandidate(e) {
				key := e.String()
				if occur[key] == 0 {
					first[key] = e
					order = append(order, key)
				}
				occur[key]++
			}
			return e
		})
	}
	for _, sub := range seq.Stmts {
		switch s := sub.(type) {
		case *ir.Store:
			count(s.Off)
			count(s.Value)
		case *ir.Send:
			count(s.AddrOff)
			count(s.RegOff)
		}
	}

	var lets []ir.LetPair
	repl := map[string]*ir.Var{}
	for _, key := range order {
		e := first[key]
		if occur[key] < 2 {
			continue
		}
		size := e.Type().Size()
		if *budget < size {
			break
		}
		*budget -= size
		v := ir.NewVar(fmt.Sprintf("cse_%d", *counter), e.Type())
		*counter++
		repl[key] = v
		lets = append(lets, ir.LetPair{V: v, Value: e})
	}
	if len(lets) == 0 {
		return seq
	}

	// Bottom-up replacement: nested candidates are substituted innermost
	// first; an outer candidate whose children changed no longer matches
	// and its unused binding is dropped by the alloc/let cleanup.
	body := ir.MutateStmt(ir.Stmt(seq), func(e ir.Expr) ir.Expr {
		if v, ok := repl[e.String()]; ok {
			return v
		}
		return e
	}, nil)
	return ir.InjectLets(body, lets)
}

// cseCandidate reports whether e is pure and substantial enough to hoist.
func cseCandidate(e ir.Expr) bool {
	switch e.(type) {
	case *ir.Binary, *ir.Cast, *ir.Select:
	default:
		return false
	}
	if containsLoad(e) {
		return false
	}
	return nodeCount(e) >= cseMinNodes
}

func containsLoad(e ir.Expr) bool {
	found := false
	ir.MutateExpr(e, func(e ir.Expr) ir.Expr {
		if _, ok := e.(*ir.Load); ok {
			found = true
		}
		return e
	})
	return found
}

func nodeCount(e ir.Expr) int {
	n := 0
	ir.MutateExpr(e, func(e ir.Expr) ir.Expr { n++; return e })
	return n
}
