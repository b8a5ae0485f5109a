// Package pass implements the fixed lowering pipeline applied to an
// assembled kernel body, plus the register-usage estimator that decides
// feasibility. Every pass is a pure function from statement to statement:
// semantics-preserving, register-usage-reducing (or neutral) rewrites.
package pass

import "github.com/crazydemo/oneDNN/jit/ir"

// Pipeline runs the full lowering sequence in its fixed order.
func Pipeline(stmt ir.Stmt, ctx *ir.Context) ir.Stmt {
	stmt = Simplify(stmt, ctx)
	stmt = LiftBufferOffsets(stmt, ctx)
	stmt = InjectSends(stmt, ctx)
	stmt = SplitWideStores(stmt, ctx)
	stmt = FixInt32Overflow(stmt, ctx)
	stmt = EliminateCommonSubexprs(stmt, ctx, ctx.Exec().RegBytes())
	stmt = Simplify(stmt, ctx)
	stmt = OptimizeAllocLet(stmt, ctx)
	return stmt
}
