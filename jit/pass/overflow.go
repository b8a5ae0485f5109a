package pass

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/crazydemo/oneDNN/jit/ir"
)

var s64 = ir.ScalarType(dtypes.Int64)

// FixInt32Overflow widens 32-bit index arithmetic that can no longer be
// proven to fit: immediates outside the int32 range (large strided offsets)
// are retyped to s64 and the expressions consuming them are widened to
// match.
func FixInt32Overflow(stmt ir.Stmt, _ *ir.Context) ir.Stmt {
	fe := func(e ir.Expr) ir.Expr {
		switch e := e.(type) {
		case *ir.IntImm:
			if e.T.DType == dtypes.Int32 && (e.Value > math.MaxInt32 || e.Value < math.MinInt32) {
				return ir.NewIntImm(e.Value, s64.WithLanes(e.T.Lanes))
			}
		case *ir.Binary:
			if e.Op.IsCmp() {
				return e
			}
			xt, yt := e.X.Type(), e.Y.Type()
			if xt.DType == dtypes.Int64 && yt.DType == dtypes.Int32 {
				return ir.NewBinary(e.Op, e.X, ir.NewCast(s64.WithLanes(yt.Lanes), e.Y))
			}
			if xt.DType == dtypes.Int32 && yt.DType == dtypes.Int64 {
				return ir.NewBinary(e.Op, ir.NewCast(s64.WithLanes(xt.Lanes), e.X), e.Y)
			}
		}
		return e
	}
	return ir.MutateStmt(stmt, fe, nil)
}
