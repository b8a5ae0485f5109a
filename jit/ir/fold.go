package ir

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
)

// Constant folding. Fold is used both by the simplification pass and by the
// schedule when resolving loop-bound expressions to concrete integers.

// AsInt returns the value of an integer (or boolean) immediate.
func AsInt(e Expr) (int64, bool) {
	if imm, ok := e.(*IntImm); ok {
		return imm.Value, true
	}
	return 0, false
}

// boolImm represents booleans as IntImm over dtypes.Bool.
func boolImm(v bool, lanes int) Expr {
	var i int64
	if v {
		i = 1
	}
	return &IntImm{Value: i, T: VectorType(dtypes.Bool, lanes)}
}

// IsTrue reports whether e folds to a constant true.
func IsTrue(e Expr) bool {
	v, ok := AsInt(e)
	return ok && v != 0
}

// IsFalse reports whether e folds to a constant false.
func IsFalse(e Expr) bool {
	v, ok := AsInt(e)
	return ok && v == 0
}

// Fold rewrites e bottom-up, evaluating constant subexpressions and applying
// arithmetic identities. The result is semantically equal to e.
func Fold(e Expr) Expr {
	return MutateExpr(e, foldNode)
}

func foldNode(e Expr) Expr {
	switch e := e.(type) {
	case *Binary:
		return foldBinary(e)
	case *Cast:
		return foldCast(e)
	case *Select:
		if IsTrue(e.Cond) {
			return e.X
		}
		if IsFalse(e.Cond) {
			return e.Y
		}
	}
	return e
}

func foldBinary(e *Binary) Expr {
	x, xok := AsInt(e.X)
	y, yok := AsInt(e.Y)
	lanes := e.Type().Lanes
	if xok && yok {
		switch e.Op {
		case OpAdd:
			return NewIntImm(x+y, e.X.Type())
		case OpSub:
			return NewIntImm(x-y, e.X.Type())
		case OpMul:
			return NewIntImm(x*y, e.X.Type())
		case OpDiv:
			if y != 0 {
				return NewIntImm(x/y, e.X.Type())
			}
		case OpMod:
			if y != 0 {
				return NewIntImm(x%y, e.X.Type())
			}
		case OpMin:
			return NewIntImm(min(x, y), e.X.Type())
		case OpMax:
			return NewIntImm(max(x, y), e.X.Type())
		case OpAnd:
			return boolImm(x != 0 && y != 0, lanes)
		case OpEq:
			return boolImm(x == y, lanes)
		case OpGe:
			return boolImm(x >= y, lanes)
		case OpGt:
			return boolImm(x > y, lanes)
		case OpLe:
			return boolImm(x <= y, lanes)
		case OpLt:
			return boolImm(x < y, lanes)
		}
		return e
	}
	if fx, fxok := asFloat(e.X); fxok {
		if fy, fyok := asFloat(e.Y); fyok {
			if out, ok := foldFloat(e.Op, fx, fy, e.X.Type(), lanes); ok {
				return out
			}
		}
	}
	// Identities against a constant operand.
	switch e.Op {
	case OpAdd:
		if isZero(e.X) {
			return e.Y
		}
		if isZero(e.Y) {
			return e.X
		}
	case OpSub:
		if isZero(e.Y) {
			return e.X
		}
	case OpMul:
		if isOne(e.X) {
			return e.Y
		}
		if isOne(e.Y) {
			return e.X
		}
		if isZero(e.X) {
			return e.X
		}
		if isZero(e.Y) {
			return e.Y
		}
	case OpDiv:
		if isOne(e.Y) {
			return e.X
		}
	case OpMod:
		if isOne(e.Y) {
			return NewIntImm(0, e.X.Type())
		}
	case OpAnd:
		if IsTrue(e.X) {
			return e.Y
		}
		if IsTrue(e.Y) {
			return e.X
		}
		if IsFalse(e.X) || IsFalse(e.Y) {
			return boolImm(false, lanes)
		}
	}
	return e
}

func foldFloat(op Op, x, y float64, t Type, lanes int) (Expr, bool) {
	switch op {
	case OpAdd:
		return NewFloatImm(x+y, t), true
	case OpSub:
		return NewFloatImm(x-y, t), true
	case OpMul:
		return NewFloatImm(x*y, t), true
	case OpDiv:
		if y != 0 {
			return NewFloatImm(x/y, t), true
		}
	case OpMin:
		return NewFloatImm(math.Min(x, y), t), true
	case OpMax:
		return NewFloatImm(math.Max(x, y), t), true
	case OpGe:
		return boolImm(x >= y, lanes), true
	case OpGt:
		return boolImm(x > y, lanes), true
	case OpLe:
		return boolImm(x <= y, lanes), true
	case OpLt:
		return boolImm(x < y, lanes), true
	}
	return nil, false
}

func foldCast(e *Cast) Expr {
	switch x := e.X.(type) {
	case *IntImm:
		if e.To.IsInt() || e.To.DType == dtypes.Bool {
			return NewIntImm(x.Value, e.To)
		}
		if e.To.IsFloat() {
			return NewFloatImm(float64(x.Value), e.To)
		}
	case *FloatImm:
		if e.To.IsFloat() {
			return NewFloatImm(x.Value, e.To)
		}
		if e.To.IsInt() {
			return NewIntImm(int64(x.Value), e.To)
		}
	}
	return e
}

func asFloat(e Expr) (float64, bool) {
	if imm, ok := e.(*FloatImm); ok {
		return imm.Value, true
	}
	return 0, false
}

func isZero(e Expr) bool {
	if v, ok := AsInt(e); ok {
		return v == 0
	}
	if v, ok := asFloat(e); ok {
		return v == 0
	}
	return false
}

func isOne(e Expr) bool {
	if v, ok := AsInt(e); ok {
		return v == 1
	}
	if v, ok := asFloat(e); ok {
		return v == 1
	}
	return false
}
