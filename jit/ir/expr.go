package ir

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Expr is an immutable expression node of the instruction tree.
type Expr interface {
	Type() Type
	String() string
	isExpr()
}

// Var is a named value: an iteration variable, a loop counter, a let-bound
// scalar or a buffer argument. Identity is pointer identity; two Vars with
// the same name are distinct.
type Var struct {
	Name string
	T    Type
}

func NewVar(name string, t Type) *Var { return &Var{Name: name, T: t} }

func (v *Var) Type() Type { return v.T }
func (v *Var) isExpr()    {}

// Extern is a value provided by the execution environment at kernel entry,
// such as a hardware group or local index register.
type Extern struct {
	Name string
	T    Type
}

func NewExtern(name string, t Type) *Extern { return &Extern{Name: name, T: t} }

func (e *Extern) Type() Type { return e.T }
func (e *Extern) isExpr()    {}

// IntImm is an integer immediate.
type IntImm struct {
	Value int64
	T     Type
}

// I returns a scalar s32 immediate, the default index arithmetic type.
func I(v int64) *IntImm { return &IntImm{Value: v, T: ScalarType(dtypes.Int32)} }

func NewIntImm(v int64, t Type) *IntImm { return &IntImm{Value: v, T: t} }

func (e *IntImm) Type() Type { return e.T }
func (e *IntImm) isExpr()    {}

// FloatImm is a floating-point immediate.
type FloatImm struct {
	Value float64
	T     Type
}

// F returns a scalar f32 immediate.
func F(v float64) *FloatImm { return &FloatImm{Value: v, T: ScalarType(dtypes.Float32)} }

func NewFloatImm(v float64, t Type) *FloatImm { return &FloatImm{Value: v, T: t} }

func (e *FloatImm) Type() Type { return e.T }
func (e *FloatImm) isExpr()    {}

// Op is a binary operation kind.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpMin
	OpMax
	OpAnd
	OpEq
	OpGe
	OpGt
	OpLe
	OpLt
)

var opStrings = [...]string{"+", "-", "*", "/", "%", "min", "max", "&", "==", ">=", ">", "<=", "<"}

// IsCmp reports whether the op yields a boolean.
func (op Op) IsCmp() bool { return op >= OpEq }

func (op Op) String() string { return opStrings[op] }

// Binary applies Op to two operands. Comparison ops yield a Bool type with
// the operands' lane count.
type Binary struct {
	Op   Op
	X, Y Expr
}

func NewBinary(op Op, x, y Expr) *Binary {
	if x == nil || y == nil {
		exceptions.Panicf("ir.NewBinary(%s): nil operand", op)
	}
	return &Binary{Op: op, X: x, Y: y}
}

func (e *Binary) Type() Type {
	t := e.X.Type()
	if yt := e.Y.Type(); yt.Lanes > t.Lanes {
		t = yt
	}
	if e.Op.IsCmp() || e.Op == OpAnd && t.DType == dtypes.Bool {
		return VectorType(dtypes.Bool, t.Lanes)
	}
	return t
}

func (e *Binary) isExpr() {}

// Convenience constructors for the common index/value arithmetic.

func Add(x, y Expr) Expr { return NewBinary(OpAdd, x, y) }
func Sub(x, y Expr) Expr { return NewBinary(OpSub, x, y) }
func Mul(x, y Expr) Expr { return NewBinary(OpMul, x, y) }
func Div(x, y Expr) Expr { return NewBinary(OpDiv, x, y) }
func Mod(x, y Expr) Expr { return NewBinary(OpMod, x, y) }
func Min(x, y Expr) Expr { return NewBinary(OpMin, x, y) }
func Max(x, y Expr) Expr { return NewBinary(OpMax, x, y) }
func And(x, y Expr) Expr { return NewBinary(OpAnd, x, y) }
func Ge(x, y Expr) Expr  { return NewBinary(OpGe, x, y) }
func Lt(x, y Expr) Expr  { return NewBinary(OpLt, x, y) }

// Cast converts a value to another type. Lane counts must match, except for
// casting a scalar immediate.
type Cast struct {
	To Type
	X  Expr
}

func NewCast(to Type, x Expr) Expr {
	if x.Type() == to {
		return x
	}
	return &Cast{To: to, X: x}
}

func (e *Cast) Type() Type { return e.To }
func (e *Cast) isExpr()    {}

// Broadcast replicates a scalar value across vector lanes.
type Broadcast struct {
	X     Expr
	Lanes int
}

func NewBroadcast(x Expr, lanes int) Expr {
	if t := x.Type(); t.Lanes != 1 {
		exceptions.Panicf("ir.NewBroadcast: operand must be scalar, got %d lanes", t.Lanes)
	}
	if lanes == 1 {
		return x
	}
	return &Broadcast{X: x, Lanes: lanes}
}

func (e *Broadcast) Type() Type { return VectorType(e.X.Type().DType, e.Lanes) }
func (e *Broadcast) isExpr()    {}

// LaneIndex is the per-lane index vector (0, 1, ..., Lanes-1). Adding it to
// a broadcast coordinate gives bounds-check predicates lane granularity
// along the vector axis.
type LaneIndex struct {
	Lanes int
}

func NewLaneIndex(lanes int) *LaneIndex {
	if lanes < 2 {
		exceptions.Panicf("ir.NewLaneIndex: %d lanes", lanes)
	}
	return &LaneIndex{Lanes: lanes}
}

func (e *LaneIndex) Type() Type { return VectorType(dtypes.Int32, e.Lanes) }
func (e *LaneIndex) isExpr()    {}

// Select picks X where Cond is true and Y elsewhere, lane-wise.
type Select struct {
	Cond, X, Y Expr
}

func NewSelect(cond, x, y Expr) *Select { return &Select{Cond: cond, X: x, Y: y} }

func (e *Select) Type() Type { return e.X.Type() }
func (e *Select) isExpr()    {}

// Load reads a typed value from a buffer at a byte offset. A non-nil Mask
// suppresses out-of-range lanes; masked-off lanes keep whatever the
// destination already holds, which the kernel body pre-fills with the
// reduction identity.
type Load struct {
	T    Type
	Buf  *Var
	Off  Expr
	Mask Expr
}

func NewLoad(t Type, buf *Var, off Expr) *Load {
	return &Load{T: t, Buf: buf, Off: off}
}

func NewMaskedLoad(t Type, buf *Var, off, mask Expr) *Load {
	return &Load{T: t, Buf: buf, Off: off, Mask: mask}
}

func (e *Load) Type() Type { return e.T }
func (e *Load) isExpr()    {}
