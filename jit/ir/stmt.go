package ir

import "github.com/gomlx/exceptions"

// Stmt is an immutable statement node. A nil Stmt is the empty statement;
// Append treats it as a neutral element so bodies can be grown piecewise.
type Stmt interface {
	String() string
	isStmt()
}

// Append concatenates two statements, flattening sequences and dropping
// empty parts.
func Append(a, b Stmt) Stmt {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	var elems []Stmt
	if s, ok := a.(*Seq); ok {
		elems = append(elems, s.Stmts...)
	} else {
		elems = append(elems, a)
	}
	if s, ok := b.(*Seq); ok {
		elems = append(elems, s.Stmts...)
	} else {
		elems = append(elems, b)
	}
	return &Seq{Stmts: elems}
}

// Seq runs statements in order.
type Seq struct {
	Stmts []Stmt
}

func (s *Seq) isStmt() {}

// Store writes Value to Buf at a byte offset. A non-nil Mask suppresses
// out-of-range lanes.
type Store struct {
	Buf   *Var
	Off   Expr
	Value Expr
	Mask  Expr
}

func NewStore(buf *Var, off Expr, value Expr) *Store {
	return &Store{Buf: buf, Off: off, Value: value}
}

func NewMaskedStore(buf *Var, off Expr, value, mask Expr) *Store {
	return &Store{Buf: buf, Off: off, Value: value, Mask: mask}
}

func (s *Store) isStmt() {}

// Let binds V to Value for the duration of Body.
type Let struct {
	V     *Var
	Value Expr
	Body  Stmt
}

func NewLet(v *Var, value Expr, body Stmt) *Let {
	return &Let{V: v, Value: value, Body: body}
}

func (s *Let) isStmt() {}

// LetPair is a pending binding to be injected around a statement later,
// once the full body exists.
type LetPair struct {
	V     *Var
	Value Expr
}

// InjectLets wraps stmt in the given bindings, first pair outermost.
func InjectLets(stmt Stmt, lets []LetPair) Stmt {
	for i := len(lets) - 1; i >= 0; i-- {
		stmt = NewLet(lets[i].V, lets[i].Value, stmt)
	}
	return stmt
}

// If runs Then when Cond holds and Else (which may be nil) otherwise.
// Cond must be uniform across the lanes that execute the statement.
type If struct {
	Cond Expr
	Then Stmt
	Else Stmt
}

func NewIf(cond Expr, then, els Stmt) *If {
	if cond == nil {
		exceptions.Panicf("ir.NewIf: nil condition")
	}
	return &If{Cond: cond, Then: then, Else: els}
}

func (s *If) isStmt() {}

// For runs Body with V ranging over [0, Bound).
type For struct {
	V     *Var
	Bound int64
	Body  Stmt
}

func NewFor(v *Var, bound int64, body Stmt) Stmt {
	if bound <= 0 {
		exceptions.Panicf("ir.NewFor(%s): bound must be positive, got %d", v.Name, bound)
	}
	return &For{V: v, Bound: bound, Body: body}
}

func (s *For) isStmt() {}

// AllocKind distinguishes buffer storage classes.
type AllocKind int

const (
	// AllocGlobal declares a kernel-argument pointer; it occupies no
	// register space.
	AllocGlobal AllocKind = iota
	// AllocGRF is register-file scratch; its size counts against the
	// device register budget.
	AllocGRF
)

// Alloc scopes a buffer lifetime around Body. Size is in bytes.
type Alloc struct {
	Buf  *Var
	Size int
	Kind AllocKind
	Body Stmt
}

func NewAlloc(buf *Var, size int, kind AllocKind, body Stmt) *Alloc {
	return &Alloc{Buf: buf, Size: size, Kind: kind, Body: body}
}

// AllocPair is a pending allocation to be injected around a statement later.
type AllocPair struct {
	Buf  *Var
	Size int
	Kind AllocKind
}

// InjectAllocs wraps stmt in the given allocations, first pair outermost.
func InjectAllocs(stmt Stmt, allocs []AllocPair) Stmt {
	for i := len(allocs) - 1; i >= 0; i-- {
		a := allocs[i]
		stmt = NewAlloc(a.Buf, a.Size, a.Kind, stmt)
	}
	return stmt
}

func (s *Alloc) isStmt() {}

// Group labels a region of the tree, e.g. the finished kernel body.
type Group struct {
	Label string
	Body  Stmt
}

func NewGroup(label string, body Stmt) *Group { return &Group{Label: label, Body: body} }

func (s *Group) isStmt() {}

// SendOp distinguishes the direction of a materialized memory access.
type SendOp int

const (
	SendLoad SendOp = iota
	SendStore
)

// Send is a materialized access to global memory: a load moves T bytes from
// Addr+AddrOff into Reg+RegOff, a store the reverse. Sends are produced by
// the lowering pipeline from abstract Store/Load pairs; the assembler never
// creates them directly.
type Send struct {
	Op      SendOp
	T       Type
	Addr    *Var
	AddrOff Expr
	Reg     *Var
	RegOff  Expr
	Mask    Expr
}

func (s *Send) isStmt() {}
