// Package schedule distributes iteration variables across the three-level
// parallelism hierarchy of the target: kernel grid, thread group and the
// per-thread serial-loop/vector-lane levels.
//
// A Schedule starts from the iteration variables of one or more views and
// derives new variables by splitting and fusing; every leaf variable ends up
// bound to a grid axis, marked tensorized (resolved at vector-lane
// granularity) or left serial (a per-thread loop). After Finalize the
// schedule resolves variables to concrete loop bounds and to closed-form
// index expressions over the bound hierarchy coordinates.
package schedule

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/crazydemo/oneDNN/jit/ir"
)

// Level is one bindable level of the dispatch hierarchy.
type Level int

const (
	LevelKernelGrid Level = iota
	LevelThreadGroup
)

// Axis is one slot of a hierarchy level.
type Axis struct {
	Level Level
	Dim   int
}

// KernelGridAxis returns the kernel-grid slot for dimension d.
func KernelGridAxis(d int) Axis { return Axis{Level: LevelKernelGrid, Dim: d} }

// ThreadGroupAxis returns the thread-group slot for dimension d.
func ThreadGroupAxis(d int) Axis { return Axis{Level: LevelThreadGroup, Dim: d} }

type leafRole int

const (
	roleNone leafRole = iota
	roleBound
	roleSerial
	roleTensorized
)

type node struct {
	v     *ir.Var
	bound int64

	// Split children; non-nil means the node is no longer a leaf.
	outer, inner *node

	// Fuse membership.
	fusedInto *node
	fusePos   int
	parts     []*node

	role leafRole
	axis Axis
}

func (n *node) isLeaf() bool { return n.outer == nil && n.fusedInto == nil }

// Schedule implements the split/fuse/bind/tensorize model over the iteration
// variables of the registered views.
type Schedule struct {
	exec       ir.ExecConfig
	kernelGrid [3]int
	tgGrid     [3]int

	kgIdx [3]*ir.Var
	tgIdx [3]*ir.Var

	nodes     map[*ir.Var]*node
	creation  []*node
	serial    []*node
	finalized bool

	boundByAxis map[Axis]*node
}

var s32 = ir.ScalarType(dtypes.Int32)

// New creates a schedule for the given grid configuration. The hardware
// index variables it introduces are registered with ctx as environment
// bindings (the first local axis is scaled by the vector width).
func New(ctx *ir.Context, kernelGrid, tgGrid [3]int) *Schedule {
	s := &Schedule{
		exec:        ctx.Exec(),
		kernelGrid:  kernelGrid,
		tgGrid:      tgGrid,
		nodes:       make(map[*ir.Var]*node),
		boundByAxis: make(map[Axis]*node),
	}
	for d := 0; d < 3; d++ {
		s.kgIdx[d] = ir.NewVar(fmt.Sprintf("kg_idx%d", d), s32)
		s.tgIdx[d] = ir.NewVar(fmt.Sprintf("tg_idx%d", d), s32)
		ctx.RegisterExternLet(s.kgIdx[d], ir.NewExtern(fmt.Sprintf("group_id%d", d), s32))
		local := ir.Expr(ir.NewExtern(fmt.Sprintf("local_id%d", d), s32))
		if d == 0 {
			local = ir.Div(local, ir.I(int64(s.exec.SIMD)))
		}
		ctx.RegisterExternLet(s.tgIdx[d], local)
	}
	return s
}

// KernelGrid returns the kernel-grid sizes.
func (s *Schedule) KernelGrid() [3]int { return s.kernelGrid }

// ThreadGroupGrid returns the thread-group-grid sizes.
func (s *Schedule) ThreadGroupGrid() [3]int { return s.tgGrid }

// SetView registers the iteration variables of a view as root variables.
// A variable shared between views (the usual case for source/destination
// pairs) must declare the same extent everywhere.
func (s *Schedule) SetView(v *ir.View) {
	s.checkMutable("SetView")
	for i, va := range v.VVars() {
		dim := v.VDims()[i]
		if n, ok := s.nodes[va]; ok {
			if n.bound != dim {
				exceptions.Panicf("schedule: variable %q registered with extent %d, view declares %d",
					va.Name, n.bound, dim)
			}
			continue
		}
		s.addNode(&node{v: va, bound: dim})
	}
}

func (s *Schedule) addNode(n *node) {
	s.nodes[n.v] = n
	s.creation = append(s.creation, n)
}

func (s *Schedule) lookup(va *ir.Var) *node {
	n, ok := s.nodes[va]
	if !ok {
		exceptions.Panicf("schedule: unknown variable %q", va.Name)
	}
	return n
}

func (s *Schedule) leaf(va *ir.Var, op string) *node {
	n := s.lookup(va)
	if !n.isLeaf() {
		exceptions.Panicf("schedule: %s(%s): variable already split or fused", op, va.Name)
	}
	if n.role != roleNone {
		exceptions.Panicf("schedule: %s(%s): variable already resolved", op, va.Name)
	}
	return n
}

func (s *Schedule) checkMutable(op string) {
	if s.finalized {
		exceptions.Panicf("schedule: %s after Finalize", op)
	}
}

// Split derives an (outer, inner) pair from va: inner ranges over factor and
// outer over ceil(bound/factor), so the product of the split bounds covers
// the original bound.
func (s *Schedule) Split(va *ir.Var, factor int64, outerName, innerName string) (*ir.Var, *ir.Var) {
	s.checkMutable("Split")
	n := s.leaf(va, "Split")
	if factor < 1 || factor > n.bound {
		exceptions.Panicf("schedule: Split(%s, %d): factor out of range for bound %d",
			va.Name, factor, n.bound)
	}
	outer := &node{v: ir.NewVar(outerName, s32), bound: (n.bound + factor - 1) / factor}
	inner := &node{v: ir.NewVar(innerName, s32), bound: factor}
	n.outer, n.inner = outer, inner
	s.addNode(outer)
	s.addNode(inner)
	return outer.v, inner.v
}

// Fuse merges independent variables into a single combined index over the
// product of their bounds, preserving row-major composition order (the first
// variable varies slowest).
func (s *Schedule) Fuse(vas ...*ir.Var) *ir.Var {
	s.checkMutable("Fuse")
	if len(vas) == 0 {
		exceptions.Panicf("schedule: Fuse of no variables")
	}
	if len(vas) == 1 {
		return vas[0]
	}
	bound := int64(1)
	name := ""
	parts := make([]*node, len(vas))
	for i, va := range vas {
		parts[i] = s.leaf(va, "Fuse")
		bound *= parts[i].bound
		if i > 0 {
			name += "_"
		}
		name += va.Name
	}
	fused := &node{v: ir.NewVar(name+"_f", s32), bound: bound, parts: parts}
	for i, p := range parts {
		p.fusedInto = fused
		p.fusePos = i
	}
	s.addNode(fused)
	return fused.v
}

// Bind assigns a leaf variable to one axis of the kernel-grid or
// thread-group level. Each axis takes at most one variable.
func (s *Schedule) Bind(va *ir.Var, axis Axis) {
	s.checkMutable("Bind")
	n := s.leaf(va, "Bind")
	if axis.Dim < 0 || axis.Dim >= 3 {
		exceptions.Panicf("schedule: Bind(%s): axis dim %d out of range", va.Name, axis.Dim)
	}
	if prev, ok := s.boundByAxis[axis]; ok {
		exceptions.Panicf("schedule: Bind(%s): axis already bound to %q", va.Name, prev.v.Name)
	}
	n.role = roleBound
	n.axis = axis
	s.boundByAxis[axis] = n
}

// Tensorize marks a leaf variable as resolved at the innermost vector-lane
// granularity; it receives no loop and no binding.
func (s *Schedule) Tensorize(va *ir.Var) {
	s.checkMutable("Tensorize")
	n := s.leaf(va, "Tensorize")
	n.role = roleTensorized
}

// Finalize locks the schedule. Unresolved leaves become serial per-thread
// loops, in creation order.
func (s *Schedule) Finalize() {
	s.checkMutable("Finalize")
	for _, n := range s.creation {
		if n.isLeaf() && n.outer == nil && n.role == roleNone {
			n.role = roleSerial
			s.serial = append(s.serial, n)
		}
	}
	s.finalized = true
}

func (s *Schedule) checkFinalized(op string) {
	if !s.finalized {
		exceptions.Panicf("schedule: %s before Finalize", op)
	}
}

// VarBound returns the concrete bound of any schedule variable.
func (s *Schedule) VarBound(va *ir.Var) int64 {
	return s.lookup(va).bound
}

// Expand resolves a variable to a closed-form index expression over the
// bound hierarchy coordinates and serial loop variables. Tensorized leaves
// contribute zero: the expansion addresses the start of the per-thread tile.
func (s *Schedule) Expand(va *ir.Var) ir.Expr {
	s.checkFinalized("Expand")
	return ir.Fold(s.nodeExpr(s.lookup(va)))
}

func (s *Schedule) nodeExpr(n *node) ir.Expr {
	switch {
	case n.outer != nil:
		return ir.Add(ir.Mul(s.nodeExpr(n.outer), ir.I(n.inner.bound)), s.nodeExpr(n.inner))
	case n.fusedInto != nil:
		f := n.fusedInto
		stride := int64(1)
		for i := len(f.parts) - 1; i > n.fusePos; i-- {
			stride *= f.parts[i].bound
		}
		e := s.nodeExpr(f)
		if stride > 1 {
			e = ir.Div(e, ir.I(stride))
		}
		if n.fusePos > 0 {
			e = ir.Mod(e, ir.I(n.bound))
		}
		return e
	case n.role == roleTensorized:
		return ir.I(0)
	default:
		return n.v
	}
}

// tensorizedExtent returns the product of tensorized leaf bounds reachable
// from n.
func (s *Schedule) tensorizedExtent(n *node) int64 {
	if n.outer != nil {
		return s.tensorizedExtent(n.outer) * s.tensorizedExtent(n.inner)
	}
	if n.role == roleTensorized {
		return n.bound
	}
	return 1
}

// ThreadViewTile computes the per-thread tile of a view: extents are the
// tensorized footprint of each iteration variable, starts are the expanded
// index expressions.
func (s *Schedule) ThreadViewTile(v *ir.View) ir.Tile {
	s.checkFinalized("ThreadViewTile")
	vvars := v.VVars()
	tile := ir.Tile{
		Dims:  make([]int64, len(vvars)),
		Start: make([]ir.Expr, len(vvars)),
	}
	for i, va := range vvars {
		n := s.lookup(va)
		tile.Dims[i] = s.tensorizedExtent(n)
		tile.Start[i] = s.Expand(va)
	}
	return tile
}

// CreateLoopNest wraps body in the serial per-thread loops, first-created
// loop outermost.
func (s *Schedule) CreateLoopNest(body ir.Stmt) ir.Stmt {
	s.checkFinalized("CreateLoopNest")
	for i := len(s.serial) - 1; i >= 0; i-- {
		body = ir.NewFor(s.serial[i].v, s.serial[i].bound, body)
	}
	return body
}

// CreateBindStmt wraps stmt in bindings of the grid-bound variables to the
// hardware index variables of their axes.
func (s *Schedule) CreateBindStmt(stmt ir.Stmt) ir.Stmt {
	s.checkFinalized("CreateBindStmt")
	for _, axis := range allAxes() {
		n, ok := s.boundByAxis[axis]
		if !ok {
			continue
		}
		idx := s.kgIdx[axis.Dim]
		if axis.Level == LevelThreadGroup {
			idx = s.tgIdx[axis.Dim]
		}
		stmt = ir.NewLet(n.v, idx, stmt)
	}
	return stmt
}

func allAxes() []Axis {
	axes := make([]Axis, 0, 6)
	for d := 0; d < 3; d++ {
		axes = append(axes, ThreadGroupAxis(d))
	}
	for d := 0; d < 3; d++ {
		axes = append(axes, KernelGridAxis(d))
	}
	return axes
}

// MaxLoopIndex resolves the largest value e can take under the schedule: a
// pure function substituting every schedule variable (loop counters and
// hierarchy coordinates alike) with its bound minus one and folding the
// result to a constant.
func MaxLoopIndex(s *Schedule, e ir.Expr) int64 {
	s.checkFinalized("MaxLoopIndex")
	sub := ir.MutateExpr(e, func(e ir.Expr) ir.Expr {
		if va, ok := e.(*ir.Var); ok {
			return ir.I(s.lookup(va).bound - 1)
		}
		return e
	})
	v, ok := ir.AsInt(ir.Fold(sub))
	if !ok {
		exceptions.Panicf("schedule: MaxLoopIndex: expression %s does not fold to a constant", e)
	}
	return v
}
