package ir

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/exceptions"
)

// Tile selects a box of an iteration space: per-variable extents plus
// symbolic start coordinates.
type Tile struct {
	Dims  []int64
	Start []Expr
}

// Elems returns the number of points in the tile.
func (t Tile) Elems() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// Placeholder stands for "the target coordinate of this axis" inside a
// bounds-check mask expression; it is substituted with the actual coordinate
// when an access is emitted.
var Placeholder = NewVar("x", ScalarType(dtypes.Int32))

// tdim maps one target (physical-layout) axis: an index expression over the
// view's iteration variables, plus an optional bounds-check mask over
// Placeholder.
type tdim struct {
	index Expr
	mask  Expr
}

// View is an ordered list of iteration variables with declared extents
// (virtual dims), plus an expression per target-layout axis mapping those
// variables to a physical coordinate, an optional bounds predicate per axis
// and the physical layout being addressed.
//
// The iteration variables may outnumber the target axes: a windowed source
// view folds output and window variables into one strided coordinate.
type View struct {
	vvars   []*Var
	vdims   []int64
	tdims   []tdim
	tlayout Layout
}

// NewView creates a view over the given iteration variables addressing a
// target layout of rank ndims. Virtual dims, target dims and the layout are
// filled in with the Set methods.
func NewView(vvars []*Var, ndims int) *View {
	return &View{
		vvars: vvars,
		vdims: make([]int64, len(vvars)),
		tdims: make([]tdim, ndims),
	}
}

// NewIdentityView creates a view that addresses layout directly: one
// iteration variable per axis, with a bounds-check mask (coordinate < dim)
// on every axis whose bit is set in boundsCheckMask. Broadcast axes
// (extent 1) never require checking; asking for one is a configuration
// inconsistency.
func NewIdentityView(layout Layout, vvars []*Var, dims []int64, boundsCheckMask uint32) *View {
	if len(vvars) != layout.NDims || len(dims) != layout.NDims {
		exceptions.Panicf("ir.NewIdentityView: rank mismatch: %d vars, %d dims, layout rank %d",
			len(vvars), len(dims), layout.NDims)
	}
	v := NewView(vvars, layout.NDims)
	for i, va := range vvars {
		v.SetVDim(va, dims[i])
		var mask Expr
		if boundsCheckMask&(1<<i) != 0 {
			if dims[i] == 1 {
				exceptions.Panicf("ir.NewIdentityView: bounds check requested on broadcast axis %d", i)
			}
			mask = Lt(Placeholder, I(dims[i]))
		}
		v.SetTDim(i, va, mask)
	}
	v.SetTLayout(layout)
	return v
}

// NVDims returns the number of iteration variables.
func (v *View) NVDims() int { return len(v.vvars) }

// NTDims returns the number of target axes.
func (v *View) NTDims() int { return len(v.tdims) }

// VVars returns the iteration variables.
func (v *View) VVars() []*Var { return v.vvars }

// VDim returns the declared extent of an iteration variable.
func (v *View) VDim(va *Var) int64 { return v.vdims[v.VVarIndex(va)] }

// VDims returns the declared extents of all iteration variables.
func (v *View) VDims() []int64 { return v.vdims }

// TLayout returns the physical layout the view addresses.
func (v *View) TLayout() Layout { return v.tlayout }

// VVarIndex returns the position of an iteration variable, or panics if the
// variable does not belong to the view.
func (v *View) VVarIndex(va *Var) int {
	for i, x := range v.vvars {
		if x == va {
			return i
		}
	}
	exceptions.Panicf("ir.View: variable %q is not an iteration variable of this view", va.Name)
	return -1
}

// SetVDim declares the extent of an iteration variable.
func (v *View) SetVDim(va *Var, dim int64) {
	if dim <= 0 {
		exceptions.Panicf("ir.View.SetVDim(%s): extent must be positive, got %d", va.Name, dim)
	}
	v.vdims[v.VVarIndex(va)] = dim
}

// SetTDim maps target axis i to an index expression over the iteration
// variables, with an optional bounds mask over Placeholder.
func (v *View) SetTDim(i int, index Expr, mask Expr) {
	v.tdims[i] = tdim{index: index, mask: mask}
}

// SetTLayout sets the physical layout. The target rank invariant (one index
// expression per layout axis) is a configuration-consistency requirement.
func (v *View) SetTLayout(l Layout) {
	if l.NDims != len(v.tdims) {
		exceptions.Panicf("ir.View.SetTLayout: layout rank %d != view target rank %d", l.NDims, len(v.tdims))
	}
	v.tlayout = l
}

// SetTMasks adds a bounds-check mask to every directly-mapped target axis
// whose iteration extent exceeds the physical extent, i.e. wherever padding
// the iteration space to the dispatch grid made out-of-range coordinates
// reachable. Axes with an explicit mask keep it.
func (v *View) SetTMasks(iterDims []int64) {
	for i := range v.tdims {
		td := &v.tdims[i]
		if td.mask != nil {
			continue
		}
		if _, ok := td.index.(*Var); !ok {
			continue
		}
		phys := v.tlayout.Dim(i)
		if iterDims[i] > phys {
			td.mask = Lt(Placeholder, I(phys))
		}
	}
}

// HasTMask reports whether target axis i carries a bounds-check mask.
func (v *View) HasTMask(i int) bool { return v.tdims[i].mask != nil }

// TIndex returns the index expression of target axis i.
func (v *View) TIndex(i int) Expr { return v.tdims[i].index }

// CreateSubView returns the view shifted to a tile of the iteration space:
// iteration extents become the tile dims and every index expression sees its
// variable offset by the tile start.
func (v *View) CreateSubView(tile Tile) *View {
	if len(tile.Dims) != len(v.vvars) {
		exceptions.Panicf("ir.View.CreateSubView: tile rank %d != view rank %d", len(tile.Dims), len(v.vvars))
	}
	shift := make(map[*Var]Expr, len(v.vvars))
	for i, va := range v.vvars {
		start := tile.Start[i]
		if start == nil {
			start = I(0)
		}
		shift[va] = Fold(Add(va, start))
	}
	sub := NewView(v.vvars, len(v.tdims))
	copy(sub.vdims, tile.Dims)
	for i, td := range v.tdims {
		sub.tdims[i] = tdim{index: Substitute(td.index, shift), mask: td.mask}
	}
	sub.tlayout = v.tlayout
	return sub
}

// Access resolves the view at the given per-variable coordinates: it returns
// the element offset expression into the target layout and the combined
// bounds-check mask (nil when no axis needs checking).
func (v *View) Access(vals map[*Var]Expr) (off Expr, mask Expr) {
	coords := make([]Expr, len(v.tdims))
	for i, td := range v.tdims {
		coords[i] = Fold(Substitute(td.index, vals))
		if td.mask != nil {
			m := Fold(SubstituteVar(td.mask, Placeholder, coords[i]))
			if mask == nil {
				mask = m
			} else {
				mask = And(mask, m)
			}
		}
	}
	return v.tlayout.OffsetExpr(coords), mask
}

// AccessVec resolves the view for one vector of lanes along vecVar: the
// offset addresses the first lane, and any bounds predicate on a target axis
// the vector runs along is evaluated per lane, with the lane index added to
// the axis coordinate. Predicates on other axes stay scalar; the combined
// mask is vector-typed as soon as any per-lane predicate contributes.
func (v *View) AccessVec(vals map[*Var]Expr, vecVar *Var, lanes int) (off Expr, mask Expr) {
	coords := make([]Expr, len(v.tdims))
	for i, td := range v.tdims {
		coords[i] = Fold(Substitute(td.index, vals))
	}
	for i, td := range v.tdims {
		if td.mask == nil {
			continue
		}
		coord := coords[i]
		if ContainsVar(td.index, vecVar) {
			coord = Add(NewBroadcast(coord, lanes), NewLaneIndex(lanes))
		}
		m := Fold(SubstituteVar(td.mask, Placeholder, coord))
		if mask == nil {
			mask = m
		} else {
			mask = And(mask, m)
		}
	}
	return v.tlayout.OffsetExpr(coords), mask
}
