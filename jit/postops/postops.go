// Package postops implements the fused epilogue stage: the elementwise
// operations (activation, binary combine, bias) applied to a reduction
// result before the final store.
//
// The primitive supplying the computation provides a ViewMapper capability
// so auxiliary operands (biases, binary right-hand sides) are addressed
// under the same canonicalization and bounds-mask rules as the main
// tensors; the default mapper serves plain elementwise primitives and the
// reduction domain supplies its own specialization.
package postops

import (
	"github.com/gomlx/exceptions"

	"github.com/crazydemo/oneDNN/jit/ir"
)

// ViewMapper adapts operand descriptors to the computation's iteration
// space.
type ViewMapper interface {
	// CreateViewForMask builds a view of a virtual operand broadcast
	// along every axis whose bit is clear in mask.
	CreateViewForMask(t ir.Type, mask uint32) *ir.View
	// CreateViewForDesc builds a view of a physical operand descriptor.
	CreateViewForDesc(desc ir.TensorDesc) *ir.View
	// NeedToRestoreZeroPadding reports whether out-of-logical-range
	// (padding) elements must be re-zeroed by the stores this stage
	// emits, rather than skipped.
	NeedToRestoreZeroPadding() bool
}

// BaseViewMapper implements ViewMapper directly over the computation view;
// it fits primitives whose operands are already in canonical rank.
type BaseViewMapper struct {
	cp *ir.View
}

var _ ViewMapper = BaseViewMapper{}

// NewBaseViewMapper creates the default mapper over the computation view.
func NewBaseViewMapper(cpView *ir.View) BaseViewMapper {
	return BaseViewMapper{cp: cpView}
}

// CPView returns the computation view.
func (m BaseViewMapper) CPView() *ir.View { return m.cp }

// CreateViewForMask implements ViewMapper.
func (m BaseViewMapper) CreateViewForMask(t ir.Type, mask uint32) *ir.View {
	cpDims := m.cp.VDims()
	dims := make([]int64, len(cpDims))
	for i := range dims {
		dims[i] = 1
		if mask&(1<<i) != 0 {
			dims[i] = cpDims[i]
		}
	}
	layout := ir.DenseLayout(t.Scalar(), dims...)
	return ir.NewIdentityView(layout, m.cp.VVars(), dims, 0)
}

// CreateViewForDesc implements ViewMapper for descriptors already in
// canonical rank.
func (m BaseViewMapper) CreateViewForDesc(desc ir.TensorDesc) *ir.View {
	if desc.Rank() != m.cp.NVDims() {
		exceptions.Panicf("postops: operand rank %d != computation rank %d", desc.Rank(), m.cp.NVDims())
	}
	return m.ViewForCanonical(desc.Layout, desc.Dims, desc.PaddedDims)
}

// NeedToRestoreZeroPadding implements ViewMapper; plain elementwise
// primitives overwrite every padded element they own, so nothing needs
// re-zeroing.
func (m BaseViewMapper) NeedToRestoreZeroPadding() bool { return false }

// ViewForCanonical builds an operand view from canonical-rank layout and
// extents, deriving the bounds-check mask: an axis needs checking when it is
// not broadcast and either its padded extent differs from the computation
// tensor's, or the computation view already checks it.
func (m BaseViewMapper) ViewForCanonical(layout ir.Layout, dims, padDims []int64) *ir.View {
	cpNDims := m.cp.NTDims()
	if layout.NDims != cpNDims {
		exceptions.Panicf("postops: incompatible dimensions: operand rank %d, computation rank %d",
			layout.NDims, cpNDims)
	}
	var boundsCheckMask uint32
	for i := 0; i < cpNDims; i++ {
		if dims[i] == 1 {
			continue // Broadcast, no bound check needed.
		}
		if padDims[i] != m.cp.TLayout().Dim(i) || m.cp.HasTMask(i) {
			boundsCheckMask |= 1 << i
		}
	}
	return ir.NewIdentityView(layout, m.cp.VVars()[:cpNDims], dims, boundsCheckMask)
}
