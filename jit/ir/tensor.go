package ir

import "github.com/gomlx/gopjrt/dtypes"

// TensorDesc is the physical shape descriptor of one kernel operand as
// produced by upstream descriptor validation: logical extents, padded
// (physically allocated) extents and the memory layout.
type TensorDesc struct {
	DType      dtypes.DType
	Dims       []int64
	PaddedDims []int64
	Layout     Layout
}

// DenseTensorDesc builds a descriptor with a row-major layout and no
// physical padding.
func DenseTensorDesc(dt dtypes.DType, dims ...int64) TensorDesc {
	return TensorDesc{
		DType:      dt,
		Dims:       dims,
		PaddedDims: append([]int64(nil), dims...),
		Layout:     DenseLayout(ScalarType(dt), dims...),
	}
}

// Rank returns the logical rank of the descriptor.
func (d TensorDesc) Rank() int { return len(d.Dims) }
