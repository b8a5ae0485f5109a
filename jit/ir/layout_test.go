package ir

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestDimsTo3D(t *testing.T) {
	// 2-spatial shapes pad a leading broadcast axis.
	require.Equal(t, []int64{2, 16, 1, 7, 9}, DimsTo3D([]int64{2, 16, 7, 9}))
	// 1-spatial shapes pad two.
	require.Equal(t, []int64{2, 16, 1, 1, 9}, DimsTo3D([]int64{2, 16, 9}))
	// 3-spatial shapes pass through.
	require.Equal(t, []int64{2, 16, 3, 7, 9}, DimsTo3D([]int64{2, 16, 3, 7, 9}))
	// Extra trailing spatials merge into the canonical innermost axis.
	require.Equal(t, []int64{2, 16, 3, 5, 7 * 9}, DimsTo3D([]int64{2, 16, 3, 5, 7, 9}))
	// Rank 2 becomes all-broadcast spatials.
	require.Equal(t, []int64{2, 16, 1, 1, 1}, DimsTo3D([]int64{2, 16}))
}

func TestReshapeRank(t *testing.T) {
	require.Equal(t, []int64{4, 8, 1, 1}, ReshapeRank([]int64{4, 8}, 4))
	require.Equal(t, []int64{4, 8, 3}, ReshapeRank([]int64{4, 8, 3}, 3))
}

func TestSpatialsTo3D(t *testing.T) {
	u8 := ScalarType(dtypes.Uint8)
	// Channels-innermost rank-4 layout: blocks (c:1, w:C, h:C*W, mb:C*W*H).
	l := NewLayout(u8, 4, 0, []Block{
		{Axis: 1, Extent: 16, Stride: 1},
		{Axis: 3, Extent: 9, Stride: 16},
		{Axis: 2, Extent: 7, Stride: 16 * 9},
		{Axis: 0, Extent: 2, Stride: 16 * 9 * 7},
	})
	c := SpatialsTo3D(l)
	require.Equal(t, CanonicalRank, c.NDims)
	require.Equal(t, []int64{2, 16, 1, 7, 9}, c.Dims())
	// Block strides are untouched, only axis numbers move.
	require.Equal(t, int64(1), c.InnermostBlock(1).Stride)
	require.Equal(t, int64(16), c.InnermostBlock(4).Stride)
	require.Equal(t, int64(16*9), c.InnermostBlock(3).Stride)
}

func TestNormalizeMaskRoundTrip(t *testing.T) {
	// 5-D logical shape (2 + three spatials) is already canonical.
	require.Equal(t, uint32(0b00010), NormalizeMask(0b00010, 5))
	require.Equal(t, uint32(0b10100), NormalizeMask(0b10100, 5))

	// 6-D logical shape: the two trailing pre-reduction axes collapse to
	// the single canonical trailing axis.
	require.Equal(t, uint32(0b10000), NormalizeMask(0b110000, 6))
	require.Equal(t, uint32(0b10000), NormalizeMask(0b100000, 6))
	// Kept spatial axes stay where the reduction puts them.
	require.Equal(t, uint32(0b00100), NormalizeMask(0b000100, 6))
	// Non-spatial bits never move.
	require.Equal(t, uint32(0b00011), NormalizeMask(0b000011, 6))

	// 4-D logical shape: spatials shift toward the trailing canonical axes.
	require.Equal(t, uint32(0b10000), NormalizeMask(0b1000, 4))
	require.Equal(t, uint32(0b01000), NormalizeMask(0b0100, 4))
}

func TestLayoutOffsets(t *testing.T) {
	f32 := ScalarType(dtypes.Float32)
	l := DenseLayout(f32, 2, 3, 4)
	require.Equal(t, int64(2*3*4), l.Size())
	require.Equal(t, int64(0), l.ElemOffset([]int64{0, 0, 0}))
	require.Equal(t, int64(1), l.ElemOffset([]int64{0, 0, 1}))
	require.Equal(t, int64(4), l.ElemOffset([]int64{0, 1, 0}))
	require.Equal(t, int64(12+4+3), l.ElemOffset([]int64{1, 1, 3}))

	off := l.OffsetExpr([]Expr{I(1), I(1), I(3)})
	v, ok := AsInt(off)
	require.True(t, ok)
	require.Equal(t, int64(19), v)
}

func TestLayoutForEachTile(t *testing.T) {
	u8 := ScalarType(dtypes.Uint8)
	l := DenseLayout(u8, 2, 4)
	var starts [][]int64
	l.ForEachTile([]int64{1, 2}, func(s []int64) {
		starts = append(starts, s)
	})
	require.Equal(t, [][]int64{{0, 0}, {0, 2}, {1, 0}, {1, 2}}, starts)
}

func TestRegLayoutVecInnermost(t *testing.T) {
	f32 := ScalarType(dtypes.Float32)
	l := RegLayout(f32, []int64{2, 16, 1, 3, 1}, 1)
	require.Equal(t, int64(2*16*3), l.Size())
	// Vector axis has unit stride.
	require.Equal(t, int64(1), l.InnermostBlock(1).Stride)
	require.Equal(t, int64(1), l.ElemOffset([]int64{0, 1, 0, 0, 0}))
	require.Equal(t, int64(16), l.ElemOffset([]int64{0, 0, 0, 1, 0}))
	require.Equal(t, int64(16*3), l.ElemOffset([]int64{1, 0, 0, 0, 0}))
}

func TestSplitIntoMaxTile(t *testing.T) {
	f32 := ScalarType(dtypes.Float32)

	// Vector axis wider than the budget: the tile takes exactly the
	// budget from it.
	l := RegLayout(f32, []int64{2, 32, 1, 3, 1}, 1)
	require.Equal(t, []int64{1, 16, 1, 1, 1}, l.SplitIntoMaxTile(16))

	// Vector axis equal to the budget.
	l = RegLayout(f32, []int64{2, 16, 1, 3, 1}, 1)
	require.Equal(t, []int64{1, 16, 1, 1, 1}, l.SplitIntoMaxTile(16))

	// Undersized vector axis: the tile absorbs the next block too and
	// spans two axes.
	l = RegLayout(f32, []int64{1, 8, 1, 2, 1}, 1)
	require.Equal(t, []int64{1, 8, 1, 2, 1}, l.SplitIntoMaxTile(16))

	// Misaligned block: nothing of it fits, the tile stops short.
	l = RegLayout(f32, []int64{1, 6, 1, 1, 1}, 1)
	require.Equal(t, []int64{1, 1, 1, 1, 1}, l.SplitIntoMaxTile(4))
}
