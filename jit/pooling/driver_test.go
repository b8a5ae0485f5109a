package pooling

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crazydemo/oneDNN/jit/ir"
)

func TestReduceDim(t *testing.T) {
	dn, up := reduceDim(4, 3, 1)
	require.Equal(t, 2, dn)
	require.Equal(t, 6, up)

	// The scale keeps the vectorized axis a multiple of the device width.
	dn, up = reduceDim(32, 5, 16)
	require.Equal(t, 16, dn)
	require.Equal(t, 10, up)

	dn, up = reduceDim(7, 1, 1)
	require.Equal(t, 1, dn)
	require.Equal(t, 7, up)

	// No listed prime divides: everything above the scale moves at once.
	dn, up = reduceDim(37, 2, 1)
	require.Equal(t, 1, dn)
	require.Equal(t, 74, up)

	dn, up = reduceDim(48, 1, 16)
	require.Equal(t, 16, dn)
	require.Equal(t, 3, up)
}

func TestShrinkGrids(t *testing.T) {
	lg := [8]int{4, 16, 1, 1, 1, 1, 3, 3}
	kg := [3]int{2, 4, 2}

	// Batch first.
	lg, kg, ok := shrinkGrids(lg, kg, 16)
	require.True(t, ok)
	require.Equal(t, [8]int{2, 16, 1, 1, 1, 1, 3, 3}, lg)
	require.Equal(t, [3]int{2, 8, 2}, kg)

	lg, kg, ok = shrinkGrids(lg, kg, 16)
	require.True(t, ok)
	require.Equal(t, 1, lg[0])
	require.Equal(t, [3]int{2, 16, 2}, kg)

	// Then the channel axis, down to the vector width.
	lg[1] = 32
	lg, kg, ok = shrinkGrids(lg, kg, 16)
	require.True(t, ok)
	require.Equal(t, 16, lg[1])
	require.Equal(t, [3]int{4, 16, 2}, kg)

	// Minimal grid: nothing left to move.
	_, _, ok = shrinkGrids(lg, kg, 16)
	require.False(t, ok)
}

func TestKernelInfoArgs(t *testing.T) {
	ki := NewKernelInfo()
	require.Equal(t, 2, ki.NArgs())
	require.Equal(t, "src", ki.ArgName(0))
	require.Equal(t, "dst", ki.ArgName(1))

	bias := ki.AddArg("bias", ir.BytePtr())
	require.Equal(t, 3, ki.NArgs())
	require.Same(t, bias, ki.ArgVar(2))
	require.Panics(t, func() { ki.ArgVar(3) })
}

func TestBuildFitsBudget(t *testing.T) {
	cfg := exactPoolConfig(t, 128)
	ki := NewKernelInfo()

	prog, err := Build(&cfg, ki, nil)
	require.NoError(t, err)
	require.NotNil(t, prog.Body)
	require.Greater(t, prog.PeakRegs, 0)
	require.LessOrEqual(t, prog.PeakRegs, cfg.Exec.Regs)
	require.Equal(t, cfg.NDRange(), prog.Range)
	require.Equal(t, prog.Range, ki.NDRange())

	g, isGroup := prog.Body.(*ir.Group)
	require.True(t, isGroup)
	require.Equal(t, "kernel", g.Label)
}

func TestBuildBudgetExhausted(t *testing.T) {
	cfg := exactPoolConfig(t, 1)
	ki := NewKernelInfo()

	prog, err := Build(&cfg, ki, nil)
	require.Error(t, err)
	require.Nil(t, prog)

	// The grid was already minimal: batch footprint one, channel
	// footprint at the vector width.
	require.Equal(t, 1, cfg.LoopGrid[0])
	require.Equal(t, cfg.Exec.SIMD, cfg.LoopGrid[1])
}
