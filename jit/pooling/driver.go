package pooling

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/crazydemo/oneDNN/jit/ir"
	"github.com/crazydemo/oneDNN/jit/postops"
)

// Program is a finished kernel: the lowered instruction tree, the dispatch
// sizes and the estimated peak register usage that made it feasible.
type Program struct {
	Body     ir.Stmt
	Range    ir.NDRange
	PeakRegs int
}

type buildState int

const (
	stateAttempting buildState = iota
	stateDone
)

var shrinkPrimes = [...]int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31}

// reduceDim peels the smallest prime factor of dn (keeping dn a multiple of
// scale) into up. When no listed prime divides dn/scale it moves everything
// above scale at once.
func reduceDim(dn, up, scale int) (int, int) {
	for _, p := range shrinkPrimes {
		if dn%(p*scale) == 0 {
			return dn / p, up * p
		}
	}
	return scale, up * dn / scale
}

// shrinkGrids moves per-thread work onto the kernel grid: the batch axis
// first, then the vectorized channel axis down to the device vector width.
// ok is false when the loop grid is already minimal.
func shrinkGrids(lg [8]int, kg [3]int, simd int) ([8]int, [3]int, bool) {
	switch {
	case lg[0] > 1:
		lg[0], kg[1] = reduceDim(lg[0], kg[1], 1)
	case lg[1]/simd > 1:
		lg[1], kg[0] = reduceDim(lg[1], kg[0], simd)
	default:
		return lg, kg, false
	}
	return lg, kg, true
}

// Build runs the adaptive retry loop: assemble, estimate, and shrink the
// work distribution until the kernel fits the register budget. cfg's grid
// triple is mutated between attempts; each attempt sees it read-only. ki
// receives the ND-range of every configuration tried, so a successful
// return leaves it holding the launch sizes of the finished program.
func Build(cfg *Config, ki *KernelInfo, ops []postops.PostOp) (*Program, error) {
	ki.SetNDRange(cfg.NDRange())

	var prog *Program
	for state := stateAttempting; state != stateDone; {
		body, regs, ok := tryBuild(cfg, ki, ops)
		if ok {
			prog = &Program{Body: body, Range: ki.NDRange(), PeakRegs: regs}
			state = stateDone
			continue
		}

		klog.Warningf("pooling: loop grid too large (%d regs > budget %d), reduce and retry", regs, cfg.Exec.Regs)
		lg, kg, shrunk := shrinkGrids(cfg.LoopGrid, cfg.KernelGrid, cfg.Exec.SIMD)
		if !shrunk {
			return nil, errors.Errorf("pooling: minimal loop grid still needs %d regs (budget %d)",
				regs, cfg.Exec.Regs)
		}
		cfg.LoopGrid = lg
		cfg.KernelGrid = kg
		ki.SetNDRange(cfg.NDRange())
	}
	return prog, nil
}
