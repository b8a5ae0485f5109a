package pass

import "github.com/crazydemo/oneDNN/jit/ir"

// PeakRegs estimates the peak register usage of a lowered kernel body, in
// whole registers of grfSize bytes. Register allocations count their full
// rounded size for as long as their scope is open; scalar bindings and loop
// counters each occupy one register. The estimate is conservative: it never
// reports fewer registers than a real allocator would need for the same
// lifetimes.
func PeakRegs(stmt ir.Stmt, grfSize int) int {
	switch s := stmt.(type) {
	case nil:
		return 0
	case *ir.Seq:
		peak := 0
		for _, sub := range s.Stmts {
			if p := PeakRegs(sub, grfSize); p > peak {
				peak = p
			}
		}
		return peak
	case *ir.Store, *ir.Send:
		return 0
	case *ir.Let:
		return regsOf(s.V.T, grfSize) + PeakRegs(s.Body, grfSize)
	case *ir.If:
		then := PeakRegs(s.Then, grfSize)
		if els := PeakRegs(s.Else, grfSize); els > then {
			return els
		}
		return then
	case *ir.For:
		return 1 + PeakRegs(s.Body, grfSize)
	case *ir.Alloc:
		own := 0
		if s.Kind == ir.AllocGRF {
			own = (s.Size + grfSize - 1) / grfSize
		}
		return own + PeakRegs(s.Body, grfSize)
	case *ir.Group:
		return PeakRegs(s.Body, grfSize)
	}
	return 0
}

func regsOf(t ir.Type, grfSize int) int {
	if t.IsPtr() {
		return 1
	}
	n := (t.Size() + grfSize - 1) / grfSize
	if n < 1 {
		n = 1
	}
	return n
}
