package pooling

import (
	"github.com/gomlx/exceptions"

	"github.com/crazydemo/oneDNN/jit/ir"
)

// KernelInfo is the dispatch-layer handoff: the ordered kernel arguments
// (source, destination, then any post-op operands) and the ND-range the
// finished kernel launches with. Binary post-ops reference their operand by
// argument index.
type KernelInfo struct {
	names []string
	vars  []*ir.Var
	rng   ir.NDRange
}

// NewKernelInfo creates the argument list with the source and destination
// buffers at indices 0 and 1.
func NewKernelInfo() *KernelInfo {
	ki := &KernelInfo{}
	ki.AddArg("src", ir.BytePtr())
	ki.AddArg("dst", ir.BytePtr())
	return ki
}

// AddArg appends a kernel argument and returns its variable.
func (ki *KernelInfo) AddArg(name string, t ir.Type) *ir.Var {
	v := ir.NewVar(name, t)
	ki.names = append(ki.names, name)
	ki.vars = append(ki.vars, v)
	return v
}

// NArgs returns the number of kernel arguments.
func (ki *KernelInfo) NArgs() int { return len(ki.vars) }

// ArgVar returns the variable of argument i.
func (ki *KernelInfo) ArgVar(i int) *ir.Var {
	if i < 0 || i >= len(ki.vars) {
		exceptions.Panicf("pooling: kernel argument %d out of range (%d args)", i, len(ki.vars))
	}
	return ki.vars[i]
}

// ArgName returns the name of argument i.
func (ki *KernelInfo) ArgName(i int) string { return ki.names[i] }

// SetNDRange records the dispatch sizes of the current grid triple.
func (ki *KernelInfo) SetNDRange(r ir.NDRange) { ki.rng = r }

// NDRange returns the recorded dispatch sizes.
func (ki *KernelInfo) NDRange() ir.NDRange { return ki.rng }
