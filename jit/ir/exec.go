package ir

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// ExecConfig is the device capability descriptor the generator sizes
// buffers against: vector width, register count and register granularity.
type ExecConfig struct {
	// SIMD is the vector-lane width of the target.
	SIMD int
	// Regs is the register budget of one thread.
	Regs int
	// GRFSize is the size of one register in bytes.
	GRFSize int
}

func (e ExecConfig) Validate() {
	if e.SIMD < 1 || e.Regs < 1 || e.GRFSize < 1 {
		exceptions.Panicf("ir.ExecConfig: invalid capability descriptor %+v", e)
	}
}

// RegBytes returns the total register-file bytes of one thread.
func (e ExecConfig) RegBytes() int { return e.Regs * e.GRFSize }

func (e ExecConfig) String() string {
	return fmt.Sprintf("simd%d regs%d grf%d", e.SIMD, e.Regs, e.GRFSize)
}

// NDRange is the 3-D dispatch size pair handed to the device layer.
type NDRange struct {
	Global [3]int
	Local  [3]int
}

func (n NDRange) String() string {
	return fmt.Sprintf("global %v local %v", n.Global, n.Local)
}
