// Package pooling generates device kernels for windowed-reduction
// ("pooling") operators: max or average reduction over a sliding window,
// forward or backward. Given an operator configuration and a device
// capability descriptor it assembles an instruction tree plus the 3-D
// dispatch sizes, retrying with a smaller per-thread work distribution
// whenever the estimated register footprint exceeds the device budget.
package pooling

import (
	"fmt"

	"github.com/gomlx/exceptions"

	"github.com/crazydemo/oneDNN/jit/ir"
)

// Alg selects the reduction variant.
type Alg int

const (
	AlgMax Alg = iota
	AlgAvgIncludePadding
	AlgAvgExcludePadding
)

func (a Alg) String() string {
	switch a {
	case AlgMax:
		return "max"
	case AlgAvgIncludePadding:
		return "avg_p"
	case AlgAvgExcludePadding:
		return "avg_np"
	}
	return fmt.Sprintf("alg(%d)", int(a))
}

// PoolConf is the operator configuration: shapes, window geometry and the
// algorithm variant. It comes validated from upstream descriptor checks and
// stays immutable for the whole build.
type PoolConf struct {
	MB, C int64

	ID, IH, IW int64
	OD, OH, OW int64
	KD, KH, KW int64

	StrideD, StrideH, StrideW int64
	DilD, DilH, DilW          int64
	PadF, PadT, PadL          int64

	Alg        Alg
	IsBackward bool

	// Spatials is the spatial rank of the logical operator (1 to 3 for a
	// native shape, more when extra spatials were merged away upstream).
	Spatials int
}

// NewPoolConf validates the window arithmetic and returns the
// configuration. Inconsistencies are a caller contract violation and panic.
func NewPoolConf(conf PoolConf) PoolConf {
	if conf.MB < 1 || conf.C < 1 {
		exceptions.Panicf("pooling: batch %d and channels %d must be positive", conf.MB, conf.C)
	}
	if conf.Spatials < 1 {
		exceptions.Panicf("pooling: spatial rank %d must be positive", conf.Spatials)
	}
	checkAxis := func(name string, o, i, k, stride, dil, pad int64) {
		if o < 1 || i < 1 || k < 1 || stride < 1 || dil < 0 || pad < 0 {
			exceptions.Panicf("pooling: invalid %s axis: o=%d i=%d k=%d stride=%d dilation=%d padding=%d",
				name, o, i, k, stride, dil, pad)
		}
		if (k-1)*(1+dil) >= i+2*pad {
			exceptions.Panicf("pooling: %s window %d (dilation %d) does not fit padded input %d+2*%d",
				name, k, dil, i, pad)
		}
		if (o-1)*stride-pad >= i {
			exceptions.Panicf("pooling: %s output %d starts past the input (stride %d, padding %d, input %d)",
				name, o, stride, pad, i)
		}
	}
	checkAxis("depth", conf.OD, conf.ID, conf.KD, conf.StrideD, conf.DilD, conf.PadF)
	checkAxis("height", conf.OH, conf.IH, conf.KH, conf.StrideH, conf.DilH, conf.PadT)
	checkAxis("width", conf.OW, conf.IW, conf.KW, conf.StrideW, conf.DilW, conf.PadL)
	return conf
}

// WindowVolume returns the static number of window elements.
func (c *PoolConf) WindowVolume() int64 { return c.KD * c.KH * c.KW }

// needSrcOrDstCheck reports whether a spatial axis can step outside the
// tensor the window walks over: the source on forward passes, the
// destination on backward. o/i are output/input extents, k the window, p the
// leading padding, s the stride and d the dilation.
func needSrcOrDstCheck(isFwd bool, o, i, k, p, s, d int64) bool {
	if isFwd {
		lo := -p
		hi := (o-1)*s - p + (k-1)*(1+d)
		return lo < 0 || hi >= i
	}
	lo := p - (k-1)*(1+d)
	hi := (i - 1) + p
	return lo < 0 || hi >= o*s
}

// Config is the full input of one build attempt: the operator, the device
// descriptor, the canonical-rank source/destination descriptors and the
// grid triple. The grid triple is derived once by DefaultConfig and mutated
// only by the retry driver between attempts; the assembler treats a Config
// as read-only.
type Config struct {
	Conf PoolConf
	Exec ir.ExecConfig

	SrcDesc ir.TensorDesc
	DstDesc ir.TensorDesc

	// KernelGrid and ThreadGroupGrid size the dispatch hierarchy;
	// LoopGrid is the per-thread footprint of each iteration axis in the
	// order mb, c, od, oh, ow, kd, kh, kw.
	KernelGrid      [3]int
	ThreadGroupGrid [3]int
	LoopGrid        [8]int

	// OutputScale multiplies the accumulator after the post-op sequence,
	// before the cast to the destination type. 1 is the identity.
	OutputScale float64

	// DimsPadded are the output iteration extents quantized up to whole
	// grid tiles, so every split in the schedule divides evenly:
	// DimsPadded[i] is a multiple of the axis's loop-grid times
	// thread-group footprint.
	DimsPadded [5]int64
}

// DefaultConfig derives the initial work distribution: the channel axis is
// vectorized by the device width, the window axes are fully unrolled, a few
// batch elements share a thread and the spatial axes spread over the
// thread-group and kernel grids.
func DefaultConfig(conf PoolConf, exec ir.ExecConfig, srcDesc, dstDesc ir.TensorDesc) Config {
	exec.Validate()
	cfg := Config{
		Conf:        conf,
		Exec:        exec,
		SrcDesc:     canonicalDesc(srcDesc, conf.Spatials),
		DstDesc:     canonicalDesc(dstDesc, conf.Spatials),
		OutputScale: 1,
	}

	lg := [8]int{
		int(min(conf.MB, 4)),
		exec.SIMD,
		1, 1, 1,
		int(conf.KD), int(conf.KH), int(conf.KW),
	}
	tg := [3]int{
		1,
		int(min((conf.OH+int64(lg[3])-1)/int64(lg[3]), 8)),
		int(min((conf.OW+int64(lg[4])-1)/int64(lg[4]), 8)),
	}

	dims := [5]int64{
		roundUp64(conf.MB, int64(lg[0])),
		roundUp64(conf.C, int64(lg[1])),
		roundUp64(conf.OD, int64(lg[2]*tg[0])),
		roundUp64(conf.OH, int64(lg[3]*tg[1])),
		roundUp64(conf.OW, int64(lg[4]*tg[2])),
	}
	kg := [3]int{
		int(dims[1] / int64(lg[1]) * (dims[2] / int64(lg[2]*tg[0]))),
		int(dims[3] / int64(lg[3]*tg[1]) * (dims[0] / int64(lg[0]))),
		int(dims[4] / int64(lg[4]*tg[2])),
	}

	cfg.LoopGrid = lg
	cfg.ThreadGroupGrid = tg
	cfg.KernelGrid = kg
	cfg.DimsPadded = dims
	return cfg
}

// NDRange returns the dispatch sizes of the current grid triple: the first
// local axis carries the vector lanes and is scaled by the device width.
func (c *Config) NDRange() ir.NDRange {
	local := [3]int{c.ThreadGroupGrid[0] * c.Exec.SIMD, c.ThreadGroupGrid[1], c.ThreadGroupGrid[2]}
	return ir.NDRange{
		Global: [3]int{c.KernelGrid[0] * local[0], c.KernelGrid[1] * local[1], c.KernelGrid[2] * local[2]},
		Local:  local,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("%s %s kg=%v tg=%v lg=%v dims=%v",
		c.Conf.Alg, c.Exec, c.KernelGrid, c.ThreadGroupGrid, c.LoopGrid, c.DimsPadded)
}

// canonicalDesc reduces a descriptor to the canonical 3-spatial rank: the
// rank is first padded up to batch+channel+spatials with broadcast axes,
// then the spatial axes collapse to exactly three. Raw and padded extents
// run through the same reduction so they stay comparable.
func canonicalDesc(d ir.TensorDesc, spatials int) ir.TensorDesc {
	ndims := 2 + spatials
	dims := ir.ReshapeRank(d.Dims, ndims)
	padded := ir.ReshapeRank(d.PaddedDims, ndims)
	layout := d.Layout
	if layout.NDims < ndims {
		layout = ir.NewLayout(layout.T, ndims, layout.Offset, layout.Blocks)
	}
	out := ir.TensorDesc{
		DType:      d.DType,
		Dims:       ir.DimsTo3D(dims),
		PaddedDims: ir.DimsTo3D(padded),
		Layout:     ir.SpatialsTo3D(layout),
	}
	if len(out.Dims) != ir.CanonicalRank || out.Layout.NDims != ir.CanonicalRank {
		exceptions.Panicf("pooling: descriptor did not canonicalize to rank %d: %v", ir.CanonicalRank, out)
	}
	return out
}

func roundUp64(n, mult int64) int64 {
	return (n + mult - 1) / mult * mult
}
