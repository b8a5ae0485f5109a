// poolgen generates a pooling kernel for a given shape and device
// descriptor and prints the instruction tree with its dispatch sizes. It
// exists for inspecting generated kernels offline:
//
//	poolgen -shape 32x64x56x56 -window 3x3 -stride 2x2 -pad 1x1 -alg avg_np
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/crazydemo/oneDNN/jit/ir"
	"github.com/crazydemo/oneDNN/jit/pooling"
)

var (
	flagShape  = flag.String("shape", "1x16x14x14", "source shape as NxCxHxW or NxCxDxHxW")
	flagWindow = flag.String("window", "2x2", "window extents, one per spatial axis")
	flagStride = flag.String("stride", "2x2", "strides, one per spatial axis")
	flagPad    = flag.String("pad", "0x0", "leading padding, one per spatial axis")
	flagAlg    = flag.String("alg", "max", "reduction: max, avg_p (include padding) or avg_np")
	flagDType  = flag.String("dtype", "float32", "tensor element type")
	flagScale  = flag.Float64("scale", 1, "output scale applied before the destination cast")
	flagSIMD   = flag.Int("simd", 16, "device vector width")
	flagRegs   = flag.Int("regs", 128, "per-thread register budget")
	flagGRF    = flag.Int("grf", 32, "register size in bytes")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	conf, src, dst, err := parseOperator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolgen: %v\n", err)
		os.Exit(1)
	}
	exec := ir.ExecConfig{SIMD: *flagSIMD, Regs: *flagRegs, GRFSize: *flagGRF}

	cfg := pooling.DefaultConfig(conf, exec, src, dst)
	cfg.OutputScale = *flagScale
	prog, err := pooling.Build(&cfg, pooling.NewKernelInfo(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolgen: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("// %s\n", cfg.String())
	fmt.Printf("// dispatch %s, %d regs\n", prog.Range, prog.PeakRegs)
	fmt.Println(prog.Body)
}

func parseOperator() (pooling.PoolConf, ir.TensorDesc, ir.TensorDesc, error) {
	var zero pooling.PoolConf
	shape, err := parseInts(*flagShape)
	if err != nil || len(shape) < 3 || len(shape) > 5 {
		return zero, ir.TensorDesc{}, ir.TensorDesc{}, fmt.Errorf("bad -shape %q", *flagShape)
	}
	spatials := len(shape) - 2
	window, err := parseSpatial(*flagWindow, spatials, 1)
	if err != nil {
		return zero, ir.TensorDesc{}, ir.TensorDesc{}, err
	}
	stride, err := parseSpatial(*flagStride, spatials, 1)
	if err != nil {
		return zero, ir.TensorDesc{}, ir.TensorDesc{}, err
	}
	pad, err := parseSpatial(*flagPad, spatials, 0)
	if err != nil {
		return zero, ir.TensorDesc{}, ir.TensorDesc{}, err
	}

	var alg pooling.Alg
	switch *flagAlg {
	case "max":
		alg = pooling.AlgMax
	case "avg_p":
		alg = pooling.AlgAvgIncludePadding
	case "avg_np":
		alg = pooling.AlgAvgExcludePadding
	default:
		return zero, ir.TensorDesc{}, ir.TensorDesc{}, fmt.Errorf("bad -alg %q", *flagAlg)
	}
	dt, err := dtypes.DTypeString(*flagDType)
	if err != nil {
		return zero, ir.TensorDesc{}, ir.TensorDesc{}, err
	}

	in := [3]int64{1, 1, 1}
	copy(in[3-spatials:], shape[2:])
	out := [3]int64{1, 1, 1}
	for i := range out {
		if in[i] > 1 || window[i] > 1 {
			out[i] = (in[i]+2*pad[i]-window[i])/stride[i] + 1
		}
	}
	conf := pooling.NewPoolConf(pooling.PoolConf{
		MB: shape[0], C: shape[1],
		ID: in[0], IH: in[1], IW: in[2],
		OD: out[0], OH: out[1], OW: out[2],
		KD: window[0], KH: window[1], KW: window[2],
		StrideD: stride[0], StrideH: stride[1], StrideW: stride[2],
		PadF: pad[0], PadT: pad[1], PadL: pad[2],
		Alg:      alg,
		Spatials: spatials,
	})

	srcDims := shape
	dstDims := append([]int64{shape[0], shape[1]}, out[3-spatials:]...)
	return conf, channelsInnermost(dt, srcDims), channelsInnermost(dt, dstDims), nil
}

// channelsInnermost lays the descriptor out with the channel axis at unit
// stride, the layout the vectorized channel access requires.
func channelsInnermost(dt dtypes.DType, dims []int64) ir.TensorDesc {
	var blocks []ir.Block
	stride := int64(1)
	add := func(axis int) {
		if dims[axis] > 1 {
			blocks = append(blocks, ir.Block{Axis: axis, Extent: dims[axis], Stride: stride})
		}
		stride *= dims[axis]
	}
	add(1)
	for axis := len(dims) - 1; axis >= 2; axis-- {
		add(axis)
	}
	add(0)
	return ir.TensorDesc{
		DType:      dt,
		Dims:       dims,
		PaddedDims: append([]int64(nil), dims...),
		Layout:     ir.NewLayout(ir.ScalarType(dt), len(dims), 0, blocks),
	}
}

func parseInts(s string) ([]int64, error) {
	parts := strings.Split(s, "x")
	out := make([]int64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad extent %q", p)
		}
		out[i] = v
	}
	return out, nil
}

// parseSpatial right-aligns per-spatial values into the canonical (d, h, w)
// triple, filling missing leading axes with def.
func parseSpatial(s string, spatials int, def int64) ([3]int64, error) {
	out := [3]int64{def, def, def}
	vals, err := parseInts(s)
	if err != nil || len(vals) != spatials {
		return out, fmt.Errorf("want %d spatial values, got %q", spatials, s)
	}
	copy(out[3-spatials:], vals)
	return out, nil
}
