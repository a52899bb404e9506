package blur

import (
	"fmt"
	"math"

	"go-blur-halo/pkg/common"
)

// Kernel ids accepted on the command line.
const (
	KernelUniform  = 0
	KernelWeighted = 1
	KernelGaussian = 2
	KernelImage    = 3
)

// Kernel is a row-major weight matrix with odd dimensions.
type Kernel struct {
	Width   int
	Height  int
	Weights []float64
}

// NewKernel validates dims and weights and wraps them in a Kernel.
func NewKernel(width, height int, weights []float64) (*Kernel, error) {
	if err := CheckDims(width, height); err != nil {
		return nil, err
	}
	if len(weights) != width*height {
		return nil, fmt.Errorf("kernel %dx%d needs %d weights, got %d", width, height, width*height, len(weights))
	}
	return &Kernel{Width: width, Height: height, Weights: weights}, nil
}

// CheckDims rejects kernels that have no centre sample.
func CheckDims(width, height int) error {
	if width < 1 || height < 1 || width%2 == 0 || height%2 == 0 {
		return common.Configf(common.ExitEvenKernel,
			"Kernel dimensions must be odd integers. Dimensions given were %dx%d", width, height)
	}
	return nil
}

// Sum adds the weights in row-major order.
func (k *Kernel) Sum() float64 {
	sum := 0.0
	for _, w := range k.Weights {
		sum += w
	}
	return sum
}

func (k *Kernel) At(x, y int) float64 {
	return k.Weights[y*k.Width+x]
}

// Uniform is the mean filter.
func Uniform(width, height int) (*Kernel, error) {
	if err := CheckDims(width, height); err != nil {
		return nil, err
	}
	n := width * height
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1 / float64(n)
	}
	return NewKernel(width, height, weights)
}

// Weighted gives the centre sample weight f and spreads 1-f evenly over the
// rest of the footprint.
func Weighted(width, height int, f float64) (*Kernel, error) {
	if err := CheckDims(width, height); err != nil {
		return nil, err
	}
	if f < 0 || f > 1 || math.IsNaN(f) {
		return nil, common.Configf(common.ExitBadArguments, "weighted kernel parameter must be in [0,1], got %g", f)
	}
	n := width * height
	weights := make([]float64, n)
	if n > 1 {
		rest := (1 - f) / float64(n-1)
		for i := range weights {
			weights[i] = rest
		}
	}
	weights[n/2] = f
	return NewKernel(width, height, weights)
}

// GaussianSigma is the spread used for an automatically generated Gaussian:
// the larger half dimension of the kernel.
func GaussianSigma(width, height int) int {
	return max(width/2, height/2)
}

// Gaussian builds a normalized Gaussian kernel with sigma GaussianSigma.
func Gaussian(width, height int) (*Kernel, error) {
	if err := CheckDims(width, height); err != nil {
		return nil, err
	}
	s := GaussianSigma(width, height)
	if s == 0 {
		return NewKernel(1, 1, []float64{1})
	}
	sigmaSq := float64(s * s)
	cx, cy := width/2, height/2
	weights := make([]float64, width*height)
	sum := 0.0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := float64(x-cx), float64(y-cy)
			w := math.Exp(-(dx*dx + dy*dy) / (2 * sigmaSq))
			weights[y*width+x] = w
			sum += w
		}
	}
	for i := range weights {
		weights[i] /= sum
	}
	return NewKernel(width, height, weights)
}

// FromImage turns a grayscale image into a kernel: samples are scaled by
// maxValue and the result normalized to sum to one. Pix must be in native order.
func FromImage(pix []uint16, width, height, maxValue int) (*Kernel, error) {
	if err := CheckDims(width, height); err != nil {
		return nil, err
	}
	if len(pix) < width*height || maxValue <= 0 {
		return nil, fmt.Errorf("invalid kernel image %dx%d (maxval %d)", width, height, maxValue)
	}
	weights := make([]float64, width*height)
	sum := 0.0
	for i := range weights {
		weights[i] = float64(pix[i]) / float64(maxValue)
		sum += weights[i]
	}
	if sum == 0 {
		return nil, fmt.Errorf("kernel image %dx%d is all zero", width, height)
	}
	for i := range weights {
		weights[i] /= sum
	}
	return NewKernel(width, height, weights)
}

// Generate builds one of the automatic kernels by id. param is only used by
// the weighted kernel.
func Generate(id, width, height int, param float64) (*Kernel, error) {
	switch id {
	case KernelUniform:
		return Uniform(width, height)
	case KernelWeighted:
		return Weighted(width, height, param)
	case KernelGaussian:
		return Gaussian(width, height)
	}
	return nil, common.Configf(common.ExitBadKernelID,
		"Kernel id must be either 0,1,2 for automatic generation or 3 for pgm file. Given id was %d", id)
}
