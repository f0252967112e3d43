package keyframe

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// FlowEstimator computes a dense motion magnitude field between two
// consecutive grayscale frames of identical dimensions. Implementations
// may wrap external optical-flow backends; BlockFlow is the built-in
// pure-Go estimator.
type FlowEstimator interface {
	Magnitude(prev, curr *mat.Dense) (*mat.Dense, error)
}

// BlockFlow estimates motion by exhaustive block matching: each
// BlockSize×BlockSize block of the current frame is searched in the
// previous frame within SearchRadius pixels, and the displacement of
// the best sum-of-absolute-differences match becomes the block's
// motion magnitude. Coarse, but deterministic and dependency-free.
type BlockFlow struct {
	BlockSize    int
	SearchRadius int
}

// NewBlockFlow returns a BlockFlow with the default 8px blocks and a
// 4px search radius.
func NewBlockFlow() *BlockFlow {
	return &BlockFlow{BlockSize: 8, SearchRadius: 4}
}

// Magnitude returns a per-pixel motion magnitude matrix the same shape
// as the inputs. Every pixel in a block carries the block's magnitude.
func (f *BlockFlow) Magnitude(prev, curr *mat.Dense) (*mat.Dense, error) {
	pr, pc := prev.Dims()
	cr, cc := curr.Dims()
	if pr != cr || pc != cc {
		return nil, fmt.Errorf("frame dimensions differ: %dx%d vs %dx%d", pr, pc, cr, cc)
	}

	block := f.BlockSize
	if block < 1 {
		block = 8
	}
	radius := f.SearchRadius
	if radius < 0 {
		radius = 4
	}

	out := mat.NewDense(cr, cc, nil)
	for by := 0; by < cr; by += block {
		for bx := 0; bx < cc; bx += block {
			bh := min(block, cr-by)
			bw := min(block, cc-bx)

			// Search the previous frame for the displacement that
			// minimises SAD. Scanning order is fixed and improvements
			// strict, so results are deterministic; zero displacement
			// is evaluated first and wins all ties.
			bestSAD := math.Inf(1)
			bestDx, bestDy := 0, 0
			for _, dy := range searchOffsets(radius) {
				for _, dx := range searchOffsets(radius) {
					sy, sx := by+dy, bx+dx
					if sy < 0 || sx < 0 || sy+bh > pr || sx+bw > pc {
						continue
					}
					sad := 0.0
					for y := 0; y < bh; y++ {
						for x := 0; x < bw; x++ {
							sad += math.Abs(curr.At(by+y, bx+x) - prev.At(sy+y, sx+x))
						}
					}
					if sad < bestSAD {
						bestSAD = sad
						bestDy, bestDx = dy, dx
					}
				}
			}

			magnitude := math.Hypot(float64(bestDx), float64(bestDy))
			for y := 0; y < bh; y++ {
				for x := 0; x < bw; x++ {
					out.Set(by+y, bx+x, magnitude)
				}
			}
		}
	}
	return out, nil
}

// searchOffsets returns 0, -1, 1, -2, 2, ... so the zero-displacement
// hypothesis is always tested first.
func searchOffsets(radius int) []int {
	out := make([]int, 0, 2*radius+1)
	out = append(out, 0)
	for d := 1; d <= radius; d++ {
		out = append(out, -d, d)
	}
	return out
}
