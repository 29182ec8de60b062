// Package algebra is the in-process raster-algebra engine: it compiles an
// index formula once and evaluates it per pixel over the input bands.
package algebra

import (
	"context"
	"math"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"go.uber.org/zap"
)

// node is one compiled formula term. eval computes the value for the pixel at
// offset off over the input band slices.
type node interface {
	eval(bands [][]float64, off int) float64
}

type numberNode struct {
	value float64
}

func (n numberNode) eval(_ [][]float64, _ int) float64 {
	return n.value
}

type bandNode struct {
	band int // 0-based position into the band slices
}

func (n bandNode) eval(bands [][]float64, off int) float64 {
	return bands[n.band][off]
}

type negateNode struct {
	operand node
}

func (n negateNode) eval(bands [][]float64, off int) float64 {
	return -n.operand.eval(bands, off)
}

type binaryNode struct {
	op    tokenKind
	left  node
	right node
}

func (n binaryNode) eval(bands [][]float64, off int) float64 {
	left := n.left.eval(bands, off)
	right := n.right.eval(bands, off)
	switch n.op {
	case tokenPlus:
		return left + right
	case tokenMinus:
		return left - right
	case tokenStar:
		return left * right
	case tokenSlash:
		if right == 0 {
			return math.NaN()
		}
		return left / right
	default: // tokenCaret
		return math.Pow(left, right)
	}
}

// Engine implements port.RasterEngine over compiled formula trees.
type Engine struct {
	log *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	return &Engine{log: log}
}

// Evaluate computes formula over input, producing a single Float32 band with
// the input's dimensions. Division by zero yields NaN in the output, which
// the GeoTIFF codec preserves. Cancellation is checked once per row.
func (e *Engine) Evaluate(ctx context.Context, formula string, bandMapping map[string]int, input *domain.Raster) (*domain.Raster, error) {
	root, err := parse(formula, bandMapping, input.Bands)
	if err != nil {
		return nil, &domain.EvaluationError{Formula: formula, Reason: err.Error()}
	}

	bands := make([][]float64, input.Bands)
	for b := 1; b <= input.Bands; b++ {
		bands[b-1] = input.Band(b)
	}

	output := domain.NewRaster(input.Width, input.Height, 1, domain.DataTypeFloat32)
	out := output.Band(1)
	for row := 0; row < input.Height; row++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		base := row * input.Width
		for col := 0; col < input.Width; col++ {
			out[base+col] = root.eval(bands, base+col)
		}
	}

	e.log.Debug("Formula evaluated",
		zap.String("formula", formula),
		zap.Int("width", input.Width),
		zap.Int("height", input.Height))
	return output, nil
}
