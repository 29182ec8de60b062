package algebra

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"go.uber.org/zap"
)

var rgbMapping = map[string]int{"R": 1, "G": 2, "B": 3}

// onePixel builds a 1x1 raster with R=10, G=20, B=30.
func onePixel() *domain.Raster {
	r := domain.NewRaster(1, 1, 3, domain.DataTypeByte)
	r.Band(1)[0] = 10
	r.Band(2)[0] = 20
	r.Band(3)[0] = 30
	return r
}

func evalOne(t *testing.T, formula string) float64 {
	t.Helper()
	output, err := NewEngine(zap.NewNop()).Evaluate(context.Background(), formula, rgbMapping, onePixel())
	require.NoError(t, err, "formula %q should evaluate", formula)
	require.Equal(t, 1, output.Bands, "engine output is a single band")
	require.Equal(t, domain.DataTypeFloat32, output.DataType)
	return output.Band(1)[0]
}

func TestEvaluatePrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		formula string
		want    float64
	}{
		{formula: "2 + 3 * 4", want: 14},
		{formula: "(2 + 3) * 4", want: 20},
		{formula: "6 / 3 / 2", want: 1},
		{formula: "2 ^ 3 ^ 2", want: 512}, // right associative
		{formula: "-2 ^ 2", want: -4},     // power binds tighter than negation
		{formula: "2 ^ -1", want: 0.5},
		{formula: "2 * G - R - B", want: 0},
		{formula: "1.4 * R - G", want: -6},
		{formula: "(G - R) / (G + R)", want: 10.0 / 30.0},
		{formula: "(G^2 - R^2) / (G^2 + R^2)", want: 300.0 / 500.0},
		{formula: "G - 0.39 * R - 0.61 * B", want: 20 - 3.9 - 18.3},
		{formula: "R / 255", want: 10.0 / 255.0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.formula, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, evalOne(t, tt.formula), 1e-12)
		})
	}
}

func TestEvaluateDivisionByZeroYieldsNaN(t *testing.T) {
	t.Parallel()

	assert.True(t, math.IsNaN(evalOne(t, "R / (G - G)")))
	assert.True(t, math.IsNaN(evalOne(t, "0 / (R - R)")))
}

func TestEvaluateWholeGrid(t *testing.T) {
	t.Parallel()

	input := domain.NewRaster(2, 2, 2, domain.DataTypeFloat32)
	copy(input.Band(1), []float64{1, 2, 3, 4})
	copy(input.Band(2), []float64{10, 20, 30, 40})

	output, err := NewEngine(zap.NewNop()).Evaluate(context.Background(), "B2 - B1", map[string]int{"B1": 1, "B2": 2}, input)
	require.NoError(t, err)

	assert.Equal(t, []float64{9, 18, 27, 36}, output.Band(1))
	assert.Equal(t, input.Width, output.Width)
	assert.Equal(t, input.Height, output.Height)
}

func TestEvaluateRejectsBadFormulas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		formula string
		mapping map[string]int
	}{
		{name: "trailing operator", formula: "R +", mapping: rgbMapping},
		{name: "unbalanced paren", formula: "(R + G", mapping: rgbMapping},
		{name: "adjacent operands", formula: "R G", mapping: rgbMapping},
		{name: "malformed number", formula: "1.2.3 + R", mapping: rgbMapping},
		{name: "unknown character", formula: "R $ G", mapping: rgbMapping},
		{name: "empty formula", formula: "", mapping: rgbMapping},
		{name: "unknown band symbol", formula: "R + N", mapping: rgbMapping},
		{name: "band out of range", formula: "N", mapping: map[string]int{"N": 7}},
		{name: "band number zero", formula: "N", mapping: map[string]int{"N": 0}},
	}

	engine := NewEngine(zap.NewNop())
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := engine.Evaluate(context.Background(), tt.formula, tt.mapping, onePixel())
			require.Error(t, err)

			var evalErr *domain.EvaluationError
			require.ErrorAs(t, err, &evalErr, "bad formulas should surface as EvaluationError")
			assert.Equal(t, tt.formula, evalErr.Formula)
		})
	}
}

func TestEvaluateCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(zap.NewNop()).Evaluate(ctx, "R + G", rgbMapping, onePixel())
	assert.ErrorIs(t, err, context.Canceled)
}
