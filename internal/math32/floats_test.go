package math32

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDot(t *testing.T) {
	assert.InDelta(t, 11.0, float64(Dot([]float32{1, 2}, []float32{3, 4})), 1e-6)
	assert.Equal(t, float32(0), Dot(nil, nil))
}

func TestSquaredL2(t *testing.T) {
	assert.InDelta(t, 8.0, float64(SquaredL2([]float32{1, 2}, []float32{3, 4})), 1e-6)
}

func TestAddScaled(t *testing.T) {
	a := []float32{1, 1}
	AddScaled(a, []float32{2, 4}, 0.5)
	assert.Equal(t, []float32{2, 3}, a)

	Add(a, []float32{1, 1})
	assert.Equal(t, []float32{3, 4}, a)
}

func TestScaleZeroNorm(t *testing.T) {
	a := []float32{3, 4}
	ScaleInPlace(a, 2)
	assert.Equal(t, []float32{6, 8}, a)

	assert.InDelta(t, 10.0, float64(Norm(a)), 1e-6)

	Zero(a)
	assert.Equal(t, []float32{0, 0}, a)
}

func TestHasNaN(t *testing.T) {
	assert.False(t, HasNaN([]float32{1, 2}))
	assert.True(t, HasNaN([]float32{1, float32(math.NaN())}))
}
