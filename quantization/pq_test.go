package quantization

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dim int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float32, n*dim)
	for i := range x {
		x[i] = rng.Float32()*2 - 1
	}

	return x
}

func TestNewShapes(t *testing.T) {
	pq := New(10, 4)
	assert.Equal(t, int32(10), pq.Dim())
	assert.Equal(t, int32(3), pq.NSubq())
	assert.Equal(t, int32(2), pq.lastdsub)

	even := New(8, 2)
	assert.Equal(t, int32(4), even.NSubq())
	assert.Equal(t, int32(2), even.lastdsub)
}

func TestTrainRequiresEnoughRows(t *testing.T) {
	pq := New(4, 2)
	err := pq.Train(randomVectors(10, 4, 1), 10)
	require.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	const n, dim = 300, 4

	x := randomVectors(n, dim, 3)
	pq := New(dim, 2)
	require.NoError(t, pq.Train(x, n))

	codes := make([]uint8, n*int(pq.NSubq()))
	pq.ComputeCodes(x, codes, n)

	// Reconstructions stay close to the originals.
	var worst float64
	for i := 0; i < n; i++ {
		rec := make([]float32, dim)
		pq.AddCode(rec, codes[i*int(pq.NSubq()):(i+1)*int(pq.NSubq())], 1.0)
		for j := 0; j < dim; j++ {
			diff := math.Abs(float64(rec[j] - x[i*dim+j]))
			if diff > worst {
				worst = diff
			}
		}
	}
	assert.Less(t, worst, 0.25)
}

func TestMulCodeMatchesDecodedDot(t *testing.T) {
	const n, dim = 300, 4

	x := randomVectors(n, dim, 5)
	pq := New(dim, 2)
	require.NoError(t, pq.Train(x, n))

	code := make([]uint8, pq.NSubq())
	pq.ComputeCode(x[:dim], code)

	decoded := make([]float32, dim)
	pq.AddCode(decoded, code, 1.0)

	query := []float32{0.2, -0.4, 0.1, 0.3}
	var exact float32
	for j := 0; j < dim; j++ {
		exact += query[j] * decoded[j]
	}
	assert.InDelta(t, float64(exact), float64(pq.MulCode(query, code, 1.0)), 1e-5)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	const n, dim = 300, 6

	x := randomVectors(n, dim, 7)
	pq := New(dim, 4) // uneven split: subq dims 4 and 2
	require.NoError(t, pq.Train(x, n))

	var buf bytes.Buffer
	require.NoError(t, pq.Save(&buf))

	loaded := NewEmpty()
	require.NoError(t, loaded.Load(bytes.NewReader(buf.Bytes())))

	assert.Equal(t, pq.Dim(), loaded.Dim())
	assert.Equal(t, pq.NSubq(), loaded.NSubq())

	code := make([]uint8, pq.NSubq())
	loadedCode := make([]uint8, loaded.NSubq())
	pq.ComputeCode(x[:dim], code)
	loaded.ComputeCode(x[:dim], loadedCode)
	assert.Equal(t, code, loadedCode)
}
