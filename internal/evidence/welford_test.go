package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWelford_KnownSeries(t *testing.T) {
	var w Welford
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		w.Add(x)
	}

	assert.Equal(t, int64(8), w.Count)
	assert.InDelta(t, 5.0, w.Mean, 1e-9)
	assert.InDelta(t, 4.0, w.Variance(), 1e-9)
}

func TestWelford_VarianceNeedsTwoObservations(t *testing.T) {
	var w Welford
	assert.Zero(t, w.Variance())

	w.Add(0.9)
	assert.Zero(t, w.Variance())

	w.Add(0.9)
	assert.InDelta(t, 0.0, w.Variance(), 1e-12)
}

func TestWelford_MatchesBatchComputation(t *testing.T) {
	xs := []float64{0.91, 0.88, 0.95, 0.87, 0.93, 0.90}

	var w Welford
	sum := 0.0
	for _, x := range xs {
		w.Add(x)
		sum += x
	}
	mean := sum / float64(len(xs))

	sq := 0.0
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}

	assert.InDelta(t, mean, w.Mean, 1e-12)
	assert.InDelta(t, sq/float64(len(xs)), w.Variance(), 1e-12)
}
