// Package evidence turns human corrections into rule candidates: it
// aggregates observations with running statistics and applies the promotion
// policy that decides which candidates become rules.
package evidence

// Welford accumulates a running mean and M2 using Welford's online
// algorithm: O(1) per update, numerically stable, no stored history.
type Welford struct {
	Count int64
	Mean  float64
	M2    float64
}

// Add folds one observation into the accumulator.
func (w *Welford) Add(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	w.M2 += delta * (x - w.Mean)
}

// Variance returns the population variance of the observations seen so far.
func (w *Welford) Variance() float64 {
	if w.Count < 2 {
		return 0
	}
	return w.M2 / float64(w.Count)
}
