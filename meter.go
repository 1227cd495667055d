package lingvec

import (
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/lingvec/loss"
)

// Meter accumulates precision/recall over test examples, per label and
// overall.
type Meter struct {
	nexamples int64

	predicted     int64
	gold          int64
	predictedGold int64

	labels map[int32]*labelMetrics
}

type labelMetrics struct {
	predicted     int64
	gold          int64
	predictedGold int64
}

// NewMeter creates an empty meter.
func NewMeter() *Meter {
	return &Meter{labels: make(map[int32]*labelMetrics)}
}

func (m *Meter) label(id int32) *labelMetrics {
	lm, ok := m.labels[id]
	if !ok {
		lm = &labelMetrics{}
		m.labels[id] = lm
	}

	return lm
}

// Log folds one example's gold labels and predictions into the counts.
func (m *Meter) Log(labels []int32, predictions loss.Predictions) {
	m.nexamples++
	m.predicted += int64(len(predictions))

	for _, p := range predictions {
		m.label(p.ID).predicted++
		if containsLabel(labels, p.ID) {
			m.label(p.ID).predictedGold++
			m.predictedGold++
		}
	}

	m.gold += int64(len(labels))
	for _, l := range labels {
		m.label(l).gold++
	}
}

func containsLabel(labels []int32, id int32) bool {
	for _, l := range labels {
		if l == id {
			return true
		}
	}

	return false
}

// NExamples returns the number of logged examples.
func (m *Meter) NExamples() int64 { return m.nexamples }

// Precision returns overall precision at the logged k.
func (m *Meter) Precision() float64 {
	return ratio(m.predictedGold, m.predicted)
}

// Recall returns overall recall.
func (m *Meter) Recall() float64 {
	return ratio(m.predictedGold, m.gold)
}

// PrecisionForLabel returns one label's precision.
func (m *Meter) PrecisionForLabel(id int32) float64 {
	lm := m.label(id)

	return ratio(lm.predictedGold, lm.predicted)
}

// RecallForLabel returns one label's recall.
func (m *Meter) RecallForLabel(id int32) float64 {
	lm := m.label(id)

	return ratio(lm.predictedGold, lm.gold)
}

// F1ScoreForLabel returns one label's F1.
func (m *Meter) F1ScoreForLabel(id int32) float64 {
	lm := m.label(id)
	denom := float64(lm.gold + lm.predicted)
	if denom == 0 {
		return math.NaN()
	}

	return 2.0 * float64(lm.predictedGold) / denom
}

func ratio(num, denom int64) float64 {
	if denom == 0 {
		return math.NaN()
	}

	return float64(num) / float64(denom)
}

// WriteGeneralMetrics prints the N/P@k/R@k summary.
func (m *Meter) WriteGeneralMetrics(w io.Writer, k int) {
	fmt.Fprintf(w, "N\t%d\n", m.nexamples)
	fmt.Fprintf(w, "P@%d\t%.3f\n", k, m.Precision())
	fmt.Fprintf(w, "R@%d\t%.3f\n", k, m.Recall())
}
