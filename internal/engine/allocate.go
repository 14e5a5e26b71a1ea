package engine

// Allocate turns a selection into a full-width weight vector. Every selected
// asset receives 1/topN, unselected assets receive 0. Weights are never
// renormalised: unfilled slots are held as cash earning nothing.
func Allocate(selection []int, numAssets, topN int) []float64 {
	w := make([]float64, numAssets)
	if topN <= 0 {
		return w
	}
	slot := 1 / float64(topN)
	for _, j := range selection {
		w[j] = slot
	}
	return w
}
