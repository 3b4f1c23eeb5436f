package nn

import (
	"sort"
)

// NonMaxSuppression runs the standard greedy NMS over parallel box/score
// slices and returns the indices of the surviving boxes, ordered by
// descending confidence.
// Ties on confidence are broken by original index order, so the result is
// deterministic for identical input.
func NonMaxSuppression(boxes []Rect, scores []float32, iouThreshold float32) []int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return order[a] < order[b]
	})

	suppressed := make([]bool, len(boxes))
	keep := make([]int, 0, len(boxes))
	for oi, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)
		for _, j := range order[oi+1:] {
			if suppressed[j] {
				continue
			}
			if boxes[i].IOU(boxes[j]) >= iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}
