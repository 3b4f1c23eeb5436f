// Package fusion merges segmentation instances that belong to one physical
// object. Networks frequently split a pair of touching parts into separate
// instances with partial masks; downstream counting and area statistics then
// double-count. The fuser detects touching instances by proximity and mask
// overlap and replaces each group with a single merged instance.
package fusion

import (
	"github.com/cyclopcam/logs"

	"github.com/coplescan/coplescan/pkg/mask"
	"github.com/coplescan/coplescan/pkg/nn"
)

type Options struct {
	MaxDistance float32 // px. Pairs further apart than this are never fused.
	MinOverlap  float32 // minimum mask IoU between a fusable pair
	MinArea     int     // px. Both masks must be at least this large.
	KernelSize  int     // elliptical close kernel applied after each merge
}

// Defaults are conservative: we would rather report two instances for one
// object than silently merge two genuinely distinct defects.
func DefaultOptions() *Options {
	return &Options{
		MaxDistance: 30,
		MinOverlap:  0.1,
		MinArea:     100,
		KernelSize:  3,
	}
}

// member is one fusable instance: a segmentation with a usable mask, plus the
// contour geometry the pairing criteria operate on.
type member struct {
	index int // position in the input slice
	seg   nn.Segmentation
	stats mask.ContourStats
}

// Fuse scans the segmentations for groups of touching instances and merges
// each group into one. Instances without a mask, or whose mask has no active
// pixels, pass through untouched. The merged-count invariant holds across the
// call: the MergedCount fields of the output always sum to the number of
// inputs, so no instance is ever dropped or double-counted.
func Fuse(log logs.Log, segmentations []nn.Segmentation, opts *Options) []nn.Segmentation {
	if opts == nil {
		opts = DefaultOptions()
	}
	normalizeMergedCounts(segmentations)
	if len(segmentations) <= 1 {
		return segmentations
	}

	members := []member{}
	for i, seg := range segmentations {
		if seg.Mask == nil {
			continue
		}
		stats, ok := mask.Stats(seg.Mask)
		if !ok {
			continue
		}
		members = append(members, member{index: i, seg: seg, stats: stats})
	}

	groups := groupTouching(log, members, opts)

	fusedIndexes := map[int]bool{}
	out := []nn.Segmentation{}
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		out = append(out, mergeGroup(members, group, opts))
		for _, m := range group {
			fusedIndexes[members[m].index] = true
		}
	}
	if len(out) > 0 {
		log.Infof("Fused %v touching instance groups (%v -> %v instances)",
			len(out), len(segmentations), len(out)+len(segmentations)-len(fusedIndexes))
	}
	for i, seg := range segmentations {
		if !fusedIndexes[i] {
			out = append(out, seg)
		}
	}
	return out
}

func normalizeMergedCounts(segmentations []nn.Segmentation) {
	for i := range segmentations {
		if segmentations[i].MergedCount < 1 {
			segmentations[i].MergedCount = 1
		}
	}
}

// groupTouching greedily expands groups: each ungrouped member seeds a group,
// then every later ungrouped member that touches the seed joins it. Grouping
// is transitive through the seed; group size is not capped.
func groupTouching(log logs.Log, members []member, opts *Options) [][]int {
	grouped := make([]bool, len(members))
	groups := [][]int{}
	for i := range members {
		if grouped[i] {
			continue
		}
		group := []int{i}
		grouped[i] = true
		for j := i + 1; j < len(members); j++ {
			if grouped[j] {
				continue
			}
			if distance, overlap, ok := touching(&members[i], &members[j], opts); ok {
				group = append(group, j)
				grouped[j] = true
				log.Infof("Touching instances %v and %v: distance %.1fpx, overlap %.2f",
					members[i].index, members[j].index, distance, overlap)
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// touching decides whether two instances are one physical object. Distance is
// the smaller of centroid distance and bounding-box gap, so both large
// overlapping instances and small nearly-touching ones qualify.
func touching(a, b *member, opts *Options) (distance, overlap float32, ok bool) {
	centroidDist := a.stats.Centroid.Distance(b.stats.Centroid)
	boxGap := a.stats.Box.Gap(b.stats.Box)
	distance = centroidDist
	if boxGap < distance {
		distance = boxGap
	}
	overlap = a.seg.Mask.Overlap(b.seg.Mask)
	ok = distance < opts.MaxDistance &&
		overlap > opts.MinOverlap &&
		int(a.stats.Area) > opts.MinArea &&
		int(b.stats.Area) > opts.MinArea
	return
}

// mergeGroup ORs the group's masks together, closing the seam after each
// merge, and rebuilds the instance geometry from the fused mask's largest
// contour. The first member contributes the class fields; confidence is the
// group mean.
func mergeGroup(members []member, group []int, opts *Options) nn.Segmentation {
	fusedMask := members[group[0]].seg.Mask.Clone()
	for _, m := range group[1:] {
		fusedMask.Or(members[m].seg.Mask)
		fusedMask = mask.CloseEllipse(fusedMask, opts.KernelSize)
	}

	merged := members[group[0]].seg
	merged.Mask = fusedMask
	merged.MaskArea = fusedMask.Area()
	merged.Fused = true
	merged.MergedCount = 0
	confidenceSum := float32(0)
	for _, m := range group {
		confidenceSum += members[m].seg.Confidence
		merged.MergedCount += members[m].seg.MergedCount
	}
	merged.Confidence = confidenceSum / float32(len(group))

	if stats, ok := mask.Stats(fusedMask); ok {
		merged.Box = stats.Box
		merged.Area = stats.Box.Area()
		merged.Centroid = stats.Centroid
		merged.MaskWidth = stats.Box.Width
		merged.MaskHeight = stats.Box.Height
	}
	return merged
}
