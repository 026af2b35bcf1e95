package cluster

import (
	"fmt"
	"math"
	"strings"
)

// Linkage selects how a cluster-to-cluster distance is derived from the
// leaf-to-leaf distances between the two clusters' members.
type Linkage int

const (
	// Single is the minimum pairwise leaf distance.
	Single Linkage = iota
	// Average is the mean of all pairwise leaf distances.
	Average
	// Complete is the maximum pairwise leaf distance.
	Complete
)

func (l Linkage) String() string {
	switch l {
	case Single:
		return "SINGLE"
	case Average:
		return "AVERAGE"
	case Complete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("Linkage(%d)", int(l))
	}
}

// ParseLinkage resolves a linkage by name, case-insensitively.
func ParseLinkage(name string) (Linkage, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "SINGLE", "":
		return Single, nil
	case "AVERAGE":
		return Average, nil
	case "COMPLETE":
		return Complete, nil
	default:
		return 0, fmt.Errorf("unknown linkage %q (expected SINGLE, AVERAGE or COMPLETE)", name)
	}
}

// pairDistanceFunc returns the distance between two leaves given by row index.
type pairDistanceFunc func(i, j int) float64

// linkageFunc aggregates leaf distances between clusters a and b, given by
// the row indices of their leaves.
type linkageFunc func(a, b []int, dist pairDistanceFunc) float64

func (l Linkage) fn() linkageFunc {
	switch l {
	case Average:
		return averageLinkage
	case Complete:
		return completeLinkage
	default:
		return singleLinkage
	}
}

func singleLinkage(a, b []int, dist pairDistanceFunc) float64 {
	md := math.MaxFloat64
	for _, ai := range a {
		for _, bi := range b {
			if d := dist(ai, bi); d < md {
				md = d
			}
		}
	}
	return md
}

func completeLinkage(a, b []int, dist pairDistanceFunc) float64 {
	md := -math.MaxFloat64
	for _, ai := range a {
		for _, bi := range b {
			if d := dist(ai, bi); d > md {
				md = d
			}
		}
	}
	return md
}

func averageLinkage(a, b []int, dist pairDistanceFunc) float64 {
	sum := 0.0
	for _, ai := range a {
		for _, bi := range b {
			sum += dist(ai, bi)
		}
	}
	return sum / float64(len(a)*len(b))
}

// LinkageDistance computes the linkage distance between two nodes of d,
// using dist for leaf pairs.
func (l Linkage) LinkageDistance(d *Dendrogram, a, b NodeID, dist func(i, j int) float64) float64 {
	return l.fn()(d.LeafRowIndices(a), d.LeafRowIndices(b), dist)
}
