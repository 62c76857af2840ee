package cluster

import (
	"sort"

	"github.com/sells-group/geocluster/internal/geo"
)

// Point is a clustering input. A nil Coordinate marks a row that could not be
// resolved; it is dropped before clustering.
type Point struct {
	ID         int
	Coordinate *geo.Coordinate
}

// Member is a retained point with its label. Centroid and DistanceKm are nil
// for noise.
type Member struct {
	ID         int             `json:"id" yaml:"id"`
	Coordinate geo.Coordinate  `json:"coordinate" yaml:"coordinate"`
	Cluster    int             `json:"cluster" yaml:"cluster"`
	Centroid   *geo.Coordinate `json:"centroid,omitempty" yaml:"centroid,omitempty"`
	DistanceKm *float64        `json:"distance_km,omitempty" yaml:"distance_km,omitempty"`
}

// Noise reports whether the member was left unclustered.
func (m Member) Noise() bool { return m.Cluster == Noise }

// Summary describes one non-noise cluster.
type Summary struct {
	ID            int            `json:"id" yaml:"id"`
	PointCount    int            `json:"point_count" yaml:"point_count"`
	Centroid      geo.Coordinate `json:"centroid" yaml:"centroid"`
	MaxDistanceKm float64        `json:"max_distance_km" yaml:"max_distance_km"`
}

// Result is the outcome of Run.
type Result struct {
	// Members holds retained points in input order.
	Members []Member
	// Dropped lists the IDs of points without a coordinate.
	Dropped []int
	// Clusters is ordered by cluster ID.
	Clusters []Summary
}

// NoiseCount returns the number of retained points labeled Noise.
func (r *Result) NoiseCount() int {
	var n int
	for _, m := range r.Members {
		if m.Noise() {
			n++
		}
	}
	return n
}

// ByID indexes members by point ID.
func (r *Result) ByID() map[int]Member {
	out := make(map[int]Member, len(r.Members))
	for _, m := range r.Members {
		out[m.ID] = m
	}
	return out
}

// Run drops unresolved points, clusters the rest and annotates every member
// of a cluster with its centroid and distance to it. Empty or all-noise input
// yields zero clusters without error.
func Run(points []Point, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	res := &Result{}
	coords := make([]geo.Coordinate, 0, len(points))
	for _, p := range points {
		if p.Coordinate == nil {
			res.Dropped = append(res.Dropped, p.ID)
			continue
		}
		coords = append(coords, *p.Coordinate)
		res.Members = append(res.Members, Member{ID: p.ID, Coordinate: *p.Coordinate})
	}

	labels, err := HDBSCAN(coords, opts)
	if err != nil {
		return nil, err
	}

	groups := make(map[int][]int)
	for i, l := range labels {
		res.Members[i].Cluster = l
		if l != Noise {
			groups[l] = append(groups[l], i)
		}
	}

	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		idx := groups[id]
		members := make([]geo.Coordinate, len(idx))
		for j, i := range idx {
			members[j] = coords[i]
		}
		centroid, _ := geo.MeanCenter(members)
		for _, i := range idx {
			c := centroid
			d := geo.DistanceKm(coords[i], centroid)
			res.Members[i].Centroid = &c
			res.Members[i].DistanceKm = &d
		}
		res.Clusters = append(res.Clusters, Summary{
			ID:            id,
			PointCount:    len(idx),
			Centroid:      centroid,
			MaxDistanceKm: geo.MaxPairwiseKm(members),
		})
	}
	return res, nil
}
