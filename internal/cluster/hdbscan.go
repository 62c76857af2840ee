package cluster

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geocluster/internal/geo"
)

// Noise is the label of points not assigned to any cluster.
const Noise = -1

// minLinkKm floors merge distances so duplicate coordinates give a large but
// finite lambda.
const minLinkKm = 1e-9

// distTolerance absorbs rounding when fall-out distances are compared.
const distTolerance = 1e-9

// Options controls the density thresholds of HDBSCAN.
type Options struct {
	// MinClusterSize is the smallest group reported as a cluster (>= 2).
	MinClusterSize int `json:"min_cluster_size" yaml:"min_cluster_size"`
	// MinSamples is the neighbour count defining a point's core distance (>= 1).
	MinSamples int `json:"min_samples" yaml:"min_samples"`
	// AllowSingleCluster lets the whole dataset be reported as one cluster
	// when it never splits into denser groups.
	AllowSingleCluster bool `json:"allow_single_cluster" yaml:"allow_single_cluster"`
	// SelectionEpsilonKm merges clusters born closer than this distance into
	// their parent, and bounds how far a point of a lone root cluster may sit
	// from the rest. Zero disables both.
	SelectionEpsilonKm float64 `json:"selection_epsilon_km" yaml:"selection_epsilon_km"`
}

// DefaultOptions returns min_cluster_size=5, min_samples=5, single clusters
// allowed and a 5 km selection epsilon.
func DefaultOptions() Options {
	return Options{MinClusterSize: 5, MinSamples: 5, AllowSingleCluster: true, SelectionEpsilonKm: 5}
}

// Validate checks the parameter ranges.
func (o Options) Validate() error {
	if o.MinClusterSize < 2 {
		return eris.Errorf("cluster: min_cluster_size must be >= 2, got %d", o.MinClusterSize)
	}
	if o.MinSamples < 1 {
		return eris.Errorf("cluster: min_samples must be >= 1, got %d", o.MinSamples)
	}
	if o.SelectionEpsilonKm < 0 || math.IsNaN(o.SelectionEpsilonKm) {
		return eris.Errorf("cluster: selection_epsilon_km must be >= 0, got %g", o.SelectionEpsilonKm)
	}
	return nil
}

// HDBSCAN labels coords using hierarchical density-based clustering under
// great-circle distance. Labels are 0..k-1 for clusters and Noise otherwise.
// The result depends only on the input order and options.
func HDBSCAN(coords []geo.Coordinate, opts Options) ([]int, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	n := len(coords)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n < opts.MinClusterSize || n < 2 {
		return labels, nil
	}

	m := newMetric(coords)
	core := m.coreDistances(opts.MinSamples)
	edges := m.mutualReachabilityMST(core)
	h := singleLinkage(n, edges)
	ct := condense(h, opts.MinClusterSize)
	selected := ct.selectClusters(opts.AllowSingleCluster)
	if opts.SelectionEpsilonKm > 0 {
		selected = ct.epsilonMerge(selected, opts.SelectionEpsilonKm, opts.AllowSingleCluster)
	}
	return ct.label(selected, opts.SelectionEpsilonKm), nil
}

// metric computes haversine distances in kilometers over radian coordinates.
type metric struct {
	lat, lon []float64
}

func newMetric(coords []geo.Coordinate) *metric {
	m := &metric{lat: make([]float64, len(coords)), lon: make([]float64, len(coords))}
	for i, c := range coords {
		m.lat[i], m.lon[i] = c.Radians()
	}
	return m
}

func (m *metric) dist(i, j int) float64 {
	return geo.HaversineRad(m.lat[i], m.lon[i], m.lat[j], m.lon[j]) * geo.EarthRadiusKm
}

// coreDistances returns, per point, the distance to its min_samples-th
// nearest neighbour counting the point itself, so min_samples=1 gives zero.
// The neighbour rank is capped at n-1 other points.
func (m *metric) coreDistances(minSamples int) []float64 {
	n := len(m.lat)
	k := minSamples - 1
	if k > n-1 {
		k = n - 1
	}
	core := make([]float64, n)
	if k == 0 {
		return core
	}
	row := make([]float64, 0, n-1)
	for i := 0; i < n; i++ {
		row = row[:0]
		for j := 0; j < n; j++ {
			if j != i {
				row = append(row, m.dist(i, j))
			}
		}
		sort.Float64s(row)
		core[i] = row[k-1]
	}
	return core
}

type edge struct {
	a, b int
	w    float64
}

// mutualReachabilityMST runs Prim's algorithm on the dense graph weighted by
// max(core[a], core[b], d(a,b)). Edges come back sorted by weight.
func (m *metric) mutualReachabilityMST(core []float64) []edge {
	n := len(core)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]edge, 0, n-1)
	cur := 0
	inTree[cur] = true
	for len(edges) < n-1 {
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			w := math.Max(m.dist(cur, j), math.Max(core[cur], core[j]))
			if w < best[j] {
				best[j] = w
				from[j] = cur
			}
			if next < 0 || best[j] < best[next] {
				next = j
			}
		}
		edges = append(edges, edge{a: from[next], b: next, w: best[next]})
		inTree[next] = true
		cur = next
	}

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].w < edges[j].w })
	return edges
}

// hierarchy is a single-linkage dendrogram. Nodes 0..n-1 are points; merge k
// creates node n+k.
type hierarchy struct {
	n           int
	left, right []int
	dist        []float64
	size        []int
}

func singleLinkage(n int, edges []edge) *hierarchy {
	h := &hierarchy{
		n:     n,
		left:  make([]int, len(edges)),
		right: make([]int, len(edges)),
		dist:  make([]float64, len(edges)),
		size:  make([]int, n+len(edges)),
	}
	parent := make([]int, n+len(edges))
	for i := range parent {
		parent[i] = i
		if i < n {
			h.size[i] = 1
		}
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for k, e := range edges {
		a, b := find(e.a), find(e.b)
		node := n + k
		h.left[k], h.right[k], h.dist[k] = a, b, e.w
		h.size[node] = h.size[a] + h.size[b]
		parent[a], parent[b] = node, node
	}
	return h
}

func (h *hierarchy) root() int { return h.n + len(h.dist) - 1 }

// leaves appends every point under node to out.
func (h *hierarchy) leaves(node int, out []int) []int {
	stack := []int{node}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if x < h.n {
			out = append(out, x)
			continue
		}
		stack = append(stack, h.left[x-h.n], h.right[x-h.n])
	}
	return out
}

// condensedTree keeps only splits where both sides reach min_cluster_size.
// Cluster ids start at n (the root); children always get larger ids than
// their parent.
type condensedTree struct {
	n        int
	nextID   int
	parentOf map[int]int // cluster -> parent cluster
	birth    map[int]float64
	// pointCluster is the cluster each point fell out of, at pointDist km.
	pointCluster []int
	pointDist    []float64
	stability    map[int]float64
	children     map[int][]int
}

func condense(h *hierarchy, minClusterSize int) *condensedTree {
	ct := &condensedTree{
		n:            h.n,
		nextID:       h.n + 1,
		parentOf:     make(map[int]int),
		birth:        map[int]float64{h.n: 0},
		pointCluster: make([]int, h.n),
		pointDist:    make([]float64, h.n),
		stability:    map[int]float64{h.n: 0},
		children:     make(map[int][]int),
	}

	type item struct{ node, cluster int }
	queue := []item{{node: h.root(), cluster: h.n}}
	var buf []int

	fallOut := func(node, cluster int, lambda float64) {
		buf = h.leaves(node, buf[:0])
		for _, p := range buf {
			ct.pointCluster[p] = cluster
			ct.pointDist[p] = 1 / lambda
			ct.stability[cluster] += lambda - ct.birth[cluster]
		}
	}
	newChild := func(node, parent int, lambda float64) int {
		id := ct.nextID
		ct.nextID++
		ct.parentOf[id] = parent
		ct.birth[id] = lambda
		ct.stability[id] = 0
		ct.children[parent] = append(ct.children[parent], id)
		ct.stability[parent] += (lambda - ct.birth[parent]) * float64(h.size[node])
		return id
	}

	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if it.node < h.n {
			continue
		}

		k := it.node - h.n
		left, right := h.left[k], h.right[k]
		lambda := 1 / math.Max(h.dist[k], minLinkKm)
		bigLeft := h.size[left] >= minClusterSize
		bigRight := h.size[right] >= minClusterSize

		switch {
		case bigLeft && bigRight:
			queue = append(queue,
				item{node: left, cluster: newChild(left, it.cluster, lambda)},
				item{node: right, cluster: newChild(right, it.cluster, lambda)},
			)
		case bigLeft:
			fallOut(right, it.cluster, lambda)
			queue = append(queue, item{node: left, cluster: it.cluster})
		case bigRight:
			fallOut(left, it.cluster, lambda)
			queue = append(queue, item{node: right, cluster: it.cluster})
		default:
			fallOut(left, it.cluster, lambda)
			fallOut(right, it.cluster, lambda)
		}
	}
	return ct
}

// selectClusters applies excess-of-mass selection. The root is a candidate
// only when allowSingle is set.
func (ct *condensedTree) selectClusters(allowSingle bool) map[int]bool {
	ids := make([]int, 0, len(ct.stability))
	for id := range ct.stability {
		if id == ct.n && !allowSingle {
			continue
		}
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))

	stability := make(map[int]float64, len(ct.stability))
	for id, s := range ct.stability {
		stability[id] = s
	}
	selected := make(map[int]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}

	for _, id := range ids {
		var childSum float64
		for _, c := range ct.children[id] {
			childSum += stability[c]
		}
		if childSum > stability[id] {
			selected[id] = false
			stability[id] = childSum
			continue
		}
		stack := append([]int(nil), ct.children[id]...)
		for len(stack) > 0 {
			c := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			selected[c] = false
			stack = append(stack, ct.children[c]...)
		}
	}
	return selected
}

// birthKm is the merge distance at which cluster id split from its parent.
// The root is born at infinity.
func (ct *condensedTree) birthKm(id int) float64 {
	if ct.birth[id] == 0 {
		return math.Inf(1)
	}
	return 1 / ct.birth[id]
}

// epsilonMerge replaces every selected cluster born closer than eps with its
// nearest ancestor born at or beyond eps. The root is only used when
// allowSingle is set; otherwise the climb stops at the root's child.
func (ct *condensedTree) epsilonMerge(selected map[int]bool, eps float64, allowSingle bool) map[int]bool {
	var ids []int
	for id, ok := range selected {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	out := make(map[int]bool, len(ids))
	absorbed := make(map[int]bool)
	for _, id := range ids {
		if absorbed[id] {
			continue
		}
		target := id
		for ct.birthKm(target) < eps {
			parent := ct.parentOf[target]
			if parent == ct.n {
				if allowSingle {
					target = parent
				}
				break
			}
			target = parent
		}
		out[target] = true
		if target == id {
			continue
		}
		stack := append([]int(nil), ct.children[target]...)
		for len(stack) > 0 {
			c := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			absorbed[c] = true
			delete(out, c)
			stack = append(stack, ct.children[c]...)
		}
	}
	return out
}

// rootDensityKm is the smallest distance recorded directly under the root:
// a point falling out of it or a child cluster splitting off.
func (ct *condensedTree) rootDensityKm() float64 {
	d := math.Inf(1)
	for p, c := range ct.pointCluster {
		if c == ct.n {
			d = math.Min(d, ct.pointDist[p])
		}
	}
	for _, c := range ct.children[ct.n] {
		d = math.Min(d, ct.birthKm(c))
	}
	return d
}

// label assigns each point to the nearest selected ancestor cluster.
// Selected clusters are numbered in ascending id order. When the root is
// selected a point stays in it only if it fell out within eps km, or, with
// eps zero, at no larger distance than the densest split under the root.
func (ct *condensedTree) label(selected map[int]bool, eps float64) []int {
	ids := make([]int, 0, len(selected))
	for id, ok := range selected {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	number := make(map[int]int, len(ids))
	for i, id := range ids {
		number[id] = i
	}

	reach := math.Inf(1)
	if selected[ct.n] {
		reach = eps
		if eps <= 0 {
			reach = ct.rootDensityKm()
		}
		reach *= 1 + distTolerance
	}

	labels := make([]int, ct.n)
	for p, c := range ct.pointCluster {
		labels[p] = Noise
		for {
			if l, ok := number[c]; ok {
				if c != ct.n || ct.pointDist[p] <= reach {
					labels[p] = l
				}
				break
			}
			parent, ok := ct.parentOf[c]
			if !ok {
				break
			}
			c = parent
		}
	}
	return labels
}
