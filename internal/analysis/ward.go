package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// wardOrder clusters the rows of m with Ward linkage on Euclidean distance
// and returns the dendrogram leaves in optimal leaf order: among the orders
// the tree admits, the one with the smallest sum of distances between
// neighbouring leaves. Merge ties pick the first pair found.
func wardOrder(m [][]float64) []int {
	n := len(m)
	if n <= 2 {
		return sequence(n)
	}
	// dist is indexed by cluster id; merged clusters take ids n, n+1, ...
	dist := make([][]float64, 2*n-1)
	for i := range dist {
		dist[i] = make([]float64, 2*n-1)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(m[i], m[j], 2)
			dist[i][j], dist[j][i] = d, d
		}
	}
	size := make([]float64, 2*n-1)
	left := make([]int, 2*n-1)
	right := make([]int, 2*n-1)
	active := make([]bool, 2*n-1)
	for i := 0; i < n; i++ {
		size[i] = 1
		active[i] = true
	}

	next := n
	for ; next < 2*n-1; next++ {
		bi, bj, best := -1, -1, math.Inf(1)
		for i := 0; i < next; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < next; j++ {
				if active[j] && dist[i][j] < best {
					bi, bj, best = i, j, dist[i][j]
				}
			}
		}
		left[next], right[next] = bi, bj
		size[next] = size[bi] + size[bj]
		active[bi], active[bj] = false, false
		// Lance-Williams update for Ward linkage.
		for k := 0; k < next; k++ {
			if !active[k] {
				continue
			}
			t := size[bi] + size[bj] + size[k]
			d2 := ((size[bi]+size[k])*dist[bi][k]*dist[bi][k] +
				(size[bj]+size[k])*dist[bj][k]*dist[bj][k] -
				size[k]*best*best) / t
			d := math.Sqrt(math.Max(d2, 0))
			dist[next][k], dist[k][next] = d, d
		}
		active[next] = true
	}
	// Leaf-to-leaf entries of dist are never overwritten by the updates.
	return optimalLeafOrder(dist, left, right, n)
}

// optimalLeafOrder flips the children of every merge so the final leaf
// sequence minimises the summed distance of neighbours (Bar-Joseph et al.).
// cost[v][a][b] is the best cost of subtree v laid out from leaf a to leaf
// b, stored for a under the left child and b under the right one.
func optimalLeafOrder(dist [][]float64, left, right []int, n int) []int {
	nodes := 2*n - 1
	leaves := make([][]int, nodes)
	under := make([][]bool, nodes)
	for v := 0; v < nodes; v++ {
		under[v] = make([]bool, n)
		if v < n {
			leaves[v] = []int{v}
			under[v][v] = true
			continue
		}
		leaves[v] = append(append([]int(nil), leaves[left[v]]...), leaves[right[v]]...)
		for _, a := range leaves[v] {
			under[v][a] = true
		}
	}

	type split struct{ k, l int }
	cost := make([][][]float64, nodes)
	via := make([][][]split, nodes)
	// span reads the cost of subtree v from a to b in either orientation.
	span := func(v, a, b int) float64 {
		switch {
		case a == b && v < n:
			return 0
		case a == b || v < n:
			return math.Inf(1)
		}
		if under[left[v]][a] {
			return cost[v][a][b]
		}
		return cost[v][b][a]
	}
	for v := n; v < nodes; v++ {
		cost[v] = make([][]float64, n)
		via[v] = make([][]split, n)
		for _, a := range leaves[left[v]] {
			cost[v][a] = make([]float64, n)
			via[v][a] = make([]split, n)
			for _, b := range leaves[right[v]] {
				best, at := math.Inf(1), split{-1, -1}
				for _, k := range leaves[left[v]] {
					ak := span(left[v], a, k)
					if math.IsInf(ak, 1) {
						continue
					}
					for _, l := range leaves[right[v]] {
						c := ak + dist[k][l] + span(right[v], l, b)
						if c < best {
							best, at = c, split{k, l}
						}
					}
				}
				cost[v][a][b], via[v][a][b] = best, at
			}
		}
	}

	order := make([]int, 0, n)
	var emit func(v, a, b int)
	emit = func(v, a, b int) {
		if v < n {
			order = append(order, v)
			return
		}
		if under[left[v]][a] {
			s := via[v][a][b]
			emit(left[v], a, s.k)
			emit(right[v], s.l, b)
			return
		}
		s := via[v][b][a]
		emit(right[v], a, s.l)
		emit(left[v], s.k, b)
	}

	root := nodes - 1
	best, ba, bb := math.Inf(1), -1, -1
	for _, a := range leaves[left[root]] {
		for _, b := range leaves[right[root]] {
			if c := cost[root][a][b]; c < best {
				best, ba, bb = c, a, b
			}
		}
	}
	emit(root, ba, bb)
	return order
}

// normalizeRows divides every row by its sum plus one.
func normalizeRows(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
		floats.Scale(1/(floats.Sum(row)+1), out[i])
	}
	return out
}
