package assignment

import "sort"

// rank orders, for every point in from, the indices of to by ascending
// distance. Equal distances keep their original index order.
func rank(from, to []Point) [][]int {
	prefs := make([][]int, len(from))
	dist := make([]float64, len(to))
	for i, origin := range from {
		for j, p := range to {
			dist[j] = Distance(origin, p)
		}
		order := make([]int, len(to))
		for j := range order {
			order[j] = j
		}
		sort.SliceStable(order, func(a, b int) bool {
			return dist[order[a]] < dist[order[b]]
		})
		prefs[i] = order
	}
	return prefs
}

// inverse turns preference lists into position lookups:
// inv[i][k] is where k sits in prefs[i].
func inverse(prefs [][]int) [][]int {
	inv := make([][]int, len(prefs))
	for i, order := range prefs {
		pos := make([]int, len(order))
		for r, k := range order {
			pos[k] = r
		}
		inv[i] = pos
	}
	return inv
}
