package solver

// DiagonalMarkowitzReorder chooses a symmetric permutation of the state
// variables that reduces LU fill-in. At each elimination step it picks the
// remaining diagonal entry minimizing the Markowitz cost
// (nrow-1)*(ncol-1), breaking ties toward the lowest original index, then
// simulates the elimination fill before choosing the next pivot.
//
// The returned mapping reads reordered[i] = original[perm[i]].
func DiagonalMarkowitzReorder(pattern [][]bool) []int {
	n := len(pattern)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	// work on a copy; the simulation mutates the pattern
	a := make([][]bool, n)
	for i := range a {
		a[i] = make([]bool, n)
		copy(a[i], pattern[i])
	}

	for i := 0; i < n-1; i++ {
		best := i
		bestCost := -1
		for k := i; k < n; k++ {
			nRow, nCol := 0, 0
			for j := i; j < n; j++ {
				if a[k][j] {
					nRow++
				}
				if a[j][k] {
					nCol++
				}
			}
			cost := (nRow - 1) * (nCol - 1)
			if bestCost < 0 || cost < bestCost ||
				(cost == bestCost && perm[k] < perm[best]) {
				best, bestCost = k, cost
			}
		}
		if best != i {
			perm[i], perm[best] = perm[best], perm[i]
			for j := 0; j < n; j++ {
				a[i][j], a[best][j] = a[best][j], a[i][j]
			}
			for j := 0; j < n; j++ {
				a[j][i], a[j][best] = a[j][best], a[j][i]
			}
		}
		// fill from eliminating pivot i
		for k := i + 1; k < n; k++ {
			if !a[k][i] {
				continue
			}
			for m := i + 1; m < n; m++ {
				if a[i][m] {
					a[k][m] = true
				}
			}
		}
	}
	return perm
}
