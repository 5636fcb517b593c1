package agents

import (
	"sort"

	"github.com/mohammad-safakhou/rmri/internal/textsim"
)

// clusterFingerprints groups fingerprints into at most k clusters.
//
// Seeds are picked farthest-first starting from index 0, members join their
// most similar seed, then clusters under minSize are folded into the cluster
// they are most similar to (average linkage). Ties always go to the lower
// index, so the result depends only on input order.
func clusterFingerprints(fps [][]string, k, minSize int) [][]int {
	n := len(fps)
	if n == 0 {
		return nil
	}
	if k <= 0 {
		k = 1
	}
	if k > n {
		k = n
	}
	sets := make([]map[string]struct{}, n)
	for i, fp := range fps {
		sets[i] = textsim.SetOf(fp)
	}
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
		sim[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := textsim.Jaccard(sets[i], sets[j])
			sim[i][j], sim[j][i] = s, s
		}
	}

	seeds := []int{0}
	isSeed := map[int]bool{0: true}
	for len(seeds) < k {
		best, bestDist := -1, 0.0
		for i := 0; i < n; i++ {
			if isSeed[i] {
				continue
			}
			nearest := 1.0
			for _, s := range seeds {
				if d := 1 - sim[i][s]; d < nearest {
					nearest = d
				}
			}
			if nearest > bestDist {
				best, bestDist = i, nearest
			}
		}
		if best < 0 {
			break // every remaining item duplicates a seed
		}
		seeds = append(seeds, best)
		isSeed[best] = true
	}

	groups := make([][]int, len(seeds))
	for i := 0; i < n; i++ {
		target := 0
		for si, s := range seeds {
			if s == i {
				target = si
				break
			}
			if sim[i][s] > sim[i][seeds[target]] {
				target = si
			}
		}
		groups[target] = append(groups[target], i)
	}

	linkage := func(a, b []int) float64 {
		total := 0.0
		for _, x := range a {
			for _, y := range b {
				total += sim[x][y]
			}
		}
		return total / float64(len(a)*len(b))
	}
	for len(groups) > 1 {
		small := -1
		for gi, g := range groups {
			if len(g) < minSize && (small < 0 || len(g) < len(groups[small])) {
				small = gi
			}
		}
		if small < 0 {
			break
		}
		into, bestLink := -1, -1.0
		for gi, g := range groups {
			if gi == small {
				continue
			}
			if l := linkage(groups[small], g); l > bestLink {
				into, bestLink = gi, l
			}
		}
		groups[into] = append(groups[into], groups[small]...)
		groups = append(groups[:small], groups[small+1:]...)
	}

	for _, g := range groups {
		sort.Ints(g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

// cohesion is the mean pairwise similarity of a group; singletons score 1.
func cohesion(fps [][]string, members []int) float64 {
	if len(members) < 2 {
		return 1
	}
	total, pairs := 0.0, 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			total += textsim.Jaccard(textsim.SetOf(fps[members[i]]), textsim.SetOf(fps[members[j]]))
			pairs++
		}
	}
	return total / float64(pairs)
}

// topTokens returns the n most frequent tokens across members, ties alphabetical.
func topTokens(fps [][]string, members []int, n int) []string {
	counts := make(map[string]int)
	for _, m := range members {
		for _, tok := range fps[m] {
			counts[tok]++
		}
	}
	toks := make([]string, 0, len(counts))
	for tok := range counts {
		toks = append(toks, tok)
	}
	sort.Slice(toks, func(i, j int) bool {
		if counts[toks[i]] != counts[toks[j]] {
			return counts[toks[i]] > counts[toks[j]]
		}
		return toks[i] < toks[j]
	})
	if len(toks) > n {
		toks = toks[:n]
	}
	return toks
}
