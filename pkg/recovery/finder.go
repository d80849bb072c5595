package recovery

import (
	"math/big"
	"sort"

	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// Pair identifies two tuples, by index into the slice given to
// FindReusedNonces, that share the same r.
type Pair struct {
	R *big.Int
	A int
	B int
}

// FindReusedNonces groups tuples by r and returns every pair within a group.
//
// Pairs are ordered by r, then by index. Tuples that are exact copies of
// each other (same s and z) are the same signature seen twice and are not
// paired.
func FindReusedNonces(tuples []rsz.SigningTuple) []Pair {
	groups := make(map[string][]int)
	for i, t := range tuples {
		key := string(t.R.Bytes())
		groups[key] = append(groups[key], i)
	}

	keys := make([]string, 0, len(groups))
	for key, idx := range groups {
		if len(idx) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return new(big.Int).SetBytes([]byte(keys[i])).Cmp(new(big.Int).SetBytes([]byte(keys[j]))) < 0
	})

	var pairs []Pair
	for _, key := range keys {
		idx := groups[key]
		for x := 0; x < len(idx); x++ {
			for y := x + 1; y < len(idx); y++ {
				a, b := tuples[idx[x]], tuples[idx[y]]
				if a.S.Cmp(b.S) == 0 && a.Z.Cmp(b.Z) == 0 {
					continue
				}
				pairs = append(pairs, Pair{R: new(big.Int).Set(a.R), A: idx[x], B: idx[y]})
			}
		}
	}
	return pairs
}
