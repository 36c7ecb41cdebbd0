package vectorstore

import "sort"

// fuseRRF implements spec.md §4.3 step 3: for each distinct passage_id,
// score(id) = Σ 1/(k_rrf + rank_s) over all shards s that returned it.
// Grounded on the teacher's internal/rag/retrieve/fusion.go FuseRRF, adapted
// from the fts/vector two-source case to an arbitrary number of shards and
// from string IDs to the domain's integer stable passage id.
func fuseRRF(perShard [][]shardHit, kRRF int) []CandidatePassage {
	if kRRF <= 0 {
		kRRF = 60
	}
	scores := make(map[int64]float64)
	order := make([]int64, 0)
	seen := make(map[int64]bool)

	for _, hits := range perShard {
		for _, h := range hits {
			if !seen[h.passageID] {
				seen[h.passageID] = true
				order = append(order, h.passageID)
			}
			scores[h.passageID] += 1.0 / float64(kRRF+h.rank)
		}
	}

	out := make([]CandidatePassage, 0, len(order))
	for _, id := range order {
		out = append(out, CandidatePassage{PassageID: id, FusedScore: scores[id]})
	}

	// spec.md §4.3 step 4: ties broken by lower passage_id for determinism.
	// spec.md §5 invariant 5: RRF score is invariant under shard permutation.
	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].PassageID < out[j].PassageID
	})
	return out
}
