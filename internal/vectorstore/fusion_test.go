package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFuseRRF_OrderAndTies(t *testing.T) {
	perShard := [][]shardHit{
		{{passageID: 1, rank: 1}, {passageID: 2, rank: 2}},
		{{passageID: 2, rank: 1}, {passageID: 1, rank: 2}},
	}
	fused := fuseRRF(perShard, 60)
	require.Len(t, fused, 2)
	// Symmetric ranks across both shards: scores tie, so lower passage_id wins.
	require.Equal(t, fused[0].FusedScore, fused[1].FusedScore)
	require.Equal(t, int64(1), fused[0].PassageID)
	require.Equal(t, int64(2), fused[1].PassageID)
}

func TestFuseRRF_MoreShardsRankHigher(t *testing.T) {
	perShard := [][]shardHit{
		{{passageID: 1, rank: 1}},
		{{passageID: 1, rank: 1}},
		{{passageID: 2, rank: 1}},
	}
	fused := fuseRRF(perShard, 60)
	require.Len(t, fused, 2)
	require.Equal(t, int64(1), fused[0].PassageID)
	require.Greater(t, fused[0].FusedScore, fused[1].FusedScore)
}

func TestFuseRRF_PermutationInvariant(t *testing.T) {
	a := [][]shardHit{
		{{passageID: 1, rank: 1}, {passageID: 2, rank: 2}},
		{{passageID: 2, rank: 1}},
	}
	b := [][]shardHit{
		{{passageID: 2, rank: 1}},
		{{passageID: 1, rank: 1}, {passageID: 2, rank: 2}},
	}
	fa := fuseRRF(a, 60)
	fb := fuseRRF(b, 60)
	require.Equal(t, fa, fb)
}

func TestFuseRRF_DefaultK(t *testing.T) {
	perShard := [][]shardHit{{{passageID: 7, rank: 1}}}
	fused := fuseRRF(perShard, 0)
	require.Len(t, fused, 1)
	require.InDelta(t, 1.0/61.0, fused[0].FusedScore, 1e-9)
}
