// Package vectorstore implements the Vector Retriever (C3, spec.md §4.3):
// query embedding, parallel sharded similarity search, Reciprocal Rank Fusion
// across shards, and materialization from the canonical passage collection.
// Grounded on the teacher's internal/persistence/databases/qdrant_vector.go
// client and internal/rag/retrieve/fusion.go RRF implementation.
package vectorstore

import "context"

// CandidatePassage is the record C3 returns (spec.md §3: "Candidate Passage").
type CandidatePassage struct {
	ShardID    string
	PassageID  int64
	Document   string
	Metadata   map[string]string
	FusedScore float64
}

// Filter is an optional equality filter applied to each shard query
// ("where" clause in spec.md §4.3 step 2).
type Filter map[string]string

// Embedder computes an embedding vector for a query string (spec.md §4.3
// step 1: "embeds the query... one call").
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// shardHit is one (passage_id, rank) pair returned by a single shard
// query, before fusion.
type shardHit struct {
	passageID int64
	rank      int // 1-based
}
