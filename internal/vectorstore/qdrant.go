package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/cogops/govqa/internal/config"
	"github.com/cogops/govqa/internal/coreerrors"
	"github.com/cogops/govqa/internal/obslog"
)

// PayloadIDField names the payload key holding the original (pre-UUID) point
// id, mirroring the teacher's PAYLOAD_ID_FIELD convention in
// internal/persistence/databases/qdrant_vector.go.
const PayloadIDField = "_original_id"

// Retriever implements C3 against Qdrant shard collections and a canonical
// passage collection.
type Retriever struct {
	client            *qdrant.Client
	embedder          Embedder
	shardCollections  []string
	passageCollection string
	topKPerShard      int
	maxResults        int
	rrfK              int
	passageIDMetaKey  string
}

// NewRetriever dials Qdrant (gRPC, default port 6334) and constructs a
// Retriever from the vector retriever configuration.
func NewRetriever(cfg config.VectorRetrieverConfig, embedder Embedder) (*Retriever, error) {
	if len(cfg.ShardCollections) == 0 {
		return nil, fmt.Errorf("vector retriever: no shard collections configured")
	}
	if cfg.PassageCollection == "" {
		return nil, fmt.Errorf("vector retriever: no passage collection configured")
	}

	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse vector store DSN: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in vector store DSN: %w", err)
	}
	qcfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		qcfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		qcfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	return &Retriever{
		client:            client,
		embedder:          embedder,
		shardCollections:  cfg.ShardCollections,
		passageCollection: cfg.PassageCollection,
		topKPerShard:      cfg.TopKPerShard,
		maxResults:        cfg.MaxResults,
		rrfK:              cfg.RRFK,
		passageIDMetaKey:  cfg.PassageIDMetaKey,
	}, nil
}

func (r *Retriever) Close() error { return r.client.Close() }

// Retrieve implements spec.md §4.3's five-step algorithm.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, filter Filter) ([]CandidatePassage, error) {
	vector, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", coreerrors.ErrTransport, err)
	}

	perShard := make([][]shardHit, len(r.shardCollections))
	var wg sync.WaitGroup
	for i, shard := range r.shardCollections {
		wg.Add(1)
		go func(i int, shard string) {
			defer wg.Done()
			hits, err := r.queryShard(ctx, shard, vector, filter)
			if err != nil {
				obslog.WithTrace(ctx).Warn().Err(err).Str("shard", shard).Msg("vectorstore_shard_query_failed")
				perShard[i] = nil
				return
			}
			perShard[i] = hits
		}(i, shard)
	}
	wg.Wait()

	fused := fuseRRF(perShard, r.rrfK)
	if len(fused) == 0 {
		return nil, nil
	}
	if r.maxResults > 0 && len(fused) > r.maxResults {
		fused = fused[:r.maxResults]
	}

	materialized, err := r.materialize(ctx, fused)
	if err != nil {
		return nil, fmt.Errorf("%w: materialize passages: %v", coreerrors.ErrTransport, err)
	}
	return materialized, nil
}

// queryShard performs one shard's similarity search and extracts
// (passage_id, rank) pairs, dropping malformed ids with a warning
// (spec.md §4.3 step 2).
func (r *Retriever) queryShard(ctx context.Context, collection string, vector []float32, filter Filter) ([]shardHit, error) {
	var queryFilter *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		queryFilter = &qdrant.Filter{Must: must}
	}
	limit := uint64(r.topKPerShard)
	if limit == 0 {
		limit = 10
	}
	results, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &limit,
		Filter:         queryFilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	hits := make([]shardHit, 0, len(results))
	for rank, hit := range results {
		raw := r.stablePassageID(hit.Payload, hit.Id)
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			obslog.WithTrace(ctx).Warn().Str("shard", collection).Str("raw_id", raw).Msg("vectorstore_malformed_passage_id")
			continue
		}
		hits = append(hits, shardHit{passageID: id, rank: rank + 1})
	}
	return hits, nil
}

func (r *Retriever) stablePassageID(payload map[string]*qdrant.Value, pointID *qdrant.PointId) string {
	if payload != nil {
		if v, ok := payload[r.passageIDMetaKey]; ok {
			return v.GetStringValue()
		}
		if v, ok := payload[PayloadIDField]; ok {
			return v.GetStringValue()
		}
	}
	if uid := pointID.GetUuid(); uid != "" {
		return uid
	}
	return fmt.Sprintf("%d", pointID.GetNum())
}

// materialize implements spec.md §4.3 step 5: fetch full passage records
// from the passage collection and re-order to match the fused ranking.
func (r *Retriever) materialize(ctx context.Context, fused []CandidatePassage) ([]CandidatePassage, error) {
	ids := make([]*qdrant.PointId, 0, len(fused))
	for _, c := range fused {
		ids = append(ids, passageUUID(c.PassageID))
	}

	points, err := r.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: r.passageCollection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*qdrant.RetrievedPoint, len(points))
	for _, p := range points {
		if p.Payload == nil {
			continue
		}
		rawID := p.Payload[r.passageIDMetaKey].GetStringValue()
		if rawID == "" {
			rawID = p.Payload[PayloadIDField].GetStringValue()
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
		if err != nil {
			continue
		}
		byID[id] = p
	}

	out := make([]CandidatePassage, 0, len(fused))
	for _, c := range fused {
		p, ok := byID[c.PassageID]
		if !ok {
			continue
		}
		metadata := make(map[string]string, len(p.Payload))
		for k, v := range p.Payload {
			if k == r.passageIDMetaKey || k == PayloadIDField {
				continue
			}
			metadata[k] = v.GetStringValue()
		}
		document := p.Payload["document"].GetStringValue()
		out = append(out, CandidatePassage{
			ShardID:    "",
			PassageID:  c.PassageID,
			Document:   document,
			Metadata:   metadata,
			FusedScore: c.FusedScore,
		})
	}
	return out, nil
}

// passageUUID derives the deterministic UUID point id for an integer stable
// passage id, mirroring the teacher's Upsert/SimilaritySearch UUID scheme.
func passageUUID(passageID int64) *qdrant.PointId {
	idStr := strconv.FormatInt(passageID, 10)
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(idStr)).String())
}
