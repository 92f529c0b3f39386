// Package retrieval answers questions against the ingested corpus. Dense
// similarity produces candidates; echo filtering, MMR padding, PRF
// expansion, and BM25 fusion turn them into ranked evidence.
package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/internal/vector"
	"github.com/combiphar/corpus/pkg/models"
)

// overFetchCap bounds the candidate pool regardless of k.
const overFetchCap = 80

// VectorSearcher is the slice of the vector store the retriever needs.
type VectorSearcher interface {
	SearchDense(ctx context.Context, embedding []float32, filter vector.SearchFilter, minScore float64, limit int) ([]*vector.Candidate, error)
	SearchHybridDB(ctx context.Context, embedding []float32, queryText string, filter vector.SearchFilter, minSimilarity, vectorWeight float64, limit int) ([]*vector.Candidate, error)
	AttachmentChunks(ctx context.Context, chatID string, sources []models.SourceType, embedding []float32, minScore float64, limit int) ([]*vector.Candidate, error)
}

// QueryEmbedder embeds the question text.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever runs permission-scoped hybrid search.
type Retriever struct {
	vectors  VectorSearcher
	embedder QueryEmbedder
	perms    PermissionSource
	cache    *Cache
	cfg      config.RetrievalConfig
	logger   zerolog.Logger
}

// New creates a retriever. cache and perms may be nil.
func New(vectors VectorSearcher, embedder QueryEmbedder, perms PermissionSource, cache *Cache, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{
		vectors:  vectors,
		embedder: embedder,
		perms:    perms,
		cache:    cache,
		cfg:      cfg,
		logger:   observability.Logger("retrieval"),
	}
}

// SearchRequest is one corpus question.
type SearchRequest struct {
	Query    string
	K        int
	User     *models.UserInfo
	Sources  []models.SourceType
	MinScore float64
}

// Search answers a question with ranked chunks.
func (r *Retriever) Search(ctx context.Context, req SearchRequest) (*models.SearchResult, error) {
	start := time.Now()

	if normalizeText(req.Query) == "" {
		return nil, models.NewError(models.ErrBadInput, "query must not be empty")
	}
	k := req.K
	if k <= 0 {
		k = r.cfg.DefaultLimit
	}
	if k <= 0 {
		k = 5
	}
	threshold := r.threshold(req)
	sources := normalizeSources(req.Sources)
	userID := "anonymous"
	if req.User != nil && req.User.ID != "" {
		userID = req.User.ID
	}

	if cached, ok := r.cache.GetSearch(ctx, userID, req.Query, k, threshold, sources); ok {
		return cached, nil
	}

	filter, err := resolveScope(ctx, r.perms, req.User, sources)
	if err != nil {
		return nil, models.Wrap(models.ErrStorage, "could not resolve source permissions", err)
	}

	embedding, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, models.Wrap(models.ErrEmbedding, "could not embed query", err)
	}

	overFetch := k * 5
	if overFetch > overFetchCap {
		overFetch = overFetchCap
	}

	cands, err := r.vectors.SearchDense(ctx, embedding, filter, threshold, overFetch)
	if err != nil {
		return nil, models.Wrap(models.ErrStorage, "dense search failed", err)
	}
	if len(cands) == 0 {
		cands, err = r.vectors.SearchHybridDB(ctx, embedding, req.Query, filter, threshold, r.cfg.VectorWeight, overFetch)
		if err != nil {
			return nil, models.Wrap(models.ErrStorage, "hybrid fallback search failed", err)
		}
	}

	deduped := dedupeByDocKey(cands)
	survivors := filterEchoes(req.Query, deduped)

	minKeep := k
	if minKeep < 5 {
		minKeep = 5
	}
	if len(survivors) < minKeep && len(deduped) > len(survivors) {
		padded := mmrSelect(deduped, r.cfg.MMRLambda, minKeep)
		survivors = filterEchoes(req.Query, mergeCandidates(survivors, padded))
	}

	prfTerms := minePRFTerms(req.Query, survivors)
	result := &models.SearchResult{Query: req.Query}
	if refined, hints := refineQuestion(req.Query, survivors, prfTerms); refined != "" {
		result.RefinedQuery = refined
		observability.LogEvent(r.logger, observability.EventQueryRefined, map[string]interface{}{
			"query":   req.Query,
			"refined": refined,
			"hints":   hints,
		})
	}

	result.Results = r.fuseAndRank(req.Query, prfTerms, survivors, k)
	result.TotalHits = len(result.Results)
	result.SearchTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	r.cache.PutSearch(ctx, userID, req.Query, k, threshold, sources, result)

	r.logger.Debug().
		Int("candidates", len(cands)).
		Int("deduped", len(deduped)).
		Int("returned", result.TotalHits).
		Float64("threshold", threshold).
		Msg("search completed")
	return result, nil
}

// threshold picks the similarity cutoff: explicit override first, then the
// lower product-code threshold for code-looking queries.
func (r *Retriever) threshold(req SearchRequest) float64 {
	if req.MinScore > 0 {
		return req.MinScore
	}
	if looksLikeProductCode(req.Query) && r.cfg.ProductCodeMinScore > 0 {
		return r.cfg.ProductCodeMinScore
	}
	if r.cfg.MinScore > 0 {
		return r.cfg.MinScore
	}
	return 0.1
}

// fuseAndRank runs the lexical leg over the candidate set, fuses it with
// the vector scores, applies the similarity floor, and returns the top k.
func (r *Retriever) fuseAndRank(query string, prfTerms []string, cands []*vector.Candidate, k int) []models.RetrievedChunk {
	if len(cands) == 0 {
		return nil
	}

	queryTokens := append(tokenize(query), prfTerms...)
	docTokens := make([][]string, len(cands))
	vecScores := make([]float64, len(cands))
	for i, c := range cands {
		docTokens[i] = tokenize(c.Content)
		vecScores[i] = c.Similarity
	}

	normLex := minMaxNormalize(bm25Scores(queryTokens, docTokens))
	normVec := minMaxNormalize(vecScores)

	weight := r.cfg.VectorWeight
	if weight <= 0 || weight > 1 {
		weight = 0.6
	}
	floor := r.cfg.SimilarityFloor
	if floor <= 0 {
		floor = 0.15
	}

	type ranked struct {
		cand     *vector.Candidate
		lexical  float64
		combined float64
	}
	var kept []ranked
	dropped := 0
	for i, c := range cands {
		if c.Similarity < floor {
			dropped++
			continue
		}
		kept = append(kept, ranked{
			cand:     c,
			lexical:  normLex[i],
			combined: weight*normVec[i] + (1-weight)*normLex[i],
		})
	}
	if dropped > 0 {
		r.logger.Debug().Int("dropped", dropped).Float64("floor", floor).Msg("similarity floor applied")
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].combined > kept[j].combined
	})
	if len(kept) > k {
		kept = kept[:k]
	}

	out := make([]models.RetrievedChunk, len(kept))
	for i, rk := range kept {
		out[i] = models.RetrievedChunk{
			Chunk:            rk.cand.Chunk,
			Score:            rk.combined,
			VectorSimilarity: rk.cand.Similarity,
			LexicalScore:     rk.lexical,
			CombinedScore:    rk.combined,
			SourceType:       rk.cand.SourceType,
			StoredFilename:   rk.cand.StoredFilename,
			DocumentTitle:    docLabel(rk.cand),
		}
	}
	return out
}

// AttachmentRequest asks for the chunks of one chat's uploads.
type AttachmentRequest struct {
	ChatID   string
	Query    string
	KPerFile int
	Sources  []models.SourceType
}

// SearchAttachments returns chunks belonging to a chat's attachments. With
// a query they are scored by similarity; without one (or if embedding
// fails) they come back in file order with a synthetic score so the caller
// can still show them first.
func (r *Retriever) SearchAttachments(ctx context.Context, req AttachmentRequest) (*models.SearchResult, error) {
	start := time.Now()

	if req.ChatID == "" {
		return nil, models.NewError(models.ErrBadInput, "chat_id is required")
	}
	kPerFile := req.KPerFile
	if kPerFile <= 0 {
		kPerFile = 5
	}
	limit := kPerFile * 10
	if limit < 50 {
		limit = 50
	}

	var embedding []float32
	if normalizeText(req.Query) != "" {
		var err error
		embedding, err = r.embedder.Embed(ctx, req.Query)
		if err != nil {
			r.logger.Warn().Err(err).Msg("attachment query embedding failed, returning ordered chunks")
			embedding = nil
		}
	}

	minScore := r.cfg.AttachmentMinScore
	if minScore <= 0 {
		minScore = 0.2
	}

	cands, err := r.vectors.AttachmentChunks(ctx, req.ChatID, req.Sources, embedding, minScore, limit)
	if err != nil {
		return nil, models.Wrap(models.ErrStorage, "attachment search failed", err)
	}

	results := make([]models.RetrievedChunk, len(cands))
	for i, c := range cands {
		results[i] = models.RetrievedChunk{
			Chunk:            c.Chunk,
			Score:            c.Similarity,
			VectorSimilarity: c.Similarity,
			SourceType:       c.SourceType,
			StoredFilename:   c.StoredFilename,
			DocumentTitle:    docLabel(c),
		}
	}

	return &models.SearchResult{
		Query:        req.Query,
		Results:      results,
		TotalHits:    len(results),
		SearchTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// dedupeByDocKey keeps the best-scoring chunk per document key, ordered by
// score descending.
func dedupeByDocKey(cands []*vector.Candidate) []*vector.Candidate {
	best := make(map[string]*vector.Candidate, len(cands))
	var order []string
	for _, c := range cands {
		key := c.DocKey()
		cur, ok := best[key]
		if !ok {
			best[key] = c
			order = append(order, key)
			continue
		}
		if c.Similarity > cur.Similarity {
			best[key] = c
		}
	}

	out := make([]*vector.Candidate, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}

// mergeCandidates unions two lists by chunk id, preserving the first
// list's order.
func mergeCandidates(a, b []*vector.Candidate) []*vector.Candidate {
	seen := make(map[string]bool, len(a))
	out := make([]*vector.Candidate, 0, len(a)+len(b))
	for _, c := range a {
		seen[c.ID] = true
		out = append(out, c)
	}
	for _, c := range b {
		if !seen[c.ID] {
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	return out
}
