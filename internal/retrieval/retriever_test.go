package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/internal/vector"
	"github.com/combiphar/corpus/pkg/models"
)

type fakeSearcher struct {
	dense     []*vector.Candidate
	denseErr  error
	hybrid    []*vector.Candidate
	hybridErr error
	attach    []*vector.Candidate
	attachErr error

	denseCalls  int
	hybridCalls int
	attachCalls int

	lastMin          float64
	lastLimit        int
	lastFilter       vector.SearchFilter
	lastVectorWeight float64
	lastChatID       string
	lastAttachLimit  int
	lastEmbedding    []float32
}

func (f *fakeSearcher) SearchDense(ctx context.Context, embedding []float32, filter vector.SearchFilter, minScore float64, limit int) ([]*vector.Candidate, error) {
	f.denseCalls++
	f.lastFilter = filter
	f.lastMin = minScore
	f.lastLimit = limit
	return f.dense, f.denseErr
}

func (f *fakeSearcher) SearchHybridDB(ctx context.Context, embedding []float32, queryText string, filter vector.SearchFilter, minSimilarity, vectorWeight float64, limit int) ([]*vector.Candidate, error) {
	f.hybridCalls++
	f.lastMin = minSimilarity
	f.lastVectorWeight = vectorWeight
	f.lastLimit = limit
	return f.hybrid, f.hybridErr
}

func (f *fakeSearcher) AttachmentChunks(ctx context.Context, chatID string, sources []models.SourceType, embedding []float32, minScore float64, limit int) ([]*vector.Candidate, error) {
	f.attachCalls++
	f.lastChatID = chatID
	f.lastEmbedding = embedding
	f.lastMin = minScore
	f.lastAttachLimit = limit
	return f.attach, f.attachErr
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		MinScore:            0.1,
		ProductCodeMinScore: 0.05,
		SimilarityFloor:     0.15,
		VectorWeight:        0.6,
		MMRLambda:           0.7,
		DefaultLimit:        5,
		AttachmentMinScore:  0.2,
	}
}

func searchCand(id, storedName, content string, sim float64) *vector.Candidate {
	return &vector.Candidate{
		Chunk:          models.Chunk{ID: id, DocumentID: "doc-" + id, Content: content},
		Similarity:     sim,
		SourceType:     models.SourceAdmin,
		StoredFilename: storedName,
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	r := New(&fakeSearcher{}, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	_, err := r.Search(context.Background(), SearchRequest{Query: "   "})
	if !models.IsCode(err, models.ErrBadInput) {
		t.Fatalf("expected %s, got %v", models.ErrBadInput, err)
	}
}

func TestSearch_DensePath(t *testing.T) {
	searcher := &fakeSearcher{dense: []*vector.Candidate{
		searchCand("a", "a.pdf", "Kebijakan cuti tahunan menyatakan setiap karyawan tetap berhak atas dua belas hari kerja cuti tahunan setelah masa kerja dua belas bulan berturut turut.", 0.9),
		searchCand("b", "b.pdf", "Jadwal produksi mesin pengemasan lini dua berjalan dalam tiga shift bergantian dengan jeda pemeliharaan mingguan setiap akhir pekan.", 0.5),
		searchCand("c", "c.pdf", "Panduan keselamatan kerja laboratorium mewajibkan penggunaan alat pelindung diri lengkap selama pengujian bahan baku berlangsung.", 0.4),
	}}
	r := New(searcher, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	result, err := r.Search(context.Background(), SearchRequest{
		Query: "bagaimana kebijakan cuti tahunan?",
		K:     2,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if searcher.hybridCalls != 0 {
		t.Errorf("hybrid fallback must not run when dense search has hits")
	}
	if searcher.lastLimit != 10 {
		t.Errorf("over-fetch limit = %d, want k*5 = 10", searcher.lastLimit)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(result.Results))
	}
	top := result.Results[0]
	if top.ID != "a" {
		t.Errorf("expected the strongest candidate first, got %q", top.ID)
	}
	if top.VectorSimilarity != 0.9 {
		t.Errorf("vector similarity = %f, want 0.9", top.VectorSimilarity)
	}
	if top.Score != top.CombinedScore {
		t.Errorf("Score should mirror CombinedScore, got %f vs %f", top.Score, top.CombinedScore)
	}
	if top.StoredFilename != "a.pdf" || top.SourceType != models.SourceAdmin {
		t.Errorf("catalog fields not carried through: %+v", top)
	}
	if result.TotalHits != 2 || result.Cached {
		t.Errorf("result envelope wrong: hits=%d cached=%v", result.TotalHits, result.Cached)
	}
	if result.SearchTimeMs < 0 {
		t.Errorf("search time = %f", result.SearchTimeMs)
	}
}

func TestSearch_OverFetchCapped(t *testing.T) {
	searcher := &fakeSearcher{}
	r := New(searcher, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	_, err := r.Search(context.Background(), SearchRequest{Query: "kebijakan cuti", K: 40})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searcher.lastLimit != overFetchCap {
		t.Errorf("over-fetch = %d, want capped at %d", searcher.lastLimit, overFetchCap)
	}
}

func TestSearch_HybridFallbackWhenDenseEmpty(t *testing.T) {
	searcher := &fakeSearcher{
		dense: nil,
		hybrid: []*vector.Candidate{
			searchCand("h1", "h1.pdf", "Prosedur klaim asuransi rawat inap memerlukan surat rujukan dokter dan salinan kartu peserta yang masih berlaku.", 0.3),
		},
	}
	r := New(searcher, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	result, err := r.Search(context.Background(), SearchRequest{Query: "cara klaim asuransi", K: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if searcher.hybridCalls != 1 {
		t.Fatalf("expected exactly one hybrid fallback call, got %d", searcher.hybridCalls)
	}
	if searcher.lastVectorWeight != 0.6 {
		t.Errorf("vector weight = %f, want 0.6", searcher.lastVectorWeight)
	}
	if len(result.Results) != 1 || result.Results[0].ID != "h1" {
		t.Errorf("expected the hybrid candidate back, got %+v", result.Results)
	}
}

func TestSearch_NoCandidatesAnywhere(t *testing.T) {
	searcher := &fakeSearcher{}
	r := New(searcher, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	result, err := r.Search(context.Background(), SearchRequest{Query: "pertanyaan tanpa jawaban"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.TotalHits != 0 || len(result.Results) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if searcher.hybridCalls != 1 {
		t.Errorf("empty dense results should trigger the fallback, calls=%d", searcher.hybridCalls)
	}
}

func TestSearch_DedupesSameDocument(t *testing.T) {
	searcher := &fakeSearcher{dense: []*vector.Candidate{
		searchCand("a1", "a.pdf", "Bab pertama kebijakan perjalanan dinas menjelaskan batas biaya penginapan untuk setiap jenjang jabatan di seluruh wilayah operasional.", 0.9),
		searchCand("a2", "a.pdf", "Bab kedua kebijakan perjalanan dinas mengatur prosedur penggantian biaya transportasi beserta dokumen pendukung yang diwajibkan.", 0.7),
		searchCand("b1", "b.pdf", "Pengumuman jadwal pembagian tunjangan hari raya akan disampaikan melalui portal internal paling lambat dua minggu sebelum hari raya.", 0.5),
	}}
	r := New(searcher, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	result, err := r.Search(context.Background(), SearchRequest{Query: "aturan perjalanan dinas", K: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	seen := 0
	for _, res := range result.Results {
		if res.StoredFilename == "a.pdf" {
			seen++
			if res.VectorSimilarity != 0.9 {
				t.Errorf("dedupe kept similarity %f, want the best chunk (0.9)", res.VectorSimilarity)
			}
		}
	}
	if seen != 1 {
		t.Errorf("document a.pdf appeared %d times, want 1", seen)
	}
	if len(result.Results) != 2 {
		t.Errorf("expected 2 documents, got %d", len(result.Results))
	}
}

func TestSearch_SimilarityFloorDropsWeakHits(t *testing.T) {
	searcher := &fakeSearcher{dense: []*vector.Candidate{
		searchCand("strong", "a.pdf", "Ketentuan fasilitas kendaraan operasional mencakup jenis kendaraan, masa pakai, dan tanggung jawab pemeliharaan oleh pemegang fasilitas.", 0.9),
		searchCand("weak", "b.pdf", "Daftar menu kantin minggu ini beserta jadwal layanan makan siang untuk seluruh gedung perkantoran dan pabrik.", 0.10),
	}}
	r := New(searcher, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	result, err := r.Search(context.Background(), SearchRequest{Query: "fasilitas kendaraan operasional", K: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(result.Results) != 1 || result.Results[0].ID != "strong" {
		t.Errorf("expected only the strong hit to survive the floor, got %v", resultIDs(result))
	}
}

func TestSearch_ProductCodeLowersThreshold(t *testing.T) {
	searcher := &fakeSearcher{}
	r := New(searcher, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	if _, err := r.Search(context.Background(), SearchRequest{Query: "komposisi OBH-500 sirup"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searcher.lastMin != 0.05 {
		t.Errorf("threshold = %f, want product-code threshold 0.05", searcher.lastMin)
	}
}

func TestSearch_ExplicitMinScoreWins(t *testing.T) {
	searcher := &fakeSearcher{}
	r := New(searcher, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	if _, err := r.Search(context.Background(), SearchRequest{Query: "komposisi OBH-500", MinScore: 0.42}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searcher.lastMin != 0.42 {
		t.Errorf("threshold = %f, want explicit 0.42", searcher.lastMin)
	}
}

func TestSearch_EchoExcludedEvenAsTopHit(t *testing.T) {
	question := "Bagaimana prosedur pengajuan cuti tahunan untuk karyawan tetap?"
	searcher := &fakeSearcher{dense: []*vector.Candidate{
		searchCand("echo", "echo.txt", question, 0.99),
		searchCand("real", "real.pdf", "Kebijakan Cuti 2024\n\nPengajuan dilakukan melalui portal HRIS paling lambat tujuh hari kerja sebelum tanggal mulai dan memerlukan persetujuan atasan langsung.", 0.8),
	}}
	r := New(searcher, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	result, err := r.Search(context.Background(), SearchRequest{Query: question, K: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	for _, res := range result.Results {
		if res.ID == "echo" {
			t.Fatal("question echo returned as evidence")
		}
	}
	if len(result.Results) != 1 || result.Results[0].ID != "real" {
		t.Errorf("expected the substantive chunk, got %v", resultIDs(result))
	}
}

func TestSearch_RefinesFollowUpQuestion(t *testing.T) {
	cand := searchCand("a", "a.pdf", "Setiap karyawan tetap berhak atas dua belas hari kerja dengan persetujuan atasan langsung sebelum tanggal mulai.", 0.8)
	cand.DocumentMetadata = map[string]interface{}{"title": "Kebijakan Cuti 2024"}
	searcher := &fakeSearcher{dense: []*vector.Candidate{cand}}
	r := New(searcher, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	result, err := r.Search(context.Background(), SearchRequest{Query: "jelaskan lebih lanjut", K: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	wantPrefix := "jelaskan lebih lanjut terkait Kebijakan Cuti 2024"
	if !strings.HasPrefix(result.RefinedQuery, wantPrefix) {
		t.Errorf("refined query = %q, want prefix %q", result.RefinedQuery, wantPrefix)
	}
	if result.Results[0].DocumentTitle != "Kebijakan Cuti 2024" {
		t.Errorf("document title = %q", result.Results[0].DocumentTitle)
	}
}

func TestSearch_EmbedErrorSurfaces(t *testing.T) {
	r := New(&fakeSearcher{}, &fakeEmbedder{err: errors.New("model offline")}, nil, nil, testRetrievalConfig())

	_, err := r.Search(context.Background(), SearchRequest{Query: "kebijakan cuti"})
	if !models.IsCode(err, models.ErrEmbedding) {
		t.Fatalf("expected %s, got %v", models.ErrEmbedding, err)
	}
}

func TestSearch_DenseErrorSurfaces(t *testing.T) {
	r := New(&fakeSearcher{denseErr: errors.New("pool closed")}, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	_, err := r.Search(context.Background(), SearchRequest{Query: "kebijakan cuti"})
	if !models.IsCode(err, models.ErrStorage) {
		t.Fatalf("expected %s, got %v", models.ErrStorage, err)
	}
}

func TestSearchAttachments_RequiresChatID(t *testing.T) {
	r := New(&fakeSearcher{}, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	_, err := r.SearchAttachments(context.Background(), AttachmentRequest{Query: "ringkas"})
	if !models.IsCode(err, models.ErrBadInput) {
		t.Fatalf("expected %s, got %v", models.ErrBadInput, err)
	}
}

func TestSearchAttachments_NoQueryReturnsOrderedChunks(t *testing.T) {
	searcher := &fakeSearcher{attach: []*vector.Candidate{
		searchCand("c1", "upload.pdf", "Halaman pertama lampiran.", 1.0),
		searchCand("c2", "upload.pdf", "Halaman kedua lampiran.", 1.0),
	}}
	embedder := &fakeEmbedder{}
	r := New(searcher, embedder, nil, nil, testRetrievalConfig())

	result, err := r.SearchAttachments(context.Background(), AttachmentRequest{ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("SearchAttachments: %v", err)
	}

	if embedder.calls != 0 {
		t.Errorf("embedder must not run without a query, calls=%d", embedder.calls)
	}
	if searcher.lastEmbedding != nil {
		t.Errorf("expected nil embedding, got %v", searcher.lastEmbedding)
	}
	if searcher.lastChatID != "chat-1" {
		t.Errorf("chat id = %q", searcher.lastChatID)
	}
	if searcher.lastAttachLimit != 50 {
		t.Errorf("attachment cap = %d, want 50", searcher.lastAttachLimit)
	}
	if len(result.Results) != 2 || result.Results[0].Score != 1.0 {
		t.Errorf("expected both chunks with synthetic scores, got %+v", result.Results)
	}
}

func TestSearchAttachments_EmbedFailureFallsBackToOrdered(t *testing.T) {
	searcher := &fakeSearcher{attach: []*vector.Candidate{
		searchCand("c1", "upload.pdf", "Isi lampiran.", 1.0),
	}}
	r := New(searcher, &fakeEmbedder{err: errors.New("model offline")}, nil, nil, testRetrievalConfig())

	result, err := r.SearchAttachments(context.Background(), AttachmentRequest{ChatID: "chat-1", Query: "ringkas dokumen"})
	if err != nil {
		t.Fatalf("embedding failure must not fail attachment retrieval: %v", err)
	}
	if searcher.lastEmbedding != nil {
		t.Errorf("expected nil embedding after embed failure, got %v", searcher.lastEmbedding)
	}
	if len(result.Results) != 1 {
		t.Errorf("expected the ordered chunk back, got %d", len(result.Results))
	}
}

func TestSearchAttachments_CapScalesWithKPerFile(t *testing.T) {
	searcher := &fakeSearcher{}
	r := New(searcher, &fakeEmbedder{}, nil, nil, testRetrievalConfig())

	if _, err := r.SearchAttachments(context.Background(), AttachmentRequest{ChatID: "chat-1", KPerFile: 10}); err != nil {
		t.Fatalf("SearchAttachments: %v", err)
	}
	if searcher.lastAttachLimit != 100 {
		t.Errorf("attachment cap = %d, want kPerFile*10 = 100", searcher.lastAttachLimit)
	}
}

func resultIDs(result *models.SearchResult) []string {
	ids := make([]string, len(result.Results))
	for i, res := range result.Results {
		ids[i] = res.ID
	}
	return ids
}
