package retrieval

import (
	"testing"

	"github.com/combiphar/corpus/internal/vector"
	"github.com/combiphar/corpus/pkg/models"
)

func mmrCand(id, content string, sim float64) *vector.Candidate {
	return &vector.Candidate{
		Chunk:      models.Chunk{ID: id, Content: content},
		Similarity: sim,
	}
}

func TestMMRSelect_KeepsTopCandidateFirst(t *testing.T) {
	cands := []*vector.Candidate{
		mmrCand("top", "kebijakan cuti tahunan karyawan", 0.9),
		mmrCand("mid", "prosedur lembur shift malam", 0.6),
	}

	out := mmrSelect(cands, 0.7, 2)

	if len(out) != 2 {
		t.Fatalf("expected 2 selected, got %d", len(out))
	}
	if out[0].ID != "top" {
		t.Errorf("highest-relevance candidate should be selected first, got %q", out[0].ID)
	}
}

func TestMMRSelect_PrefersDiverseOverRedundant(t *testing.T) {
	cands := []*vector.Candidate{
		mmrCand("a", "kebijakan cuti tahunan karyawan tetap", 0.90),
		mmrCand("dup", "kebijakan cuti tahunan karyawan tetap", 0.89),
		mmrCand("other", "jadwal lembur shift malam produksi", 0.60),
	}

	out := mmrSelect(cands, 0.7, 2)

	if len(out) != 2 {
		t.Fatalf("expected 2 selected, got %d", len(out))
	}
	if out[1].ID != "other" {
		t.Errorf("diverse candidate should beat the near-duplicate, got %q", out[1].ID)
	}
}

func TestMMRSelect_RespectsLimit(t *testing.T) {
	cands := []*vector.Candidate{
		mmrCand("a", "alpha content one", 0.9),
		mmrCand("b", "beta content two", 0.8),
		mmrCand("c", "gamma content three", 0.7),
		mmrCand("d", "delta content four", 0.6),
	}

	if out := mmrSelect(cands, 0.7, 3); len(out) != 3 {
		t.Errorf("expected 3 selected, got %d", len(out))
	}
}

func TestMMRSelect_FewerThanLimit(t *testing.T) {
	cands := []*vector.Candidate{mmrCand("a", "only one", 0.9)}

	out := mmrSelect(cands, 0.7, 5)
	if len(out) != 1 || out[0].ID != "a" {
		t.Errorf("expected the single candidate back, got %v", idsOf(out))
	}
}

func TestMMRSelect_ZeroLimit(t *testing.T) {
	cands := []*vector.Candidate{
		mmrCand("a", "alpha", 0.9),
		mmrCand("b", "beta", 0.8),
	}

	if out := mmrSelect(cands, 0.7, 0); len(out) != 0 {
		t.Errorf("expected nothing selected with zero limit, got %d", len(out))
	}
}
