package retrieval

import (
	"math"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Bagaimana cara mengajukan cuti?", []string{"bagaimana", "cara", "mengajukan", "cuti"}},
		{"a an of", nil},
		{"  (Kebijakan)  'Cuti'  2024! ", []string{"kebijakan", "cuti", "2024"}},
		{"", nil},
	}

	for _, tt := range tests {
		got := tokenize(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContentTokens_DropsStopwords(t *testing.T) {
	got := contentTokens("bagaimana prosedur pengajuan cuti tahunan yang berlaku")
	want := []string{"prosedur", "pengajuan", "cuti", "tahunan", "berlaku"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("contentTokens = %v, want %v", got, want)
	}
}

func TestNormalizeText(t *testing.T) {
	got := normalizeText("  Kebijakan \t Cuti\n\n2024  ")
	if got != "kebijakan cuti 2024" {
		t.Errorf("normalizeText = %q, want %q", got, "kebijakan cuti 2024")
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"cuti", "tahunan"}, []string{"cuti", "tahunan"}, 1.0},
		{"disjoint", []string{"cuti"}, []string{"lembur"}, 0.0},
		{"partial", []string{"cuti", "tahunan"}, []string{"cuti", "sakit"}, 1.0 / 3.0},
		{"empty", nil, []string{"cuti"}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := jaccard(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("jaccard(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSequenceRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "kebijakan cuti", "kebijakan cuti", 1.0},
		{"disjoint", "aaaa", "bbbb", 0.0},
		{"both empty", "", "", 1.0},
		{"one empty", "cuti", "", 0.0},
		{"overlapping", "abcd", "bcde", 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sequenceRatio(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("sequenceRatio(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSequenceRatio_NearDuplicate(t *testing.T) {
	a := "bagaimana prosedur pengajuan cuti tahunan untuk karyawan tetap"
	b := "bagaimana prosedur pengajuan cuti tahunan untuk karyawan tetap?"

	if got := sequenceRatio(a, b); got < 0.92 {
		t.Errorf("near-duplicate ratio = %f, want >= 0.92", got)
	}
}

func TestLooksLikeProductCode(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"spesifikasi OBH-500 tablet", true},
		{"insto d40 berapa harganya", true},
		{"bagaimana cara mengajukan cuti", false},
		{"laporan 2024", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := looksLikeProductCode(tt.query); got != tt.want {
			t.Errorf("looksLikeProductCode(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestHasDigitHasLetter(t *testing.T) {
	if !hasDigit("abc1") || hasDigit("abc") {
		t.Error("hasDigit misclassified")
	}
	if !hasLetter("1a2") || hasLetter("123") {
		t.Error("hasLetter misclassified")
	}
}
