package settings

import (
	"reflect"
	"testing"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		in     string
		want   bool
		wantOK bool
	}{
		{"true", true, true},
		{"TRUE", true, true},
		{" 1 ", true, true},
		{"yes", true, true},
		{"on", true, true},
		{"enabled", true, true},
		{"false", false, true},
		{"0", false, true},
		{"off", false, true},
		{"disabled", false, true},
		{"maybe", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		got, ok := ParseBool(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseBool(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"json array", `["pdf","docx","txt"]`, []string{"pdf", "docx", "txt"}},
		{"comma separated", "pdf, docx ,txt", []string{"pdf", "docx", "txt"}},
		{"single value", "pdf", []string{"pdf"}},
		{"empties dropped", "pdf,,  ,docx", []string{"pdf", "docx"}},
		{"json with spaces", `[" pdf ", ""]`, []string{"pdf"}},
		{"empty", "", nil},
		{"whitespace only", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseList(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseList(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAttachmentPolicy(t *testing.T) {
	p := AttachmentPolicy{MaxSizeMB: 10, Extensions: []string{".pdf", "DOCX", " txt "}}

	if p.MaxBytes() != 10<<20 {
		t.Errorf("MaxBytes() = %d", p.MaxBytes())
	}

	for _, ext := range []string{".pdf", "pdf", "PDF", ".docx", "txt"} {
		if !p.AllowsExtension(ext) {
			t.Errorf("AllowsExtension(%q) = false, want true", ext)
		}
	}
	if p.AllowsExtension(".exe") {
		t.Error("AllowsExtension(.exe) = true, want false")
	}
}
