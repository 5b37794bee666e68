package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"sports", CategorySports, false},
		{" Finance ", CategoryFinance, false},
		{"MUSIC", CategoryMusic, false},
		{"uncategorized", CategoryUncategorized, false},
		{"politics", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCategory(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCategories_excludeUncategorized(t *testing.T) {
	for _, c := range Categories {
		if c == CategoryUncategorized {
			t.Fatal("uncategorized must not be an assignable label")
		}
		if !c.Valid() {
			t.Errorf("%q should be valid", c)
		}
	}
}

func TestEmbedding_Compatible(t *testing.T) {
	e := &Embedding{Version: "v2", Vector: []float32{1, 0, 0}}
	if !e.Compatible("v2", 3) {
		t.Error("same version and dims should be compatible")
	}
	if e.Compatible("v1", 3) {
		t.Error("different version must not be compatible")
	}
	if e.Compatible("v2", 4) {
		t.Error("different dims must not be compatible")
	}
	var nilEmb *Embedding
	if nilEmb.Compatible("v2", 3) {
		t.Error("nil embedding is never compatible")
	}
}

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr bool
		wantK   int
	}{
		{"empty", Query{Text: "  "}, true, 0},
		{"default top k", Query{Text: "rates"}, false, 5},
		{"capped top k", Query{Text: "rates", TopK: 500}, false, 20},
		{"bad category", Query{Text: "rates", Category: "weather"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.query
			err := q.Validate(5, 20)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && q.TopK != tt.wantK {
				t.Errorf("TopK = %d, want %d", q.TopK, tt.wantK)
			}
		})
	}
}

func TestDateRange_Contains(t *testing.T) {
	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	r := DateRange{From: day, To: day.Add(24 * time.Hour)}
	if !r.Contains(day) {
		t.Error("From is inclusive")
	}
	if r.Contains(day.Add(24 * time.Hour)) {
		t.Error("To is exclusive")
	}
	if !(DateRange{}).Contains(day) {
		t.Error("open range contains everything")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("embed query: %w", &TransientProviderError{Capability: "embedding", Err: errors.New("429")})
	if !IsTransient(wrapped) {
		t.Error("wrapped transient error should be detected")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("plain error is not transient")
	}
	if !IsNoRelevantResults(&NoRelevantResultsError{Query: "q"}) {
		t.Error("NoRelevantResultsError not detected")
	}
	if !IsVersionMismatch(fmt.Errorf("search: %w", &ModelVersionMismatchError{Active: "v2", Got: "v1"})) {
		t.Error("version mismatch not detected")
	}
	var m *MalformedInputError
	if !errors.As(NewMalformedInput("url", "missing scheme"), &m) || m.Field != "url" {
		t.Error("MalformedInputError should carry the field")
	}
}

func TestArticle_EmbeddingInput(t *testing.T) {
	a := &Article{Title: "Héllo", RawText: "wörld body"}
	if got := a.EmbeddingInput(0); got != "Héllo\nwörld body" {
		t.Errorf("got %q", got)
	}
	if got := a.EmbeddingInput(7); got != "Héllo\nw" {
		t.Errorf("truncation should count runes, got %q", got)
	}
}
