package questions

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/parleyhq/parley/internal/interview"
)

func TestDefaultBank(t *testing.T) {
	b, err := DefaultBank()
	if err != nil {
		t.Fatalf("DefaultBank: %v", err)
	}
	if b.Total() != 10 {
		t.Fatalf("Total() = %d, want 10", b.Total())
	}

	first, err := b.Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if first.ID != "q1" {
		t.Errorf("Get(0).ID = %q, want q1", first.ID)
	}

	last, err := b.Get(9)
	if err != nil {
		t.Fatalf("Get(9): %v", err)
	}
	if last.ID != "q10" {
		t.Errorf("Get(9).ID = %q, want q10", last.ID)
	}
}

func TestGetOutOfRange(t *testing.T) {
	b, err := DefaultBank()
	if err != nil {
		t.Fatalf("DefaultBank: %v", err)
	}
	for _, ordinal := range []int{-1, b.Total(), b.Total() + 5} {
		if _, err := b.Get(ordinal); !errors.Is(err, ErrNoMoreQuestions) {
			t.Errorf("Get(%d): want ErrNoMoreQuestions, got %v", ordinal, err)
		}
	}
}

func TestLoadBankFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.json")
	content := `[{"id":"x1","text":"Why Go?","category":"TECHNICAL","difficulty":"EASY","estimated_sec":60}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadBank(path)
	if err != nil {
		t.Fatalf("LoadBank: %v", err)
	}
	if b.Total() != 1 {
		t.Errorf("Total() = %d, want 1", b.Total())
	}
	q, err := b.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if q.Category != interview.CategoryTechnical {
		t.Errorf("Category = %s, want TECHNICAL", q.Category)
	}
}

func TestLoadBankRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"empty list", `[]`},
		{"missing id", `[{"text":"hm"}]`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.name+".json")
		if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadBank(path); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
