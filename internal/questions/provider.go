// Package questions supplies interview questions from a fixed, ordered
// bank. Selection is purely positional; there is no adaptive re-ranking.
package questions

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/parleyhq/parley/internal/interview"
)

// ErrNoMoreQuestions is returned when an ordinal points past the end of
// the bank. The orchestrator treats it as an invariant violation: the
// adaptation engine should have decided COMPLETE before this can happen.
var ErrNoMoreQuestions = errors.New("no more questions")

//go:embed bank.json
var bankFS embed.FS

// Bank is a positional question provider over a fixed ordered list.
type Bank struct {
	questions []interview.Question
}

// DefaultBank loads the embedded question bank.
func DefaultBank() (*Bank, error) {
	data, err := bankFS.ReadFile("bank.json")
	if err != nil {
		return nil, fmt.Errorf("reading embedded bank: %w", err)
	}
	return parseBank(data)
}

// LoadBank reads a question bank from a JSON file. An empty path falls
// back to the embedded default.
func LoadBank(path string) (*Bank, error) {
	if path == "" {
		return DefaultBank()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading question bank %s: %w", path, err)
	}
	return parseBank(data)
}

// NewBank builds a provider from an in-memory list (used by tests).
func NewBank(qs []interview.Question) *Bank {
	return &Bank{questions: qs}
}

func parseBank(data []byte) (*Bank, error) {
	var qs []interview.Question
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, fmt.Errorf("parsing question bank: %w", err)
	}
	if len(qs) == 0 {
		return nil, errors.New("question bank is empty")
	}
	for i, q := range qs {
		if q.ID == "" || q.Text == "" {
			return nil, fmt.Errorf("question at index %d missing id or text", i)
		}
	}
	return &Bank{questions: qs}, nil
}

// Get returns the question at the given zero-based ordinal.
func (b *Bank) Get(ordinal int) (interview.Question, error) {
	if ordinal < 0 || ordinal >= len(b.questions) {
		return interview.Question{}, fmt.Errorf("%w: ordinal %d, bank size %d", ErrNoMoreQuestions, ordinal, len(b.questions))
	}
	return b.questions[ordinal], nil
}

// Total returns the bank size.
func (b *Bank) Total() int {
	return len(b.questions)
}
