// Package profile maintains the candidate's aggregated practice record:
// every completed interview folds its summary into running averages kept
// as flat key-value pairs in SQLite. The manager caches the assembled
// profile and serves it to the CLI and MCP surfaces.
package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/orchestrator"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SetProfileKey(key, value string) error
	GetAllProfileKeys() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached, structured access to the candidate profile
// stored in SQLite.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return &Manager{
		store: store,
		clock: realClock{},
		ttl:   60 * time.Second,
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
	}
}

// GetProfile reads all profile keys from storage (or cache) and assembles
// a structured Profile. Returns a zero-value Profile on empty store.
func (m *Manager) GetProfile() (Profile, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := deepCopyProfile(m.cached)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return deepCopyProfile(m.cached), nil
	}

	p, err := m.loadLocked()
	if err != nil {
		return Profile{}, err
	}
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return deepCopyProfile(&p), nil
}

// RecordCompletion folds one completed interview's summary into the
// running aggregates and persists them. Implements the orchestrator's
// completion-sink contract (via the composite sink in the server).
func (m *Manager) RecordCompletion(sum orchestrator.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, err := m.store.GetAllProfileKeys()
	if err != nil {
		return fmt.Errorf("loading profile keys: %w", err)
	}
	p := buildProfile(keys)
	counts := loadCategoryCounts(keys)

	n := float64(p.InterviewsCompleted)
	p.AverageScore = (p.AverageScore*n + sum.AverageScore) / (n + 1)
	p.InterviewsCompleted++
	p.QuestionsAnswered += sum.QuestionsAnswered
	if sum.AverageScore > p.BestScore {
		p.BestScore = sum.AverageScore
	}
	if p.CategoryAverages == nil {
		p.CategoryAverages = make(map[string]float64)
	}
	for cat, score := range sum.Breakdown {
		key := string(cat)
		c := float64(counts[key])
		p.CategoryAverages[key] = (p.CategoryAverages[key]*c + score) / (c + 1)
		counts[key]++
	}
	p.ConfidenceTrend = sum.ConfidenceTrend
	p.LatestInsights = sum.Insights
	p.LastCompletedAt = sum.CompletedAt
	if sum.RoleID != "" && !contains(p.RolesPracticed, sum.RoleID) {
		p.RolesPracticed = append(p.RolesPracticed, sum.RoleID)
	}

	if err := m.persistLocked(p, counts); err != nil {
		return err
	}
	m.cached = nil
	return nil
}

// GetSummary returns a compact string representation of the profile
// suitable for CLI and MCP output.
func (m *Manager) GetSummary() (string, error) {
	p, err := m.GetProfile()
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	return summarize(p), nil
}

func summarize(p Profile) string {
	if p.InterviewsCompleted == 0 {
		return "No completed interviews yet."
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("Completed %d interview(s), %d answers, average score %.1f (best %.1f).",
		p.InterviewsCompleted, p.QuestionsAnswered, p.AverageScore, p.BestScore))

	if len(p.CategoryAverages) > 0 {
		cats := make([]string, 0, len(p.CategoryAverages))
		for cat := range p.CategoryAverages {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		var scored []string
		for _, cat := range cats {
			scored = append(scored, fmt.Sprintf("%s %.1f", strings.ToLower(cat), p.CategoryAverages[cat]))
		}
		parts = append(parts, fmt.Sprintf("By category: %s.", strings.Join(scored, ", ")))
	}

	if len(p.RolesPracticed) > 0 {
		parts = append(parts, fmt.Sprintf("Roles practiced: %s.", strings.Join(p.RolesPracticed, ", ")))
	}
	for _, ins := range p.LatestInsights {
		parts = append(parts, ins)
	}
	return strings.Join(parts, " ")
}

// --- persistence ---

// Flat key layout in candidate_profile. Lists and maps are JSON.
const (
	keyInterviews      = "stats.interviews_completed"
	keyQuestions       = "stats.questions_answered"
	keyAverage         = "stats.average_score"
	keyBest            = "stats.best_score"
	keyCategories      = "categories"
	keyCategoryCounts  = "categories.counts"
	keyConfidence      = "confidence.trend"
	keyRoles           = "roles"
	keyInsights        = "insights.latest"
	keyLastCompletedAt = "last_completed_at"
)

func (m *Manager) loadLocked() (Profile, error) {
	keys, err := m.store.GetAllProfileKeys()
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile keys: %w", err)
	}
	return buildProfile(keys), nil
}

func loadCategoryCounts(keys map[string]string) map[string]int {
	counts := make(map[string]int)
	v, ok := keys[keyCategoryCounts]
	if !ok || v == "" {
		return counts
	}
	if err := json.Unmarshal([]byte(v), &counts); err != nil {
		slog.Warn("malformed category counts, resetting", "error", err)
		return make(map[string]int)
	}
	return counts
}

func (m *Manager) persistLocked(p Profile, counts map[string]int) error {
	set := func(key, value string) error {
		if err := m.store.SetProfileKey(key, value); err != nil {
			return fmt.Errorf("setting profile key %q: %w", key, err)
		}
		return nil
	}
	setJSON := func(key string, v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling profile key %q: %w", key, err)
		}
		return set(key, string(b))
	}

	if err := set(keyInterviews, fmt.Sprintf("%d", p.InterviewsCompleted)); err != nil {
		return err
	}
	if err := set(keyQuestions, fmt.Sprintf("%d", p.QuestionsAnswered)); err != nil {
		return err
	}
	if err := set(keyAverage, fmt.Sprintf("%g", p.AverageScore)); err != nil {
		return err
	}
	if err := set(keyBest, fmt.Sprintf("%g", p.BestScore)); err != nil {
		return err
	}
	if err := set(keyConfidence, fmt.Sprintf("%g", p.ConfidenceTrend)); err != nil {
		return err
	}
	if err := set(keyLastCompletedAt, p.LastCompletedAt.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := setJSON(keyCategories, p.CategoryAverages); err != nil {
		return err
	}
	if err := setJSON(keyCategoryCounts, counts); err != nil {
		return err
	}
	if err := setJSON(keyRoles, p.RolesPracticed); err != nil {
		return err
	}
	return setJSON(keyInsights, p.LatestInsights)
}

// buildProfile assembles a Profile from flat key-value pairs.
func buildProfile(keys map[string]string) Profile {
	var p Profile

	scanProfileKey(keys, keyInterviews, "%d", &p.InterviewsCompleted)
	scanProfileKey(keys, keyQuestions, "%d", &p.QuestionsAnswered)
	scanProfileKey(keys, keyAverage, "%g", &p.AverageScore)
	scanProfileKey(keys, keyBest, "%g", &p.BestScore)
	scanProfileKey(keys, keyConfidence, "%g", &p.ConfidenceTrend)

	if v, ok := keys[keyLastCompletedAt]; ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			p.LastCompletedAt = ts
		} else {
			slog.Warn("malformed profile key, skipping", "key", keyLastCompletedAt, "error", err)
		}
	}

	unmarshalProfileKey(keys, keyCategories, &p.CategoryAverages)
	unmarshalProfileKey(keys, keyRoles, &p.RolesPracticed)
	unmarshalProfileKey(keys, keyInsights, &p.LatestInsights)

	return p
}

// scanProfileKey parses a scalar value from keys into target, logging a
// warning if the value is present but malformed.
func scanProfileKey(keys map[string]string, key, format string, target interface{}) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if _, err := fmt.Sscanf(v, format, target); err != nil {
		slog.Warn("malformed profile key, skipping", "key", key, "error", err)
	}
}

// unmarshalProfileKey unmarshals a JSON value from keys into target, logging
// a warning if the value is present but malformed.
func unmarshalProfileKey(keys map[string]string, key string, target interface{}) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed profile key, skipping", "key", key, "error", err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func deepCopyProfile(p *Profile) Profile {
	if p == nil {
		return Profile{}
	}
	cp := *p

	if p.CategoryAverages != nil {
		cp.CategoryAverages = make(map[string]float64, len(p.CategoryAverages))
		for k, v := range p.CategoryAverages {
			cp.CategoryAverages[k] = v
		}
	}
	if p.RolesPracticed != nil {
		cp.RolesPracticed = make([]string, len(p.RolesPracticed))
		copy(cp.RolesPracticed, p.RolesPracticed)
	}
	if p.LatestInsights != nil {
		cp.LatestInsights = make([]string, len(p.LatestInsights))
		copy(cp.LatestInsights, p.LatestInsights)
	}
	return cp
}
