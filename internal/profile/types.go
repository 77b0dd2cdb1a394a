package profile

import "time"

// Profile is the candidate's aggregated practice record across completed
// interviews, assembled from flat keys in the candidate_profile table.
type Profile struct {
	InterviewsCompleted int
	QuestionsAnswered   int
	AverageScore        float64 // running mean across completed interviews
	BestScore           float64
	CategoryAverages    map[string]float64 // category → running mean score
	ConfidenceTrend     float64            // trend of the most recent interview
	RolesPracticed      []string
	LatestInsights      []string
	LastCompletedAt     time.Time
}
