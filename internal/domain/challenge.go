package domain

import "time"

// Tier is the temporal scope of a challenge.
type Tier string

const (
	TierDaily   Tier = "daily"
	TierWeekly  Tier = "weekly"
	TierAllTime Tier = "all_time"
)

// Titles with special lifecycle rules among the all-time templates.
const (
	// JourneyMasterTitle is the aggregate meta-challenge whose progress is the
	// count of other completed all-time challenges.
	JourneyMasterTitle = "Journey Master"
	// FirstTimeTitle is completed as a side effect of account bootstrap.
	FirstTimeTitle = "First Time"
)

// CascadeExcludedTitles are not counted toward Journey Master's progress.
// "First Time" counts: the meta goal equals the number of non-meta all-time
// templates, "First Time" included.
var CascadeExcludedTitles = []string{JourneyMasterTitle}

// ChallengeTemplate is an immutable challenge definition.
type ChallengeTemplate struct {
	Tier  Tier
	Title string
	Goal  float64
}

// ChallengeInstance is the live, per-user challenge record stored in Postgres.
// Goal is copied from the template at creation time; later template edits do
// not alter in-flight instances.
type ChallengeInstance struct {
	ID              string
	UserID          string
	Tier            Tier
	Title           string
	Goal            float64
	CurrentProgress float64
	IsCompleted     bool
	PeriodKey       string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// Remaining reports how much progress is left before the goal.
func (c ChallengeInstance) Remaining() float64 {
	if c.CurrentProgress >= c.Goal {
		return 0
	}
	return c.Goal - c.CurrentProgress
}
