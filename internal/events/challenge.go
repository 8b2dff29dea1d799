// Package events defines the event payloads published by the challenge service.
package events

import "time"

// ChallengeCreated is emitted for every challenge instance generated for a user.
type ChallengeCreated struct {
	ChallengeID string    `json:"challenge_id"`
	UserID      string    `json:"user_id"`
	Tier        string    `json:"tier"`
	Title       string    `json:"title"`
	Goal        float64   `json:"goal"`
	PeriodKey   string    `json:"period_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChallengeCompleted is emitted when an instance reaches its goal.
type ChallengeCompleted struct {
	ChallengeID string    `json:"challenge_id"`
	UserID      string    `json:"user_id"`
	Tier        string    `json:"tier"`
	Title       string    `json:"title"`
	Goal        float64   `json:"goal"`
	CompletedAt time.Time `json:"completed_at"`
}

// JourneyMasterProgressed is emitted when the meta-challenge is recomputed.
type JourneyMasterProgressed struct {
	UserID      string    `json:"user_id"`
	Progress    float64   `json:"progress"`
	Goal        float64   `json:"goal"`
	IsCompleted bool      `json:"is_completed"`
	OccurredAt  time.Time `json:"occurred_at"`
}
