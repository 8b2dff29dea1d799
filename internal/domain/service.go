// Package domain defines the business logic for the challenge service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/NumaanQureshi/Journey/internal/period"
)

var (
	// ErrInvalidIncrement indicates a non-positive or non-finite progress increment.
	ErrInvalidIncrement = errors.New("increment must be a positive number")
	// ErrChallengeNotFound is returned when a challenge instance cannot be located.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrUnauthorized indicates the instance belongs to a different user.
	ErrUnauthorized = errors.New("challenge does not belong to user")
	// ErrConflict indicates an optimistic progress update lost its race and
	// exhausted its retries.
	ErrConflict = errors.New("progress update conflict")
	// ErrInsufficientTemplates indicates the catalog is smaller than the
	// configured generation count. This is a configuration defect.
	ErrInsufficientTemplates = errors.New("not enough templates in catalog")
)

// Default generation counts per period.
const (
	DefaultDailyCount  = 5
	DefaultWeeklyCount = 3
)

// progressAttempts bounds the optimistic-update retry loop in ApplyIncrement.
const progressAttempts = 3

// ChallengeRepository captures persistence operations the service requires.
type ChallengeRepository interface {
	// FindInstances returns the user's active instances for a tier and period key.
	FindInstances(ctx context.Context, userID string, tier Tier, periodKey string) ([]ChallengeInstance, error)
	// CreateInstances persists the batch atomically and reports how many rows
	// were actually inserted. A concurrent generation for the same
	// (user, tier, period) wins via the store's uniqueness guarantee, in which
	// case zero insertions is reported rather than an error.
	CreateInstances(ctx context.Context, instances []ChallengeInstance) (int, error)
	// RetireInstances marks the user's stale instances for a tier as
	// superseded. Only rows whose period key differs from currentPeriodKey are
	// touched, so a late retire from a lost rollover race can never supersede
	// a competitor's freshly created current set.
	RetireInstances(ctx context.Context, userID string, tier Tier, currentPeriodKey string) error
	// GetInstance fetches a single instance regardless of owner, nil if absent.
	GetInstance(ctx context.Context, instanceID string) (*ChallengeInstance, error)
	// UpdateProgress applies a compare-and-swap write: it succeeds only if the
	// stored progress still equals expectedProgress and the instance is not
	// completed. Returns false on conflict.
	UpdateProgress(ctx context.Context, instanceID string, expectedProgress, newProgress float64, completed bool, completedAt *time.Time) (bool, error)
	// SetJourneyMasterProgress authoritatively overwrites the meta-challenge's
	// progress, deriving completion from its stored goal.
	SetJourneyMasterProgress(ctx context.Context, userID string, progress float64, now time.Time) error
	// CountCompletedAllTime counts the user's completed all-time instances,
	// skipping the excluded titles.
	CountCompletedAllTime(ctx context.Context, userID string, excludeTitles []string) (int, error)
	// HasAnyAllTime reports whether the user has ever been bootstrapped.
	HasAnyAllTime(ctx context.Context, userID string) (bool, error)
}

// TemplateSource provides challenge templates. Implemented by catalog.Catalog.
type TemplateSource interface {
	Templates(tier Tier) []ChallengeTemplate
	Sample(tier Tier, count int, rng *rand.Rand) ([]ChallengeTemplate, error)
}

// Service orchestrates challenge generation, progress and cascades.
type Service struct {
	repo        ChallengeRepository
	templates   TemplateSource
	now         func() time.Time
	rng         *rand.Rand
	dailyCount  int
	weeklyCount int
}

// Option customises Service construction.
type Option func(*Service)

// WithClock injects the time source. Tests use a fixed clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRand injects the randomness source used for template sampling.
func WithRand(rng *rand.Rand) Option {
	return func(s *Service) { s.rng = rng }
}

// WithGenerationCounts overrides how many daily and weekly challenges are
// generated per period.
func WithGenerationCounts(daily, weekly int) Option {
	return func(s *Service) {
		s.dailyCount = daily
		s.weeklyCount = weekly
	}
}

// NewService constructs a Service.
func NewService(repo ChallengeRepository, templates TemplateSource, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		templates:   templates,
		now:         time.Now,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		dailyCount:  DefaultDailyCount,
		weeklyCount: DefaultWeeklyCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureCurrent guarantees the user holds a challenge set for the current
// daily and weekly periods and has been bootstrapped with all-time
// challenges. It is idempotent and called on every read path.
func (s *Service) EnsureCurrent(ctx context.Context, userID string) error {
	now := s.now().UTC()

	if err := s.ensureTier(ctx, userID, TierDaily, period.Day(now), s.dailyCount, now); err != nil {
		return err
	}
	if err := s.ensureTier(ctx, userID, TierWeekly, period.Week(now), s.weeklyCount, now); err != nil {
		return err
	}
	return s.ensureAllTime(ctx, userID, now)
}

func (s *Service) ensureTier(ctx context.Context, userID string, tier Tier, periodKey string, count int, now time.Time) error {
	existing, err := s.repo.FindInstances(ctx, userID, tier, periodKey)
	if err != nil {
		return fmt.Errorf("find %s instances: %w", tier, err)
	}
	if len(existing) > 0 {
		return nil
	}

	if err := s.repo.RetireInstances(ctx, userID, tier, periodKey); err != nil {
		return fmt.Errorf("retire %s instances: %w", tier, err)
	}

	sampled, err := s.templates.Sample(tier, count, s.rng)
	if err != nil {
		return err
	}

	batch := make([]ChallengeInstance, 0, len(sampled))
	for _, tmpl := range sampled {
		batch = append(batch, ChallengeInstance{
			ID:        uuid.NewString(),
			UserID:    userID,
			Tier:      tier,
			Title:     tmpl.Title,
			Goal:      tmpl.Goal,
			PeriodKey: periodKey,
			CreatedAt: now,
		})
	}

	// Zero insertions means a concurrent request generated the set first; the
	// winner's rows are the current set and there is nothing left to do.
	if _, err := s.repo.CreateInstances(ctx, batch); err != nil {
		return fmt.Errorf("create %s instances: %w", tier, err)
	}
	return nil
}

// ensureAllTime bootstraps the all-time set exactly once per user. The batch
// is assembled fully in memory, "First Time" already completed and Journey
// Master's progress already folded through the same cascade rule the runtime
// cascader applies, then persisted atomically. A partially bootstrapped
// state is never observable.
func (s *Service) ensureAllTime(ctx context.Context, userID string, now time.Time) error {
	has, err := s.repo.HasAnyAllTime(ctx, userID)
	if err != nil {
		return fmt.Errorf("check all-time instances: %w", err)
	}
	if has {
		return nil
	}

	templates := s.templates.Templates(TierAllTime)
	completedAt := now
	batch := make([]ChallengeInstance, 0, len(templates))
	for _, tmpl := range templates {
		inst := ChallengeInstance{
			ID:        uuid.NewString(),
			UserID:    userID,
			Tier:      TierAllTime,
			Title:     tmpl.Title,
			Goal:      tmpl.Goal,
			PeriodKey: period.AllTimeKey,
			CreatedAt: now,
		}
		if tmpl.Title == FirstTimeTitle {
			inst.CurrentProgress = tmpl.Goal
			inst.IsCompleted = true
			inst.CompletedAt = &completedAt
		}
		batch = append(batch, inst)
	}

	completed := 0
	for _, inst := range batch {
		if inst.IsCompleted && !cascadeExcluded(inst.Title) {
			completed++
		}
	}
	for i := range batch {
		if batch[i].Title != JourneyMasterTitle {
			continue
		}
		batch[i].CurrentProgress = float64(completed)
		if batch[i].CurrentProgress >= batch[i].Goal {
			batch[i].CurrentProgress = batch[i].Goal
			batch[i].IsCompleted = true
			batch[i].CompletedAt = &completedAt
		}
	}

	if _, err := s.repo.CreateInstances(ctx, batch); err != nil {
		return fmt.Errorf("bootstrap all-time instances: %w", err)
	}
	return nil
}

// ListCurrent ensures the current sets exist, then returns them ordered
// daily, weekly, all-time.
func (s *Service) ListCurrent(ctx context.Context, userID string) ([]ChallengeInstance, error) {
	if err := s.EnsureCurrent(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	keys := []struct {
		tier Tier
		key  string
	}{
		{TierDaily, period.Day(now)},
		{TierWeekly, period.Week(now)},
		{TierAllTime, period.AllTimeKey},
	}

	var out []ChallengeInstance
	for _, k := range keys {
		instances, err := s.repo.FindInstances(ctx, userID, k.tier, k.key)
		if err != nil {
			return nil, fmt.Errorf("list %s instances: %w", k.tier, err)
		}
		out = append(out, instances...)
	}
	return out, nil
}

// ApplyIncrement adds a bounded increment to an instance's progress, clamping
// at the goal and stamping completion. The second return value reports the
// already-completed no-op path. Completing a non-meta all-time challenge
// triggers a Journey Master recomputation.
func (s *Service) ApplyIncrement(ctx context.Context, userID, instanceID string, increment float64) (*ChallengeInstance, bool, error) {
	if increment <= 0 || math.IsNaN(increment) || math.IsInf(increment, 0) {
		return nil, false, ErrInvalidIncrement
	}

	for attempt := 0; attempt < progressAttempts; attempt++ {
		inst, err := s.repo.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, false, fmt.Errorf("get instance: %w", err)
		}
		if inst == nil {
			return nil, false, ErrChallengeNotFound
		}
		if inst.UserID != userID {
			return nil, false, ErrUnauthorized
		}
		if inst.IsCompleted {
			// Re-run the cascade on the no-op path. If the recompute failed
			// after the completion committed, the client's retry lands here,
			// and recomputing is idempotent for a given completed set.
			if inst.Tier == TierAllTime && inst.Title != JourneyMasterTitle {
				if err := s.RecomputeJourneyMaster(ctx, userID); err != nil {
					return inst, true, err
				}
			}
			return inst, true, nil
		}

		newProgress := inst.CurrentProgress + increment
		completed := newProgress >= inst.Goal
		if completed {
			newProgress = inst.Goal
		}

		var completedAt *time.Time
		if completed {
			now := s.now().UTC()
			completedAt = &now
		}

		ok, err := s.repo.UpdateProgress(ctx, inst.ID, inst.CurrentProgress, newProgress, completed, completedAt)
		if err != nil {
			return nil, false, fmt.Errorf("update progress: %w", err)
		}
		if !ok {
			// Lost the race; re-read and recompute from fresh state.
			continue
		}

		updated := *inst
		updated.CurrentProgress = newProgress
		updated.IsCompleted = completed
		updated.CompletedAt = completedAt

		if completed && inst.Tier == TierAllTime && inst.Title != JourneyMasterTitle {
			if err := s.RecomputeJourneyMaster(ctx, userID); err != nil {
				return &updated, false, err
			}
		}
		return &updated, false, nil
	}

	return nil, false, fmt.Errorf("instance %s: %w", instanceID, ErrConflict)
}

// RecomputeJourneyMaster derives the meta-challenge's progress from the count
// of the user's other completed all-time challenges. It recomputes from a
// fresh count rather than incrementing, so completions folding in any order
// cannot skew it, and it never cascades further: the cascade graph has depth
// one.
func (s *Service) RecomputeJourneyMaster(ctx context.Context, userID string) error {
	count, err := s.repo.CountCompletedAllTime(ctx, userID, CascadeExcludedTitles)
	if err != nil {
		return fmt.Errorf("count completed all-time: %w", err)
	}
	if err := s.repo.SetJourneyMasterProgress(ctx, userID, float64(count), s.now().UTC()); err != nil {
		return fmt.Errorf("set journey master progress: %w", err)
	}
	return nil
}

func cascadeExcluded(title string) bool {
	for _, excluded := range CascadeExcludedTitles {
		if title == excluded {
			return true
		}
	}
	return false
}
