// Package catalog holds the immutable challenge template registry.
//
// The catalog is constructed once at process start and injected into the
// domain service; nothing mutates it afterwards.
package catalog

import (
	"fmt"
	"math/rand/v2"

	"github.com/NumaanQureshi/Journey/internal/domain"
)

// Catalog groups challenge templates by tier in declaration order.
type Catalog struct {
	tiers map[domain.Tier][]domain.ChallengeTemplate
}

// New builds a Catalog from the provided templates, preserving order within
// each tier.
func New(templates []domain.ChallengeTemplate) *Catalog {
	tiers := make(map[domain.Tier][]domain.ChallengeTemplate)
	for _, tmpl := range templates {
		tiers[tmpl.Tier] = append(tiers[tmpl.Tier], tmpl)
	}
	return &Catalog{tiers: tiers}
}

// Templates returns the tier's templates in declaration order. Callers must
// not modify the returned slice.
func (c *Catalog) Templates(tier domain.Tier) []domain.ChallengeTemplate {
	return c.tiers[tier]
}

// Sample draws count distinct templates from the tier without replacement
// using shuffle-and-slice over the declared list.
func (c *Catalog) Sample(tier domain.Tier, count int, rng *rand.Rand) ([]domain.ChallengeTemplate, error) {
	pool := c.tiers[tier]
	if count > len(pool) {
		return nil, fmt.Errorf("%w: tier %s has %d templates, want %d",
			domain.ErrInsufficientTemplates, tier, len(pool), count)
	}

	shuffled := make([]domain.ChallengeTemplate, len(pool))
	copy(shuffled, pool)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:count], nil
}

// Validate checks at startup that the configured generation counts fit the
// catalog. Failing late, per request, would turn a configuration defect into
// a recurring runtime error.
func (c *Catalog) Validate(dailyCount, weeklyCount int) error {
	if n := len(c.tiers[domain.TierDaily]); dailyCount > n {
		return fmt.Errorf("%w: daily count %d exceeds %d templates",
			domain.ErrInsufficientTemplates, dailyCount, n)
	}
	if n := len(c.tiers[domain.TierWeekly]); weeklyCount > n {
		return fmt.Errorf("%w: weekly count %d exceeds %d templates",
			domain.ErrInsufficientTemplates, weeklyCount, n)
	}
	return nil
}

// Default returns the stock Journey catalog. Journey Master's goal is derived
// from the number of other all-time templates, so adding an all-time template
// raises the meta goal automatically.
func Default() *Catalog {
	templates := []domain.ChallengeTemplate{
		{Tier: domain.TierDaily, Title: "Push-Up Power", Goal: 30},
		{Tier: domain.TierDaily, Title: "Cardio Blitz", Goal: 20},
		{Tier: domain.TierDaily, Title: "Try Something New", Goal: 1},
		{Tier: domain.TierDaily, Title: "Stretch it Out", Goal: 10},
		{Tier: domain.TierDaily, Title: "Squat Session", Goal: 20},
		{Tier: domain.TierDaily, Title: "Plank Hold", Goal: 90},
		{Tier: domain.TierDaily, Title: "Jumping Jack Jolt", Goal: 50},
		{Tier: domain.TierDaily, Title: "Wall Sit Warrior", Goal: 60},
		{Tier: domain.TierDaily, Title: "Bicep Curl Boost", Goal: 20},
		{Tier: domain.TierDaily, Title: "Lunge Challenge", Goal: 20},
		{Tier: domain.TierDaily, Title: "High Knee Hustle", Goal: 40},
		{Tier: domain.TierDaily, Title: "Mountain Climber Mayhem", Goal: 30},
		{Tier: domain.TierDaily, Title: "Sit-Up Surge", Goal: 25},
		{Tier: domain.TierDaily, Title: "Burpee Blast", Goal: 15},
		{Tier: domain.TierDaily, Title: "Arm Raise Rampage", Goal: 30},

		{Tier: domain.TierWeekly, Title: "New PR", Goal: 1},
		{Tier: domain.TierWeekly, Title: "Lower Body Focus", Goal: 1},
		{Tier: domain.TierWeekly, Title: "3-Workout Week", Goal: 3},
		{Tier: domain.TierWeekly, Title: "Cardio King/Queen", Goal: 60},
		{Tier: domain.TierWeekly, Title: "Strength Builder", Goal: 4},
		{Tier: domain.TierWeekly, Title: "Total Volume", Goal: 1000},
		{Tier: domain.TierWeekly, Title: "Flexibility Focus", Goal: 30},
		{Tier: domain.TierWeekly, Title: "Endurance Extra", Goal: 10},
		{Tier: domain.TierWeekly, Title: "Core Strength", Goal: 3},
		{Tier: domain.TierWeekly, Title: "Balance Booster", Goal: 20},
		{Tier: domain.TierWeekly, Title: "Upper Body Power", Goal: 4},
		{Tier: domain.TierWeekly, Title: "Speed Challenge", Goal: 5},
		{Tier: domain.TierWeekly, Title: "Stamina Builder", Goal: 120},
		{Tier: domain.TierWeekly, Title: "HIIT Hero", Goal: 2},
		{Tier: domain.TierWeekly, Title: "Mind & Body", Goal: 2},

		{Tier: domain.TierAllTime, Title: "Centurion", Goal: 100},
		{Tier: domain.TierAllTime, Title: "Heavy Lifter", Goal: 1000},
		{Tier: domain.TierAllTime, Title: "App Explorer", Goal: 1},
		{Tier: domain.TierAllTime, Title: domain.FirstTimeTitle, Goal: 1},
	}

	meta := 0
	for _, tmpl := range templates {
		if tmpl.Tier == domain.TierAllTime {
			meta++
		}
	}
	templates = append(templates, domain.ChallengeTemplate{
		Tier:  domain.TierAllTime,
		Title: domain.JourneyMasterTitle,
		Goal:  float64(meta),
	})

	return New(templates)
}
