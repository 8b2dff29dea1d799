package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NumaanQureshi/Journey/internal/domain"
	"github.com/NumaanQureshi/Journey/internal/events"
	"github.com/NumaanQureshi/Journey/internal/observability"
)

const instanceColumns = `challenge_id, user_id, tier, title, goal, current_progress, is_completed, period_key, created_at, completed_at`

// Repository provides Postgres-backed persistence for challenge instances and
// outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindInstances returns a user's active instances for a tier and period key.
func (r *Repository) FindInstances(ctx context.Context, userID string, tier domain.Tier, periodKey string) ([]domain.ChallengeInstance, error) {
	query := `SELECT ` + instanceColumns + `
        FROM challenges
        WHERE user_id=$1 AND tier=$2 AND period_key=$3 AND superseded_at IS NULL
        ORDER BY created_at, challenge_id`

	rows, err := r.pool.Query(ctx, query, userID, tier, periodKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ChallengeInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, inst)
	}
	return results, rows.Err()
}

// CreateInstances persists the batch inside a single transaction, recording
// outbox events for every row that actually lands. Rows conflicting with an
// existing active instance for the same (user, tier, title, period) are
// silently dropped; the count of inserted rows is returned so callers can
// detect a lost generation race.
func (r *Repository) CreateInstances(ctx context.Context, instances []domain.ChallengeInstance) (int, error) {
	if len(instances) == 0 {
		return 0, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	// Serialize concurrent generations for the same (user, tier, period): the
	// loser blocks on the advisory lock, then sees the winner's rows in the
	// existence check and inserts nothing. Two racing samples would otherwise
	// merge into an oversized set, since their titles can differ.
	head := instances[0]
	lockKey := fmt.Sprintf("%s:%s:%s", head.UserID, head.Tier, head.PeriodKey)
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return 0, err
	}

	var occupied bool
	const existsQuery = `SELECT EXISTS (SELECT 1 FROM challenges
        WHERE user_id=$1 AND tier=$2 AND period_key=$3 AND superseded_at IS NULL)`
	if err = tx.QueryRow(ctx, existsQuery, head.UserID, head.Tier, head.PeriodKey).Scan(&occupied); err != nil {
		return 0, err
	}
	if occupied {
		err = tx.Commit(ctx)
		return 0, err
	}

	const insert = `INSERT INTO challenges (challenge_id, user_id, tier, title, goal, current_progress, is_completed, period_key, created_at, completed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (user_id, tier, title, period_key) WHERE superseded_at IS NULL DO NOTHING`

	inserted := 0
	for _, inst := range instances {
		var tag pgconn.CommandTag
		tag, err = tx.Exec(ctx, insert,
			inst.ID,
			inst.UserID,
			inst.Tier,
			inst.Title,
			inst.Goal,
			inst.CurrentProgress,
			inst.IsCompleted,
			inst.PeriodKey,
			inst.CreatedAt,
			inst.CompletedAt,
		)
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		inserted++

		if err = r.insertOutbox(ctx, tx, "challenge.created", inst.UserID, inst.ID, events.ChallengeCreated{
			ChallengeID: inst.ID,
			UserID:      inst.UserID,
			Tier:        string(inst.Tier),
			Title:       inst.Title,
			Goal:        inst.Goal,
			PeriodKey:   inst.PeriodKey,
			CreatedAt:   inst.CreatedAt,
		}); err != nil {
			return 0, err
		}

		if inst.IsCompleted && inst.CompletedAt != nil {
			if err = r.insertOutbox(ctx, tx, "challenge.completed", inst.UserID, inst.ID, events.ChallengeCompleted{
				ChallengeID: inst.ID,
				UserID:      inst.UserID,
				Tier:        string(inst.Tier),
				Title:       inst.Title,
				Goal:        inst.Goal,
				CompletedAt: *inst.CompletedAt,
			}); err != nil {
				return 0, err
			}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}

	if inserted > 0 {
		observability.RecordChallengesGenerated(string(instances[0].Tier), inserted)
	}
	return inserted, nil
}

// RetireInstances stamps a user's stale active instances for a tier as
// superseded. The period predicate keeps the statement safe to run late: a
// retire issued by a lost rollover race cannot touch rows a competitor just
// created for the current period. Retired rows stay behind for history; the
// partial unique index only sees active rows, so the next generation can
// reuse the same titles.
func (r *Repository) RetireInstances(ctx context.Context, userID string, tier domain.Tier, currentPeriodKey string) error {
	const stmt = `UPDATE challenges SET superseded_at = NOW()
        WHERE user_id=$1 AND tier=$2 AND period_key <> $3 AND superseded_at IS NULL`
	_, err := r.pool.Exec(ctx, stmt, userID, tier, currentPeriodKey)
	return err
}

// GetInstance fetches a single active instance by ID, nil when absent.
func (r *Repository) GetInstance(ctx context.Context, instanceID string) (*domain.ChallengeInstance, error) {
	query := `SELECT ` + instanceColumns + `
        FROM challenges WHERE challenge_id=$1 AND superseded_at IS NULL`

	row := r.pool.QueryRow(ctx, query, instanceID)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &inst, nil
}

// UpdateProgress applies a compare-and-swap write on a single instance. The
// update only lands if the stored progress still equals expectedProgress and
// the instance has not completed meanwhile; otherwise false is returned and
// the caller re-reads. Completions record an outbox event in the same
// transaction, so the cascade only ever observes durably committed state.
func (r *Repository) UpdateProgress(ctx context.Context, instanceID string, expectedProgress, newProgress float64, completed bool, completedAt *time.Time) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `UPDATE challenges
        SET current_progress=$1, is_completed=$2, completed_at=COALESCE($3, completed_at)
        WHERE challenge_id=$4 AND superseded_at IS NULL
          AND NOT is_completed AND current_progress=$5
        RETURNING user_id, tier, title, goal`

	var (
		userID string
		tier   string
		title  string
		goal   float64
	)
	if err = tx.QueryRow(ctx, stmt, newProgress, completed, completedAt, instanceID, expectedProgress).
		Scan(&userID, &tier, &title, &goal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			observability.RecordProgressConflict()
			return false, nil
		}
		return false, err
	}

	if completed && completedAt != nil {
		if err = r.insertOutbox(ctx, tx, "challenge.completed", userID, instanceID, events.ChallengeCompleted{
			ChallengeID: instanceID,
			UserID:      userID,
			Tier:        tier,
			Title:       title,
			Goal:        goal,
			CompletedAt: *completedAt,
		}); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return false, err
	}

	if completed {
		observability.RecordChallengeCompleted(tier)
	}
	return true, nil
}

// SetJourneyMasterProgress authoritatively overwrites the meta-challenge's
// progress; completion is derived from the stored goal. Idempotent for a
// given count, and the completion stamp is kept from the first transition.
func (r *Repository) SetJourneyMasterProgress(ctx context.Context, userID string, progress float64, now time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `UPDATE challenges
        SET current_progress = LEAST($1, goal),
            is_completed = ($1 >= goal),
            completed_at = CASE WHEN $1 >= goal THEN COALESCE(completed_at, $2) ELSE completed_at END
        WHERE user_id=$3 AND tier=$4 AND title=$5 AND superseded_at IS NULL
        RETURNING goal, is_completed`

	var (
		goal   float64
		isDone bool
	)
	if err = tx.QueryRow(ctx, stmt, progress, now, userID, domain.TierAllTime, domain.JourneyMasterTitle).
		Scan(&goal, &isDone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = fmt.Errorf("journey master instance missing for user %s", userID)
		}
		return err
	}

	dedupe := fmt.Sprintf("%s:journey_master:%g", userID, progress)
	if err = r.insertOutboxDedupe(ctx, tx, "journey_master.progressed", userID, userID, dedupe, events.JourneyMasterProgressed{
		UserID:      userID,
		Progress:    progress,
		Goal:        goal,
		IsCompleted: isDone,
		OccurredAt:  now,
	}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}

	observability.RecordJourneyMasterRecompute()
	return nil
}

// CountCompletedAllTime counts completed all-time instances, skipping the
// excluded titles.
func (r *Repository) CountCompletedAllTime(ctx context.Context, userID string, excludeTitles []string) (int, error) {
	const query = `SELECT COUNT(*) FROM challenges
        WHERE user_id=$1 AND tier=$2 AND is_completed AND superseded_at IS NULL
          AND NOT (title = ANY($3))`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID, domain.TierAllTime, excludeTitles).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// HasAnyAllTime reports whether the user has ever been bootstrapped with
// all-time challenges. The check is period-independent.
func (r *Repository) HasAnyAllTime(ctx context.Context, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM challenges WHERE user_id=$1 AND tier=$2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, domain.TierAllTime).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, eventType, userID, aggregateID string, payload interface{}) error {
	dedupe := fmt.Sprintf("%s:%s", aggregateID, eventType)
	return r.insertOutboxDedupe(ctx, tx, eventType, userID, aggregateID, dedupe, payload)
}

func (r *Repository) insertOutboxDedupe(ctx context.Context, tx pgx.Tx, eventType, userID, aggregateID, dedupeKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	topic, ok := eventTopics[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt, "challenge", aggregateID, eventType, topic, userID, body, dedupeKey)
	return err
}

// eventTopics routes outbox event types to Kafka topics. Events partition by
// user so a user's challenge history replays in order.
var eventTopics = map[string]string{
	"challenge.created":         "challenge_events",
	"challenge.completed":       "challenge_progress",
	"journey_master.progressed": "challenge_progress",
}

func scanInstance(row pgx.Row) (domain.ChallengeInstance, error) {
	var inst domain.ChallengeInstance
	err := row.Scan(
		&inst.ID,
		&inst.UserID,
		&inst.Tier,
		&inst.Title,
		&inst.Goal,
		&inst.CurrentProgress,
		&inst.IsCompleted,
		&inst.PeriodKey,
		&inst.CreatedAt,
		&inst.CompletedAt,
	)
	return inst, err
}
