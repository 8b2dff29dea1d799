package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NumaanQureshi/Journey/internal/auth"
	"github.com/NumaanQureshi/Journey/internal/catalog"
	"github.com/NumaanQureshi/Journey/internal/domain"
	"github.com/NumaanQureshi/Journey/internal/period"
)

var testNow = time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)

func TestListChallengesReturnsCurrentSet(t *testing.T) {
	repo := seededRepo("user-1")
	handler := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/v1/challenges", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), readClaims("user-1")))

	rr := httptest.NewRecorder()
	handler.challenges(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ListChallengesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 13 {
		t.Fatalf("expected 13 challenges got %d", len(resp.Items))
	}
	if resp.Items[0].Tier != string(domain.TierDaily) {
		t.Fatalf("expected daily challenges first, got %s", resp.Items[0].Tier)
	}
}

func TestListChallengesRequiresScope(t *testing.T) {
	handler := newTestHandler(seededRepo("user-1"))

	req := httptest.NewRequest(http.MethodGet, "/v1/challenges", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		Subject:   "user-1",
		Scopes:    map[string]struct{}{},
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	rr := httptest.NewRecorder()
	handler.challenges(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestUpdateProgressRejectsInvalidIncrement(t *testing.T) {
	repo := seededRepo("user-1")
	handler := newTestHandler(repo)
	target := repo.firstDaily()

	req := httptest.NewRequest(http.MethodPut, "/v1/challenges/"+target.ID, strings.NewReader(`{"increment": -2}`))
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims("user-1")))

	rr := httptest.NewRecorder()
	handler.challengeByID(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUpdateProgressDefaultsToOne(t *testing.T) {
	repo := seededRepo("user-1")
	handler := newTestHandler(repo)
	target := repo.firstDaily()

	req := httptest.NewRequest(http.MethodPut, "/v1/challenges/"+target.ID, nil)
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims("user-1")))

	rr := httptest.NewRecorder()
	handler.challengeByID(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp UpdateProgressResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Challenge.CurrentProgress != 1 {
		t.Fatalf("expected progress 1 got %f", resp.Challenge.CurrentProgress)
	}
	if resp.Challenge.Remaining != resp.Challenge.Goal-1 {
		t.Fatalf("expected remaining %f got %f", resp.Challenge.Goal-1, resp.Challenge.Remaining)
	}
	if resp.AlreadyCompleted {
		t.Fatalf("unexpected already_completed flag")
	}
}

func TestUpdateProgressHidesForeignInstances(t *testing.T) {
	repo := seededRepo("user-1")
	handler := newTestHandler(repo)
	target := repo.firstDaily()

	req := httptest.NewRequest(http.MethodPut, "/v1/challenges/"+target.ID, strings.NewReader(`{"increment": 1}`))
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims("intruder")))

	rr := httptest.NewRecorder()
	handler.challengeByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUpdateProgressAlreadyCompleted(t *testing.T) {
	repo := seededRepo("user-1")
	handler := newTestHandler(repo)
	target := repo.firstDaily()
	target.CurrentProgress = target.Goal
	target.IsCompleted = true
	stamp := testNow.Add(-time.Hour)
	target.CompletedAt = &stamp

	req := httptest.NewRequest(http.MethodPut, "/v1/challenges/"+target.ID, strings.NewReader(`{"increment": 5}`))
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims("user-1")))

	rr := httptest.NewRecorder()
	handler.challengeByID(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp UpdateProgressResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.AlreadyCompleted {
		t.Fatalf("expected already_completed flag")
	}
	if resp.Challenge.CurrentProgress != target.Goal {
		t.Fatalf("progress changed on completed challenge: %f", resp.Challenge.CurrentProgress)
	}
	if resp.Challenge.Remaining != 0 {
		t.Fatalf("expected zero remaining, got %f", resp.Challenge.Remaining)
	}
}

func newTestHandler(repo *stubRepo) *Handler {
	service := domain.NewService(repo, catalog.Default(),
		domain.WithClock(func() time.Time { return testNow }))
	return NewHandler(service)
}

func readClaims(subject string) *auth.Claims {
	return &auth.Claims{
		Subject:   subject,
		Scopes:    map[string]struct{}{auth.ScopeChallengesRead: {}},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func writeClaims(subject string) *auth.Claims {
	return &auth.Claims{
		Subject:   subject,
		Scopes:    map[string]struct{}{auth.ScopeChallengesWrite: {}},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// stubRepo holds pre-generated instances so handler tests exercise the HTTP
// layer without the generation path mutating state.
type stubRepo struct {
	instances []*domain.ChallengeInstance
}

// seededRepo fabricates a full current challenge set for the user as of
// testNow: 5 daily, 3 weekly, 5 all-time.
func seededRepo(userID string) *stubRepo {
	repo := &stubRepo{}
	cat := catalog.Default()

	add := func(tier domain.Tier, key string, count int) {
		templates := cat.Templates(tier)
		if count > len(templates) {
			count = len(templates)
		}
		for i := 0; i < count; i++ {
			repo.instances = append(repo.instances, &domain.ChallengeInstance{
				ID:        string(rune('a'+len(repo.instances))) + "-challenge",
				UserID:    userID,
				Tier:      tier,
				Title:     templates[i].Title,
				Goal:      templates[i].Goal,
				PeriodKey: key,
				CreatedAt: testNow,
			})
		}
	}

	add(domain.TierDaily, period.Day(testNow), 5)
	add(domain.TierWeekly, period.Week(testNow), 3)
	add(domain.TierAllTime, period.AllTimeKey, 5)
	return repo
}

func (s *stubRepo) firstDaily() *domain.ChallengeInstance {
	for _, inst := range s.instances {
		if inst.Tier == domain.TierDaily {
			return inst
		}
	}
	return nil
}

func (s *stubRepo) FindInstances(_ context.Context, userID string, tier domain.Tier, periodKey string) ([]domain.ChallengeInstance, error) {
	var out []domain.ChallengeInstance
	for _, inst := range s.instances {
		if inst.UserID == userID && inst.Tier == tier && inst.PeriodKey == periodKey {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (s *stubRepo) CreateInstances(_ context.Context, instances []domain.ChallengeInstance) (int, error) {
	for i := range instances {
		copied := instances[i]
		s.instances = append(s.instances, &copied)
	}
	return len(instances), nil
}

func (s *stubRepo) RetireInstances(context.Context, string, domain.Tier, string) error {
	return nil
}

func (s *stubRepo) GetInstance(_ context.Context, instanceID string) (*domain.ChallengeInstance, error) {
	for _, inst := range s.instances {
		if inst.ID == instanceID {
			copied := *inst
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) UpdateProgress(_ context.Context, instanceID string, expectedProgress, newProgress float64, completed bool, completedAt *time.Time) (bool, error) {
	for _, inst := range s.instances {
		if inst.ID != instanceID {
			continue
		}
		if inst.IsCompleted || inst.CurrentProgress != expectedProgress {
			return false, nil
		}
		inst.CurrentProgress = newProgress
		inst.IsCompleted = completed
		inst.CompletedAt = completedAt
		return true, nil
	}
	return false, nil
}

func (s *stubRepo) SetJourneyMasterProgress(context.Context, string, float64, time.Time) error {
	return nil
}

func (s *stubRepo) CountCompletedAllTime(context.Context, string, []string) (int, error) {
	return 0, nil
}

func (s *stubRepo) HasAnyAllTime(_ context.Context, userID string) (bool, error) {
	for _, inst := range s.instances {
		if inst.UserID == userID && inst.Tier == domain.TierAllTime {
			return true, nil
		}
	}
	return false, nil
}
