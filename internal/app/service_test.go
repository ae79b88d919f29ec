package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/subhub/subscription-service/internal/domain"
	"github.com/subhub/subscription-service/internal/store"
	"github.com/subhub/subscription-service/pkg/retry"
)

// stubRepo is an in-memory Repository that mirrors the conditional-update
// semantics of the Postgres implementation, including the status guards.
type stubRepo struct {
	users map[uuid.UUID]bool
	plans map[uuid.UUID]domain.Plan
	subs  map[uuid.UUID]*domain.Subscription // keyed by user id

	now func() time.Time

	markExpiredErr map[uuid.UUID]error // injected failures, keyed by row id
	expireRaceLost bool                // a concurrent writer wins every expire CAS
	findExpiredErr error
}

func newStubRepo(now func() time.Time) *stubRepo {
	return &stubRepo{
		users:          make(map[uuid.UUID]bool),
		plans:          make(map[uuid.UUID]domain.Plan),
		subs:           make(map[uuid.UUID]*domain.Subscription),
		now:            now,
		markExpiredErr: make(map[uuid.UUID]error),
	}
}

func (r *stubRepo) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	u := *user
	u.ID = uuid.New()
	r.users[u.ID] = true
	return &u, nil
}

func (r *stubRepo) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return nil, store.ErrUserNotFound
}

func (r *stubRepo) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	return r.users[userID], nil
}

func (r *stubRepo) GetPlan(ctx context.Context, planID uuid.UUID) (*domain.Plan, error) {
	plan, ok := r.plans[planID]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	return &plan, nil
}

func (r *stubRepo) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	var plans []domain.Plan
	for _, p := range r.plans {
		plans = append(plans, p)
	}
	return plans, nil
}

func (r *stubRepo) FindSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	sub, ok := r.subs[userID]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	c := *sub
	return &c, nil
}

func (r *stubRepo) FindOrCreatePlaceholder(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	if sub, ok := r.subs[userID]; ok {
		c := *sub
		return &c, nil
	}
	sub := &domain.Subscription{ID: uuid.New(), UserID: userID, Status: domain.StatusInactive}
	r.subs[userID] = sub
	c := *sub
	return &c, nil
}

func (r *stubRepo) CreateActiveSubscription(ctx context.Context, userID, planID uuid.UUID, start time.Time, end *time.Time) (*domain.Subscription, error) {
	if _, ok := r.subs[userID]; ok {
		return nil, store.ErrSubscriptionExists
	}
	sub := &domain.Subscription{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    &planID,
		Status:    domain.StatusActive,
		StartDate: &start,
		EndDate:   end,
	}
	r.subs[userID] = sub
	c := *sub
	return &c, nil
}

func (r *stubRepo) ReactivateInactive(ctx context.Context, userID, planID uuid.UUID, start time.Time, end *time.Time) (*domain.Subscription, error) {
	sub, ok := r.subs[userID]
	if !ok || sub.Status != domain.StatusInactive {
		return nil, store.ErrSubscriptionNotFound
	}
	sub.PlanID = &planID
	sub.Status = domain.StatusActive
	sub.StartDate = &start
	sub.EndDate = end
	c := *sub
	return &c, nil
}

func (r *stubRepo) SwitchPlan(ctx context.Context, userID, planID uuid.UUID, start time.Time, end *time.Time) (*domain.Subscription, error) {
	sub, ok := r.subs[userID]
	if !ok || sub.Status == domain.StatusInactive {
		return nil, store.ErrSubscriptionNotFound
	}
	sub.PlanID = &planID
	sub.Status = domain.StatusActive
	sub.StartDate = &start
	sub.EndDate = end
	c := *sub
	return &c, nil
}

func (r *stubRepo) CancelActive(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	sub, ok := r.subs[userID]
	if !ok || sub.Status != domain.StatusActive {
		return nil, store.ErrSubscriptionNotFound
	}
	sub.Status = domain.StatusCancelled
	c := *sub
	return &c, nil
}

func (r *stubRepo) MarkExpired(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	if err, ok := r.markExpiredErr[subscriptionID]; ok {
		return nil, err
	}
	var sub *domain.Subscription
	for _, s := range r.subs {
		if s.ID == subscriptionID {
			sub = s
			break
		}
	}
	if sub == nil {
		return nil, store.ErrSubscriptionNotFound
	}
	if r.expireRaceLost {
		// Another writer already performed the transition.
		sub.Status = domain.StatusExpired
		return nil, store.ErrSubscriptionNotFound
	}
	if sub.Status != domain.StatusActive || sub.EndDate == nil || sub.EndDate.After(r.now()) {
		return nil, store.ErrSubscriptionNotFound
	}
	sub.Status = domain.StatusExpired
	c := *sub
	return &c, nil
}

func (r *stubRepo) FindExpiredActive(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	if r.findExpiredErr != nil {
		return nil, r.findExpiredErr
	}
	var overdue []domain.Subscription
	for _, sub := range r.subs {
		if sub.Status == domain.StatusActive && sub.EndDate != nil && sub.EndDate.Before(now) {
			overdue = append(overdue, *sub)
		}
	}
	return overdue, nil
}

// stubPublisher records published events.
type stubPublisher struct {
	events []string
	err    error
}

func (p *stubPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, routingKey)
	return nil
}

func (p *stubPublisher) Close() {}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo store.Repository, pub *stubPublisher) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := retry.New(1, time.Millisecond, logger, store.IsRetryable)
	svc := NewService(repo, pub, logger, exec)
	svc.now = func() time.Time { return testNow }
	return svc
}

func durationDays(d int) *int { return &d }

func seedUserAndPlan(repo *stubRepo, duration *int) (uuid.UUID, domain.Plan) {
	userID := uuid.New()
	repo.users[userID] = true
	plan := domain.Plan{
		ID:           uuid.New(),
		Name:         "Basic",
		Price:        9.99,
		Features:     []string{"Feature A", "Feature B"},
		DurationDays: duration,
	}
	repo.plans[plan.ID] = plan
	return userID, plan
}

func TestGetSubscription_CreatesInactivePlaceholder(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	pub := &stubPublisher{}
	svc := newTestService(repo, pub)
	userID, _ := seedUserAndPlan(repo, durationDays(30))

	view, err := svc.GetSubscription(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetSubscription returned error: %v", err)
	}
	if view.Status != domain.StatusInactive {
		t.Fatalf("expected status INACTIVE, got %s", view.Status)
	}
	if view.Plan != nil {
		t.Fatalf("expected no plan details on a placeholder, got %+v", view.Plan)
	}
	if _, ok := repo.subs[userID]; !ok {
		t.Fatal("expected a placeholder row to be persisted")
	}
	if len(pub.events) != 0 {
		t.Fatalf("placeholder creation must not publish events, got %v", pub.events)
	}
}

func TestGetSubscription_UnknownUser(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	svc := newTestService(repo, &stubPublisher{})

	_, err := svc.GetSubscription(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateSubscription_FiniteDurationSetsEndDate(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	pub := &stubPublisher{}
	svc := newTestService(repo, pub)
	userID, plan := seedUserAndPlan(repo, durationDays(30))

	sub, err := svc.CreateSubscription(context.Background(), userID, plan.ID)
	if err != nil {
		t.Fatalf("CreateSubscription returned error: %v", err)
	}
	if sub.Status != domain.StatusActive {
		t.Fatalf("expected status ACTIVE, got %s", sub.Status)
	}
	if sub.EndDate == nil {
		t.Fatal("expected an end date for a 30-day plan")
	}
	want := sub.StartDate.AddDate(0, 0, 30)
	if !sub.EndDate.Equal(want) {
		t.Fatalf("expected end date %v, got %v", want, *sub.EndDate)
	}
	if len(pub.events) != 1 || pub.events[0] != domain.EventSubscriptionCreated {
		t.Fatalf("expected a single %s event, got %v", domain.EventSubscriptionCreated, pub.events)
	}
}

func TestCreateSubscription_UnlimitedPlanLeavesEndDateNil(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	svc := newTestService(repo, &stubPublisher{})
	userID, plan := seedUserAndPlan(repo, nil)

	sub, err := svc.CreateSubscription(context.Background(), userID, plan.ID)
	if err != nil {
		t.Fatalf("CreateSubscription returned error: %v", err)
	}
	if sub.EndDate != nil {
		t.Fatalf("expected nil end date for an unlimited plan, got %v", *sub.EndDate)
	}
}

func TestCreateSubscription_UnknownUserOrPlan(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	svc := newTestService(repo, &stubPublisher{})
	userID, plan := seedUserAndPlan(repo, durationDays(30))

	if _, err := svc.CreateSubscription(context.Background(), uuid.New(), plan.ID); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := svc.CreateSubscription(context.Background(), userID, uuid.New()); !errors.Is(err, store.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestCreateSubscription_OccupiedSlotIsConflict(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	pub := &stubPublisher{}
	svc := newTestService(repo, pub)
	userID, plan := seedUserAndPlan(repo, durationDays(30))

	if _, err := svc.CreateSubscription(context.Background(), userID, plan.ID); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	pub.events = nil

	_, err := svc.CreateSubscription(context.Background(), userID, plan.ID)
	if !errors.Is(err, ErrSubscriptionConflict) {
		t.Fatalf("expected ErrSubscriptionConflict, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("a rejected create must not publish events, got %v", pub.events)
	}
}

func TestCreateSubscription_ReusesInactiveRow(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	svc := newTestService(repo, &stubPublisher{})
	userID, plan := seedUserAndPlan(repo, durationDays(30))

	// First touch materializes the INACTIVE placeholder.
	view, err := svc.GetSubscription(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetSubscription returned error: %v", err)
	}

	sub, err := svc.CreateSubscription(context.Background(), userID, plan.ID)
	if err != nil {
		t.Fatalf("CreateSubscription returned error: %v", err)
	}
	if sub.ID != view.ID {
		t.Fatalf("expected the placeholder row id %s to be reused, got %s", view.ID, sub.ID)
	}
	if sub.Status != domain.StatusActive {
		t.Fatalf("expected status ACTIVE, got %s", sub.Status)
	}
}

func TestGetSubscription_LazyExpiryPublishesOnce(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	pub := &stubPublisher{}
	svc := newTestService(repo, pub)
	userID, plan := seedUserAndPlan(repo, durationDays(30))

	past := testNow.AddDate(0, 0, -1)
	start := past.AddDate(0, 0, -30)
	repo.subs[userID] = &domain.Subscription{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    &plan.ID,
		Status:    domain.StatusActive,
		StartDate: &start,
		EndDate:   &past,
	}

	view, err := svc.GetSubscription(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetSubscription returned error: %v", err)
	}
	if view.Status != domain.StatusExpired {
		t.Fatalf("expected status EXPIRED, got %s", view.Status)
	}
	if len(pub.events) != 1 || pub.events[0] != domain.EventSubscriptionExpired {
		t.Fatalf("expected a single %s event, got %v", domain.EventSubscriptionExpired, pub.events)
	}
	if view.Plan == nil || view.Plan.Name != plan.Name {
		t.Fatalf("expected plan details to stay attached after expiry, got %+v", view.Plan)
	}
}

func TestGetSubscription_ExpireRaceLoserDoesNotPublish(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	pub := &stubPublisher{}
	svc := newTestService(repo, pub)
	userID, plan := seedUserAndPlan(repo, durationDays(30))

	past := testNow.AddDate(0, 0, -1)
	repo.subs[userID] = &domain.Subscription{
		ID:      uuid.New(),
		UserID:  userID,
		PlanID:  &plan.ID,
		Status:  domain.StatusActive,
		EndDate: &past,
	}
	repo.expireRaceLost = true

	view, err := svc.GetSubscription(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetSubscription returned error: %v", err)
	}
	if view.Status != domain.StatusExpired {
		t.Fatalf("expected the settled EXPIRED state, got %s", view.Status)
	}
	if len(pub.events) != 0 {
		t.Fatalf("the race loser must not publish, got %v", pub.events)
	}
}

func TestCancelSubscription_NonActiveIsNotFound(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	svc := newTestService(repo, &stubPublisher{})
	userID, plan := seedUserAndPlan(repo, durationDays(30))

	if _, err := svc.CreateSubscription(context.Background(), userID, plan.ID); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.CancelSubscription(context.Background(), userID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	_, err := svc.CancelSubscription(context.Background(), userID)
	if !errors.Is(err, store.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound cancelling a CANCELLED row, got %v", err)
	}
}

func TestUpdateSubscription_NoEligibleRowIsNotFound(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	svc := newTestService(repo, &stubPublisher{})
	userID, plan := seedUserAndPlan(repo, durationDays(30))

	_, err := svc.UpdateSubscription(context.Background(), userID, plan.ID)
	if !errors.Is(err, store.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestSubscriptionLifecycleScenario(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	pub := &stubPublisher{}
	svc := newTestService(repo, pub)
	userID, planP1 := seedUserAndPlan(repo, durationDays(30))

	planP2 := domain.Plan{ID: uuid.New(), Name: "Weekly", Price: 2.99, DurationDays: durationDays(7)}
	repo.plans[planP2.ID] = planP2

	ctx := context.Background()

	sub, err := svc.CreateSubscription(ctx, userID, planP1.ID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if want := sub.StartDate.AddDate(0, 0, 30); !sub.EndDate.Equal(want) {
		t.Fatalf("expected end date %v after create, got %v", want, *sub.EndDate)
	}

	updated, err := svc.UpdateSubscription(ctx, userID, planP2.ID)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Status != domain.StatusActive {
		t.Fatalf("expected ACTIVE after update, got %s", updated.Status)
	}
	if want := updated.StartDate.AddDate(0, 0, 7); !updated.EndDate.Equal(want) {
		t.Fatalf("expected end date %v after plan switch, got %v", want, *updated.EndDate)
	}
	if updated.ID != sub.ID {
		t.Fatalf("expected the slot row to be reused on update, got %s vs %s", updated.ID, sub.ID)
	}

	cancelled, err := svc.CancelSubscription(ctx, userID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	if cancelled.EndDate == nil || !cancelled.EndDate.Equal(*updated.EndDate) {
		t.Fatal("cancel must leave dates untouched")
	}

	if _, err := svc.CreateSubscription(ctx, userID, planP1.ID); !errors.Is(err, ErrSubscriptionConflict) {
		t.Fatalf("expected conflict creating over a CANCELLED row, got %v", err)
	}

	want := []string{
		domain.EventSubscriptionCreated,
		domain.EventSubscriptionUpdated,
		domain.EventSubscriptionCancelled,
	}
	if len(pub.events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, pub.events)
	}
	for i := range want {
		if pub.events[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, pub.events)
		}
	}
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	pub := &stubPublisher{err: errors.New("broker unavailable")}
	svc := newTestService(repo, pub)
	userID, plan := seedUserAndPlan(repo, durationDays(30))

	sub, err := svc.CreateSubscription(context.Background(), userID, plan.ID)
	if err != nil {
		t.Fatalf("expected create to succeed despite publish failure, got %v", err)
	}
	if repo.subs[userID].Status != domain.StatusActive {
		t.Fatal("expected the transition to stay committed")
	}
	if sub.Status != domain.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", sub.Status)
	}
}

func TestExpireSubscriptions_ContinuesPastFailingRow(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	pub := &stubPublisher{}
	svc := newTestService(repo, pub)

	past := testNow.AddDate(0, 0, -1)
	failing := &domain.Subscription{ID: uuid.New(), UserID: uuid.New(), Status: domain.StatusActive, EndDate: &past}
	healthy := &domain.Subscription{ID: uuid.New(), UserID: uuid.New(), Status: domain.StatusActive, EndDate: &past}
	repo.subs[failing.UserID] = failing
	repo.subs[healthy.UserID] = healthy
	repo.markExpiredErr[failing.ID] = errors.New("connection reset")

	if err := svc.ExpireSubscriptions(context.Background()); err != nil {
		t.Fatalf("ExpireSubscriptions returned error: %v", err)
	}

	if healthy.Status != domain.StatusExpired {
		t.Fatalf("expected the healthy row to be expired, got %s", healthy.Status)
	}
	if len(pub.events) != 1 || pub.events[0] != domain.EventSubscriptionExpired {
		t.Fatalf("expected a single %s event, got %v", domain.EventSubscriptionExpired, pub.events)
	}
}

func TestExpireSubscriptions_StoreFailureSurfaces(t *testing.T) {
	repo := newStubRepo(func() time.Time { return testNow })
	svc := newTestService(repo, &stubPublisher{})
	repo.findExpiredErr = errors.New("db unavailable")

	if err := svc.ExpireSubscriptions(context.Background()); err == nil {
		t.Fatal("expected an error when the overdue query fails")
	}
}
