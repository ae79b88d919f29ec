/**
 * @description
 * This file implements the data access layer for the subscription-service
 * against PostgreSQL. It contains all the SQL queries for the user, plan, and
 * subscription tables.
 *
 * Subscription state transitions use status-guarded UPDATE ... RETURNING
 * statements instead of read-then-write, so concurrent writers cannot both
 * perform the same transition.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/subhub/subscription-service/internal/domain"
)

const subscriptionColumns = "id, user_id, plan_id, status, start_date, end_date"

// PostgresRepository handles database operations for the subscription-service.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateUser inserts a new user and returns the stored row.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	query := `
        INSERT INTO users (name, email, password_hash)
        VALUES ($1, $2, $3)
        RETURNING id, name, email, password_hash
    `
	var created domain.User
	err := r.db.QueryRow(ctx, query, user.Name, user.Email, user.PasswordHash).Scan(
		&created.ID,
		&created.Name,
		&created.Email,
		&created.PasswordHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &created, nil
}

// FindUserByEmail retrieves a user by email address.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
        SELECT id, name, email, password_hash
        FROM users
        WHERE email = $1
    `
	var user domain.User
	err := r.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UserExists reports whether a user row exists for the given id.
func (r *PostgresRepository) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// GetPlan retrieves a single catalog plan by id.
func (r *PostgresRepository) GetPlan(ctx context.Context, planID uuid.UUID) (*domain.Plan, error) {
	query := `
        SELECT id, name, price, features, duration_days
        FROM plans
        WHERE id = $1
    `
	var plan domain.Plan
	err := r.db.QueryRow(ctx, query, planID).Scan(
		&plan.ID,
		&plan.Name,
		&plan.Price,
		&plan.Features,
		&plan.DurationDays,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// ListPlans returns the full plan catalog ordered by price.
func (r *PostgresRepository) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	query := `
        SELECT id, name, price, features, duration_days
        FROM plans
        ORDER BY price ASC
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		var plan domain.Plan
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.Price, &plan.Features, &plan.DurationDays); err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// FindSubscriptionByUserID retrieves the subscription slot for a user.
func (r *PostgresRepository) FindSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1
    `
	sub, err := r.scanSubscription(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// FindOrCreatePlaceholder returns the user's subscription row, materializing an
// INACTIVE placeholder on first touch. The unique index on user_id makes the
// insert race-safe: concurrent callers all end up reading the same row.
func (r *PostgresRepository) FindOrCreatePlaceholder(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	insert := `
        INSERT INTO subscriptions (user_id, status)
        VALUES ($1, $2)
        ON CONFLICT (user_id) DO NOTHING
        RETURNING ` + subscriptionColumns + `
    `
	sub, err := r.scanSubscription(r.db.QueryRow(ctx, insert, userID, domain.StatusInactive))
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// A row already existed; read it.
	return r.FindSubscriptionByUserID(ctx, userID)
}

// CreateActiveSubscription inserts a brand-new ACTIVE row for the user. If the
// slot is already occupied it returns ErrSubscriptionExists.
func (r *PostgresRepository) CreateActiveSubscription(ctx context.Context, userID, planID uuid.UUID, start time.Time, end *time.Time) (*domain.Subscription, error) {
	query := `
        INSERT INTO subscriptions (user_id, plan_id, status, start_date, end_date)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (user_id) DO NOTHING
        RETURNING ` + subscriptionColumns + `
    `
	sub, err := r.scanSubscription(r.db.QueryRow(ctx, query, userID, planID, domain.StatusActive, start, end))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionExists
		}
		return nil, err
	}
	return sub, nil
}

// ReactivateInactive flips the user's INACTIVE placeholder to ACTIVE with the
// given plan and period, reusing the existing row id. Returns
// ErrSubscriptionNotFound when the row is absent or not INACTIVE.
func (r *PostgresRepository) ReactivateInactive(ctx context.Context, userID, planID uuid.UUID, start time.Time, end *time.Time) (*domain.Subscription, error) {
	query := `
        UPDATE subscriptions
        SET plan_id = $2,
            status = $3,
            start_date = $4,
            end_date = $5,
            updated_at = NOW()
        WHERE user_id = $1 AND status = $6
        RETURNING ` + subscriptionColumns + `
    `
	sub, err := r.scanSubscription(r.db.QueryRow(ctx, query,
		userID, planID, domain.StatusActive, start, end, domain.StatusInactive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// SwitchPlan moves an ACTIVE, CANCELLED, or EXPIRED subscription onto a new
// plan and restarts its billing period. INACTIVE placeholders are not eligible.
func (r *PostgresRepository) SwitchPlan(ctx context.Context, userID, planID uuid.UUID, start time.Time, end *time.Time) (*domain.Subscription, error) {
	query := `
        UPDATE subscriptions
        SET plan_id = $2,
            status = $3,
            start_date = $4,
            end_date = $5,
            updated_at = NOW()
        WHERE user_id = $1 AND status IN ($6, $7, $8)
        RETURNING ` + subscriptionColumns + `
    `
	sub, err := r.scanSubscription(r.db.QueryRow(ctx, query,
		userID, planID, domain.StatusActive, start, end,
		domain.StatusActive, domain.StatusCancelled, domain.StatusExpired))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// CancelActive cancels the user's ACTIVE subscription, leaving dates untouched.
// Returns ErrSubscriptionNotFound when no ACTIVE row exists for the user.
func (r *PostgresRepository) CancelActive(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `
        UPDATE subscriptions
        SET status = $2,
            updated_at = NOW()
        WHERE user_id = $1 AND status = $3
        RETURNING ` + subscriptionColumns + `
    `
	sub, err := r.scanSubscription(r.db.QueryRow(ctx, query, userID, domain.StatusCancelled, domain.StatusActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// MarkExpired transitions a subscription to EXPIRED, but only while it is still
// ACTIVE and overdue. Exactly one of the racing writers (interactive read or
// sweep) wins; the loser gets ErrSubscriptionNotFound and must not publish.
func (r *PostgresRepository) MarkExpired(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	query := `
        UPDATE subscriptions
        SET status = $2,
            updated_at = NOW()
        WHERE id = $1
          AND status = $3
          AND end_date IS NOT NULL
          AND end_date <= NOW()
        RETURNING ` + subscriptionColumns + `
    `
	sub, err := r.scanSubscription(r.db.QueryRow(ctx, query, subscriptionID, domain.StatusExpired, domain.StatusActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// FindExpiredActive returns all ACTIVE subscriptions whose end date has passed.
func (r *PostgresRepository) FindExpiredActive(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE status = $1
          AND end_date IS NOT NULL
          AND end_date < $2
    `
	rows, err := r.db.Query(ctx, query, domain.StatusActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status, &sub.StartDate, &sub.EndDate); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *PostgresRepository) scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status, &sub.StartDate, &sub.EndDate)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
