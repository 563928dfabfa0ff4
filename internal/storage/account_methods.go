package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rentloop/lease-coordinator/internal/models"
)

const userColumns = `id, created_at, updated_at, name, email, avatar_url, is_subscribed`

const unitColumns = `id, created_at, updated_at, owner_id, subscription_id, title, status`

const subscriptionColumns = `id, created_at, updated_at, landlord_id, plan_name, external_ref, status,
	start_date, end_date, unit_limit, refunded`

// ========== User Methods ==========

// UpsertUser creates or updates a user
func (s *SQLStore) UpsertUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := nowUTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, created_at, updated_at, name, email, avatar_url, is_subscribed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			updated_at = excluded.updated_at, name = excluded.name, email = excluded.email,
			avatar_url = excluded.avatar_url, is_subscribed = excluded.is_subscribed`

	_, err := s.exec(ctx, query,
		user.ID, user.CreatedAt, user.UpdatedAt, user.Name, user.Email, user.AvatarURL, user.IsSubscribed,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser gets a user by ID
func (s *SQLStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	if err := s.get(ctx, user, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUsersByIDs loads users keyed by ID; unknown IDs are absent from the map
func (s *SQLStore) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	result := make(map[uuid.UUID]*models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var users []*models.User
	if err := s.selectIn(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id IN (?)`, ids); err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// SetUserSubscribed updates the subscription flag of a user
func (s *SQLStore) SetUserSubscribed(ctx context.Context, id uuid.UUID, subscribed bool) error {
	err := s.execAffected(ctx,
		`UPDATE users SET is_subscribed = ?, updated_at = ? WHERE id = ?`,
		subscribed, nowUTC(), id,
	)
	if err == ErrConflict {
		return ErrNotFound
	}
	return err
}

// ========== Unit Methods ==========

// CreateUnit creates a unit
func (s *SQLStore) CreateUnit(ctx context.Context, unit *models.Unit) error {
	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	now := nowUTC()
	unit.CreatedAt = now
	unit.UpdatedAt = now
	if unit.Status == "" {
		unit.Status = models.UnitStatusAvailable
	}

	_, err := s.exec(ctx,
		`INSERT INTO units (id, created_at, updated_at, owner_id, subscription_id, title, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		unit.ID, unit.CreatedAt, unit.UpdatedAt, unit.OwnerID, unit.SubscriptionID, unit.Title, unit.Status,
	)
	if err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}
	return nil
}

// GetUnit gets a unit by ID
func (s *SQLStore) GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error) {
	unit := &models.Unit{}
	if err := s.get(ctx, unit, `SELECT `+unitColumns+` FROM units WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return unit, nil
}

// ListUnits lists units with filters, newest first
func (s *SQLStore) ListUnits(ctx context.Context, filters UnitFilters) ([]*models.Unit, error) {
	var w whereClause
	if filters.OwnerID != nil {
		w.add("owner_id = ?", *filters.OwnerID)
	}
	if filters.SubscriptionID != nil {
		w.add("subscription_id = ?", *filters.SubscriptionID)
	}
	if len(filters.Statuses) > 0 {
		w.add("status IN (?)", filters.Statuses)
	}

	var units []*models.Unit
	query := `SELECT ` + unitColumns + ` FROM units` + w.String() + orderAndLimit(false, 0)
	if err := s.selectIn(ctx, &units, query, w.args...); err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	return units, nil
}

// SetUnitStatus updates the occupancy status of a unit
func (s *SQLStore) SetUnitStatus(ctx context.Context, id uuid.UUID, status models.UnitStatus) error {
	err := s.execAffected(ctx,
		`UPDATE units SET status = ?, updated_at = ? WHERE id = ?`,
		status, nowUTC(), id,
	)
	if err == ErrConflict {
		return ErrNotFound
	}
	return err
}

// ========== Subscription Methods ==========

// UpsertSubscription creates or updates a subscription keyed by its external reference
func (s *SQLStore) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ExternalRef == "" {
		return fmt.Errorf("%w: subscription external reference is required", ErrInvalidData)
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := nowUTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	if sub.Status == "" {
		sub.Status = models.SubscriptionStatusActive
	}

	update := `
		UPDATE subscriptions SET
			updated_at = ?, landlord_id = ?, plan_name = ?, status = ?,
			start_date = ?, end_date = ?, unit_limit = ?, refunded = ?
		WHERE external_ref = ?`
	insert := `
		INSERT INTO subscriptions (
			id, created_at, updated_at, landlord_id, plan_name, external_ref, status,
			start_date, end_date, unit_limit, refunded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// Update first; a concurrent insert of the same reference loses on the
	// unique index and falls back to the update once more.
	for attempt := 0; attempt < 2; attempt++ {
		err := s.execAffected(ctx, update,
			sub.UpdatedAt, sub.LandlordID, sub.PlanName, sub.Status,
			sub.StartDate.UTC(), sub.EndDate.UTC(), sub.UnitLimit, sub.Refunded, sub.ExternalRef,
		)
		if err == nil {
			break
		}
		if err != ErrConflict {
			return fmt.Errorf("update subscription: %w", err)
		}

		_, err = s.exec(ctx, insert,
			sub.ID, sub.CreatedAt, sub.UpdatedAt, sub.LandlordID, sub.PlanName, sub.ExternalRef,
			sub.Status, sub.StartDate.UTC(), sub.EndDate.UTC(), sub.UnitLimit, sub.Refunded,
		)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateKey) || attempt == 1 {
			return fmt.Errorf("insert subscription: %w", err)
		}
	}

	stored, err := s.GetSubscriptionByExternalRef(ctx, sub.ExternalRef)
	if err != nil {
		return err
	}
	*sub = *stored
	return nil
}

// GetSubscription gets a subscription by ID
func (s *SQLStore) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub := &models.Subscription{}
	if err := s.get(ctx, sub, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscriptionByExternalRef gets a subscription by its payment-processor reference
func (s *SQLStore) GetSubscriptionByExternalRef(ctx context.Context, ref string) (*models.Subscription, error) {
	sub := &models.Subscription{}
	if err := s.get(ctx, sub, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_ref = ?`, ref); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubscriptions lists subscriptions with filters, newest first
func (s *SQLStore) ListSubscriptions(ctx context.Context, filters SubscriptionFilters) ([]*models.Subscription, error) {
	var w whereClause
	if filters.LandlordID != nil {
		w.add("landlord_id = ?", *filters.LandlordID)
	}
	if len(filters.Statuses) > 0 {
		w.add("status IN (?)", filters.Statuses)
	}
	if filters.EndedBefore != nil {
		w.add("end_date < ?", filters.EndedBefore.UTC())
	}
	if filters.Refunded != nil {
		w.add("refunded = ?", *filters.Refunded)
	}

	var subs []*models.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions` + w.String() + orderAndLimit(false, 0)
	if err := s.selectIn(ctx, &subs, query, w.args...); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// SetSubscriptionStatus updates the status of a subscription
func (s *SQLStore) SetSubscriptionStatus(ctx context.Context, id uuid.UUID, status models.SubscriptionStatus) error {
	err := s.execAffected(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ?`,
		status, nowUTC(), id,
	)
	if err == ErrConflict {
		return ErrNotFound
	}
	return err
}
