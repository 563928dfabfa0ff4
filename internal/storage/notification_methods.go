package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rentloop/lease-coordinator/internal/models"
)

const notificationColumns = `id, created_at, user_id, sender_id, title, message, type, lease_id,
	dedup_key, is_read, disabled, meta`

const messageColumns = `id, created_at, chat_id, sender_id, receiver_id, text`

const reviewColumns = `id, created_at, updated_at, lease_id, reviewer_id, reviewee_id, rating, comment,
	sentiment, keywords, flagged, analyzed_at`

// ========== Notification Methods ==========

// CreateNotification appends a notification
func (s *SQLStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = nowUTC()
	}
	if n.Meta == nil {
		n.Meta = models.Variables{}
	}

	query := `
		INSERT INTO notifications (
			id, created_at, user_id, sender_id, title, message, type, lease_id,
			dedup_key, is_read, disabled, meta
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, query,
		n.ID, n.CreatedAt.UTC(), n.UserID, n.SenderID, n.Title, n.Message, n.Type, n.LeaseID,
		n.DedupKey, n.IsRead, n.Disabled, n.Meta,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetNotification gets a notification by ID
func (s *SQLStore) GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	n := &models.Notification{}
	if err := s.get(ctx, n, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return n, nil
}

// ListNotifications lists notifications with filters
func (s *SQLStore) ListNotifications(ctx context.Context, filters NotificationFilters) ([]*models.Notification, error) {
	var w whereClause
	if filters.UserID != nil {
		w.add("user_id = ?", *filters.UserID)
	}
	if filters.SenderID != nil {
		w.add("sender_id = ?", *filters.SenderID)
	}
	if filters.LeaseID != nil {
		w.add("lease_id = ?", *filters.LeaseID)
	}
	if len(filters.Types) > 0 {
		w.add("type IN (?)", filters.Types)
	}
	if filters.DedupKey != nil {
		w.add("dedup_key = ?", *filters.DedupKey)
	}
	if filters.IsRead != nil {
		w.add("is_read = ?", *filters.IsRead)
	}
	if filters.Disabled != nil {
		w.add("disabled = ?", *filters.Disabled)
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications` + w.String() +
		orderAndLimit(filters.OldestFirst, filters.Limit)

	var list []*models.Notification
	if err := s.selectIn(ctx, &list, query, w.args...); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// MarkNotificationRead flips is_read and returns the updated record
func (s *SQLStore) MarkNotificationRead(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	if _, err := s.exec(ctx, `UPDATE notifications SET is_read = ? WHERE id = ?`, true, id); err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return s.GetNotification(ctx, id)
}

// MarkAllNotificationsRead marks every unread notification of a user as read
func (s *SQLStore) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE notifications SET is_read = ? WHERE user_id = ? AND is_read = ?`,
		true, userID, false,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return res.RowsAffected()
}

// DisableNotification hides a notification from the active set
func (s *SQLStore) DisableNotification(ctx context.Context, id uuid.UUID) error {
	err := s.execAffected(ctx, `UPDATE notifications SET disabled = ? WHERE id = ?`, true, id)
	if err == ErrConflict {
		return ErrNotFound
	}
	return err
}

// DeleteNotification removes a notification
func (s *SQLStore) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	err := s.execAffected(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err == ErrConflict {
		return ErrNotFound
	}
	return err
}

// ========== Message Methods ==========

// CreateMessage stores a chat message
func (s *SQLStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = nowUTC()
	}

	_, err := s.exec(ctx,
		`INSERT INTO messages (id, created_at, chat_id, sender_id, receiver_id, text) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.CreatedAt.UTC(), msg.ChatID, msg.SenderID, msg.ReceiverID, msg.Text,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages lists the latest messages of a chat, newest first
func (s *SQLStore) ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]*models.Message, error) {
	var msgs []*models.Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = ?` + orderAndLimit(false, limit)
	if err := s.selectIn(ctx, &msgs, query, chatID); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// ========== Review Methods ==========

// CreateReview stores a review
func (s *SQLStore) CreateReview(ctx context.Context, review *models.Review) error {
	if review.ID == uuid.Nil {
		review.ID = uuid.New()
	}
	now := nowUTC()
	review.CreatedAt = now
	review.UpdatedAt = now

	_, err := s.exec(ctx,
		`INSERT INTO reviews (id, created_at, updated_at, lease_id, reviewer_id, reviewee_id, rating, comment)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		review.ID, review.CreatedAt, review.UpdatedAt, review.LeaseID, review.ReviewerID,
		review.RevieweeID, review.Rating, review.Comment,
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// GetReview gets a review by ID
func (s *SQLStore) GetReview(ctx context.Context, id uuid.UUID) (*models.Review, error) {
	review := &models.Review{}
	if err := s.get(ctx, review, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return review, nil
}

// UpdateReviewAnalysis stores enrichment results on a review
func (s *SQLStore) UpdateReviewAnalysis(ctx context.Context, id uuid.UUID, analysis ReviewAnalysis) error {
	now := nowUTC()
	err := s.execAffected(ctx,
		`UPDATE reviews SET sentiment = ?, keywords = ?, flagged = ?, analyzed_at = ?, updated_at = ? WHERE id = ?`,
		analysis.Sentiment, analysis.Keywords, analysis.Flagged, now, now, id,
	)
	if err == ErrConflict {
		return ErrNotFound
	}
	return err
}
