package database

import (
	"context"
	"fmt"

	"box-claims-api/internal/apperr"
	"box-claims-api/internal/models"
)

// InsertNotifications stores notifications in a single transaction.
func (db *DB) InsertNotifications(ctx context.Context, notifications []models.Notification) (int, error) {
	if len(notifications) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO notifications (
		id, user_id, message, read, created_at
	) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, n := range notifications {
		_, err := stmt.ExecContext(ctx,
			n.ID,
			n.UserID,
			n.Message,
			n.Read,
			formatTime(n.CreatedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert notification %s: %w", n.ID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

// ListNotifications returns a user's notifications, newest first.
func (db *DB) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, message, read, created_at FROM notifications
		WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var createdAt string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

// MarkNotificationRead marks one of the user's notifications as read.
func (db *DB) MarkNotificationRead(ctx context.Context, id, userID string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("notification %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
