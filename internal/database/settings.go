package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"box-claims-api/internal/apperr"
	"box-claims-api/internal/models"
)

// UpsertUser records an identity seen on an authenticated request.
func (db *DB) UpsertUser(ctx context.Context, user models.User) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, is_staff, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			is_staff = excluded.is_staff,
			last_seen = excluded.last_seen`,
		user.ID, user.Username, user.IsStaff, formatTime(user.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// ListNonStaffUserIDs returns the ids of every known non-staff user.
func (db *DB) ListNonStaffUserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM users WHERE is_staff = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return ids, nil
}

// GetSupportConfig returns the stored support contact, or apperr.ErrNotFound
// when none has been configured.
func (db *DB) GetSupportConfig(ctx context.Context) (*models.SupportConfig, error) {
	var cfg models.SupportConfig
	err := db.conn.QueryRowContext(ctx, `SELECT email, phone FROM support_config WHERE id = 1`).
		Scan(&cfg.Email, &cfg.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("support config: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read support config: %w", err)
	}
	return &cfg, nil
}

// SaveSupportConfig replaces the support contact.
func (db *DB) SaveSupportConfig(ctx context.Context, cfg models.SupportConfig) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO support_config (id, email, phone) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, phone = excluded.phone`,
		cfg.Email, cfg.Phone,
	)
	if err != nil {
		return fmt.Errorf("failed to save support config: %w", err)
	}
	return nil
}

// GetPaymentConfig returns the mobile payment account, or apperr.ErrNotFound
// when none has been configured.
func (db *DB) GetPaymentConfig(ctx context.Context) (*models.PaymentConfig, error) {
	var cfg models.PaymentConfig
	err := db.conn.QueryRowContext(ctx, `SELECT national_id, phone, bank FROM payment_config WHERE id = 1`).
		Scan(&cfg.NationalID, &cfg.Phone, &cfg.Bank)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment config: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payment config: %w", err)
	}
	return &cfg, nil
}

// SavePaymentConfig replaces the mobile payment account.
func (db *DB) SavePaymentConfig(ctx context.Context, cfg models.PaymentConfig) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO payment_config (id, national_id, phone, bank) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			national_id = excluded.national_id,
			phone = excluded.phone,
			bank = excluded.bank`,
		cfg.NationalID, cfg.Phone, cfg.Bank,
	)
	if err != nil {
		return fmt.Errorf("failed to save payment config: %w", err)
	}
	return nil
}

// ListAuditEntries returns audit entries in insertion order.
func (db *DB) ListAuditEntries(ctx context.Context) ([]models.AuditEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, action, actor_id, detail, created_at FROM audit_log ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorID, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}

func insertAuditEntry(ctx context.Context, ex execer, entry models.AuditEntry) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, actor_id, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.ActorID, entry.Detail, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}
