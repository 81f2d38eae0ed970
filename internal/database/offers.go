package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"box-claims-api/internal/apperr"
	"box-claims-api/internal/models"
)

const activeOfferKey = "active_offer_id"

const offerColumns = `o.id, o.price, o.stock, o.payments_enabled, o.created_at,
	(SELECT COUNT(*) FROM claims c WHERE c.offer_id = o.id AND c.status = 'APPROVED'),
	(SELECT COUNT(*) FROM claims c WHERE c.offer_id = o.id AND c.delivered = 1)`

// InsertActiveOffer stores a new offer and makes it the active one.
func (db *DB) InsertActiveOffer(ctx context.Context, offer models.Offer) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertOffer(ctx, tx, offer); err != nil {
		return err
	}
	if err := setActiveOffer(ctx, tx, offer.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertOffer(ctx context.Context, ex execer, offer models.Offer) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO offers (id, price, stock, payments_enabled, created_at) VALUES (?, ?, ?, ?, ?)`,
		offer.ID,
		offer.Price.String(),
		offer.Stock,
		offer.PaymentsEnabled,
		formatTime(offer.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert offer: %w", err)
	}
	return nil
}

func setActiveOffer(ctx context.Context, ex execer, offerID string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		activeOfferKey, offerID,
	)
	if err != nil {
		return fmt.Errorf("failed to set active offer: %w", err)
	}
	return nil
}

// GetOffer returns the offer with the given id.
func (db *DB) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers o WHERE o.id = ?`, id)
	offer, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("offer %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// GetActiveOffer returns the offer referenced by the active pointer. When the
// pointer is unset or dangling it falls back to the most recently created offer.
func (db *DB) GetActiveOffer(ctx context.Context) (*models.Offer, error) {
	var activeID string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, activeOfferKey).Scan(&activeID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read active offer pointer: %w", err)
	}

	if activeID != "" {
		offer, err := db.GetOffer(ctx, activeID)
		if err == nil {
			return offer, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers o ORDER BY o.created_at DESC, o.rowid DESC LIMIT 1`)
	offer, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNoActiveOffer
	}
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// ListOffers returns every offer, newest first.
func (db *DB) ListOffers(ctx context.Context) ([]models.Offer, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offers o ORDER BY o.created_at DESC, o.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *offer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating offers: %w", err)
	}

	return offers, nil
}

// UpdateOffer applies the non-nil fields of update to the offer.
func (db *DB) UpdateOffer(ctx context.Context, id string, update models.OfferUpdate) (*models.Offer, error) {
	var sets []string
	var args []any

	if update.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, update.Price.String())
	}
	if update.Stock != nil {
		sets = append(sets, "stock = ?")
		args = append(args, *update.Stock)
	}
	if update.PaymentsEnabled != nil {
		sets = append(sets, "payments_enabled = ?")
		args = append(args, *update.PaymentsEnabled)
	}

	if len(sets) == 0 {
		return db.GetOffer(ctx, id)
	}

	args = append(args, id)
	result, err := db.conn.ExecContext(ctx,
		`UPDATE offers SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("offer %s: %w", id, apperr.ErrNotFound)
	}

	return db.GetOffer(ctx, id)
}

// DecrementStock takes one box from the offer's stock. The check and the
// write are a single conditional statement, so concurrent callers can never
// drive stock below zero.
func (db *DB) DecrementStock(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE offers SET stock = stock - 1 WHERE id = ? AND stock > 0`, id)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists int
	err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM offers WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check offer: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("offer %s: %w", id, apperr.ErrNotFound)
	}
	return apperr.ErrOutOfStock
}

// IncrementStock returns one box to the offer's stock.
func (db *DB) IncrementStock(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `UPDATE offers SET stock = stock + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("offer %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func scanOffer(row rowScanner) (*models.Offer, error) {
	var offer models.Offer
	var createdAt string

	err := row.Scan(
		&offer.ID,
		&offer.Price,
		&offer.Stock,
		&offer.PaymentsEnabled,
		&createdAt,
		&offer.Sold,
		&offer.DeliveredCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan offer: %w", err)
	}

	offer.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &offer, nil
}
