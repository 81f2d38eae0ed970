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

const claimColumns = `id, offer_id, user_id, created_at, status, delivered, payment_method,
	amount, currency, reference, bank_name, sender_phone, proof_image`

// InsertClaim stores a new claim. A second live claim for the same user and
// offer is refused by the idx_claims_live index and reported as
// apperr.ErrDuplicateClaim.
func (db *DB) InsertClaim(ctx context.Context, claim models.Claim) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO claims (`+claimColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		claim.ID,
		claim.OfferID,
		claim.UserID,
		formatTime(claim.CreatedAt),
		claim.Status,
		claim.Delivered,
		claim.PaymentMethod,
		claim.Amount.String(),
		claim.Currency,
		claim.Reference,
		claim.BankName,
		claim.SenderPhone,
		claim.ProofImage,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("claim for user %s: %w", claim.UserID, apperr.ErrDuplicateClaim)
		}
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

// GetClaim returns the claim with the given id.
func (db *DB) GetClaim(ctx context.Context, id string) (*models.Claim, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, id)
	claim, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// HasLiveClaim reports whether the user holds a PENDING or APPROVED claim on
// the offer.
func (db *DB) HasLiveClaim(ctx context.Context, userID, offerID string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM claims WHERE user_id = ? AND offer_id = ? AND status IN (?, ?)`,
		userID, offerID, models.StatusPending, models.StatusApproved,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count live claims: %w", err)
	}
	return count > 0, nil
}

// ListClaims returns claims newest first. An empty ownerID lists every claim.
func (db *DB) ListClaims(ctx context.Context, ownerID string) ([]models.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims`
	var args []any
	if ownerID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	claims := []models.Claim{}
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *claim)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claims: %w", err)
	}

	return claims, nil
}

// UpdateClaimStatus sets the claim's status. When from is non-empty the
// update only applies if the current status is one of them. It reports
// whether a row changed.
func (db *DB) UpdateClaimStatus(ctx context.Context, id string, to models.ClaimStatus, from ...models.ClaimStatus) (bool, error) {
	query := `UPDATE claims SET status = ? WHERE id = ?`
	args := []any{to, id}
	if len(from) > 0 {
		placeholders := make([]string, len(from))
		for i, s := range from {
			placeholders[i] = "?"
			args = append(args, s)
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}

	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("claim %s: %w", id, apperr.ErrDuplicateClaim)
		}
		return false, fmt.Errorf("failed to update claim status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// MarkDelivered flags the claim as delivered. With requireApproved set, only
// APPROVED claims are updated. It reports whether a row changed.
func (db *DB) MarkDelivered(ctx context.Context, id string, requireApproved bool) (bool, error) {
	query := `UPDATE claims SET delivered = 1 WHERE id = ? AND delivered = 0`
	args := []any{id}
	if requireApproved {
		query += ` AND status = ?`
		args = append(args, models.StatusApproved)
	}

	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to mark claim delivered: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func scanClaim(row rowScanner) (*models.Claim, error) {
	var claim models.Claim
	var createdAt string

	err := row.Scan(
		&claim.ID,
		&claim.OfferID,
		&claim.UserID,
		&createdAt,
		&claim.Status,
		&claim.Delivered,
		&claim.PaymentMethod,
		&claim.Amount,
		&claim.Currency,
		&claim.Reference,
		&claim.BankName,
		&claim.SenderPhone,
		&claim.ProofImage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan claim: %w", err)
	}

	claim.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &claim, nil
}
