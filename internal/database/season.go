package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"box-claims-api/internal/models"
)

const (
	AuditSeasonResetBefore = "season_reset.before"
	AuditSeasonResetAfter  = "season_reset.after"
)

// SeasonPurge describes what a season reset removed.
type SeasonPurge struct {
	Offers        int      `json:"offers"`
	Claims        int      `json:"claims"`
	Notifications int      `json:"notifications"`
	ProofImages   []string `json:"-"`
}

// ResetSeason deletes every claim, notification and offer, stores offer as
// the only (and active) offer, and writes before/after audit entries. All of
// it happens in one transaction.
func (db *DB) ResetSeason(ctx context.Context, actorID string, offer models.Offer) (*SeasonPurge, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	purge := &SeasonPurge{}
	counts := []struct {
		table string
		dest  *int
	}{
		{"offers", &purge.Offers},
		{"claims", &purge.Claims},
		{"notifications", &purge.Notifications},
	}
	for _, c := range counts {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT proof_image FROM claims WHERE proof_image != ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to query proof images: %w", err)
	}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan proof image: %w", err)
		}
		purge.ProofImages = append(purge.ProofImages, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proof images: %w", err)
	}

	before, err := json.Marshal(purge)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit detail: %w", err)
	}
	if err := insertAuditEntry(ctx, tx, models.AuditEntry{
		ID:        uuid.New().String(),
		Action:    AuditSeasonResetBefore,
		ActorID:   actorID,
		Detail:    string(before),
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	for _, stmt := range []string{
		`DELETE FROM claims`,
		`DELETE FROM notifications`,
		`DELETE FROM offers`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to purge season data: %w", err)
		}
	}

	if err := insertOffer(ctx, tx, offer); err != nil {
		return nil, err
	}
	if err := setActiveOffer(ctx, tx, offer.ID); err != nil {
		return nil, err
	}

	after, err := json.Marshal(map[string]any{
		"offer_id":         offer.ID,
		"price":            offer.Price.String(),
		"stock":            offer.Stock,
		"payments_enabled": offer.PaymentsEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit detail: %w", err)
	}
	if err := insertAuditEntry(ctx, tx, models.AuditEntry{
		ID:        uuid.New().String(),
		Action:    AuditSeasonResetAfter,
		ActorID:   actorID,
		Detail:    string(after),
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return purge, nil
}
