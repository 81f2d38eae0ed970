// Package offers owns the box offers: the active season, its stock counter
// and the staff operations that edit or replace it.
package offers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"box-claims-api/internal/apperr"
	"box-claims-api/internal/authz"
	"box-claims-api/internal/cache"
	"box-claims-api/internal/database"
	"box-claims-api/internal/events"
	"box-claims-api/internal/features"
	"box-claims-api/internal/logging"
	"box-claims-api/internal/models"
	"box-claims-api/internal/tracing"
	"box-claims-api/internal/validation"
)

const snapshotTTL = time.Minute

// Store is the persistence the registry needs.
type Store interface {
	InsertActiveOffer(ctx context.Context, offer models.Offer) error
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	GetActiveOffer(ctx context.Context) (*models.Offer, error)
	ListOffers(ctx context.Context) ([]models.Offer, error)
	UpdateOffer(ctx context.Context, id string, update models.OfferUpdate) (*models.Offer, error)
	DecrementStock(ctx context.Context, id string) error
	IncrementStock(ctx context.Context, id string) error
	ResetSeason(ctx context.Context, actorID string, offer models.Offer) (*database.SeasonPurge, error)
}

// Broadcaster records a message for every non-staff user.
type Broadcaster interface {
	Broadcast(ctx context.Context, message string)
}

// ProofRemover deletes stored payment-proof images.
type ProofRemover interface {
	Delete(ctx context.Context, refs ...string) error
}

type Registry struct {
	store    Store
	notifier Broadcaster
	proofs   ProofRemover
	cache    cache.Cache
	features *features.Manager
	events   *events.Manager
	now      func() time.Time

	// generation is bumped by every invalidation of the active offer key.
	generation atomic.Uint64
}

func NewRegistry(store Store, notifier Broadcaster, proofs ProofRemover, c cache.Cache, fm *features.Manager, em *events.Manager) *Registry {
	if c == nil {
		c = cache.Noop{}
	}
	return &Registry{
		store:    store,
		notifier: notifier,
		proofs:   proofs,
		cache:    c,
		features: fm,
		events:   em,
		now:      time.Now,
	}
}

// GetActiveOffer reads the active offer straight from storage. Claim gates
// always use this path.
func (r *Registry) GetActiveOffer(ctx context.Context) (*models.Offer, error) {
	return r.store.GetActiveOffer(ctx)
}

// ActiveOfferSnapshot returns the active offer for display, served from
// cache when caching is enabled.
func (r *Registry) ActiveOfferSnapshot(ctx context.Context, caller authz.Caller) (*models.Offer, error) {
	if err := authz.Authorize(caller, authz.OpViewActiveOffer, authz.Resource{}); err != nil {
		return nil, err
	}

	cacheEnabled := r.features.IsEnabled(features.FeatureCacheEnabled)
	if cacheEnabled {
		var offer models.Offer
		if err := cache.GetJSON(ctx, r.cache, cache.KeyActiveOffer, &offer); err == nil {
			return &offer, nil
		}
	}

	gen := r.generation.Load()
	offer, err := r.store.GetActiveOffer(ctx)
	if err != nil {
		return nil, err
	}

	if cacheEnabled {
		r.rememberSnapshot(ctx, offer, gen)
	}
	return offer, nil
}

// rememberSnapshot caches offer unless a mutation invalidated the key after
// gen was read. A mutation racing the write itself drops the entry again.
func (r *Registry) rememberSnapshot(ctx context.Context, offer *models.Offer, gen uint64) {
	if r.generation.Load() != gen {
		return
	}
	if err := cache.SetJSON(ctx, r.cache, cache.KeyActiveOffer, offer, snapshotTTL); err != nil {
		logging.Warn(ctx).Err(err).Msg("failed to cache active offer")
		return
	}
	if r.generation.Load() != gen {
		if err := r.cache.Delete(ctx, cache.KeyActiveOffer); err != nil {
			logging.Warn(ctx).Err(err).Msg("failed to drop stale active offer")
		}
	}
}

// ListOffers returns every offer, newest first.
func (r *Registry) ListOffers(ctx context.Context, caller authz.Caller) ([]models.Offer, error) {
	if err := authz.Authorize(caller, authz.OpListOffers, authz.Resource{}); err != nil {
		return nil, err
	}
	return r.store.ListOffers(ctx)
}

// CreateOffer stores a new offer and makes it the active one. Existing
// offers and their claims are left untouched.
func (r *Registry) CreateOffer(ctx context.Context, caller authz.Caller, price decimal.Decimal, stock int, paymentsEnabled bool) (*models.Offer, error) {
	ctx, span := tracing.StartSpan(ctx, "offers.create")
	defer span.End()

	if err := authz.Authorize(caller, authz.OpManageOffer, authz.Resource{}); err != nil {
		return nil, err
	}
	if err := validation.ValidateOfferFields(price, stock); err != nil {
		return nil, err
	}

	offer := models.Offer{
		ID:              uuid.New().String(),
		Price:           price,
		Stock:           stock,
		PaymentsEnabled: paymentsEnabled,
		CreatedAt:       r.now().UTC(),
	}
	if err := r.store.InsertActiveOffer(ctx, offer); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create offer")
		return nil, err
	}
	r.invalidate(ctx)

	span.SetAttributes(attribute.String("offer.id", offer.ID))
	logging.Info(ctx).
		Str("offer_id", offer.ID).
		Str("price", offer.Price.StringFixed(2)).
		Int("stock", offer.Stock).
		Str("actor", caller.ID).
		Msg("offer created")
	r.events.PublishOffer(ctx, events.EventOfferCreated, offer)
	return &offer, nil
}

// UpdateOffer applies a partial update. A price change on the active offer
// is broadcast to every non-staff user.
func (r *Registry) UpdateOffer(ctx context.Context, caller authz.Caller, id string, update models.OfferUpdate) (*models.Offer, error) {
	ctx, span := tracing.StartSpan(ctx, "offers.update")
	defer span.End()
	span.SetAttributes(attribute.String("offer.id", id))

	if err := authz.Authorize(caller, authz.OpManageOffer, authz.Resource{}); err != nil {
		return nil, err
	}
	if err := validation.ValidateOfferUpdate(update); err != nil {
		return nil, err
	}

	before, err := r.store.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := r.store.UpdateOffer(ctx, id, update)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update offer")
		return nil, err
	}
	r.invalidate(ctx)

	logging.Info(ctx).Str("offer_id", id).Str("actor", caller.ID).Msg("offer updated")
	r.events.PublishOffer(ctx, events.EventOfferUpdated, *updated)

	if !before.Price.Equal(updated.Price) && r.isActive(ctx, id) {
		r.notifier.Broadcast(ctx, fmt.Sprintf("Box price updated to %s", updated.Price.StringFixed(2)))
	}
	return updated, nil
}

// DecrementStock takes one box from the offer atomically. It returns
// apperr.ErrOutOfStock when none is left.
func (r *Registry) DecrementStock(ctx context.Context, id string) error {
	if err := r.store.DecrementStock(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx)
	r.events.PublishOffer(ctx, events.EventOfferStockChanged, models.Offer{ID: id})
	return nil
}

// RestoreStock returns one box taken by DecrementStock.
func (r *Registry) RestoreStock(ctx context.Context, id string) error {
	if err := r.store.IncrementStock(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx)
	r.events.PublishOffer(ctx, events.EventOfferStockChanged, models.Offer{ID: id})
	return nil
}

// ResetSeason deletes every offer, claim and notification and starts a new
// season with the given price and stock. Proof images of the purged claims
// are removed and every non-staff user is told about the new season.
func (r *Registry) ResetSeason(ctx context.Context, caller authz.Caller, price decimal.Decimal, stock int) (*models.Offer, error) {
	ctx, span := tracing.StartSpan(ctx, "offers.reset_season")
	defer span.End()

	if err := authz.Authorize(caller, authz.OpResetSeason, authz.Resource{}); err != nil {
		return nil, err
	}
	if err := validation.ValidateOfferFields(price, stock); err != nil {
		return nil, err
	}

	offer := models.Offer{
		ID:              uuid.New().String(),
		Price:           price,
		Stock:           stock,
		PaymentsEnabled: true,
		CreatedAt:       r.now().UTC(),
	}
	purge, err := r.store.ResetSeason(ctx, caller.ID, offer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "season reset failed")
		return nil, fmt.Errorf("failed to reset season: %w", err)
	}
	r.invalidate(ctx)

	if len(purge.ProofImages) > 0 && r.proofs != nil {
		if err := r.proofs.Delete(ctx, purge.ProofImages...); err != nil {
			logging.Error(ctx).Err(err).Int("proofs", len(purge.ProofImages)).Msg("failed to delete proof images")
		}
	}

	span.SetAttributes(
		attribute.String("offer.id", offer.ID),
		attribute.Int("purged.claims", purge.Claims),
		attribute.Int("purged.offers", purge.Offers),
	)
	logging.Info(ctx).
		Str("offer_id", offer.ID).
		Int("purged_claims", purge.Claims).
		Int("purged_offers", purge.Offers).
		Int("purged_notifications", purge.Notifications).
		Str("actor", caller.ID).
		Msg("season reset")

	r.events.Publish(ctx, events.EventSeasonReset, events.SeasonResetData{
		Offer:        offer,
		PurgedClaims: purge.Claims,
		PurgedOffers: purge.Offers,
		PurgedProofs: len(purge.ProofImages),
		ActorID:      caller.ID,
	})
	r.notifier.Broadcast(ctx, "A new season of boxes is available")
	return &offer, nil
}

func (r *Registry) isActive(ctx context.Context, id string) bool {
	active, err := r.store.GetActiveOffer(ctx)
	if err != nil {
		if !errors.Is(err, apperr.ErrNoActiveOffer) {
			logging.Warn(ctx).Err(err).Msg("failed to resolve active offer")
		}
		return false
	}
	return active.ID == id
}

func (r *Registry) invalidate(ctx context.Context) {
	r.generation.Add(1)
	if err := r.cache.Delete(ctx, cache.KeyActiveOffer); err != nil {
		logging.Warn(ctx).Err(err).Msg("failed to invalidate active offer cache")
	}
}
