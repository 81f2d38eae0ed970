// Package claims runs the purchase-claim workflow: the gated submission that
// reserves stock, and the staff transitions that approve, reject and deliver.
package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"box-claims-api/internal/apperr"
	"box-claims-api/internal/authz"
	"box-claims-api/internal/events"
	"box-claims-api/internal/features"
	"box-claims-api/internal/logging"
	"box-claims-api/internal/models"
	"box-claims-api/internal/tracing"
	"box-claims-api/internal/validation"
)

// Store is the claim persistence the engine needs.
type Store interface {
	InsertClaim(ctx context.Context, claim models.Claim) error
	GetClaim(ctx context.Context, id string) (*models.Claim, error)
	HasLiveClaim(ctx context.Context, userID, offerID string) (bool, error)
	ListClaims(ctx context.Context, ownerID string) ([]models.Claim, error)
	UpdateClaimStatus(ctx context.Context, id string, to models.ClaimStatus, from ...models.ClaimStatus) (bool, error)
	MarkDelivered(ctx context.Context, id string, requireApproved bool) (bool, error)
}

// OfferRegistry supplies the active offer and its stock counter.
type OfferRegistry interface {
	GetActiveOffer(ctx context.Context) (*models.Offer, error)
	DecrementStock(ctx context.Context, id string) error
	RestoreStock(ctx context.Context, id string) error
}

// Notifier records a message for one user.
type Notifier interface {
	Notify(ctx context.Context, userID, message string)
}

// SupportDirectory returns the support contact shown on rejections.
type SupportDirectory interface {
	SupportContact(ctx context.Context) models.SupportConfig
}

type Engine struct {
	store    Store
	offers   OfferRegistry
	notifier Notifier
	support  SupportDirectory
	features *features.Manager
	events   *events.Manager
	now      func() time.Time
}

func NewEngine(store Store, offers OfferRegistry, notifier Notifier, support SupportDirectory, fm *features.Manager, em *events.Manager) *Engine {
	return &Engine{
		store:    store,
		offers:   offers,
		notifier: notifier,
		support:  support,
		features: fm,
		events:   em,
		now:      time.Now,
	}
}

// SubmitClaim creates a PENDING claim for the caller against the active
// offer. The gates run in order and stop at the first failure: an active
// offer exists, the caller holds no live claim on it, payments are enabled,
// stock is left.
func (e *Engine) SubmitClaim(ctx context.Context, caller authz.Caller, input models.ClaimInput) (*models.Claim, error) {
	ctx, span := tracing.StartSpan(ctx, "claims.submit")
	defer span.End()

	if err := authz.Authorize(caller, authz.OpSubmitClaim, authz.Resource{OwnerID: caller.ID}); err != nil {
		return nil, err
	}
	input, err := validation.NormalizeClaimInput(input)
	if err != nil {
		return nil, err
	}

	offer, err := e.checkGates(ctx, caller.ID, true)
	if err != nil {
		e.refuse(ctx, span, caller.ID, err)
		return nil, err
	}

	claim := models.Claim{
		ID:            uuid.New().String(),
		OfferID:       offer.ID,
		UserID:        caller.ID,
		CreatedAt:     e.now().UTC(),
		Status:        models.StatusPending,
		PaymentMethod: input.PaymentMethod,
		Amount:        input.Amount,
		Currency:      input.Currency,
		Reference:     input.Reference,
		BankName:      input.BankName,
		SenderPhone:   input.SenderPhone,
		ProofImage:    input.ProofImage,
	}
	if err := e.reserveAndInsert(ctx, claim); err != nil {
		e.refuse(ctx, span, caller.ID, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("claim.id", claim.ID), attribute.String("offer.id", offer.ID))
	logging.Info(ctx).
		Str("claim_id", claim.ID).
		Str("offer_id", offer.ID).
		Str("user_id", caller.ID).
		Msg("claim submitted")
	e.events.PublishClaim(ctx, events.EventClaimSubmitted, claim, "submitted")
	return &claim, nil
}

// AdminCreateClaim records an already-paid claim for another user. It skips
// the payments-enabled gate and stores the claim as APPROVED at the offer
// price.
func (e *Engine) AdminCreateClaim(ctx context.Context, caller authz.Caller, targetUserID string, method models.PaymentMethod) (*models.Claim, error) {
	ctx, span := tracing.StartSpan(ctx, "claims.admin_create")
	defer span.End()

	if err := authz.Authorize(caller, authz.OpAdminCreateClaim, authz.Resource{OwnerID: targetUserID}); err != nil {
		return nil, err
	}
	targetUserID = validation.SanitizeString(targetUserID)
	if targetUserID == "" {
		return nil, &validation.ValidationError{Field: "user_id", Message: "is required"}
	}
	if err := validation.ValidatePaymentMethod(method); err != nil {
		return nil, err
	}

	offer, err := e.checkGates(ctx, targetUserID, false)
	if err != nil {
		e.refuse(ctx, span, targetUserID, err)
		return nil, err
	}

	claim := models.Claim{
		ID:            uuid.New().String(),
		OfferID:       offer.ID,
		UserID:        targetUserID,
		CreatedAt:     e.now().UTC(),
		Status:        models.StatusApproved,
		PaymentMethod: method,
		Amount:        offer.Price,
		Currency:      models.CurrencyBs,
	}
	if err := e.reserveAndInsert(ctx, claim); err != nil {
		e.refuse(ctx, span, targetUserID, err)
		return nil, err
	}

	logging.Info(ctx).
		Str("claim_id", claim.ID).
		Str("user_id", targetUserID).
		Str("actor", caller.ID).
		Msg("claim registered by staff")
	e.notifier.Notify(ctx, targetUserID, "A box was registered for you and your payment was approved")
	e.events.PublishClaim(ctx, events.EventClaimSubmitted, claim, "admin_created")
	return &claim, nil
}

// checkGates runs the submission gates against the active offer for userID.
func (e *Engine) checkGates(ctx context.Context, userID string, requirePayments bool) (*models.Offer, error) {
	offer, err := e.offers.GetActiveOffer(ctx)
	if err != nil {
		return nil, err
	}

	live, err := e.store.HasLiveClaim(ctx, userID, offer.ID)
	if err != nil {
		return nil, err
	}
	if live {
		return nil, apperr.ErrDuplicateClaim
	}

	if requirePayments && !offer.PaymentsEnabled {
		return nil, apperr.ErrPaymentsDisabled
	}

	if offer.Stock <= 0 {
		return nil, apperr.ErrOutOfStock
	}
	return offer, nil
}

// reserveAndInsert takes one box and stores the claim. If the insert fails
// the box is put back before the error is returned.
func (e *Engine) reserveAndInsert(ctx context.Context, claim models.Claim) error {
	if err := e.offers.DecrementStock(ctx, claim.OfferID); err != nil {
		return err
	}

	insertErr := e.store.InsertClaim(ctx, claim)
	if insertErr == nil {
		return nil
	}

	if err := e.offers.RestoreStock(ctx, claim.OfferID); err != nil {
		logging.Error(ctx).Err(err).
			AnErr("insert_error", insertErr).
			Str("offer_id", claim.OfferID).
			Msg("failed to restore stock after claim insert failure")
	}

	if errors.Is(insertErr, apperr.ErrDuplicateClaim) {
		return apperr.ErrDuplicateClaim
	}
	logging.Error(ctx).Err(insertErr).Str("user_id", claim.UserID).Msg("claim insert failed, stock restored")
	return fmt.Errorf("failed to create claim: %w", insertErr)
}

func (e *Engine) refuse(ctx context.Context, span trace.Span, userID string, err error) {
	span.RecordError(err)
	if apperr.Kind(err) == nil {
		span.SetStatus(codes.Error, "claim submission failed")
	}
	logging.Debug(ctx).Err(err).Str("user_id", userID).Msg("claim refused")
	e.events.PublishClaimRefused(ctx, userID, err)
}

// Approve moves a PENDING claim to APPROVED and notifies its owner.
func (e *Engine) Approve(ctx context.Context, caller authz.Caller, id string) (*models.Claim, error) {
	return e.transition(ctx, caller, id, models.StatusApproved, func(c *models.Claim) string {
		return "Your payment was approved. Your box is reserved."
	})
}

// Reject moves a PENDING claim to REJECTED and notifies its owner with the
// support contact.
func (e *Engine) Reject(ctx context.Context, caller authz.Caller, id string) (*models.Claim, error) {
	return e.transition(ctx, caller, id, models.StatusRejected, func(c *models.Claim) string {
		contact := e.support.SupportContact(ctx)
		msg := "Your payment could not be verified and your claim was rejected. Contact support at " + contact.Email
		if contact.Phone != "" {
			msg += " or " + contact.Phone
		}
		return msg
	})
}

// transition applies a status change. Repeating the status a claim already
// holds returns it unchanged without a notification, unless legacy
// transitions are enabled.
func (e *Engine) transition(ctx context.Context, caller authz.Caller, id string, to models.ClaimStatus, message func(*models.Claim) string) (*models.Claim, error) {
	ctx, span := tracing.StartSpan(ctx, "claims.transition",
		trace.WithAttributes(attribute.String("claim.id", id), attribute.String("claim.to", string(to))))
	defer span.End()

	if err := authz.Authorize(caller, authz.OpReviewClaim, authz.Resource{}); err != nil {
		return nil, err
	}

	claim, err := e.store.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}

	legacy := e.features.IsEnabled(features.FeatureLegacyTransitions)
	if claim.Status == to && !legacy {
		return claim, nil
	}

	from := []models.ClaimStatus{models.StatusPending}
	if legacy {
		from = append(from, to)
	}
	changed, err := e.store.UpdateClaimStatus(ctx, id, to, from...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status update failed")
		return nil, err
	}
	if !changed {
		current, err := e.store.GetClaim(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == to {
			// A concurrent request applied the same transition.
			return current, nil
		}
		return nil, fmt.Errorf("claim %s is %s, cannot become %s: %w", id, current.Status, to, apperr.ErrInvalidTransition)
	}

	claim.Status = to
	action := "approved"
	if to == models.StatusRejected {
		action = "rejected"
	}
	logging.Info(ctx).
		Str("claim_id", id).
		Str("status", string(to)).
		Str("actor", caller.ID).
		Msg("claim status changed")
	e.notifier.Notify(ctx, claim.UserID, message(claim))
	e.events.PublishClaim(ctx, events.EventClaimStatusChanged, *claim, action)
	return claim, nil
}

// ConfirmDelivery marks an APPROVED claim as delivered and notifies its
// owner. Confirming twice is a no-op.
func (e *Engine) ConfirmDelivery(ctx context.Context, caller authz.Caller, id string) (*models.Claim, error) {
	ctx, span := tracing.StartSpan(ctx, "claims.deliver", trace.WithAttributes(attribute.String("claim.id", id)))
	defer span.End()

	if err := authz.Authorize(caller, authz.OpDeliverClaim, authz.Resource{}); err != nil {
		return nil, err
	}

	claim, err := e.store.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}

	legacy := e.features.IsEnabled(features.FeatureLegacyTransitions)
	if !legacy {
		if claim.Delivered {
			return claim, nil
		}
		if claim.Status != models.StatusApproved {
			return nil, fmt.Errorf("claim %s is %s, delivery requires APPROVED: %w", id, claim.Status, apperr.ErrInvalidTransition)
		}
	}

	changed, err := e.store.MarkDelivered(ctx, id, !legacy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery update failed")
		return nil, err
	}
	if !changed && !legacy {
		current, err := e.store.GetClaim(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Delivered {
			return current, nil
		}
		return nil, fmt.Errorf("claim %s is %s, delivery requires APPROVED: %w", id, current.Status, apperr.ErrInvalidTransition)
	}

	claim.Delivered = true
	logging.Info(ctx).Str("claim_id", id).Str("actor", caller.ID).Msg("claim delivered")
	e.notifier.Notify(ctx, claim.UserID, "Your box has been delivered")
	e.events.PublishClaim(ctx, events.EventClaimStatusChanged, *claim, "delivered")
	return claim, nil
}

// GetClaim returns a claim to staff or to its owner.
func (e *Engine) GetClaim(ctx context.Context, caller authz.Caller, id string) (*models.Claim, error) {
	if err := authz.Authorize(caller, authz.OpViewClaim, authz.Resource{OwnerID: caller.ID}); err != nil {
		return nil, err
	}

	claim, err := e.store.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(caller, authz.OpViewClaim, authz.Resource{OwnerID: claim.UserID}); err != nil {
		return nil, err
	}
	return claim, nil
}

// ListClaims returns every claim to staff and only their own to others,
// newest first.
func (e *Engine) ListClaims(ctx context.Context, caller authz.Caller) ([]models.Claim, error) {
	if err := authz.Authorize(caller, authz.OpListClaims, authz.Resource{}); err != nil {
		return nil, err
	}
	return e.store.ListClaims(ctx, authz.OwnerFilter(caller))
}
