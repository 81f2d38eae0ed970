// Package authz holds the single authorization policy for every entry point:
// staff may do everything, other users may only act on their own resources.
package authz

import (
	"fmt"

	"box-claims-api/internal/apperr"
)

// Caller is the identity supplied by the auth provider for a request.
type Caller struct {
	ID       string
	Username string
	IsStaff  bool
}

// Operation names an action guarded by the policy.
type Operation string

const (
	OpViewActiveOffer  Operation = "offer.view_active"
	OpListOffers       Operation = "offer.list"
	OpManageOffer      Operation = "offer.manage"
	OpResetSeason      Operation = "season.reset"
	OpSubmitClaim      Operation = "claim.submit"
	OpAdminCreateClaim Operation = "claim.admin_create"
	OpViewClaim        Operation = "claim.view"
	OpListClaims       Operation = "claim.list"
	OpReviewClaim      Operation = "claim.review"
	OpDeliverClaim     Operation = "claim.deliver"
	OpViewConfig       Operation = "config.view"
	OpManageConfig     Operation = "config.manage"
	OpReadNotification Operation = "notification.read"
	OpUploadProof      Operation = "proof.upload"
)

// Resource identifies the owner of the data an operation touches. The zero
// value means the operation is not tied to a single owned resource.
type Resource struct {
	OwnerID string
}

// staffOnly lists operations reserved for staff.
var staffOnly = map[Operation]bool{
	OpListOffers:       true,
	OpManageOffer:      true,
	OpResetSeason:      true,
	OpAdminCreateClaim: true,
	OpReviewClaim:      true,
	OpDeliverClaim:     true,
	OpManageConfig:     true,
}

// ownerScoped lists operations a non-staff caller may perform only on
// resources they own.
var ownerScoped = map[Operation]bool{
	OpViewClaim:        true,
	OpReadNotification: true,
}

// Authorize returns nil when caller may perform op on res, and an error
// wrapping apperr.ErrUnauthorized otherwise.
func Authorize(caller Caller, op Operation, res Resource) error {
	if caller.ID == "" {
		return fmt.Errorf("%s: anonymous caller: %w", op, apperr.ErrUnauthorized)
	}
	if caller.IsStaff {
		return nil
	}
	if staffOnly[op] {
		return fmt.Errorf("%s: staff role required: %w", op, apperr.ErrUnauthorized)
	}
	if ownerScoped[op] && res.OwnerID != caller.ID {
		return fmt.Errorf("%s: resource belongs to another user: %w", op, apperr.ErrUnauthorized)
	}
	return nil
}

// OwnerFilter returns the owner id listings must be restricted to, or ""
// when the caller may see every user's records.
func OwnerFilter(caller Caller) string {
	if caller.IsStaff {
		return ""
	}
	return caller.ID
}
