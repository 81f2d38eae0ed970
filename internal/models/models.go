package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClaimStatus is the payment-verification state of a claim.
type ClaimStatus string

const (
	StatusPending  ClaimStatus = "PENDING"
	StatusApproved ClaimStatus = "APPROVED"
	StatusRejected ClaimStatus = "REJECTED"
)

// IsLive reports whether a claim in this status counts toward the
// one-claim-per-user-per-offer limit.
func (s ClaimStatus) IsLive() bool {
	return s == StatusPending || s == StatusApproved
}

// PaymentMethod is how the buyer paid for the box.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentMobile PaymentMethod = "MOBILE_PAYMENT"
)

// Currency of the declared payment amount.
type Currency string

const (
	CurrencyBs   Currency = "Bs"
	CurrencyUSD  Currency = "USD"
	CurrencyEUR  Currency = "EUR"
	CurrencyPeso Currency = "Peso"
)

// Offer represents one sales season of boxes.
type Offer struct {
	ID              string          `json:"id"`               // uuid
	Price           decimal.Decimal `json:"price"`            // per box
	Stock           int             `json:"stock"`            // boxes still available
	PaymentsEnabled bool            `json:"payments_enabled"` // claims accepted
	CreatedAt       time.Time       `json:"created_at"`
	Sold            int             `json:"sold"`            // approved claims
	DeliveredCount  int             `json:"delivered_count"` // delivered claims
}

// Claim is one user's purchase attempt against an offer.
type Claim struct {
	ID            string          `json:"id"`       // uuid
	OfferID       string          `json:"offer_id"` // owning offer
	UserID        string          `json:"user_id"`  // owner, from the identity provider
	CreatedAt     time.Time       `json:"created_at"`
	Status        ClaimStatus     `json:"status"`
	Delivered     bool            `json:"delivered"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      Currency        `json:"currency"`
	Reference     string          `json:"reference,omitempty"`
	BankName      string          `json:"bank_name,omitempty"`
	SenderPhone   string          `json:"sender_phone,omitempty"`
	ProofImage    string          `json:"proof_image,omitempty"` // opaque storage reference
}

// Notification is a message recorded for a user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// SupportConfig holds the contact details shown to users on rejection.
type SupportConfig struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// PaymentConfig holds the account that receives mobile payments.
type PaymentConfig struct {
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
	Bank       string `json:"bank"`
}

// User is a directory entry for an identity seen by the service.
type User struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	IsStaff  bool      `json:"is_staff"`
	LastSeen time.Time `json:"last_seen"`
}

// AuditEntry records a destructive administrative action.
type AuditEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	Detail    string    `json:"detail"` // JSON document
	CreatedAt time.Time `json:"created_at"`
}

// ClaimInput is the payment-proof payload submitted by a user.
type ClaimInput struct {
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      Currency        `json:"currency"`
	Reference     string          `json:"reference"`
	BankName      string          `json:"bank_name"`
	SenderPhone   string          `json:"sender_phone"`
	ProofImage    string          `json:"proof_image"`
}

// CreateOfferRequest represents the request body for creating an offer.
type CreateOfferRequest struct {
	Price           decimal.Decimal `json:"price"`
	Stock           int             `json:"stock"`
	PaymentsEnabled *bool           `json:"payments_enabled,omitempty"` // defaults to true
}

// OfferUpdate carries a partial offer update; nil fields are left untouched.
type OfferUpdate struct {
	Price           *decimal.Decimal `json:"price,omitempty"`
	Stock           *int             `json:"stock,omitempty"`
	PaymentsEnabled *bool            `json:"payments_enabled,omitempty"`
}

// ResetSeasonRequest represents the request body for starting a new season.
type ResetSeasonRequest struct {
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// AdminCreateClaimRequest represents the request body for a staff-registered claim.
type AdminCreateClaimRequest struct {
	UserID        string        `json:"user_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

// ProofUploadResponse is returned after storing a payment-proof image.
type ProofUploadResponse struct {
	Reference string `json:"reference"`
}

// ClaimsResponse wraps a claim listing.
type ClaimsResponse struct {
	Claims []Claim `json:"claims"`
}

// NotificationsResponse wraps a notification listing.
type NotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
