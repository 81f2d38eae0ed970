package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"box-claims-api/internal/apperr"
	"box-claims-api/internal/authz"
	"box-claims-api/internal/claims"
	"box-claims-api/internal/logging"
	"box-claims-api/internal/middleware"
	"box-claims-api/internal/models"
	"box-claims-api/internal/notify"
	"box-claims-api/internal/offers"
	"box-claims-api/internal/settings"
	"box-claims-api/internal/storage"
	"box-claims-api/internal/validation"
)

// Pinger reports storage health.
type Pinger interface {
	Ping() error
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	offers        *offers.Registry
	claims        *claims.Engine
	notifications *notify.Service
	settings      *settings.Service
	proofs        *storage.ProofStore
	db            Pinger
	maxBodySize   int64
	maxProofSize  int64
}

// Services groups the collaborators a Handler serves.
type Services struct {
	Offers        *offers.Registry
	Claims        *claims.Engine
	Notifications *notify.Service
	Settings      *settings.Service
	Proofs        *storage.ProofStore
	DB            Pinger
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize  int64
	MaxProofSize int64
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize:  1 << 20,
		MaxProofSize: 5 << 20,
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc Services) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc Services, opts NewHandlerOptions) *Handler {
	return &Handler{
		offers:        svc.Offers,
		claims:        svc.Claims,
		notifications: svc.Notifications,
		settings:      svc.Settings,
		proofs:        svc.Proofs,
		db:            svc.DB,
		maxBodySize:   opts.MaxBodySize,
		maxProofSize:  opts.MaxProofSize,
	}
}

// RegisterRoutes mounts the authenticated API on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/offers", func(r chi.Router) {
		r.Get("/", h.ListOffers)
		r.Post("/", h.CreateOffer)
		r.Get("/active", h.GetActiveOffer)
		r.Patch("/{offer_id}", h.UpdateOffer)
	})
	r.Post("/season/reset", h.ResetSeason)

	r.Route("/claims", func(r chi.Router) {
		r.Get("/", h.ListClaims)
		r.Post("/", h.SubmitClaim)
		r.Post("/proofs", h.UploadProof)
		r.Get("/{claim_id}", h.GetClaim)
		r.Get("/{claim_id}/proof", h.GetClaimProof)
		r.Post("/{claim_id}/approve", h.ApproveClaim)
		r.Post("/{claim_id}/reject", h.RejectClaim)
		r.Post("/{claim_id}/deliver", h.DeliverClaim)
	})
	r.Post("/admin/claims", h.AdminCreateClaim)

	r.Get("/notifications", h.ListNotifications)
	r.Post("/notifications/{notification_id}/read", h.MarkNotificationRead)

	r.Route("/config", func(r chi.Router) {
		r.Get("/support", h.GetSupportConfig)
		r.Put("/support", h.PutSupportConfig)
		r.Get("/payment", h.GetPaymentConfig)
		r.Put("/payment", h.PutPaymentConfig)
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			logging.Error(r.Context()).Err(err).Msg("health check failed")
			h.respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// GetActiveOffer handles GET /offers/active
func (h *Handler) GetActiveOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	offer, err := h.offers.ActiveOfferSnapshot(r.Context(), caller)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, offer)
}

// ListOffers handles GET /offers
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	list, err := h.offers.ListOffers(r.Context(), caller)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Offer{}
	}
	h.respondJSON(w, http.StatusOK, list)
}

// CreateOffer handles POST /offers
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req models.CreateOfferRequest
	if !h.decode(w, r, &req) {
		return
	}

	paymentsEnabled := true
	if req.PaymentsEnabled != nil {
		paymentsEnabled = *req.PaymentsEnabled
	}

	offer, err := h.offers.CreateOffer(r.Context(), caller, req.Price, req.Stock, paymentsEnabled)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, offer)
}

// UpdateOffer handles PATCH /offers/{offer_id}
func (h *Handler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	offerID, ok := h.pathID(w, r, "offer_id")
	if !ok {
		return
	}

	var req models.OfferUpdate
	if !h.decode(w, r, &req) {
		return
	}

	offer, err := h.offers.UpdateOffer(r.Context(), caller, offerID, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, offer)
}

// ResetSeason handles POST /season/reset
func (h *Handler) ResetSeason(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req models.ResetSeasonRequest
	if !h.decode(w, r, &req) {
		return
	}

	offer, err := h.offers.ResetSeason(r.Context(), caller, req.Price, req.Stock)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, offer)
}

// SubmitClaim handles POST /claims
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req models.ClaimInput
	if !h.decode(w, r, &req) {
		return
	}

	claim, err := h.claims.SubmitClaim(r.Context(), caller, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, claim)
}

// AdminCreateClaim handles POST /admin/claims
func (h *Handler) AdminCreateClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req models.AdminCreateClaimRequest
	if !h.decode(w, r, &req) {
		return
	}

	claim, err := h.claims.AdminCreateClaim(r.Context(), caller, req.UserID, req.PaymentMethod)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, claim)
}

// UploadProof handles POST /claims/proofs (multipart field "image")
func (h *Handler) UploadProof(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := authz.Authorize(caller, authz.OpUploadProof, authz.Resource{}); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	// Multipart framing needs a little room on top of the image itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxProofSize+64<<10)
	file, _, err := r.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondError(w, http.StatusRequestEntityTooLarge, storage.ErrTooLarge.Error())
			return
		}
		h.respondError(w, http.StatusBadRequest, "multipart field 'image' is required")
		return
	}
	defer file.Close()

	ref, err := h.proofs.Save(r.Context(), file)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, models.ProofUploadResponse{Reference: ref})
}

// ListClaims handles GET /claims
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	list, err := h.claims.ListClaims(r.Context(), caller)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.ClaimsResponse{Claims: list})
}

// GetClaim handles GET /claims/{claim_id}
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, ok := h.pathID(w, r, "claim_id")
	if !ok {
		return
	}

	claim, err := h.claims.GetClaim(r.Context(), caller, id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, claim)
}

// GetClaimProof handles GET /claims/{claim_id}/proof
func (h *Handler) GetClaimProof(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, ok := h.pathID(w, r, "claim_id")
	if !ok {
		return
	}

	claim, err := h.claims.GetClaim(r.Context(), caller, id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if claim.ProofImage == "" {
		h.respondError(w, http.StatusNotFound, "claim has no proof image")
		return
	}

	rc, err := h.proofs.Open(claim.ProofImage)
	if err != nil {
		logging.Warn(r.Context()).Err(err).Str("claim_id", claim.ID).Msg("proof image unavailable")
		h.respondError(w, http.StatusNotFound, "proof image not found")
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(filepath.Ext(claim.ProofImage)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

// ApproveClaim handles POST /claims/{claim_id}/approve
func (h *Handler) ApproveClaim(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.claims.Approve)
}

// RejectClaim handles POST /claims/{claim_id}/reject
func (h *Handler) RejectClaim(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.claims.Reject)
}

// DeliverClaim handles POST /claims/{claim_id}/deliver
func (h *Handler) DeliverClaim(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.claims.ConfirmDelivery)
}

type transitionFunc func(ctx context.Context, caller authz.Caller, id string) (*models.Claim, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply transitionFunc) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, ok := h.pathID(w, r, "claim_id")
	if !ok {
		return
	}

	claim, err := apply(r.Context(), caller, id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, claim)
}

// ListNotifications handles GET /notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	list, err := h.notifications.List(r.Context(), caller)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.NotificationsResponse{Notifications: list})
}

// MarkNotificationRead handles POST /notifications/{notification_id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, ok := h.pathID(w, r, "notification_id")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(r.Context(), caller, id); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSupportConfig handles GET /config/support
func (h *Handler) GetSupportConfig(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	cfg, err := h.settings.Support(r.Context(), caller)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// PutSupportConfig handles PUT /config/support
func (h *Handler) PutSupportConfig(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req models.SupportConfig
	if !h.decode(w, r, &req) {
		return
	}
	req.Email = validation.SanitizeString(req.Email)
	req.Phone = validation.SanitizeString(req.Phone)
	if err := validation.ValidateSupportConfig(req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if err := h.settings.SaveSupport(r.Context(), caller, req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, req)
}

// GetPaymentConfig handles GET /config/payment
func (h *Handler) GetPaymentConfig(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	cfg, err := h.settings.Payment(r.Context(), caller)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// PutPaymentConfig handles PUT /config/payment
func (h *Handler) PutPaymentConfig(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req models.PaymentConfig
	if !h.decode(w, r, &req) {
		return
	}
	req.NationalID = validation.SanitizeString(req.NationalID)
	req.Phone = validation.SanitizeString(req.Phone)
	req.Bank = validation.SanitizeString(req.Bank)
	if err := validation.ValidatePaymentConfig(req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if err := h.settings.SavePayment(r.Context(), caller, req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, req)
}

// pathID reads a UUID path parameter, answering 400 when it is malformed.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := validation.SanitizeString(chi.URLParam(r, name))
	if err := validation.ValidateUUID(id, name); err != nil {
		h.respondServiceError(w, r, err)
		return "", false
	}
	return id, true
}

// caller returns the authenticated caller or writes 401.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (authz.Caller, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "authentication required")
		return authz.Caller{}, false
	}
	return caller, true
}

// decode reads a size-limited JSON body into dest, writing 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case err == io.EOF:
			h.respondError(w, http.StatusBadRequest, "request body is required")
		case errors.As(err, &maxErr):
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		}
		return false
	}
	return true
}

// respondServiceError maps domain errors to HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.ValidationError
	if errors.As(err, &verr) {
		h.respondError(w, http.StatusBadRequest, verr.Error())
		return
	}

	switch {
	case errors.Is(err, storage.ErrUnsupportedType), errors.Is(err, storage.ErrInvalidRef):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, storage.ErrTooLarge):
		h.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	switch kind := apperr.Kind(err); kind {
	case apperr.ErrNoActiveOffer, apperr.ErrDuplicateClaim, apperr.ErrPaymentsDisabled,
		apperr.ErrOutOfStock, apperr.ErrInvalidTransition:
		h.respondError(w, http.StatusConflict, kind.Error())
	case apperr.ErrNotFound:
		h.respondError(w, http.StatusNotFound, err.Error())
	case apperr.ErrUnauthorized:
		h.respondError(w, http.StatusForbidden, kind.Error())
	default:
		logging.Error(r.Context()).Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
