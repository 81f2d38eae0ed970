package events

import (
	"context"
	"sync"
	"time"

	"box-claims-api/internal/logging"
	"box-claims-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventOfferCreated is emitted when staff create an offer
	EventOfferCreated EventType = "offer.created"
	// EventOfferUpdated is emitted when price, stock or payment state changes
	EventOfferUpdated EventType = "offer.updated"
	// EventOfferStockChanged is emitted when a claim takes or returns a box;
	// the payload only carries the offer id
	EventOfferStockChanged EventType = "offer.stock_changed"
	// EventSeasonReset is emitted after a season reset commits
	EventSeasonReset EventType = "season.reset"
	// EventClaimSubmitted is emitted when a claim is stored
	EventClaimSubmitted EventType = "claim.submitted"
	// EventClaimRefused is emitted when a submission fails a gate
	EventClaimRefused EventType = "claim.refused"
	// EventClaimStatusChanged is emitted on approve, reject and delivery
	EventClaimStatusChanged EventType = "claim.status_changed"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// OfferData contains data for offer events.
type OfferData struct {
	Offer models.Offer
}

// SeasonResetData contains data for season reset events.
type SeasonResetData struct {
	Offer        models.Offer
	PurgedClaims int
	PurgedOffers int
	PurgedProofs int
	ActorID      string
}

// ClaimData contains data for claim submission and transition events.
type ClaimData struct {
	Claim  models.Claim
	Action string // submitted, approved, rejected, delivered
}

// ClaimRefusedData contains data for refused submissions.
type ClaimRefusedData struct {
	UserID string
	Err    error
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	inflight sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if m == nil {
		return
	}

	m.mu.RLock()
	enabled := m.enabled
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if !enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Handlers may outlive the request.
	detached := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.inflight.Add(1)
		go func(h Handler) {
			defer m.inflight.Done()
			if err := h(detached, event); err != nil {
				logging.Warn(detached).Err(err).Str("event", string(eventType)).Msg("event handler failed")
			}
		}(handler)
	}
}

// PublishOffer publishes an offer created or updated event.
func (m *Manager) PublishOffer(ctx context.Context, eventType EventType, offer models.Offer) {
	m.Publish(ctx, eventType, OfferData{Offer: offer})
}

// PublishClaim publishes a claim submission or transition event.
func (m *Manager) PublishClaim(ctx context.Context, eventType EventType, claim models.Claim, action string) {
	m.Publish(ctx, eventType, ClaimData{Claim: claim, Action: action})
}

// PublishClaimRefused publishes a refused submission.
func (m *Manager) PublishClaimRefused(ctx context.Context, userID string, err error) {
	m.Publish(ctx, EventClaimRefused, ClaimRefusedData{UserID: userID, Err: err})
}

// Wait blocks until every dispatched handler has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Shutdown stops dispatching and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.inflight.Wait()
}
