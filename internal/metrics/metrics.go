package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"box-claims-api/internal/apperr"
	"box-claims-api/internal/events"
	"box-claims-api/internal/models"
)

// ActiveOfferReader reads the current active offer from storage.
type ActiveOfferReader interface {
	GetActiveOffer(ctx context.Context) (*models.Offer, error)
}

// Metrics holds the service collectors. Each instance owns its registry so
// tests can build several without duplicate registration panics.
type Metrics struct {
	Registry *prometheus.Registry

	ClaimsSubmitted  *prometheus.CounterVec
	ClaimTransitions *prometheus.CounterVec
	OfferStock       prometheus.Gauge
	SeasonResets     prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec

	stockMu sync.Mutex
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ClaimsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "box_claims_submitted_total",
			Help: "Claim submissions by result.",
		}, []string{"result"}),
		ClaimTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "box_claims_transitions_total",
			Help: "Claim status transitions by action.",
		}, []string{"action"}),
		OfferStock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "box_claims_offer_stock",
			Help: "Remaining stock of the active offer.",
		}),
		SeasonResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "box_claims_season_resets_total",
			Help: "Completed season resets.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "box_claims_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "box_claims_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.Registry.MustRegister(
		m.ClaimsSubmitted,
		m.ClaimTransitions,
		m.OfferStock,
		m.SeasonResets,
		m.HTTPRequests,
		m.HTTPDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// RefusalReason maps a submission error to a metric label.
func RefusalReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNoActiveOffer):
		return "no_active_offer"
	case errors.Is(err, apperr.ErrDuplicateClaim):
		return "duplicate"
	case errors.Is(err, apperr.ErrPaymentsDisabled):
		return "payments_disabled"
	case errors.Is(err, apperr.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, apperr.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}

// Subscribe feeds the collectors from domain events. The stock gauge is
// re-read from offers on every offer event.
func (m *Metrics) Subscribe(mgr *events.Manager, offers ActiveOfferReader) {
	mgr.Subscribe(events.EventClaimSubmitted, func(ctx context.Context, e events.Event) error {
		m.ClaimsSubmitted.WithLabelValues("accepted").Inc()
		return nil
	})
	mgr.Subscribe(events.EventClaimRefused, func(ctx context.Context, e events.Event) error {
		data, ok := e.Data.(events.ClaimRefusedData)
		if !ok {
			return errors.New("unexpected payload for claim.refused")
		}
		m.ClaimsSubmitted.WithLabelValues(RefusalReason(data.Err)).Inc()
		return nil
	})
	mgr.Subscribe(events.EventClaimStatusChanged, func(ctx context.Context, e events.Event) error {
		data, ok := e.Data.(events.ClaimData)
		if !ok {
			return errors.New("unexpected payload for claim.status_changed")
		}
		m.ClaimTransitions.WithLabelValues(data.Action).Inc()
		return nil
	})
	stock := func(ctx context.Context, e events.Event) error {
		return m.refreshStock(ctx, offers)
	}
	mgr.Subscribe(events.EventOfferCreated, stock)
	mgr.Subscribe(events.EventOfferUpdated, stock)
	mgr.Subscribe(events.EventOfferStockChanged, stock)
	mgr.Subscribe(events.EventSeasonReset, func(ctx context.Context, e events.Event) error {
		m.SeasonResets.Inc()
		return m.refreshStock(ctx, offers)
	})
}

// refreshStock serializes read and Set so the last handler to run leaves the
// gauge at the stock it read last.
func (m *Metrics) refreshStock(ctx context.Context, offers ActiveOfferReader) error {
	m.stockMu.Lock()
	defer m.stockMu.Unlock()

	offer, err := offers.GetActiveOffer(ctx)
	if errors.Is(err, apperr.ErrNoActiveOffer) {
		m.OfferStock.Set(0)
		return nil
	}
	if err != nil {
		return err
	}
	m.OfferStock.Set(float64(offer.Stock))
	return nil
}
