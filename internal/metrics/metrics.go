// Package metrics turns funnel events and HTTP traffic into Prometheus
// series.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"microloan-funnel/internal/events"
)

// Collector holds the funnel's series.
type Collector struct {
	sessionsStarted prometheus.Counter
	offersShown     prometheus.Counter
	emptyResults    *prometheus.CounterVec
	linkClicks      *prometheus.CounterVec
	profileUpdates  *prometheus.CounterVec
	catalogReloads  prometheus.Counter
	catalogActive   prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New registers the funnel series with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "funnel_sessions_started_total",
			Help: "Sessions opened after criteria collection",
		}),
		offersShown: f.NewCounter(prometheus.CounterOpts{
			Name: "funnel_offer_views_total",
			Help: "Ranked views rendered",
		}),
		emptyResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_empty_results_total",
			Help: "Criteria sets that matched no offers, labeled by country",
		}, []string{"country"}),
		linkClicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_link_clicks_total",
			Help: "Attributed redirects, labeled by country and offer",
		}, []string{"country", "offer_id"}),
		profileUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_profile_updates_total",
			Help: "Profile preference writes, labeled by kind",
		}, []string{"kind"}),
		catalogReloads: f.NewCounter(prometheus.CounterOpts{
			Name: "funnel_catalog_reloads_total",
			Help: "Successful catalog reloads",
		}),
		catalogActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "funnel_catalog_active_offers",
			Help: "Active offers in the current catalog snapshot",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_http_requests_total",
			Help: "Total HTTP requests processed, labeled by status code",
		}, []string{"method", "route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "funnel_http_request_duration_seconds",
			Help:    "Latency distribution of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
	}
}

// Subscribe feeds the collector from the event manager.
func (c *Collector) Subscribe(em *events.Manager) {
	em.Subscribe(events.EventSessionStarted, func(context.Context, events.Event) error {
		c.sessionsStarted.Inc()
		return nil
	})
	em.Subscribe(events.EventOffersShown, func(context.Context, events.Event) error {
		c.offersShown.Inc()
		return nil
	})
	em.Subscribe(events.EventOffersEmpty, func(_ context.Context, e events.Event) error {
		if d, ok := e.Data.(events.OffersEmptyData); ok {
			c.emptyResults.WithLabelValues(d.Criteria.Country).Inc()
		}
		return nil
	})
	em.Subscribe(events.EventLinkClicked, func(_ context.Context, e events.Event) error {
		if d, ok := e.Data.(events.LinkClickedData); ok {
			c.linkClicks.WithLabelValues(d.Country, d.OfferID).Inc()
		}
		return nil
	})
	em.Subscribe(events.EventProfileUpdated, func(_ context.Context, e events.Event) error {
		kind := "update"
		if d, ok := e.Data.(events.ProfileUpdatedData); ok && d.Cleared {
			kind = "clear"
		}
		c.profileUpdates.WithLabelValues(kind).Inc()
		return nil
	})
	em.Subscribe(events.EventCatalogReloaded, func(_ context.Context, e events.Event) error {
		c.catalogReloads.Inc()
		if d, ok := e.Data.(events.CatalogReloadedData); ok {
			c.catalogActive.Set(float64(d.Active))
		}
		return nil
	})
}

// SetCatalogActive records the active offer count of the current snapshot.
func (c *Collector) SetCatalogActive(n int) {
	c.catalogActive.Set(float64(n))
}

// Middleware counts requests by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
