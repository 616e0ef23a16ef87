package controller

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	apiwatch "k8s.io/apimachinery/pkg/watch"

	"github.com/lexfrei/geo-dns-controller/internal/ingress"
	"github.com/lexfrei/geo-dns-controller/internal/metrics"
)

// AddressReconciler writes an address into the geo record.
type AddressReconciler interface {
	Reconcile(ctx context.Context, address string) error
}

// EventHandler connects the ingress watch to the DNS reconciler. It
// implements watch.Handler.
type EventHandler struct {
	Reconciler AddressReconciler
	Metrics    metrics.Collector
	Logger     *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(rec AddressReconciler, collector metrics.Collector, logger *slog.Logger) *EventHandler {
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &EventHandler{
		Reconciler: rec,
		Metrics:    collector,
		Logger:     logger.With("component", "event-handler"),
	}
}

// Handle reconciles the record when event carries a load balancer address.
// Deletions never modify DNS.
func (h *EventHandler) Handle(ctx context.Context, event apiwatch.Event) error {
	eventType := string(event.Type)

	snapshot, ok := ingress.SnapshotFromEvent(event)
	if !ok {
		h.Logger.Debug("ignoring watch event without an ingress", "type", eventType)
		h.Metrics.RecordWatchEvent(ctx, eventType, metrics.OutcomeSkipped)

		return nil
	}

	logger := h.Logger.With(
		"type", eventType,
		"namespace", snapshot.Namespace,
		"name", snapshot.Name,
	)

	logger.Info("event received")

	address, ok := ingress.ExtractAddress(snapshot)
	if !ok {
		if snapshot.Kind == ingress.EventDeleted {
			logger.Info("ingress deleted, leaving DNS record unchanged")
		} else {
			logger.Debug("ingress has no load balancer address", "points", snapshot.Points)
		}

		h.Metrics.RecordWatchEvent(ctx, eventType, metrics.OutcomeSkipped)

		return nil
	}

	logger.Info("reconciling DNS record", "address", address)

	if err := h.Reconciler.Reconcile(ctx, address); err != nil {
		h.Metrics.RecordWatchEvent(ctx, eventType, metrics.OutcomeFailed)

		return errors.Wrapf(err, "failed to reconcile ingress %s", snapshot.Key())
	}

	h.Metrics.RecordWatchEvent(ctx, eventType, metrics.OutcomeReconciled)

	return nil
}
