// Package reconciler writes this region's address into the shared geo record.
//
// Every attempt re-reads the remote record, merges the local location into its
// geo routing policy and writes the result back. Transient provider failures
// are retried with a bounded backoff; permanent failures return immediately.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/lexfrei/geo-dns-controller/internal/backoff"
	"github.com/lexfrei/geo-dns-controller/internal/config"
	"github.com/lexfrei/geo-dns-controller/internal/geo"
	"github.com/lexfrei/geo-dns-controller/internal/metrics"
	"github.com/lexfrei/geo-dns-controller/internal/provider"
)

var (
	// ErrRetriesExhausted is returned when every attempt of a reconciliation
	// failed with a transient error.
	ErrRetriesExhausted = errors.New("reconciliation retries exhausted")

	// ErrPlainRecord is returned when the remote record has no geo routing
	// policy and adopting it is disabled.
	ErrPlainRecord = errors.New("record exists without a geo routing policy")

	// ErrEmptyAddress is returned for an empty candidate address.
	ErrEmptyAddress = errors.New("address must not be empty")
)

// DesiredRecord is the record a single attempt writes.
type DesiredRecord struct {
	Record *provider.Record

	// Exists selects UpdateRecord over CreateRecord.
	Exists bool
}

// Reconciler merges the local location into the geo record.
// It is not safe for concurrent use; the watch session calls it from a
// single goroutine.
type Reconciler struct {
	Provider provider.Client
	Config   *config.Config
	Policy   backoff.Policy
	Sleep    backoff.SleepFunc
	Metrics  metrics.Collector
	Logger   *slog.Logger
}

// New creates a Reconciler whose retry budget comes from cfg.
func New(
	cfg *config.Config,
	client provider.Client,
	collector metrics.Collector,
	logger *slog.Logger,
) *Reconciler {
	policy := backoff.FromWaitBackoff(wait.Backoff{
		Duration: cfg.RetryBaseDelay,
		Factor:   backoff.DefaultFactor,
		Steps:    cfg.MaxAttempts,
		Cap:      cfg.RetryMaxDelay,
	})

	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		Provider: client,
		Config:   cfg,
		Policy:   policy,
		Sleep:    backoff.Sleep,
		Metrics:  collector,
		Logger:   logger.With("component", "reconciler"),
	}
}

// Reconcile makes the remote record route this location to address.
//
// It returns nil on success, an error marked with ErrRetriesExhausted when the
// retry budget ran out, the permanent error that stopped it, or the context
// error when cancelled while waiting between attempts.
func (r *Reconciler) Reconcile(ctx context.Context, address string) error {
	if address == "" {
		return ErrEmptyAddress
	}

	logger := r.Logger.With(
		"record", r.Config.RecordName,
		"location", r.Config.GeoLocation,
		"address", address,
	)

	start := time.Now()

	for attempt := 0; ; attempt++ {
		err := r.attempt(ctx, address)
		if err == nil {
			r.finish(ctx, metrics.StatusSuccess, attempt+1, start)
			logger.Info("record reconciled", "attempts", attempt+1)

			return nil
		}

		if provider.IsPermanent(err) || errors.Is(err, ErrPlainRecord) {
			r.finish(ctx, metrics.StatusError, attempt+1, start)
			logger.Error("reconciliation failed permanently", "attempt", attempt+1, "error", err)

			return err
		}

		delay, retry := r.Policy.Next(attempt)
		if !retry {
			r.finish(ctx, metrics.StatusError, attempt+1, start)
			logger.Error("reconciliation retries exhausted", "attempts", attempt+1, "error", err)

			return errors.Mark(
				errors.Wrapf(err, "reconciliation failed after %d attempts", attempt+1),
				ErrRetriesExhausted,
			)
		}

		logger.Warn("reconciliation attempt failed, retrying",
			"attempt", attempt+1,
			"maxAttempts", r.Policy.MaxAttempts,
			"delay", delay,
			"error", err,
		)

		if sleepErr := r.Sleep(ctx, delay); sleepErr != nil {
			r.finish(ctx, metrics.StatusError, attempt+1, start)

			return errors.Wrap(sleepErr, "reconciliation aborted while waiting to retry")
		}
	}
}

func (r *Reconciler) finish(ctx context.Context, status string, attempts int, start time.Time) {
	r.Metrics.RecordReconcile(ctx, status, time.Since(start))
	r.Metrics.RecordReconcileAttempts(ctx, status, attempts)
}

// attempt runs one fetch-merge-apply cycle.
func (r *Reconciler) attempt(ctx context.Context, address string) error {
	current, found, err := r.Provider.GetRecord(ctx, r.Config.RecordName, provider.RecordTypeA)
	if err != nil {
		return errors.Wrap(err, "failed to fetch record")
	}

	desired, err := Desired(r.Config, current, found, address)
	if err != nil {
		return err
	}

	var currentItems []geo.Item

	if found && current != nil {
		currentItems = current.GeoItems

		if current.Plain {
			r.Logger.Warn("adopting record without geo routing policy",
				"record", r.Config.RecordName,
				"location", r.Config.GeoLocation,
			)
		}
	}

	if previous, ok := geo.Find(currentItems, r.Config.GeoLocation); ok {
		r.Logger.Debug("location already routed",
			"record", r.Config.RecordName,
			"location", r.Config.GeoLocation,
			"previous", previous.String(),
		)
	}

	toAdd, toRemove := geo.Diff(currentItems, desired.Record.GeoItems)
	r.Logger.Debug("computed diff",
		"record", r.Config.RecordName,
		"locations", geo.Locations(desired.Record.GeoItems),
		"toAdd", geo.Describe(toAdd),
		"toRemove", geo.Describe(toRemove),
	)

	// Unchanged items are still written; the write also corrects the TTL.
	if desired.Exists && current != nil && !current.Plain && geo.Equal(currentItems, desired.Record.GeoItems) {
		r.Logger.Debug("geo items unchanged, rewriting record", "record", r.Config.RecordName)
	}

	if desired.Exists {
		err = r.Provider.UpdateRecord(ctx, r.Config.RecordName, provider.RecordTypeA, desired.Record)
		if err != nil {
			return errors.Wrap(err, "failed to update record")
		}
	} else {
		err = r.Provider.CreateRecord(ctx, desired.Record)
		if err != nil {
			return errors.Wrap(err, "failed to create record")
		}
	}

	r.Metrics.RecordGeoItems(ctx, len(desired.Record.GeoItems))
	r.Logger.Debug("record written",
		"record", r.Config.RecordName,
		"created", !desired.Exists,
		"geo", geo.Describe(desired.Record.GeoItems),
	)

	return nil
}

// Desired builds the record to write from the fetched state. current may be
// nil when found is false. The desired record carries current's Observed value
// so that the update applies only if the remote record is still unchanged.
func Desired(cfg *config.Config, current *provider.Record, found bool, address string) (DesiredRecord, error) {
	var (
		existing []geo.Item
		observed any
	)

	if found && current != nil {
		observed = current.Observed

		if current.Plain && !cfg.AdoptPlainRecord {
			return DesiredRecord{}, errors.Wrapf(ErrPlainRecord, "record %s", cfg.RecordName)
		}

		if !current.Plain {
			existing = current.GeoItems
		}
	}

	return DesiredRecord{
		Record: &provider.Record{
			Name:     cfg.RecordName,
			Type:     provider.RecordTypeA,
			TTL:      cfg.TTL,
			GeoItems: geo.Merge(existing, cfg.GeoLocation, address),
			Observed: observed,
		},
		Exists: found,
	}, nil
}
