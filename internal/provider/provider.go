// Package provider defines the DNS provider boundary used by the reconciler.
package provider

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/geo-dns-controller/internal/geo"
)

// RecordTypeA is the only record type the controller manages.
const RecordTypeA = "A"

// ErrPermanent marks provider failures that retrying cannot fix, such as
// authentication or validation errors.
var ErrPermanent = errors.New("permanent provider error")

// Record is the provider-neutral view of a DNS record set.
type Record struct {
	Name string
	Type string
	TTL  int64

	// GeoItems holds the geo routing policy. Empty when the record has no geo
	// policy.
	GeoItems []geo.Item

	// Plain is set when the remote record exists but carries plain rrdatas or
	// a routing policy other than geo.
	Plain bool

	// Observed is the provider's own representation of a fetched record. A
	// desired record built from a fetched one carries it along so that the
	// provider can apply the update only if the remote record is unchanged.
	// Callers never look inside it.
	Observed any
}

// Clone returns a deep copy of the record. Observed is shared, not copied.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r
	clone.GeoItems = make([]geo.Item, 0, len(r.GeoItems))

	for _, item := range r.GeoItems {
		clone.GeoItems = append(clone.GeoItems, item.Clone())
	}

	return &clone
}

// Client reads and writes a single zone of a DNS provider.
type Client interface {
	// GetRecord returns the record and true, or nil and false when no record
	// with that name and type exists.
	GetRecord(ctx context.Context, name, recordType string) (*Record, bool, error)

	// CreateRecord creates a record that does not exist yet.
	CreateRecord(ctx context.Context, desired *Record) error

	// UpdateRecord replaces an existing record. When desired.Observed is set
	// and the remote record changed since it was fetched, the update fails
	// with a retryable error.
	UpdateRecord(ctx context.Context, name, recordType string, desired *Record) error
}

// Permanent wraps err so that IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return errors.Mark(err, ErrPermanent)
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
