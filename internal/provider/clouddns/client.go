package clouddns

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2/google"
	googledns "google.golang.org/api/dns/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"k8s.io/client-go/util/flowcontrol"

	"github.com/lexfrei/geo-dns-controller/internal/geo"
	"github.com/lexfrei/geo-dns-controller/internal/metrics"
	"github.com/lexfrei/geo-dns-controller/internal/provider"
)

const (
	// DefaultTimeout bounds a single Cloud DNS API call.
	DefaultTimeout = 30 * time.Second

	// UserAgent is sent with every Cloud DNS request.
	UserAgent = "geo-dns-controller"

	statusNotFound = "not_found"
)

// Options configures a Client.
type Options struct {
	// Project is the Google Cloud project owning the managed zone.
	Project string

	// Zone is the managed zone name (not its DNS name).
	Zone string

	// Timeout bounds every API call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// RateLimiter throttles API calls. Nil disables throttling.
	RateLimiter flowcontrol.RateLimiter

	Metrics metrics.Collector
	Logger  *slog.Logger
}

// Client implements provider.Client on Cloud DNS.
type Client struct {
	service *googledns.Service
	project string
	zone    string
	timeout time.Duration
	limiter flowcontrol.RateLimiter
	metrics metrics.Collector
	logger  *slog.Logger
}

var _ provider.Client = (*Client)(nil)

// NewService creates a Cloud DNS service. Credentials come from the service
// account JSON at credentialsFile, or from Application Default Credentials
// when credentialsFile is empty. Extra options are appended last.
func NewService(ctx context.Context, credentialsFile string, extra ...option.ClientOption) (*googledns.Service, error) {
	scopes := []string{googledns.NdevClouddnsReadwriteScope}

	var clientOptions []option.ClientOption

	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read credentials file %s", credentialsFile)
		}

		jwtConfig, err := google.JWTConfigFromJSON(data, scopes...)
		if err != nil {
			return nil, errors.Wrap(err, "service account credentials are invalid")
		}

		clientOptions = append(clientOptions, option.WithTokenSource(jwtConfig.TokenSource(ctx)))
	} else {
		tokenSource, err := google.DefaultTokenSource(ctx, scopes...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to find default credentials")
		}

		clientOptions = append(clientOptions, option.WithTokenSource(tokenSource))
	}

	clientOptions = append(clientOptions, option.WithUserAgent(UserAgent))
	clientOptions = append(clientOptions, extra...)

	service, err := googledns.NewService(ctx, clientOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cloud dns service")
	}

	return service, nil
}

// New creates a Client for one managed zone.
func New(service *googledns.Service, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		service: service,
		project: opts.Project,
		zone:    opts.Zone,
		timeout: timeout,
		limiter: opts.RateLimiter,
		metrics: collector,
		logger:  logger.With("component", "clouddns", "project", opts.Project, "zone", opts.Zone),
	}
}

// GetRecord fetches the record set with the given name and type.
// A missing record is reported as found == false with a nil error.
func (c *Client) GetRecord(ctx context.Context, name, recordType string) (*provider.Record, bool, error) {
	rrset, found, err := c.getRRSet(ctx, name, recordType)
	if err != nil || !found {
		return nil, false, err
	}

	return recordFromRRSet(rrset), true, nil
}

func (c *Client) getRRSet(ctx context.Context, name, recordType string) (*googledns.ResourceRecordSet, bool, error) {
	var rrset *googledns.ResourceRecordSet

	err := c.call(ctx, "get", func(callCtx context.Context) error {
		var getErr error

		rrset, getErr = c.service.ResourceRecordSets.Get(c.project, c.zone, name, recordType).Context(callCtx).Do()

		return getErr
	})
	if err != nil {
		if isNotFound(err) {
			c.logger.Debug("record set not found", "name", name, "type", recordType)

			return nil, false, nil
		}

		return nil, false, classify(errors.Wrapf(err, "failed to get record set %s[%s]", name, recordType))
	}

	return rrset, true, nil
}

// CreateRecord creates desired as a new record set.
func (c *Client) CreateRecord(ctx context.Context, desired *provider.Record) error {
	rrset := rrsetFromRecord(desired, nil)

	err := c.call(ctx, "create", func(callCtx context.Context) error {
		_, createErr := c.service.ResourceRecordSets.Create(c.project, c.zone, rrset).Context(callCtx).Do()

		return createErr
	})
	if err != nil {
		return classify(errors.Wrapf(err, "failed to create record set %s[%s]", desired.Name, desired.Type))
	}

	c.logger.Info("record set created", "name", desired.Name, "type", desired.Type,
		"geo", geo.Describe(desired.GeoItems))

	return nil
}

// UpdateRecord replaces the record set name/recordType with desired in a
// single change that deletes the observed record set and adds the desired one.
// Cloud DNS rejects the change with 412 when the record set no longer matches
// the observed one. Without desired.Observed the record set is fetched first.
func (c *Client) UpdateRecord(ctx context.Context, name, recordType string, desired *provider.Record) error {
	observed, ok := desired.Observed.(*googledns.ResourceRecordSet)
	if !ok || observed == nil {
		current, found, err := c.getRRSet(ctx, name, recordType)
		if err != nil {
			return err
		}

		if !found {
			return errors.Newf("record set %s[%s] disappeared before update", name, recordType)
		}

		observed = current
	}

	change := &googledns.Change{
		Deletions: []*googledns.ResourceRecordSet{observed},
		Additions: []*googledns.ResourceRecordSet{rrsetFromRecord(desired, observed)},
	}

	err := c.call(ctx, "update", func(callCtx context.Context) error {
		_, changeErr := c.service.Changes.Create(c.project, c.zone, change).Context(callCtx).Do()

		return changeErr
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to update record set %s[%s]", name, recordType)

		// The observed record set was deleted concurrently; a retry re-reads
		// and creates it.
		if isNotFound(err) {
			return err
		}

		return classify(err)
	}

	c.logger.Info("record set updated", "name", name, "type", recordType,
		"geo", geo.Describe(desired.GeoItems))

	return nil
}

// call runs fn under the rate limiter and per-call timeout and records metrics.
func (c *Client) call(ctx context.Context, method string, fn func(context.Context) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limiter wait aborted")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()
	err := fn(callCtx)
	duration := time.Since(startTime)

	switch {
	case err == nil:
		c.metrics.RecordAPICall(ctx, method, metrics.StatusSuccess, duration)
	case method == "get" && isNotFound(err):
		c.metrics.RecordAPICall(ctx, method, statusNotFound, duration)
	default:
		c.metrics.RecordAPICall(ctx, method, metrics.StatusError, duration)
		c.metrics.RecordAPIError(ctx, method, metrics.ClassifyProviderError(err))
	}

	return err
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound
	}

	return false
}

// classify marks errors that retrying cannot fix as permanent. Throttling,
// conflicts with concurrent writers, server errors and transport failures
// stay retryable.
func classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Code {
	case http.StatusRequestTimeout,
		http.StatusConflict,
		http.StatusPreconditionFailed,
		http.StatusTooManyRequests:
		return err
	}

	if apiErr.Code >= http.StatusBadRequest && apiErr.Code < http.StatusInternalServerError {
		return provider.Permanent(err)
	}

	return err
}

func recordFromRRSet(rrset *googledns.ResourceRecordSet) *provider.Record {
	record := &provider.Record{
		Name:     rrset.Name,
		Type:     rrset.Type,
		TTL:      rrset.Ttl,
		Observed: rrset,
	}

	if rrset.RoutingPolicy == nil || rrset.RoutingPolicy.Geo == nil {
		record.Plain = true

		return record
	}

	for _, item := range rrset.RoutingPolicy.Geo.Items {
		if item == nil {
			continue
		}

		record.GeoItems = append(record.GeoItems, geo.Item{
			Location:  item.Location,
			Addresses: append([]string(nil), item.Rrdatas...),
		})
	}

	return record
}

// rrsetFromRecord builds the record set to write. Geo items that are
// unchanged from observed keep everything observed had for them, such as
// health checked targets, and the policy keeps its fencing and health check
// settings.
func rrsetFromRecord(record *provider.Record, observed *googledns.ResourceRecordSet) *googledns.ResourceRecordSet {
	var observedPolicy *googledns.RRSetRoutingPolicy
	if observed != nil && observed.RoutingPolicy != nil && observed.RoutingPolicy.Geo != nil {
		observedPolicy = observed.RoutingPolicy
	}

	items := make([]*googledns.RRSetRoutingPolicyGeoPolicyGeoPolicyItem, 0, len(record.GeoItems))

	for _, item := range record.GeoItems {
		if kept := findObservedItem(observedPolicy, item); kept != nil {
			items = append(items, kept)

			continue
		}

		items = append(items, &googledns.RRSetRoutingPolicyGeoPolicyGeoPolicyItem{
			Location: item.Location,
			Rrdatas:  append([]string(nil), item.Addresses...),
		})
	}

	policy := &googledns.RRSetRoutingPolicy{
		Geo: &googledns.RRSetRoutingPolicyGeoPolicy{
			Items: items,
		},
	}

	if observedPolicy != nil {
		policy.HealthCheck = observedPolicy.HealthCheck
		policy.Geo.EnableFencing = observedPolicy.Geo.EnableFencing
	}

	return &googledns.ResourceRecordSet{
		Name:          record.Name,
		Type:          record.Type,
		Ttl:           record.TTL,
		RoutingPolicy: policy,
	}
}

// findObservedItem returns a copy of the observed geo item for item's location
// when its rrdatas equal item's addresses.
func findObservedItem(
	policy *googledns.RRSetRoutingPolicy,
	item geo.Item,
) *googledns.RRSetRoutingPolicyGeoPolicyGeoPolicyItem {
	if policy == nil {
		return nil
	}

	for _, observed := range policy.Geo.Items {
		if observed == nil || observed.Location != item.Location {
			continue
		}

		left := slices.Clone(observed.Rrdatas)
		right := slices.Clone(item.Addresses)

		slices.Sort(left)
		slices.Sort(right)

		if slices.Equal(left, right) {
			kept := *observed

			return &kept
		}
	}

	return nil
}
