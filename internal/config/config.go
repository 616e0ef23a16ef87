// Package config builds the immutable controller configuration from flags and
// environment variables.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/miekg/dns"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/labels"
)

// Configuration keys. Each key is also the CLI flag name.
const (
	KeyProject          = "project"
	KeyZone             = "zone"
	KeyRecordName       = "record-name"
	KeyLabelSelector    = "label-selector"
	KeyGeoLocation      = "geo-location"
	KeyTTL              = "ttl"
	KeyCredentialsFile  = "credentials-file"
	KeyAdoptPlainRecord = "adopt-plain-record"
	KeyReconnectDelay   = "reconnect-delay"
	KeyWatchTimeout     = "watch-timeout"
	KeyMaxAttempts      = "max-attempts"
	KeyRetryBaseDelay   = "retry-base-delay"
	KeyRetryMaxDelay    = "retry-max-delay"
	KeyProviderTimeout  = "provider-timeout"
	KeyProviderQPS      = "provider-qps"
	KeyProviderBurst    = "provider-burst"
	KeyMetricsAddr      = "metrics-addr"
	KeyHealthAddr       = "health-addr"
)

// Defaults for optional settings.
const (
	DefaultLabelSelector   = "watch=true"
	DefaultGeoLocation     = "us"
	DefaultTTL             = 300
	DefaultReconnectDelay  = 5 * time.Second
	DefaultWatchTimeout    = 300 * time.Second
	DefaultMaxAttempts     = 3
	DefaultRetryBaseDelay  = time.Second
	DefaultRetryMaxDelay   = 10 * time.Second
	DefaultProviderTimeout = 30 * time.Second
	DefaultProviderQPS     = 5
	DefaultProviderBurst   = 10
	DefaultMetricsAddr     = ":8080"
	DefaultHealthAddr      = ":8081"

	MinTTL = 1
	MaxTTL = 86400
)

// LegacyEnv maps configuration keys to the environment variable names the
// controller has always read. They take precedence over prefixed names.
//
//nolint:gochecknoglobals // static lookup table
var LegacyEnv = map[string]string{
	KeyProject:       "GCP_PROJECT",
	KeyZone:          "DNS_ZONE_NAME",
	KeyRecordName:    "DNS_RECORD_NAME",
	KeyLabelSelector: "LABEL_SELECTOR",
	KeyGeoLocation:   "GEO_LOCATION",
	KeyTTL:           "TTL",
}

// ErrInvalid is the mark carried by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the controller configuration. It is built once at startup and
// never modified afterwards.
type Config struct {
	// Project is the Google Cloud project that owns the managed zone.
	Project string

	// Zone is the Cloud DNS managed zone name.
	Zone string

	// RecordName is the fully qualified record name, with trailing dot.
	RecordName string

	// LabelSelector filters the watched ingresses.
	LabelSelector string

	// GeoLocation is the location tag this instance owns in the record.
	GeoLocation string

	// TTL of the record in seconds.
	TTL int64

	// CredentialsFile is an optional service account JSON key. Application
	// Default Credentials are used when empty.
	CredentialsFile string

	// AdoptPlainRecord allows converting an existing record without a geo
	// routing policy into a geo record owned by this location.
	AdoptPlainRecord bool

	// ReconnectDelay is the fixed wait before every watch reconnection.
	ReconnectDelay time.Duration

	// WatchTimeout is the server-side timeout requested for each watch.
	WatchTimeout time.Duration

	// MaxAttempts is the fetch-merge-apply budget per reconciliation.
	MaxAttempts int

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// ProviderTimeout bounds every DNS provider call.
	ProviderTimeout time.Duration
	ProviderQPS     float32
	ProviderBurst   int

	MetricsAddr string
	HealthAddr  string
}

// SetDefaults registers the default value of every optional key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyLabelSelector, DefaultLabelSelector)
	v.SetDefault(KeyGeoLocation, DefaultGeoLocation)
	v.SetDefault(KeyTTL, DefaultTTL)
	v.SetDefault(KeyAdoptPlainRecord, true)
	v.SetDefault(KeyReconnectDelay, DefaultReconnectDelay)
	v.SetDefault(KeyWatchTimeout, DefaultWatchTimeout)
	v.SetDefault(KeyMaxAttempts, DefaultMaxAttempts)
	v.SetDefault(KeyRetryBaseDelay, DefaultRetryBaseDelay)
	v.SetDefault(KeyRetryMaxDelay, DefaultRetryMaxDelay)
	v.SetDefault(KeyProviderTimeout, DefaultProviderTimeout)
	v.SetDefault(KeyProviderQPS, DefaultProviderQPS)
	v.SetDefault(KeyProviderBurst, DefaultProviderBurst)
	v.SetDefault(KeyMetricsAddr, DefaultMetricsAddr)
	v.SetDefault(KeyHealthAddr, DefaultHealthAddr)
}

// BindEnv binds every key to its prefixed environment variable and, where one
// exists, to its legacy name.
func BindEnv(v *viper.Viper, prefix string) error {
	keys := []string{
		KeyProject, KeyZone, KeyRecordName, KeyLabelSelector, KeyGeoLocation, KeyTTL,
		KeyCredentialsFile, KeyAdoptPlainRecord, KeyReconnectDelay, KeyWatchTimeout,
		KeyMaxAttempts, KeyRetryBaseDelay, KeyRetryMaxDelay, KeyProviderTimeout,
		KeyProviderQPS, KeyProviderBurst, KeyMetricsAddr, KeyHealthAddr,
	}

	for _, key := range keys {
		names := make([]string, 0, 2)
		if legacy, ok := LegacyEnv[key]; ok {
			names = append(names, legacy)
		}

		names = append(names, envName(prefix, key))

		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return errors.Wrapf(err, "failed to bind environment for %s", key)
		}
	}

	return nil
}

func envName(prefix, key string) string {
	name := strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	if prefix == "" {
		return name
	}

	return strings.ToUpper(prefix) + "_" + name
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	ttl, ttlErr := parseTTL(v.GetString(KeyTTL))

	cfg := &Config{
		Project:          strings.TrimSpace(v.GetString(KeyProject)),
		Zone:             strings.TrimSpace(v.GetString(KeyZone)),
		RecordName:       strings.TrimSpace(v.GetString(KeyRecordName)),
		LabelSelector:    strings.TrimSpace(v.GetString(KeyLabelSelector)),
		GeoLocation:      strings.TrimSpace(v.GetString(KeyGeoLocation)),
		TTL:              ttl,
		CredentialsFile:  v.GetString(KeyCredentialsFile),
		AdoptPlainRecord: v.GetBool(KeyAdoptPlainRecord),
		ReconnectDelay:   v.GetDuration(KeyReconnectDelay),
		WatchTimeout:     v.GetDuration(KeyWatchTimeout),
		MaxAttempts:      v.GetInt(KeyMaxAttempts),
		RetryBaseDelay:   v.GetDuration(KeyRetryBaseDelay),
		RetryMaxDelay:    v.GetDuration(KeyRetryMaxDelay),
		ProviderTimeout:  v.GetDuration(KeyProviderTimeout),
		ProviderQPS:      float32(v.GetFloat64(KeyProviderQPS)),
		ProviderBurst:    v.GetInt(KeyProviderBurst),
		MetricsAddr:      v.GetString(KeyMetricsAddr),
		HealthAddr:       v.GetString(KeyHealthAddr),
	}

	if cfg.RecordName != "" {
		cfg.RecordName = dns.Fqdn(cfg.RecordName)
	}

	if err := cfg.validate(ttlErr); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseTTL(raw string) (int64, error) {
	ttl, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, errors.Newf("TTL %q is not an integer", raw)
	}

	return ttl, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	return c.validate(nil)
}

// validate reports ttlErr, a failure to parse the TTL, together with every
// other problem. The TTL range is not checked when ttlErr is set.
//
//nolint:cyclop // one branch per field
func (c *Config) validate(ttlErr error) error {
	var errs []error

	if c.Project == "" {
		errs = append(errs, errors.New("project is required (GCP_PROJECT)"))
	}

	if c.Zone == "" {
		errs = append(errs, errors.New("zone is required (DNS_ZONE_NAME)"))
	}

	if c.RecordName == "" {
		errs = append(errs, errors.New("record name is required (DNS_RECORD_NAME)"))
	} else if _, ok := dns.IsDomainName(c.RecordName); !ok {
		errs = append(errs, errors.Newf("record name %q is not a valid domain name", c.RecordName))
	}

	if _, err := labels.Parse(c.LabelSelector); err != nil {
		errs = append(errs, errors.Wrapf(err, "label selector %q is invalid", c.LabelSelector))
	}

	if c.GeoLocation == "" {
		errs = append(errs, errors.New("geo location must not be empty"))
	}

	if ttlErr != nil {
		errs = append(errs, ttlErr)
	} else if c.TTL < MinTTL || c.TTL > MaxTTL {
		errs = append(errs, errors.Newf("TTL must be between %d and %d seconds, got %d", MinTTL, MaxTTL, c.TTL))
	}

	if c.ReconnectDelay <= 0 {
		errs = append(errs, errors.Newf("reconnect delay must be positive, got %s", c.ReconnectDelay))
	}

	// The API server takes the watch timeout in whole seconds.
	if c.WatchTimeout < time.Second {
		errs = append(errs, errors.Newf("watch timeout must be at least 1s, got %s", c.WatchTimeout))
	}

	if c.MaxAttempts < 1 {
		errs = append(errs, errors.Newf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}

	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}

	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.Newf("provider timeout must be positive, got %s", c.ProviderTimeout))
	}

	if c.ProviderQPS <= 0 || c.ProviderBurst < 1 {
		errs = append(errs, errors.Newf("provider rate limit must be positive, got qps=%v burst=%d",
			c.ProviderQPS, c.ProviderBurst))
	}

	if len(errs) == 0 {
		return nil
	}

	return errors.Mark(errors.Join(errs...), ErrInvalid)
}
