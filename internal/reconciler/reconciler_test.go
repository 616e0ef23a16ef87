package reconciler_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexfrei/geo-dns-controller/internal/config"
	"github.com/lexfrei/geo-dns-controller/internal/geo"
	"github.com/lexfrei/geo-dns-controller/internal/metrics"
	"github.com/lexfrei/geo-dns-controller/internal/provider"
	"github.com/lexfrei/geo-dns-controller/internal/provider/providertest"
	"github.com/lexfrei/geo-dns-controller/internal/reconciler"
)

const recordName = "app.example.com."

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)

	return ctx.Err()
}

func testConfig(location string) *config.Config {
	return &config.Config{
		Project:          "my-project",
		Zone:             "example-zone",
		RecordName:       recordName,
		LabelSelector:    "watch=true",
		GeoLocation:      location,
		TTL:              300,
		AdoptPlainRecord: true,
		MaxAttempts:      3,
		RetryBaseDelay:   time.Second,
		RetryMaxDelay:    10 * time.Second,
	}
}

func newReconciler(cfg *config.Config, fake *providertest.Fake) (*reconciler.Reconciler, *sleepRecorder) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := reconciler.New(cfg, fake, metrics.NewNoopCollector(), logger)

	sleeper := &sleepRecorder{}
	rec.Sleep = sleeper.sleep

	return rec, sleeper
}

func geoRecord(items ...geo.Item) *provider.Record {
	return &provider.Record{
		Name:     recordName,
		Type:     provider.RecordTypeA,
		TTL:      300,
		GeoItems: items,
	}
}

func TestReconcile_CreatesRecord(t *testing.T) {
	t.Parallel()

	fake := providertest.NewFake()
	rec, sleeper := newReconciler(testConfig("eu"), fake)

	require.NoError(t, rec.Reconcile(context.Background(), "203.0.113.10"))

	got, ok := fake.Record(recordName, provider.RecordTypeA)
	require.True(t, ok)
	assert.Equal(t, recordName, got.Name)
	assert.Equal(t, provider.RecordTypeA, got.Type)
	assert.Equal(t, int64(300), got.TTL)
	assert.Equal(t, []geo.Item{{Location: "eu", Addresses: []string{"203.0.113.10"}}}, got.GeoItems)

	gets, creates, updates := fake.Calls()
	assert.Equal(t, 1, gets)
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, updates)
	assert.Empty(t, sleeper.delays)
}

func TestReconcile_UpdatePreservesOtherLocations(t *testing.T) {
	t.Parallel()

	fake := providertest.NewFake()
	fake.Seed(geoRecord(geo.Item{Location: "us", Addresses: []string{"198.51.100.1"}}))

	rec, _ := newReconciler(testConfig("eu"), fake)

	require.NoError(t, rec.Reconcile(context.Background(), "203.0.113.20"))

	got, ok := fake.Record(recordName, provider.RecordTypeA)
	require.True(t, ok)
	assert.True(t, geo.Equal([]geo.Item{
		{Location: "us", Addresses: []string{"198.51.100.1"}},
		{Location: "eu", Addresses: []string{"203.0.113.20"}},
	}, got.GeoItems), "got %s", geo.Describe(got.GeoItems))

	_, creates, updates := fake.Calls()
	assert.Equal(t, 0, creates)
	assert.Equal(t, 1, updates)
}

func TestReconcile_ReplacesOwnLocation(t *testing.T) {
	t.Parallel()

	fake := providertest.NewFake()
	fake.Seed(geoRecord(
		geo.Item{Location: "us", Addresses: []string{"198.51.100.1"}},
		geo.Item{Location: "eu", Addresses: []string{"203.0.113.1"}},
		geo.Item{Location: "eu", Addresses: []string{"203.0.113.2"}},
	))

	rec, _ := newReconciler(testConfig("eu"), fake)

	require.NoError(t, rec.Reconcile(context.Background(), "203.0.113.30"))

	got, _ := fake.Record(recordName, provider.RecordTypeA)
	assert.True(t, geo.Equal([]geo.Item{
		{Location: "us", Addresses: []string{"198.51.100.1"}},
		{Location: "eu", Addresses: []string{"203.0.113.30"}},
	}, got.GeoItems), "got %s", geo.Describe(got.GeoItems))
}

func TestReconcile_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		getErrors   []error
		writeErrors []error
		wantGets    int
		wantDelays  []time.Duration
	}{
		{
			name:       "read failures",
			getErrors:  []error{providertest.ErrInjected, providertest.ErrInjected},
			wantGets:   3,
			wantDelays: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:        "write failures",
			writeErrors: []error{providertest.ErrInjected, providertest.ErrInjected},
			wantGets:    3,
			wantDelays:  []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:        "one of each",
			getErrors:   []error{providertest.ErrInjected},
			writeErrors: []error{providertest.ErrInjected},
			wantGets:    3,
			wantDelays:  []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:       "single failure",
			getErrors:  []error{providertest.ErrInjected},
			wantGets:   2,
			wantDelays: []time.Duration{time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := providertest.NewFake()
			fake.GetErrors = tt.getErrors
			fake.WriteErrors = tt.writeErrors

			rec, sleeper := newReconciler(testConfig("eu"), fake)

			require.NoError(t, rec.Reconcile(context.Background(), "203.0.113.10"))

			got, ok := fake.Record(recordName, provider.RecordTypeA)
			require.True(t, ok)
			assert.Equal(t, []geo.Item{{Location: "eu", Addresses: []string{"203.0.113.10"}}}, got.GeoItems)

			gets, _, _ := fake.Calls()
			assert.Equal(t, tt.wantGets, gets)
			assert.Equal(t, tt.wantDelays, sleeper.delays)
		})
	}
}

func TestReconcile_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	seeded := geoRecord(geo.Item{Location: "us", Addresses: []string{"198.51.100.1"}})

	fake := providertest.NewFake()
	fake.Seed(seeded)
	fake.WriteErrors = []error{providertest.ErrInjected, providertest.ErrInjected, providertest.ErrInjected}

	rec, sleeper := newReconciler(testConfig("eu"), fake)

	err := rec.Reconcile(context.Background(), "203.0.113.10")
	require.Error(t, err)
	require.True(t, errors.Is(err, reconciler.ErrRetriesExhausted))
	require.ErrorIs(t, err, providertest.ErrInjected)

	gets, creates, updates := fake.Calls()
	assert.Equal(t, 3, gets)
	assert.Equal(t, 0, creates)
	assert.Equal(t, 3, updates)
	assert.Len(t, sleeper.delays, 2)

	got, _ := fake.Record(recordName, provider.RecordTypeA)
	assert.Equal(t, seeded.GeoItems, got.GeoItems)
}

func TestReconcile_MaxAttemptsBudget(t *testing.T) {
	t.Parallel()

	for _, maxAttempts := range []int{1, 2, 5} {
		cfg := testConfig("eu")
		cfg.MaxAttempts = maxAttempts

		fake := providertest.NewFake()
		for range maxAttempts {
			fake.GetErrors = append(fake.GetErrors, providertest.ErrInjected)
		}

		rec, sleeper := newReconciler(cfg, fake)

		err := rec.Reconcile(context.Background(), "203.0.113.10")
		require.True(t, errors.Is(err, reconciler.ErrRetriesExhausted))

		gets, creates, updates := fake.Calls()
		assert.Equal(t, maxAttempts, gets)
		assert.Zero(t, creates+updates)
		assert.Len(t, sleeper.delays, maxAttempts-1)

		_, ok := fake.Record(recordName, provider.RecordTypeA)
		assert.False(t, ok)
	}
}

func TestReconcile_PermanentErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	fake := providertest.NewFake()
	fake.GetErrors = []error{provider.Permanent(errors.New("forbidden"))}

	rec, sleeper := newReconciler(testConfig("eu"), fake)

	err := rec.Reconcile(context.Background(), "203.0.113.10")
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
	assert.False(t, errors.Is(err, reconciler.ErrRetriesExhausted))

	gets, creates, updates := fake.Calls()
	assert.Equal(t, 1, gets)
	assert.Zero(t, creates+updates)
	assert.Empty(t, sleeper.delays)
}

func TestReconcile_CreateRaceRefetches(t *testing.T) {
	t.Parallel()

	fake := providertest.NewFake()

	first := true
	fake.OnGet = func(f *providertest.Fake) {
		if !first {
			return
		}

		first = false

		f.Seed(geoRecord(geo.Item{Location: "us", Addresses: []string{"198.51.100.1"}}))
	}

	rec, sleeper := newReconciler(testConfig("eu"), fake)

	require.NoError(t, rec.Reconcile(context.Background(), "203.0.113.10"))

	got, _ := fake.Record(recordName, provider.RecordTypeA)
	assert.True(t, geo.Equal([]geo.Item{
		{Location: "us", Addresses: []string{"198.51.100.1"}},
		{Location: "eu", Addresses: []string{"203.0.113.10"}},
	}, got.GeoItems), "got %s", geo.Describe(got.GeoItems))

	gets, creates, updates := fake.Calls()
	assert.Equal(t, 2, gets)
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)
	assert.Len(t, sleeper.delays, 1)
}

func TestReconcile_DeletedBeforeUpdateIsRecreated(t *testing.T) {
	t.Parallel()

	fake := providertest.NewFake()
	fake.Seed(geoRecord(geo.Item{Location: "us", Addresses: []string{"198.51.100.1"}}))

	first := true
	fake.OnGet = func(f *providertest.Fake) {
		if !first {
			return
		}

		first = false

		f.Delete(recordName, provider.RecordTypeA)
	}

	rec, sleeper := newReconciler(testConfig("eu"), fake)

	require.NoError(t, rec.Reconcile(context.Background(), "203.0.113.10"))

	got, ok := fake.Record(recordName, provider.RecordTypeA)
	require.True(t, ok)
	assert.Equal(t, []geo.Item{{Location: "eu", Addresses: []string{"203.0.113.10"}}}, got.GeoItems)

	gets, creates, updates := fake.Calls()
	assert.Equal(t, 2, gets)
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)
	assert.Len(t, sleeper.delays, 1)
}

func TestReconcile_RetryPicksUpConcurrentWriter(t *testing.T) {
	t.Parallel()

	fake := providertest.NewFake()
	fake.Seed(geoRecord(geo.Item{Location: "us", Addresses: []string{"198.51.100.1"}}))
	fake.WriteErrors = []error{providertest.ErrInjected}

	first := true
	fake.OnGet = func(f *providertest.Fake) {
		if !first {
			return
		}

		first = false

		f.Seed(geoRecord(
			geo.Item{Location: "us", Addresses: []string{"198.51.100.1"}},
			geo.Item{Location: "asia", Addresses: []string{"192.0.2.7"}},
		))
	}

	rec, _ := newReconciler(testConfig("eu"), fake)

	require.NoError(t, rec.Reconcile(context.Background(), "203.0.113.10"))

	got, _ := fake.Record(recordName, provider.RecordTypeA)
	assert.Equal(t, []string{"asia", "eu", "us"}, geo.Locations(got.GeoItems))
}

func TestReconcile_PlainRecord(t *testing.T) {
	t.Parallel()

	plain := &provider.Record{Name: recordName, Type: provider.RecordTypeA, TTL: 60, Plain: true}

	t.Run("adopted", func(t *testing.T) {
		t.Parallel()

		fake := providertest.NewFake()
		fake.Seed(plain)

		rec, _ := newReconciler(testConfig("eu"), fake)

		require.NoError(t, rec.Reconcile(context.Background(), "203.0.113.10"))

		got, _ := fake.Record(recordName, provider.RecordTypeA)
		assert.False(t, got.Plain)
		assert.Equal(t, int64(300), got.TTL)
		assert.Equal(t, []geo.Item{{Location: "eu", Addresses: []string{"203.0.113.10"}}}, got.GeoItems)
	})

	t.Run("refused", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig("eu")
		cfg.AdoptPlainRecord = false

		fake := providertest.NewFake()
		fake.Seed(plain)

		rec, sleeper := newReconciler(cfg, fake)

		err := rec.Reconcile(context.Background(), "203.0.113.10")
		require.ErrorIs(t, err, reconciler.ErrPlainRecord)

		gets, creates, updates := fake.Calls()
		assert.Equal(t, 1, gets)
		assert.Zero(t, creates+updates)
		assert.Empty(t, sleeper.delays)

		got, _ := fake.Record(recordName, provider.RecordTypeA)
		assert.True(t, got.Plain)
	})
}

func TestReconcile_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	fake := providertest.NewFake()
	fake.GetErrors = []error{providertest.ErrInjected, providertest.ErrInjected}

	rec, _ := newReconciler(testConfig("eu"), fake)

	ctx, cancel := context.WithCancel(context.Background())

	rec.Sleep = func(_ context.Context, _ time.Duration) error {
		cancel()

		return ctx.Err()
	}

	err := rec.Reconcile(ctx, "203.0.113.10")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, reconciler.ErrRetriesExhausted))

	gets, _, _ := fake.Calls()
	assert.Equal(t, 1, gets)
}

func TestReconcile_EmptyAddress(t *testing.T) {
	t.Parallel()

	fake := providertest.NewFake()
	rec, _ := newReconciler(testConfig("eu"), fake)

	require.ErrorIs(t, rec.Reconcile(context.Background(), ""), reconciler.ErrEmptyAddress)

	gets, _, _ := fake.Calls()
	assert.Zero(t, gets)
}

func TestDesired(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name       string
		current    *provider.Record
		found      bool
		adopt      bool
		wantItems  []geo.Item
		wantExists bool
		wantErr    error
	}

	tests := []testCase{
		{
			name:       "no record",
			wantItems:  []geo.Item{{Location: "eu", Addresses: []string{"203.0.113.10"}}},
			wantExists: false,
		},
		{
			name:    "geo record",
			current: geoRecord(geo.Item{Location: "us", Addresses: []string{"198.51.100.1"}}),
			found:   true,
			wantItems: []geo.Item{
				{Location: "us", Addresses: []string{"198.51.100.1"}},
				{Location: "eu", Addresses: []string{"203.0.113.10"}},
			},
			wantExists: true,
		},
		{
			name:       "plain record adopted",
			current:    &provider.Record{Name: recordName, Type: provider.RecordTypeA, Plain: true},
			found:      true,
			adopt:      true,
			wantItems:  []geo.Item{{Location: "eu", Addresses: []string{"203.0.113.10"}}},
			wantExists: true,
		},
		{
			name:    "plain record refused",
			current: &provider.Record{Name: recordName, Type: provider.RecordTypeA, Plain: true},
			found:   true,
			wantErr: reconciler.ErrPlainRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig("eu")
			cfg.AdoptPlainRecord = tt.adopt

			desired, err := reconciler.Desired(cfg, tt.current, tt.found, "203.0.113.10")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantExists, desired.Exists)
			assert.Equal(t, recordName, desired.Record.Name)
			assert.Equal(t, provider.RecordTypeA, desired.Record.Type)
			assert.Equal(t, int64(300), desired.Record.TTL)
			assert.Equal(t, tt.wantItems, desired.Record.GeoItems)
		})
	}
}

func TestDesired_CarriesObservedRecord(t *testing.T) {
	t.Parallel()

	observed := &struct{ etag string }{etag: "v1"}

	current := geoRecord(geo.Item{Location: "us", Addresses: []string{"198.51.100.1"}})
	current.Observed = observed

	desired, err := reconciler.Desired(testConfig("eu"), current, true, "203.0.113.10")
	require.NoError(t, err)
	assert.Same(t, observed, desired.Record.Observed)

	created, err := reconciler.Desired(testConfig("eu"), nil, false, "203.0.113.10")
	require.NoError(t, err)
	assert.Nil(t, created.Record.Observed)
}

func TestNew_PolicyFromConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig("eu")
	cfg.MaxAttempts = 5
	cfg.RetryBaseDelay = 2 * time.Second
	cfg.RetryMaxDelay = 5 * time.Second

	rec := reconciler.New(cfg, providertest.NewFake(), nil, nil)

	assert.Equal(t, 5, rec.Policy.MaxAttempts)
	assert.Equal(t, 2*time.Second, rec.Policy.Delay(0))
	assert.Equal(t, 4*time.Second, rec.Policy.Delay(1))
	assert.Equal(t, 5*time.Second, rec.Policy.Delay(2))
}

func TestReconcile_LogsUnchangedLocation(t *testing.T) {
	t.Parallel()

	fake := providertest.NewFake()
	fake.Seed(geoRecord(
		geo.Item{Location: "us", Addresses: []string{"198.51.100.1"}},
		geo.Item{Location: "eu", Addresses: []string{"203.0.113.10"}},
	))

	var logs bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rec := reconciler.New(testConfig("eu"), fake, metrics.NewNoopCollector(), logger)

	require.NoError(t, rec.Reconcile(context.Background(), "203.0.113.10"))

	output := logs.String()
	assert.Contains(t, output, "location already routed")
	assert.Contains(t, output, "previous=\"eu=[203.0.113.10]\"")
	assert.Contains(t, output, "locations=\"[eu us]\"")
	assert.Contains(t, output, "geo items unchanged, rewriting record")

	_, _, updates := fake.Calls()
	assert.Equal(t, 1, updates)
}
