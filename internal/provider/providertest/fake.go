// Package providertest provides an in-memory provider.Client for tests.
package providertest

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/geo-dns-controller/internal/provider"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected provider failure")

// Fake is an in-memory DNS zone. Writes that fail never change stored state.
type Fake struct {
	mu      sync.Mutex
	records map[string]*provider.Record

	// GetErrors and WriteErrors are consumed one per call before the call is
	// served. A nil entry lets that call through.
	GetErrors   []error
	WriteErrors []error

	// OnGet runs after a successful read, before the result is returned.
	// Tests use it to simulate a concurrent writer.
	OnGet func(f *Fake)

	Gets    int
	Creates int
	Updates int
}

// NewFake returns an empty zone.
func NewFake() *Fake {
	return &Fake{records: make(map[string]*provider.Record)}
}

func key(name, recordType string) string {
	return name + "/" + recordType
}

// Seed stores record without counting it as a write.
func (f *Fake) Seed(record *provider.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.records[key(record.Name, record.Type)] = record.Clone()
}

// Delete removes a record without counting it as a write.
func (f *Fake) Delete(name, recordType string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.records, key(name, recordType))
}

// Record returns a copy of the stored record.
func (f *Fake) Record(name, recordType string) (*provider.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[key(name, recordType)]

	return record.Clone(), ok
}

// Calls returns the read and write counters.
func (f *Fake) Calls() (gets, creates, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Gets, f.Creates, f.Updates
}

// GetRecord implements provider.Client.
func (f *Fake) GetRecord(_ context.Context, name, recordType string) (*provider.Record, bool, error) {
	f.mu.Lock()

	f.Gets++

	if err := pop(&f.GetErrors); err != nil {
		f.mu.Unlock()

		return nil, false, err
	}

	record, ok := f.records[key(name, recordType)]
	record = record.Clone()
	hook := f.OnGet

	f.mu.Unlock()

	if hook != nil {
		hook(f)
	}

	return record, ok, nil
}

// CreateRecord implements provider.Client.
func (f *Fake) CreateRecord(_ context.Context, desired *provider.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Creates++

	if err := pop(&f.WriteErrors); err != nil {
		return err
	}

	k := key(desired.Name, desired.Type)
	if _, exists := f.records[k]; exists {
		return errors.Newf("record %s already exists", k)
	}

	f.records[k] = desired.Clone()

	return nil
}

// UpdateRecord implements provider.Client.
func (f *Fake) UpdateRecord(_ context.Context, name, recordType string, desired *provider.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Updates++

	if err := pop(&f.WriteErrors); err != nil {
		return err
	}

	k := key(name, recordType)
	if _, exists := f.records[k]; !exists {
		return errors.Newf("record %s does not exist", k)
	}

	f.records[k] = desired.Clone()

	return nil
}

func pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}

	err := (*queue)[0]
	*queue = (*queue)[1:]

	return err
}
