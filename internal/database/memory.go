package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/franckalain/pockettrainer/internal/models"
)

// MemoryStore keeps records, profiles and blobs in process. It merges exactly like SQLiteDB.
type MemoryStore struct {
	opts options

	mu       sync.RWMutex
	records  map[string]map[string]any // RecordPath -> field -> value
	dates    map[string]map[string]bool
	blobs    map[string][]byte
	profiles map[string]models.Profile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		opts:     o,
		records:  make(map[string]map[string]any),
		dates:    make(map[string]map[string]bool),
		blobs:    make(map[string][]byte),
		profiles: make(map[string]models.Profile),
	}
}

func (m *MemoryStore) Put(_ context.Context, userID, dateKey string, record *models.MeasurementRecord) error {
	if err := validateKey(userID, dateKey); err != nil {
		return err
	}
	if record == nil {
		return errors.New("nil record")
	}
	now := m.opts.now()
	stamped := *record
	stamped.Timestamp = &now

	path := RecordPath(userID, dateKey)
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.records[path]
	if !ok {
		doc = make(map[string]any)
		m.records[path] = doc
	}
	for field, value := range stamped.Fields() {
		doc[field] = value
	}
	if m.dates[userID] == nil {
		m.dates[userID] = make(map[string]bool)
	}
	m.dates[userID][dateKey] = true
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID, dateKey string) (*models.MeasurementRecord, bool, error) {
	if err := validateKey(userID, dateKey); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.records[RecordPath(userID, dateKey)]
	if !ok {
		return nil, false, nil
	}
	return models.RecordFromFields(doc), true, nil
}

func (m *MemoryStore) ListDates(_ context.Context, userID, from, to string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidKey)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var dates []string
	for d := range m.dates[userID] {
		if (from == "" || d >= from) && (to == "" || d <= to) {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

func (m *MemoryStore) Store(_ context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to store empty blob")
	}
	key := NewBlobKey()
	m.mu.Lock()
	m.blobs[key] = bytes.Clone(data)
	m.mu.Unlock()
	return BlobURL(m.opts.blobBaseURL, key), nil
}

func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, "", ErrBlobNotFound
	}
	return bytes.Clone(data), "image/jpeg", nil
}

func (m *MemoryStore) PutProfile(_ context.Context, userID string, profile *models.Profile) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidKey)
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	now := m.opts.now()
	stored := *profile
	stored.HasCompletedOnboarding = true
	stored.Timestamp = &now

	m.mu.Lock()
	m.profiles[userID] = stored
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetProfile(_ context.Context, userID string) (*models.Profile, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, false, fmt.Errorf("%w: empty user id", ErrInvalidKey)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (m *MemoryStore) Close() error { return nil }
