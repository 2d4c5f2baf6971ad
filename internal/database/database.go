package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"github.com/franckalain/pockettrainer/internal/models"
)

//go:embed schema.sql
var schemaFS embed.FS

var (
	// ErrBlobNotFound is returned when a blob key has no stored bytes.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrInvalidKey is returned for an empty user id or a malformed date key.
	ErrInvalidKey = errors.New("invalid record key")
)

// BlobPrefix is the object key prefix of uploaded scan photos.
const BlobPrefix = "scanPhotos/"

// RecordStore persists one measurement record per user per calendar day.
type RecordStore interface {
	// Put merges the record's present fields into the stored day, last write wins per field
	Put(ctx context.Context, userID, dateKey string, record *models.MeasurementRecord) error
	// Get returns the stored day, or found=false when nothing was written
	Get(ctx context.Context, userID, dateKey string) (*models.MeasurementRecord, bool, error)
	// ListDates returns the days in [from, to] that have a record; empty bounds are open
	ListDates(ctx context.Context, userID, from, to string) ([]string, error)
}

// BlobStore keeps photo bytes and hands back a retrievable URL.
type BlobStore interface {
	Store(ctx context.Context, data []byte) (string, error)
	Load(ctx context.Context, key string) ([]byte, string, error)
}

// ProfileStore keeps each user's onboarding answers.
type ProfileStore interface {
	PutProfile(ctx context.Context, userID string, profile *models.Profile) error
	GetProfile(ctx context.Context, userID string) (*models.Profile, bool, error)
}

// DB interface defines the methods our database should implement
type DB interface {
	RecordStore
	BlobStore
	ProfileStore
	Close() error
}

// RecordPath is the document path of a day's record.
func RecordPath(userID, dateKey string) string {
	return fmt.Sprintf("users/%s/progress/%s", userID, dateKey)
}

// ProfilePath is the document path of a user's onboarding profile.
func ProfilePath(userID string) string {
	return "users/" + userID
}

// NewBlobKey returns a fresh object key for a JPEG photo.
func NewBlobKey() string {
	return BlobPrefix + uuid.New().String() + ".jpg"
}

// BlobURL joins the public base URL and a blob key.
func BlobURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/blobs/" + key
}

func validateKey(userID, dateKey string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidKey)
	}
	if err := models.ValidateDateKey(dateKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// Option configures a store.
type Option func(*options)

type options struct {
	now         func() time.Time
	blobBaseURL string
	log         zerolog.Logger
}

func defaultOptions() options {
	return options{
		now:         time.Now,
		blobBaseURL: "http://localhost:8080",
		log:         zerolog.Nop(),
	}
}

// WithClock replaces time.Now for write timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBlobBaseURL sets the public base URL blob URLs are built on.
func WithBlobBaseURL(baseURL string) Option {
	return func(o *options) { o.blobBaseURL = baseURL }
}

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// SQLiteDB implements the DB interface
type SQLiteDB struct {
	db   *sql.DB
	opts options
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string, opts ...Option) (*SQLiteDB, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, multierr.Combine(fmt.Errorf("error enabling foreign keys: %w", err), db.Close())
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, multierr.Combine(fmt.Errorf("error enabling WAL mode: %w", err), db.Close())
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, multierr.Combine(fmt.Errorf("error setting busy timeout: %w", err), db.Close())
	}

	// Initialize database schema
	if err := initializeSchema(db); err != nil {
		return nil, multierr.Combine(fmt.Errorf("error initializing schema: %w", err), db.Close())
	}
	o.log.Debug().Str("path", dbPath).Msg("Database schema initialized successfully")

	return &SQLiteDB{db: db, opts: o}, nil
}

func initializeSchema(db *sql.DB) error {
	// Read schema file
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	// Execute schema
	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	return nil
}

// Put merge-writes a record into (userID, dateKey)
func (s *SQLiteDB) Put(ctx context.Context, userID, dateKey string, record *models.MeasurementRecord) (err error) {
	if err := validateKey(userID, dateKey); err != nil {
		return err
	}
	if record == nil {
		return errors.New("nil record")
	}

	now := s.opts.now()
	stamped := *record
	stamped.Timestamp = &now
	fields := stamped.Fields()

	query := `
		INSERT INTO progress_fields (user_id, date_key, field, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date_key, field) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	updatedAt := now.UTC().Format(time.RFC3339Nano)
	for field, value := range fields {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("error encoding field %s: %w", field, err)
		}
		if _, err := tx.ExecContext(ctx, query, userID, dateKey, field, string(encoded), updatedAt); err != nil {
			return fmt.Errorf("error writing field %s: %w", field, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing %s: %w", RecordPath(userID, dateKey), err)
	}
	return nil
}

// Get retrieves the record stored for (userID, dateKey)
func (s *SQLiteDB) Get(ctx context.Context, userID, dateKey string) (*models.MeasurementRecord, bool, error) {
	if err := validateKey(userID, dateKey); err != nil {
		return nil, false, err
	}

	query := `
		SELECT field, value FROM progress_fields
		WHERE user_id = ? AND date_key = ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, dateKey)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	fields := make(map[string]any)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, false, err
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			s.opts.log.Warn().Err(err).Str("field", field).Str("path", RecordPath(userID, dateKey)).Msg("Skipping undecodable field")
			continue
		}
		fields[field] = decoded
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return models.RecordFromFields(fields), true, nil
}

// ListDates returns the date keys with stored fields for a user, oldest first
func (s *SQLiteDB) ListDates(ctx context.Context, userID, from, to string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidKey)
	}
	if from == "" {
		from = "0000-01-01"
	}
	if to == "" {
		to = "9999-12-31"
	}

	query := `
		SELECT DISTINCT date_key FROM progress_fields
		WHERE user_id = ? AND date_key BETWEEN ? AND ?
		ORDER BY date_key
	`

	rows, err := s.db.QueryContext(ctx, query, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var dateKey string
		if err := rows.Scan(&dateKey); err != nil {
			return nil, err
		}
		dates = append(dates, dateKey)
	}
	return dates, rows.Err()
}

// Store saves a JPEG photo and returns its public URL
func (s *SQLiteDB) Store(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to store empty blob")
	}
	key := NewBlobKey()
	query := `
		INSERT INTO blobs (key, content_type, data, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, key, "image/jpeg", data, s.opts.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("error storing blob: %w", err)
	}
	return BlobURL(s.opts.blobBaseURL, key), nil
}

// Load returns the bytes and content type stored under key
func (s *SQLiteDB) Load(ctx context.Context, key string) ([]byte, string, error) {
	var data []byte
	var contentType string
	err := s.db.QueryRowContext(ctx, `SELECT data, content_type FROM blobs WHERE key = ?`, key).Scan(&data, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrBlobNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

// PutProfile replaces the user's onboarding profile
func (s *SQLiteDB) PutProfile(ctx context.Context, userID string, profile *models.Profile) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidKey)
	}
	if err := profile.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO profiles (user_id, workout_days, weight_goal, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			workout_days = excluded.workout_days,
			weight_goal = excluded.weight_goal,
			updated_at = excluded.updated_at
	`
	updatedAt := s.opts.now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, query, userID, profile.WorkoutDays, profile.WeightGoal, updatedAt); err != nil {
		return fmt.Errorf("error writing %s: %w", ProfilePath(userID), err)
	}
	return nil
}

// GetProfile returns the user's onboarding profile
func (s *SQLiteDB) GetProfile(ctx context.Context, userID string) (*models.Profile, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, false, fmt.Errorf("%w: empty user id", ErrInvalidKey)
	}

	var p models.Profile
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT workout_days, weight_goal, updated_at FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.WorkoutDays, &p.WeightGoal, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	p.HasCompletedOnboarding = true
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		p.Timestamp = &ts
	}
	return &p, true, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
