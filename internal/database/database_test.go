package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/pockettrainer/internal/models"
)

func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// stores runs the same test against both implementations.
func stores(t *testing.T) map[string]DB {
	t.Helper()
	sqlite, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"),
		WithClock(func() time.Time { return fixedNow }),
		WithBlobBaseURL("https://trainer.example/"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, sqlite.Close()) })

	return map[string]DB{
		"sqlite": sqlite,
		"memory": NewMemoryStore(
			WithClock(func() time.Time { return fixedNow }),
			WithBlobBaseURL("https://trainer.example/"),
		),
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	for name, db := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &models.MeasurementRecord{
				Picture:        ptr("front view"),
				Height:         ptr(70.5),
				Weight:         ptr(170.0),
				WorkoutRoutine: ptr("3x5 squats"),
			}
			require.NoError(t, db.Put(ctx, "u1", "2026-03-14", rec))

			got, found, err := db.Get(ctx, "u1", "2026-03-14")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 70.5, *got.Height)
			assert.Equal(t, 170.0, *got.Weight)
			assert.Equal(t, "front view", *got.Picture)
			assert.Equal(t, "3x5 squats", *got.WorkoutRoutine)
			assert.Nil(t, got.Chest)
			require.NotNil(t, got.Timestamp, "timestamp stamped on write")
			assert.True(t, fixedNow.Equal(*got.Timestamp))

			_, found, err = db.Get(ctx, "u1", "2026-03-15")
			require.NoError(t, err)
			assert.False(t, found)
			_, found, err = db.Get(ctx, "u2", "2026-03-14")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStore_MergeKeepsUnionOfFields(t *testing.T) {
	for name, db := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, db.Put(ctx, "u1", "2026-03-14", &models.MeasurementRecord{Height: ptr(70.0)}))
			require.NoError(t, db.Put(ctx, "u1", "2026-03-14", &models.MeasurementRecord{Waist: ptr(32.5)}))

			got, found, err := db.Get(ctx, "u1", "2026-03-14")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 70.0, *got.Height)
			assert.Equal(t, 32.5, *got.Waist)
		})
	}
}

func TestStore_LastWriteWinsPerField(t *testing.T) {
	for name, db := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, db.Put(ctx, "u1", "2026-03-14", &models.MeasurementRecord{Height: ptr(70.0), Weight: ptr(180.0)}))
			require.NoError(t, db.Put(ctx, "u1", "2026-03-14", &models.MeasurementRecord{Weight: ptr(178.2)}))

			got, _, err := db.Get(ctx, "u1", "2026-03-14")
			require.NoError(t, err)
			assert.Equal(t, 70.0, *got.Height)
			assert.Equal(t, 178.2, *got.Weight)
		})
	}
}

func TestStore_ListDates(t *testing.T) {
	for name, db := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, d := range []string{"2026-03-20", "2026-03-01", "2026-03-14"} {
				require.NoError(t, db.Put(ctx, "u1", d, &models.MeasurementRecord{Height: ptr(70.0)}))
			}
			require.NoError(t, db.Put(ctx, "u2", "2026-03-02", &models.MeasurementRecord{Height: ptr(60.0)}))

			dates, err := db.ListDates(ctx, "u1", "", "")
			require.NoError(t, err)
			assert.Equal(t, []string{"2026-03-01", "2026-03-14", "2026-03-20"}, dates)

			dates, err = db.ListDates(ctx, "u1", "2026-03-02", "2026-03-14")
			require.NoError(t, err)
			assert.Equal(t, []string{"2026-03-14"}, dates)

			_, err = db.ListDates(ctx, " ", "", "")
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestStore_RejectsInvalidKeys(t *testing.T) {
	for name, db := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &models.MeasurementRecord{Height: ptr(70.0)}
			assert.ErrorIs(t, db.Put(ctx, "u1", "2026-3-14", rec), ErrInvalidKey)
			assert.ErrorIs(t, db.Put(ctx, "u1", "2026-02-30", rec), ErrInvalidKey)
			assert.ErrorIs(t, db.Put(ctx, "", "2026-03-14", rec), ErrInvalidKey)
			_, _, err := db.Get(ctx, "u1", "today")
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestStore_Blobs(t *testing.T) {
	for name, db := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			url, err := db.Store(ctx, []byte{0xff, 0xd8, 0xff})
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(url, "https://trainer.example/blobs/"+BlobPrefix), url)
			assert.True(t, strings.HasSuffix(url, ".jpg"))

			key := strings.TrimPrefix(url, "https://trainer.example/blobs/")
			data, contentType, err := db.Load(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)
			assert.Equal(t, "image/jpeg", contentType)

			_, _, err = db.Load(ctx, BlobPrefix+"missing.jpg")
			assert.ErrorIs(t, err, ErrBlobNotFound)

			_, err = db.Store(ctx, nil)
			assert.Error(t, err)
		})
	}
}

func TestRecordPath(t *testing.T) {
	assert.Equal(t, "users/abc/progress/2026-03-14", RecordPath("abc", "2026-03-14"))
}

func TestStore_Profiles(t *testing.T) {
	for name, db := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, found, err := db.GetProfile(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, db.PutProfile(ctx, "u1", &models.Profile{WorkoutDays: 3, WeightGoal: "lose 10 lbs"}))
			require.NoError(t, db.PutProfile(ctx, "u1", &models.Profile{WorkoutDays: 4, WeightGoal: "lose 10 lbs"}))

			p, found, err := db.GetProfile(ctx, "u1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 4, p.WorkoutDays)
			assert.Equal(t, "lose 10 lbs", p.WeightGoal)
			assert.True(t, p.HasCompletedOnboarding)
			require.NotNil(t, p.Timestamp)
			assert.True(t, p.Timestamp.Equal(fixedNow))

			assert.Error(t, db.PutProfile(ctx, "u1", &models.Profile{WorkoutDays: 0, WeightGoal: "x"}))
			assert.Error(t, db.PutProfile(ctx, "u1", &models.Profile{WorkoutDays: 3}))
			assert.ErrorIs(t, db.PutProfile(ctx, "", &models.Profile{WorkoutDays: 3, WeightGoal: "x"}), ErrInvalidKey)
			_, _, err = db.GetProfile(ctx, " ")
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
	assert.Equal(t, "users/u1", ProfilePath("u1"))
}
