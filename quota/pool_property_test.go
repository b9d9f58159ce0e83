package quota

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"pgregory.net/rapid"

	"github.com/scribeflow/scribeflow/internal/database"
)

func newPropDB(t *rapid.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(database.AllModels()...))
	return db
}

// Commit in n steps must be observationally equal to one Commit of the
// sum, and the exhausted flag must flip exactly when used crosses the cap.
func TestCommitSplitEquivalence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		quotaSeconds := rapid.Float64Range(1, 10_000).Draw(t, "quota")
		chunks := rapid.SliceOfN(rapid.Float64Range(0.1, 500), 1, 20).Draw(t, "chunks")

		db := newPropDB(t)
		m := NewManager(db)
		ctx := context.Background()
		now := time.Now().UTC()

		start, end := computeWindowBounds(database.WindowDay, now)
		_, err := m.Refresh(ctx, "user-1", "deepgram", "file", database.WindowDay, quotaSeconds, start, end, true)
		require.NoError(t, err)

		var sum float64
		for _, c := range chunks {
			require.NoError(t, m.Commit(ctx, "user-1", "deepgram", "file", c))
			sum += c
		}

		entries, err := m.Query(ctx, "user-1", "deepgram", "file")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		e := entries[0]

		require.InDelta(t, sum, e.UsedSeconds, 1e-6)
		if e.UsedSeconds >= e.QuotaSeconds {
			require.Equal(t, database.QuotaExhausted, e.Status)
		} else {
			require.Equal(t, database.QuotaActive, e.Status)
		}
	})
}

// used_seconds never goes negative and exhaustion is monotone: once an
// entry is exhausted, further commits never flip it back to active.
func TestExhaustionMonotone(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		db := newPropDB(t)
		m := NewManager(db)
		ctx := context.Background()
		now := time.Now().UTC()

		start, end := computeWindowBounds(database.WindowMonth, now)
		_, err := m.Refresh(ctx, "user-1", "openai", "file_fast", database.WindowMonth, 60, start, end, true)
		require.NoError(t, err)

		sawExhausted := false
		n := rapid.IntRange(1, 15).Draw(t, "commits")
		for i := 0; i < n; i++ {
			require.NoError(t, m.Commit(ctx, "user-1", "openai", "file_fast", rapid.Float64Range(0.5, 30).Draw(t, "seconds")))

			entries, err := m.Query(ctx, "user-1", "openai", "file_fast")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			e := entries[0]

			require.GreaterOrEqual(t, e.UsedSeconds, 0.0)
			if sawExhausted {
				require.Equal(t, database.QuotaExhausted, e.Status)
			}
			if e.Status == database.QuotaExhausted {
				sawExhausted = true
			}
		}
	})
}
