package quota

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/internal/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(database.AllModels()...))
	return db
}

func TestManager_CheckAvailable_NoEntriesAllowsByDefault(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	ok, err := m.CheckAvailable(context.Background(), "user-1", "openai", "file")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestManager_CommitAcrossDayAndMonthWindows(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	ctx := context.Background()
	now := time.Now().UTC()

	dayStart, dayEnd := computeWindowBounds(database.WindowDay, now)
	_, err := m.Refresh(ctx, "user-1", "openai", "file", database.WindowDay, 100, dayStart, dayEnd, true)
	require.NoError(t, err)
	monthStart, monthEnd := computeWindowBounds(database.WindowMonth, now)
	_, err = m.Refresh(ctx, "user-1", "openai", "file", database.WindowMonth, 1000, monthStart, monthEnd, true)
	require.NoError(t, err)

	require.NoError(t, m.Commit(ctx, "user-1", "openai", "file", 40))

	entries, err := m.Query(ctx, "user-1", "openai", "file")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, 40.0, e.UsedSeconds)
	}
}

func TestManager_CheckAvailable_FalseWhenAnyWindowExhausted(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	ctx := context.Background()
	now := time.Now().UTC()

	dayStart, dayEnd := computeWindowBounds(database.WindowDay, now)
	_, err := m.Refresh(ctx, "user-1", "openai", "file", database.WindowDay, 100, dayStart, dayEnd, true)
	require.NoError(t, err)
	monthStart, monthEnd := computeWindowBounds(database.WindowMonth, now)
	_, err = m.Refresh(ctx, "user-1", "openai", "file", database.WindowMonth, 50, monthStart, monthEnd, true)
	require.NoError(t, err)

	require.NoError(t, m.Commit(ctx, "user-1", "openai", "file", 50))

	ok, err := m.CheckAvailable(ctx, "user-1", "openai", "file")
	require.NoError(t, err)
	require.False(t, ok, "month window is exhausted so the conjunctive check must fail even though day still has headroom")
}

func TestManager_QueryEffective_PerUserShadowsGlobalPerWindow(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	ctx := context.Background()
	now := time.Now().UTC()
	dayStart, dayEnd := computeWindowBounds(database.WindowDay, now)

	_, err := m.Refresh(ctx, database.GlobalOwner, "openai", "file", database.WindowDay, 10000, dayStart, dayEnd, true)
	require.NoError(t, err)
	_, err = m.Refresh(ctx, database.GlobalOwner, "openai", "file", database.WindowTotal, 999999, time.Time{}, time.Time{}, true)
	require.NoError(t, err)
	_, err = m.Refresh(ctx, "user-1", "openai", "file", database.WindowDay, 100, dayStart, dayEnd, true)
	require.NoError(t, err)

	entries, err := m.QueryEffective(ctx, "user-1", "openai", "file")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byWindow := map[database.QuotaWindowType]database.QuotaEntry{}
	for _, e := range entries {
		byWindow[e.WindowType] = e
	}
	require.Equal(t, "user-1", byWindow[database.WindowDay].Owner, "per-user day entry should shadow global")
	require.Equal(t, database.GlobalOwner, byWindow[database.WindowTotal].Owner, "total window only present globally still applies")
}

func TestManager_Commit_IncrementsEffectiveSetAcrossLayers(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	ctx := context.Background()
	now := time.Now().UTC()
	dayStart, dayEnd := computeWindowBounds(database.WindowDay, now)

	// owner shadows only the day window; global carries day + total
	_, err := m.Refresh(ctx, database.GlobalOwner, "openai", "file", database.WindowDay, 10000, dayStart, dayEnd, true)
	require.NoError(t, err)
	_, err = m.Refresh(ctx, database.GlobalOwner, "openai", "file", database.WindowTotal, 150, time.Time{}, time.Time{}, true)
	require.NoError(t, err)
	_, err = m.Refresh(ctx, "user-1", "openai", "file", database.WindowDay, 100, dayStart, dayEnd, true)
	require.NoError(t, err)

	require.NoError(t, m.Commit(ctx, "user-1", "openai", "file", 60))

	byOwnerWindow := func(owner string, w database.QuotaWindowType) database.QuotaEntry {
		var e database.QuotaEntry
		require.NoError(t, db.Where("owner = ? AND provider = ? AND variant = ? AND window_type = ?",
			owner, "openai", "file", w).First(&e).Error)
		return e
	}

	require.Equal(t, 60.0, byOwnerWindow("user-1", database.WindowDay).UsedSeconds,
		"owner's own day entry takes the commit")
	require.Equal(t, 0.0, byOwnerWindow(database.GlobalOwner, database.WindowDay).UsedSeconds,
		"global day entry is shadowed by the owner's and must stay untouched")
	require.Equal(t, 60.0, byOwnerWindow(database.GlobalOwner, database.WindowTotal).UsedSeconds,
		"global total entry is effective for this owner and must accumulate")

	// two more commits cross the global total cap (180 >= 150)
	require.NoError(t, m.Commit(ctx, "user-1", "openai", "file", 60))
	require.NoError(t, m.Commit(ctx, "user-1", "openai", "file", 60))
	require.Equal(t, database.QuotaExhausted, byOwnerWindow(database.GlobalOwner, database.WindowTotal).Status)

	ok, err := m.CheckAvailable(ctx, "user-1", "openai", "file")
	require.NoError(t, err)
	require.False(t, ok, "exhausted global total must gate availability for the owner")
}

func TestManager_RollIfNeeded_ResetsUsedAfterWindowEnd(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	ctx := context.Background()
	past := time.Now().UTC().Add(-48 * time.Hour)
	staleStart, staleEnd := computeWindowBounds(database.WindowDay, past)

	entry, err := m.Refresh(ctx, "user-1", "openai", "file", database.WindowDay, 100, staleStart, staleEnd, true)
	require.NoError(t, err)
	require.NoError(t, db.Model(&database.QuotaEntry{}).Where("id = ?", entry.ID).Update("used_seconds", 100).Error)

	entries, err := m.Query(ctx, "user-1", "openai", "file")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 0.0, entries[0].UsedSeconds, "window rollover must zero used_seconds once now has passed window_end")
}

func TestManager_Reserve_FailsWhenExhausted(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)
	ctx := context.Background()
	now := time.Now().UTC()
	dayStart, dayEnd := computeWindowBounds(database.WindowDay, now)

	_, err := m.Refresh(ctx, "user-1", "openai", "file", database.WindowDay, 10, dayStart, dayEnd, true)
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, "user-1", "openai", "file", 10))

	_, err = m.Reserve(ctx, "user-1", "openai", "file", 1)
	require.ErrorIs(t, err, ErrExhausted)
}
