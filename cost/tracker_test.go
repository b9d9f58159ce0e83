package cost

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/internal/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(database.AllModels()...))
	return db
}

func newTestTracker(t *testing.T) (*Tracker, *gorm.DB, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	db := newTestDB(t)
	return NewTracker(db, rdb, zap.NewNop()), db, mr
}

func TestTrackerRecordWritesDurableLog(t *testing.T) {
	tr, db, mr := newTestTracker(t)
	defer mr.Close()
	ctx := context.Background()

	err := tr.Record(ctx, Record{
		ServiceType: "asr", Provider: "openai", UserID: "user-1", TaskID: "task-1",
		RequestID: "req-1", AttemptIndex: 0, CostEstimate: 1.5, Tokens: 100,
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&database.UsageRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestTrackerRecordIdempotentOnRequestAndAttempt(t *testing.T) {
	tr, db, mr := newTestTracker(t)
	defer mr.Close()
	ctx := context.Background()

	rec := Record{ServiceType: "llm", Provider: "claude", RequestID: "req-2", AttemptIndex: 1, CostEstimate: 2.0}
	require.NoError(t, tr.Record(ctx, rec))
	require.NoError(t, tr.Record(ctx, rec))

	var count int64
	require.NoError(t, db.Model(&database.UsageRecord{}).
		Where("request_id = ? AND attempt_index = ?", "req-2", 1).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestTrackerEstimateCurrentCostReadsFastIndex(t *testing.T) {
	tr, _, mr := newTestTracker(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, Record{ServiceType: "asr", Provider: "deepgram", RequestID: "r1", CostEstimate: 3.0}))
	require.NoError(t, tr.Record(ctx, Record{ServiceType: "asr", Provider: "deepgram", RequestID: "r2", CostEstimate: 4.0}))

	total, err := tr.EstimateCurrentCost(ctx, "deepgram")
	require.NoError(t, err)
	assert.InDelta(t, 7.0, total, 0.0001)
}

func TestTrackerEstimateCurrentCostFallsBackToDurableLog(t *testing.T) {
	tr, _, mr := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Record(ctx, Record{ServiceType: "asr", Provider: "openai", RequestID: "r3", CostEstimate: 5.0}))

	mr.Close()
	total, err := tr.EstimateCurrentCost(ctx, "openai")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, total, 0.0001)
}

func TestTrackerFastIndexErrorsCountedOnFailure(t *testing.T) {
	tr, _, mr := newTestTracker(t)
	ctx := context.Background()
	mr.Close()

	require.NoError(t, tr.Record(ctx, Record{ServiceType: "asr", Provider: "openai", RequestID: "r4", CostEstimate: 1.0}))
	assert.Greater(t, tr.FastIndexErrors(), int64(0))
}
