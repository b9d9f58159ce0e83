// Package cost implements the cost tracker: every provider call emits a
// UsageRecord, dual-written to a Redis fast index (for hot aggregation)
// and a durable append-only log. The durable write is authoritative; the
// fast index is the cache. EstimateCurrentCost is the aggregate-spend
// read path for observability and reporting.
package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/internal/database"
)

// Money mirrors llmprovider.Money; kept as a separate alias so this package
// has no import-time dependency on llmprovider for a single float64 type.
type Money = float64

// Record is one provider-call cost event, the argument to Tracker.Record.
type Record struct {
	ServiceType     string
	Provider        string
	UserID          string
	TaskID          string
	RequestID       string
	AttemptIndex    int
	CostEstimate    Money
	Tokens          int
	DurationSeconds float64
	Timestamp       time.Time
}

// DurableLog is the append-only long-term store behind the fast index.
// The relational implementation below is the default; MongoLog is the
// alternate backend selected by configuration.
type DurableLog interface {
	// Append persists rec, deduplicating on (request_id, attempt_index).
	Append(ctx context.Context, rec Record) error
	// SumSince returns the accumulated cost estimate for provider from
	// `since` onward.
	SumSince(ctx context.Context, provider string, since time.Time) (Money, error)
}

// Tracker dual-writes cost records and answers aggregate-cost queries.
type Tracker struct {
	durable DurableLog
	redis   redis.Cmdable
	logger  *zap.Logger
	nowFn   func() time.Time

	fastIndexErrors int64
}

func NewTracker(db *gorm.DB, rdb redis.Cmdable, logger *zap.Logger) *Tracker {
	var durable DurableLog
	if db != nil {
		durable = &gormLog{db: db}
	}
	return NewTrackerWithLog(durable, rdb, logger)
}

// NewTrackerWithLog builds a Tracker over an explicit durable backend.
func NewTrackerWithLog(durable DurableLog, rdb redis.Cmdable, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{durable: durable, redis: rdb, logger: logger, nowFn: time.Now}
}

// FastIndexErrors returns the count of fast-index write failures observed so
// far, for exposing as the cost_fastindex_errors_total counter.
func (t *Tracker) FastIndexErrors() int64 { return t.fastIndexErrors }

// Record persists rec. It is idempotent on (request_id, attempt_index): a
// repeat call with the same pair is a no-op against the durable log.
// Fast-index failures are logged and counted but never fail the call;
// durable-log failures are logged at error level and also never fail the
// call — both paths are best-effort from the caller's view.
func (t *Tracker) Record(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.nowFn()
	}

	t.writeFastIndex(ctx, rec)

	if err := t.writeDurable(ctx, rec); err != nil {
		t.logger.Error("cost: durable log write failed",
			zap.String("service_type", rec.ServiceType),
			zap.String("provider", rec.Provider),
			zap.String("request_id", rec.RequestID),
			zap.Error(err))
	}
	return nil
}

func (t *Tracker) writeDurable(ctx context.Context, rec Record) error {
	if t.durable == nil {
		return nil
	}
	return t.durable.Append(ctx, rec)
}

// gormLog is the relational DurableLog over internal/database.UsageRecord.
type gormLog struct {
	db *gorm.DB
}

func (g *gormLog) Append(ctx context.Context, rec Record) error {
	existing := database.UsageRecord{}
	err := g.db.WithContext(ctx).
		Where("request_id = ? AND attempt_index = ?", rec.RequestID, rec.AttemptIndex).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("cost: check existing usage record: %w", err)
	}

	row := database.UsageRecord{
		Timestamp:       rec.Timestamp,
		ServiceType:     rec.ServiceType,
		Provider:        rec.Provider,
		UserID:          rec.UserID,
		TaskID:          rec.TaskID,
		RequestID:       rec.RequestID,
		AttemptIndex:    rec.AttemptIndex,
		CostEstimate:    rec.CostEstimate,
		Tokens:          rec.Tokens,
		DurationSeconds: rec.DurationSeconds,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("cost: insert usage record: %w", err)
	}
	return nil
}

func (g *gormLog) SumSince(ctx context.Context, provider string, since time.Time) (Money, error) {
	var total Money
	row := g.db.WithContext(ctx).Model(&database.UsageRecord{}).
		Where("provider = ? AND timestamp >= ?", provider, since).
		Select("COALESCE(SUM(cost_estimate), 0)").Row()
	if row == nil {
		return 0, nil
	}
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("cost: sum usage records: %w", err)
	}
	return total, nil
}

// writeFastIndex updates the sorted set and daily hash used for hot reads.
// Failures only increment the error counter and log; never returned.
func (t *Tracker) writeFastIndex(ctx context.Context, rec Record) {
	if t.redis == nil {
		return
	}
	zsetKey := fmt.Sprintf("cost:records:%s:%s", rec.ServiceType, rec.Provider)
	member := fmt.Sprintf("%s:%d", rec.RequestID, rec.AttemptIndex)
	if err := t.redis.ZAdd(ctx, zsetKey, redis.Z{
		Score:  float64(rec.Timestamp.Unix()),
		Member: member,
	}).Err(); err != nil {
		t.fastIndexErrors++
		t.logger.Warn("cost: fast-index zadd failed", zap.String("key", zsetKey), zap.Error(err))
		return
	}

	dailyKey := fmt.Sprintf("cost:daily:%s", rec.Timestamp.UTC().Format("20060102"))
	if err := t.redis.HIncrByFloat(ctx, dailyKey, rec.Provider, rec.CostEstimate).Err(); err != nil {
		t.fastIndexErrors++
		t.logger.Warn("cost: fast-index hincrby failed", zap.String("key", dailyKey), zap.Error(err))
	}
}

// EstimateCurrentCost returns today's accumulated cost for provider, read
// from the fast index (falling back to the durable log when Redis is
// unavailable or not configured).
func (t *Tracker) EstimateCurrentCost(ctx context.Context, provider string) (Money, error) {
	if t.redis != nil {
		dailyKey := fmt.Sprintf("cost:daily:%s", t.nowFn().UTC().Format("20060102"))
		v, err := t.redis.HGet(ctx, dailyKey, provider).Result()
		switch {
		case err == nil:
			var total Money
			if _, scanErr := fmt.Sscanf(v, "%g", &total); scanErr == nil {
				return total, nil
			}
		case err == redis.Nil:
			return 0, nil
		default:
			t.logger.Warn("cost: fast-index read failed, falling back to durable log",
				zap.String("provider", provider), zap.Error(err))
		}
	}
	return t.estimateFromDurable(ctx, provider)
}

func (t *Tracker) estimateFromDurable(ctx context.Context, provider string) (Money, error) {
	if t.durable == nil {
		return 0, nil
	}
	now := t.nowFn()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return t.durable.SumSince(ctx, provider, start)
}
