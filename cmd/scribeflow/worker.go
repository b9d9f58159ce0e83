// =============================================================================
// 🛠️ worker 命令 — 流水线执行进程
// =============================================================================
// 从数据库队列轮询待处理任务与可视化作业，按配置的并发度驱动
// pipeline.Orchestrator；进度经 Redis 转发给 API 进程的订阅者。
// =============================================================================
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/broadcast"
	"github.com/scribeflow/scribeflow/config"
	"github.com/scribeflow/scribeflow/cost"
	"github.com/scribeflow/scribeflow/health"
	"github.com/scribeflow/scribeflow/internal/cache"
	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/pipeline"
	"github.com/scribeflow/scribeflow/quota"
	"github.com/scribeflow/scribeflow/registry"
	"github.com/scribeflow/scribeflow/resilience"
	"github.com/scribeflow/scribeflow/selector"
	"github.com/scribeflow/scribeflow/storage"
	"github.com/scribeflow/scribeflow/summary"
	"github.com/scribeflow/scribeflow/transcript"
)

func runWorker(args []string) {
	cfg, _ := loadConfig("worker", args)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting ScribeFlow worker",
		zap.String("version", Version),
		zap.Int("concurrency", cfg.Queue.WorkerConcurrency),
	)

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Database not available", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Error("Database auto-migrate failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := newWorker(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatal("Failed to build worker", zap.Error(err))
	}
	defer w.Close()

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("Worker stopped with error", zap.Error(err))
	}
	logger.Info("ScribeFlow worker stopped")
}

// worker bundles the pipeline collaborators of one worker process.
type worker struct {
	cfg    *config.Config
	db     *gorm.DB
	logger *zap.Logger

	cache        *cache.Manager
	mongoClient  *mongo.Client
	orchestrator *pipeline.Orchestrator
}

func newWorker(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*worker, error) {
	w := &worker{cfg: cfg, db: db, logger: logger}

	reg := registry.New()
	registerProviders(reg, cfg, logger)

	cacheManager, err := cache.NewManager(cache.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, logger)
	if err != nil {
		logger.Warn("Redis not available, cost fast index and cross-process progress disabled", zap.Error(err))
	} else {
		w.cache = cacheManager
	}

	tracker, err := w.buildCostTracker(ctx)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewRegistry(resilience.DefaultBreakerConfig(), logger)
	monitor := health.NewMonitor(logger)
	quotas := quota.NewManager(db)
	sel := selector.New(reg, monitor, breakers, quotas, tracker, logger)

	hub := broadcast.NewHub()
	var publisher pipeline.ProgressPublisher = hub
	if w.cache != nil {
		publisher = broadcast.NewRedisRelay(w.cache.Client(), hub, logger)
	}

	sourceStorage, err := resolveSourceStorage(reg, cfg.Providers)
	if err != nil {
		return nil, err
	}

	var promptCache summary.PromptCache
	if w.cache != nil {
		promptCache = summary.NewRedisPromptCache(w.cache.Client())
	}
	generator := summary.New(summary.Deps{
		DB:       db,
		Selector: sel,
		Registry: reg,
		Breakers: breakers,
		Cost:     tracker,
		Storage:  &storageResolver{sel: sel, reg: reg},
		Cache:    promptCache,
		Logger:   logger,
	})

	deadlines := map[database.StageType]time.Duration{}
	if cfg.Queue.StageDeadline > 0 {
		for _, st := range database.CanonicalStageOrder {
			deadlines[st] = cfg.Queue.StageDeadline
		}
	}

	w.orchestrator = pipeline.New(pipeline.Deps{
		DB:       db,
		Stage:    pipeline.NewStageMachine(db),
		Selector: sel,
		Quota:    quotas,
		Cost:     tracker,
		Registry: reg,
		Breakers: breakers,

		SourceStorage: sourceStorage,

		Transcript: transcript.New(),
		Summary:    generator,
		Publisher:  publisher,

		IsCancelled: func(ctx context.Context, taskID string) (bool, error) {
			var task database.Task
			err := db.WithContext(ctx).Unscoped().Select("deleted_at").First(&task, "id = ?", taskID).Error
			if err != nil {
				return false, err
			}
			return task.DeletedAt.Valid, nil
		},

		MaxDownloadBytes: cfg.Queue.MaxDownloadBytes,
		StageDeadlines:   orNil(deadlines),
		Logger:           logger,
	})
	return w, nil
}

// buildCostTracker picks the durable usage-log backend per config.
func (w *worker) buildCostTracker(ctx context.Context) (*cost.Tracker, error) {
	var rdb redis.Cmdable
	if w.cache != nil {
		rdb = w.cache.Client()
	}

	if w.cfg.CostLog.Driver == "mongo" {
		client, err := mongo.Connect(mongooptions.Client().ApplyURI(w.cfg.CostLog.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo cost log: %w", err)
		}
		w.mongoClient = client
		log, err := cost.NewMongoLog(ctx, client.Database(w.cfg.CostLog.MongoDatabase), w.cfg.CostLog.MongoCollection)
		if err != nil {
			return nil, err
		}
		return cost.NewTrackerWithLog(log, rdb, w.logger), nil
	}
	return cost.NewTracker(w.db, rdb, w.logger), nil
}

// Run polls the database queue and fans tasks out to the orchestrator
// until ctx is cancelled.
func (w *worker) Run(ctx context.Context) error {
	taskIDs := make(chan string)

	go func() {
		defer close(taskIDs)
		ticker := time.NewTicker(w.cfg.Queue.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.pollTasks(ctx, taskIDs)
				w.pollVisualizationJobs(ctx)
			}
		}
	}()

	return w.orchestrator.RunWorkerPool(ctx, taskIDs, w.cfg.Queue.WorkerConcurrency)
}

// pollTasks claims pending tasks and enqueues them. The claim is an atomic
// conditional update so concurrent worker processes never double-run a
// task.
func (w *worker) pollTasks(ctx context.Context, out chan<- string) {
	var ids []string
	err := w.db.WithContext(ctx).Model(&database.Task{}).
		Where("status = ?", database.TaskPending).
		Order("created_at asc").
		Limit(w.cfg.Queue.WorkerConcurrency * 2).
		Pluck("id", &ids).Error
	if err != nil {
		w.logger.Error("queue poll failed", zap.Error(err))
		return
	}

	for _, id := range ids {
		res := w.db.WithContext(ctx).Model(&database.Task{}).
			Where("id = ? AND status = ?", id, database.TaskPending).
			Update("status", database.TaskExtracting)
		if res.Error != nil {
			w.logger.Error("task claim failed", zap.String("task_id", id), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected == 0 {
			continue // another worker claimed it first
		}
		select {
		case out <- id:
		case <-ctx.Done():
			return
		}
	}
}

// pollVisualizationJobs claims and runs pending visualization jobs inline;
// they are single LLM calls, cheap next to a full pipeline run.
func (w *worker) pollVisualizationJobs(ctx context.Context) {
	var ids []string
	err := w.db.WithContext(ctx).Model(&database.VisualizationJob{}).
		Where("status = ?", database.VisualJobPending).
		Order("created_at asc").
		Limit(w.cfg.Queue.WorkerConcurrency).
		Pluck("id", &ids).Error
	if err != nil {
		w.logger.Error("visualization poll failed", zap.Error(err))
		return
	}

	for _, id := range ids {
		res := w.db.WithContext(ctx).Model(&database.VisualizationJob{}).
			Where("id = ? AND status = ?", id, database.VisualJobPending).
			Update("status", database.VisualJobRunning)
		if res.Error != nil || res.RowsAffected == 0 {
			continue
		}
		if err := w.orchestrator.RunVisualization(ctx, id); err != nil {
			w.logger.Warn("visualization job failed", zap.String("job_id", id), zap.Error(err))
		}
	}
}

func (w *worker) Close() {
	if w.cache != nil {
		_ = w.cache.Close()
	}
	if w.mongoClient != nil {
		_ = w.mongoClient.Disconnect(context.Background())
	}
}

// storageResolver adapts selector+registry into the narrow storage lookup
// the summary generator needs for rendered visualization images.
type storageResolver struct {
	sel *selector.Selector
	reg *registry.Registry
}

func (r *storageResolver) ResolveStorage(ctx context.Context, owner string) (storage.Provider, error) {
	decision, err := r.sel.Select(ctx, selector.Request{ServiceType: registry.ServiceStorage, Owner: owner})
	if err != nil {
		return nil, err
	}
	client, err := r.reg.Instantiate(registry.ServiceStorage, decision.Provider, registry.Overrides{})
	if err != nil {
		return nil, err
	}
	provider, ok := client.(storage.Provider)
	if !ok {
		return nil, fmt.Errorf("%s does not implement storage.Provider", decision.Provider)
	}
	return provider, nil
}

func orNil(m map[database.StageType]time.Duration) map[database.StageType]time.Duration {
	if len(m) == 0 {
		return nil
	}
	return m
}
