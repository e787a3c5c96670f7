package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/petrijr/orderflow/internal/logger"
	"github.com/petrijr/orderflow/internal/persistence"
	"github.com/petrijr/orderflow/internal/taskqueue"
	"github.com/petrijr/orderflow/pkg/api"
)

// engineImpl is the orchestration instance manager. The history log is the
// source of truth; the instance store is a projection of it.
type engineImpl struct {
	history   persistence.HistoryLog
	instances persistence.InstanceStore
	queue     taskqueue.Queue

	workflows  *registry[api.WorkflowDefinition]
	activities *registry[api.ActivityDefinition]

	locks    *keyedMutex
	terminal *cache.Cache

	// stranded holds instances whose creation is recorded but whose run
	// task could not be enqueued.
	strandedMu sync.Mutex
	stranded   map[string]struct{}

	observer          api.Observer
	logger            *zap.Logger
	defaultRetry      api.RetryPolicy
	storageMaxElapsed time.Duration
	now               func() time.Time
}

// Config describes how to construct an engine.
type Config struct {
	Persistence persistence.Persistence

	// Queue receives a run-instance task for every created or recovered
	// instance. When nil, callers drive instances with RunInstance.
	Queue taskqueue.Queue

	Observer api.Observer
	Logger   *zap.Logger

	// DefaultActivityRetry applies to activities registered without a
	// policy. Zero value means DefaultActivityRetry.
	DefaultActivityRetry api.RetryPolicy

	// StorageMaxElapsed bounds how long a single storage operation is
	// retried before the execution is suspended.
	StorageMaxElapsed time.Duration

	// TerminalCacheTTL is how long terminal status snapshots are cached.
	// Zero means 10 minutes.
	TerminalCacheTTL time.Duration
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	return newEngine(cfg)
}

func newEngine(cfg Config) *engineImpl {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Named("engine")
	}
	retry := cfg.DefaultActivityRetry
	if retry.MaxAttempts == 0 {
		retry = DefaultActivityRetry
	}
	ttl := cfg.TerminalCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &engineImpl{
		history:           cfg.Persistence.History,
		instances:         cfg.Persistence.Instances,
		queue:             cfg.Queue,
		workflows:         newWorkflowRegistry(),
		activities:        newActivityRegistry(),
		locks:             newKeyedMutex(),
		terminal:          cache.New(ttl, 2*ttl),
		stranded:          make(map[string]struct{}),
		observer:          obs,
		logger:            log,
		defaultRetry:      retry,
		storageMaxElapsed: cfg.StorageMaxElapsed,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// NewEngine returns an Engine over the given persistence with no queue.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{Persistence: p})
}

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine(queue taskqueue.Queue, obs api.Observer) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{History: mem, Instances: mem},
		Queue:       queue,
		Observer:    obs,
	})
}

// SQLitePersistence builds the history log and status index in one SQLite database.
func SQLitePersistence(db *sql.DB) (persistence.Persistence, error) {
	hist, err := persistence.NewSQLiteHistoryLog(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	inst, err := persistence.NewSQLiteInstanceStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	return persistence.Persistence{History: hist, Instances: inst}, nil
}

// PostgresPersistence builds the history log and status index in one
// PostgreSQL database opened with the pgx stdlib driver.
func PostgresPersistence(db *sql.DB) (persistence.Persistence, error) {
	hist, err := persistence.NewPostgresHistoryLog(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	inst, err := persistence.NewPostgresInstanceStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	return persistence.Persistence{History: hist, Instances: inst}, nil
}

// RedisPersistence keeps history lists and the status index under prefix.
func RedisPersistence(client *redis.Client, prefix string) persistence.Persistence {
	return persistence.Persistence{
		History:   persistence.NewRedisHistoryLog(client, prefix),
		Instances: persistence.NewRedisInstanceStore(client, prefix),
	}
}

// MongoPersistence keeps history and the status index in database dbName.
func MongoPersistence(ctx context.Context, client *mongo.Client, dbName string) (persistence.Persistence, error) {
	hist, err := persistence.NewMongoHistoryLog(ctx, client, dbName)
	if err != nil {
		return persistence.Persistence{}, err
	}
	return persistence.Persistence{
		History:   hist,
		Instances: persistence.NewMongoInstanceStore(client, dbName, ""),
	}, nil
}

func (e *engineImpl) RegisterWorkflow(def api.WorkflowDefinition) error {
	if err := validateWorkflow(def); err != nil {
		return err
	}
	return e.workflows.register(def.Name, def)
}

func (e *engineImpl) RegisterActivity(def api.ActivityDefinition) error {
	if err := validateActivity(def); err != nil {
		return err
	}
	return e.activities.register(def.Name, def)
}

func (e *engineImpl) CreateInstance(ctx context.Context, workflow string, input any) (string, error) {
	if _, ok := e.workflows.get(workflow); !ok {
		return "", fmt.Errorf("%w: %s", api.ErrUnknownWorkflow, workflow)
	}

	payload, err := persistence.EncodePayload(input)
	if err != nil {
		return "", &api.ValidationError{Field: "input", Reason: "cannot be encoded: " + err.Error()}
	}

	id := uuid.NewString()
	created := api.HistoryEvent{
		InstanceID: id,
		Seq:        1,
		Type:       api.EventInstanceCreated,
		At:         e.now(),
		Workflow:   workflow,
		Payload:    payload,
	}
	if err := e.appendEvent(ctx, created); err != nil {
		return "", fmt.Errorf("create instance: %w", err)
	}

	inst, err := api.Project([]api.HistoryEvent{created})
	if err != nil {
		return "", err
	}
	if err := e.saveIndex(ctx, inst); err != nil {
		// The first run rebuilds the entry from history.
		e.logger.Warn("status index write failed on create",
			zap.String("instance", id),
			zap.Error(err),
		)
	}

	if e.queue != nil {
		if err := e.queue.Enqueue(ctx, taskqueue.NewRunInstanceTask(id)); err != nil {
			// The instance exists once InstanceCreated is durable.
			e.logger.Warn("run task enqueue failed, instance left for rescheduling",
				zap.String("instance", id),
				zap.Error(err),
			)
			e.markStranded(id)
		}
	}
	return id, nil
}

func (e *engineImpl) markStranded(id string) {
	e.strandedMu.Lock()
	defer e.strandedMu.Unlock()
	e.stranded[id] = struct{}{}
}

func (e *engineImpl) clearStranded(id string) {
	e.strandedMu.Lock()
	defer e.strandedMu.Unlock()
	delete(e.stranded, id)
}

// RescheduleStranded enqueues run tasks for instances created by this
// engine whose first enqueue failed.
func (e *engineImpl) RescheduleStranded(ctx context.Context) (int, error) {
	if e.queue == nil {
		return 0, nil
	}

	e.strandedMu.Lock()
	ids := make([]string, 0, len(e.stranded))
	for id := range e.stranded {
		ids = append(ids, id)
	}
	e.strandedMu.Unlock()

	n := 0
	for _, id := range ids {
		if err := e.queue.Enqueue(ctx, taskqueue.NewRunInstanceTask(id)); err != nil {
			return n, fmt.Errorf("reschedule instance %s: %w", id, err)
		}
		e.clearStranded(id)
		n++
	}
	if n > 0 {
		e.logger.Info("rescheduled stranded instances", zap.Int("count", n))
	}
	return n, nil
}

func (e *engineImpl) GetStatus(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	if cached, ok := e.terminal.Get(id); ok {
		return cached.(*api.WorkflowInstance).Clone(), nil
	}

	inst, err := e.instances.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrInstanceNotFound, id)
		}
		return nil, err
	}
	e.cacheTerminal(inst)
	return inst, nil
}

func (e *engineImpl) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.WorkflowInstance, error) {
	return e.instances.ListInstances(ctx, persistence.InstanceFilter{
		Workflow: opts.Workflow,
		Status:   opts.Status,
	})
}

func (e *engineImpl) History(ctx context.Context, id string) ([]api.HistoryEvent, error) {
	events, err := e.history.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", api.ErrInstanceNotFound, id)
	}
	return events, nil
}

func (e *engineImpl) RecoverInstances(ctx context.Context) (int, error) {
	if e.queue == nil {
		return 0, errors.New("recover instances: no queue configured")
	}

	running, err := e.instances.ListInstances(ctx, persistence.InstanceFilter{Status: api.StatusRunning})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, inst := range running {
		if err := e.queue.Enqueue(ctx, taskqueue.NewRunInstanceTask(inst.ID)); err != nil {
			return n, fmt.Errorf("recover instance %s: %w", inst.ID, err)
		}
		e.clearStranded(inst.ID)
		n++
	}
	if n > 0 {
		e.logger.Info("recovered running instances", zap.Int("count", n))
	}
	return n, nil
}

// RunInstance replays the instance from its history and drives it until it
// terminates or suspends. A terminal failure is reported as
// *api.WorkflowError; a suspension wraps api.ErrSuspended.
func (e *engineImpl) RunInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	history, err := e.readHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", api.ErrInstanceNotFound, id)
	}

	inst, err := api.Project(history)
	if err != nil {
		return nil, err
	}
	if inst.Status.IsTerminal() {
		// Nothing to execute; make sure the index caught up.
		if err := e.saveIndex(ctx, inst); err != nil {
			return inst, err
		}
		e.cacheTerminal(inst)
		return inst, terminalError(inst)
	}

	def, ok := e.workflows.get(inst.Workflow)
	if !ok {
		return inst, fmt.Errorf("%w: %s", api.ErrUnknownWorkflow, inst.Workflow)
	}

	exec, err := newExecution(ctx, e, def, history, inst)
	if err != nil {
		return inst, err
	}

	e.observer.OnInstanceStart(ctx, inst)

	result, wfErr, panicked := exec.runWorkflow()
	terminal := exec.finish(result, wfErr, panicked)
	if terminal != nil {
		if err := exec.append(*terminal); err != nil {
			exec.suspend(err)
		}
	}

	if exec.suspendErr != nil {
		suspendErr := exec.suspendedError()
		e.observer.OnInstanceSuspended(ctx, inst, suspendErr)
		if err := e.saveIndex(context.WithoutCancel(ctx), inst); err != nil {
			e.logger.Warn("status index write failed on suspend", zap.String("instance", id), zap.Error(err))
		}
		return inst, suspendErr
	}

	final, err := api.Project(exec.history)
	if err != nil {
		return inst, err
	}
	if err := e.saveIndex(ctx, final); err != nil {
		return final, fmt.Errorf("update status index: %w", err)
	}
	e.cacheTerminal(final)

	runErr := terminalError(final)
	if runErr != nil {
		e.observer.OnInstanceFailed(ctx, final, runErr)
	} else {
		e.observer.OnInstanceCompleted(ctx, final)
	}
	return final, runErr
}

func terminalError(inst *api.WorkflowInstance) error {
	if inst.Status != api.StatusFailed {
		return nil
	}
	return &api.WorkflowError{Kind: inst.ErrorKind, Message: inst.Error}
}

func (e *engineImpl) cacheTerminal(inst *api.WorkflowInstance) {
	if inst.Status.IsTerminal() {
		e.terminal.SetDefault(inst.ID, inst.Clone())
	}
}

// withStorageRetry repeats op while it fails with ErrStorageUnavailable.
func (e *engineImpl) withStorageRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil || storageRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(storageBackOff(e.storageMaxElapsed), ctx))
}

func (e *engineImpl) appendEvent(ctx context.Context, ev api.HistoryEvent) error {
	return e.withStorageRetry(ctx, func() error {
		return e.history.Append(ctx, ev)
	})
}

func (e *engineImpl) readHistory(ctx context.Context, id string) ([]api.HistoryEvent, error) {
	var events []api.HistoryEvent
	err := e.withStorageRetry(ctx, func() error {
		var err error
		events, err = e.history.Read(ctx, id)
		return err
	})
	return events, err
}

func (e *engineImpl) saveIndex(ctx context.Context, inst *api.WorkflowInstance) error {
	return e.withStorageRetry(ctx, func() error {
		return e.instances.SaveInstance(ctx, inst)
	})
}
