package orderflow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/orderflow/internal/engine"
	"github.com/petrijr/orderflow/internal/orders"
	"github.com/petrijr/orderflow/internal/persistence"
	"github.com/petrijr/orderflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	WorkflowInstance     = api.WorkflowInstance
	HistoryEvent         = api.HistoryEvent
	InstanceListOptions  = api.InstanceListOptions
	Status               = api.Status
	RetryPolicy          = api.RetryPolicy
	WorkflowError        = api.WorkflowError
	BusinessFailure      = api.BusinessFailure
	ErrorKind            = api.ErrorKind
	ActivityFailure      = api.ActivityFailure
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Order saga types.

type (
	OrderPayload      = orders.OrderPayload
	OrderResult       = orders.OrderResult
	Services          = orders.Services
	InventoryService  = orders.InventoryService
	PaymentService    = orders.PaymentService
	Notifier          = orders.Notifier
	InventoryRequest  = orders.InventoryRequest
	InventoryResult   = orders.InventoryResult
	PaymentRequest    = orders.PaymentRequest
	Notification      = orders.Notification
	InMemoryInventory = orders.InMemoryInventory
	InMemoryPayments  = orders.InMemoryPayments
	InMemoryNotifier  = orders.InMemoryNotifier
)

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewActivityFailure   = api.NewActivityFailure
	FailWithResult       = api.FailWithResult
	NewInMemoryServices  = orders.NewInMemoryServices
)

const (
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed

	KindBusiness         = api.KindBusiness
	KindRetriesExhausted = api.KindRetriesExhausted
	KindNonDeterminism   = api.KindNonDeterminism

	// OrderFulfillment is the registered name of the order saga.
	OrderFulfillment = orders.WorkflowName
)

// Engine constructors. Engines built here have no task queue; callers drive
// instances with RunInstance or use LocalRunner / NewSQLiteBundle.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine(obs Observer) Engine {
	return engine.NewInMemoryEngine(nil, obs)
}

// NewSQLiteEngine returns an Engine keeping history and status in db.
func NewSQLiteEngine(db *sql.DB, obs Observer) (Engine, error) {
	p, err := engine.SQLitePersistence(db)
	if err != nil {
		return nil, err
	}
	return newEngine(p, obs), nil
}

// NewPostgresEngine returns an Engine keeping history and status in
// PostgreSQL. db must use the pgx stdlib driver.
func NewPostgresEngine(db *sql.DB, obs Observer) (Engine, error) {
	p, err := engine.PostgresPersistence(db)
	if err != nil {
		return nil, err
	}
	return newEngine(p, obs), nil
}

// NewRedisEngine returns an Engine keeping history and status in Redis
// under keys starting with prefix.
func NewRedisEngine(client *redis.Client, prefix string, obs Observer) Engine {
	return newEngine(engine.RedisPersistence(client, prefix), obs)
}

// NewMongoEngine returns an Engine keeping history and status in the named
// MongoDB database.
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string, obs Observer) (Engine, error) {
	p, err := engine.MongoPersistence(ctx, client, dbName)
	if err != nil {
		return nil, err
	}
	return newEngine(p, obs), nil
}

func newEngine(p persistence.Persistence, obs Observer) Engine {
	return engine.NewEngineWithConfig(engine.Config{Persistence: p, Observer: obs})
}

// RegisterOrderFulfillment registers the order saga and its activities on
// eng. A nil retry keeps the engine default for every activity.
func RegisterOrderFulfillment(eng Engine, svc Services, retry *RetryPolicy) error {
	return orders.Register(eng, svc, retry)
}

// SubmitOrder validates order and creates an order saga instance for it.
// Invalid orders create nothing and return an error wrapping
// api.ErrValidation.
func SubmitOrder(ctx context.Context, eng Engine, order OrderPayload) (string, error) {
	if err := order.Validate(); err != nil {
		return "", err
	}
	return eng.CreateInstance(ctx, OrderFulfillment, order)
}

var errNonPositivePoll = errors.New("orderflow: poll interval must be positive")

// WaitForTerminal polls the status of id until it is Completed or Failed or
// ctx is done.
func WaitForTerminal(ctx context.Context, eng Engine, id string, poll time.Duration) (*WorkflowInstance, error) {
	if poll <= 0 {
		return nil, errNonPositivePoll
	}
	tick := time.NewTicker(poll)
	defer tick.Stop()

	for {
		inst, err := eng.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if inst.Status != StatusRunning {
			return inst, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick.C:
		}
	}
}
