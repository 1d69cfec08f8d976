package config

import (
	"context"
	"fmt"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/application"
	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/handlers"
	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/infrastructure"
	sharedinfra "github.com/VeryGoodTravel/vgt-saga-flight/shared/infrastructure"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/logging"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/saga"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/telemetry"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MessageTransport feeds inbound saga messages to the dispatcher, settles
// the ones it finished and re-drives the ones that hit an infrastructure
// fault or were cut off by shutdown.
type MessageTransport interface {
	Run(ctx context.Context, in chan<- saga.Message) error
	Ack(ctx context.Context, msg saga.Message)
	Requeue(ctx context.Context, msg saga.Message, cause error) error
}

type Dependencies struct {
	Participant saga.Participant
	Logger      *zap.Logger

	// Database
	DB    *sqlx.DB
	Store *infrastructure.SQLInventoryStore

	// Reservation engine
	Locker    domain.ItemLocker
	Evaluator domain.Evaluator

	// Use Cases
	TentativeHold  *application.TentativeHold
	ConfirmHold    *application.ConfirmHold
	CompensateHold *application.CompensateHold
	ExpireHolds    *application.ExpireHolds
	GetInventory   *application.GetInventory
	CreateItem     *application.CreateItem

	// Saga handlers
	ReservationHandlers *handlers.ReservationHandlers
	Dispatcher          *handlers.Dispatcher
	Sweeper             *handlers.HoldSweeper

	// HTTP Handlers
	InventoryHandlers *handlers.InventoryHandlers

	// Transport
	Transport MessageTransport
	Gateway   *sharedinfra.PublisherGateway

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func(context.Context) error

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func (d *Dependencies) onClose(name string, fn func() error) {
	d.closers = append(d.closers, namedCloser{name: name, close: fn})
}

func BuildDependencies(ctx context.Context, config *Config) (deps *Dependencies, err error) {
	deps = &Dependencies{}
	defer func() {
		if err != nil {
			_ = deps.Close()
		}
	}()

	participant, err := saga.ParticipantByName(config.Participant)
	if err != nil {
		return nil, err
	}
	deps.Participant = participant

	logger, syncLogger, err := logging.NewLogger(logging.Config{
		ServiceName: config.ServiceName,
		Environment: config.Env,
		Level:       config.Logging.Level,
		File:        config.Logging.File,
		MaxSizeMB:   config.Logging.MaxSizeMB,
		MaxBackups:  config.Logging.MaxBackups,
	})
	if err != nil {
		return nil, err
	}
	deps.Logger = logger.With(zap.String("participant", participant.Name))
	deps.onClose("logger", func() error {
		// stdout and stderr refuse fsync on most terminals
		_ = syncLogger()
		return nil
	})

	if err := deps.initTelemetry(ctx, config); err != nil {
		return nil, err
	}

	if err := deps.initDatabase(ctx, config); err != nil {
		return nil, err
	}

	if err := deps.initReservationEngine(ctx, config); err != nil {
		return nil, err
	}

	if err := deps.initTransport(ctx, config); err != nil {
		return nil, err
	}

	deps.ReservationHandlers = handlers.NewReservationHandlers(participant,
		deps.TentativeHold, deps.ConfirmHold, deps.CompensateHold, time.Now, deps.Logger)
	deps.Dispatcher = handlers.NewDispatcher(participant, deps.ReservationHandlers, deps.Logger,
		handlers.WithWorkers(config.Dispatcher.Workers),
		handlers.WithFaultHandler(requeueOnFault(deps.Transport, deps.Logger)),
		handlers.WithAckHandler(deps.Transport.Ack),
	)
	deps.Sweeper = handlers.NewHoldSweeper(deps.ExpireHolds, config.Reservations.HoldTTL,
		config.Reservations.SweepInterval, deps.Logger)
	deps.InventoryHandlers = handlers.NewInventoryHandlers(deps.GetInventory, deps.CreateItem, deps.Logger)

	return deps, nil
}

func (d *Dependencies) initTelemetry(ctx context.Context, config *Config) error {
	telConfig, err := telemetry.ConfigForParticipant(config.Participant)
	if err != nil {
		return err
	}
	telConfig = telConfig.WithServiceName(config.ServiceName).WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)

	if !config.Telemetry.Enabled {
		d.Telemetry = telemetry.NewTelemetry(telConfig)
		return nil
	}

	tel, shutdown, err := telemetry.InitTelemetry(ctx, telConfig)
	if err != nil {
		// Continue without exporters rather than failing
		d.Logger.Warn("failed to initialize telemetry", zap.Error(err))
		d.Telemetry = telemetry.NewTelemetry(telConfig)
		return nil
	}
	d.Telemetry = tel
	d.TelemetryShutdown = shutdown
	return nil
}

func (d *Dependencies) initDatabase(ctx context.Context, config *Config) error {
	db, err := infrastructure.OpenDatabase(ctx, infrastructure.DatabaseOptions{
		Driver:       config.Database.Driver,
		DSN:          config.GetDatabaseURL(),
		MaxOpenConns: config.Database.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	d.DB = db
	d.onClose("database", db.Close)

	if config.Database.EnsureSchema {
		if err := infrastructure.EnsureSchema(ctx, db); err != nil {
			return err
		}
	}

	d.Store = infrastructure.NewSQLInventoryStore(db)
	return nil
}

func (d *Dependencies) initReservationEngine(ctx context.Context, config *Config) error {
	switch config.Lock.Kind {
	case LockRedis:
		locker, err := infrastructure.NewRedisItemLocker(ctx, infrastructure.RedisConfig{
			Addr:     config.Lock.Redis.Addr,
			Password: config.Lock.Redis.Password,
			DB:       config.Lock.Redis.DB,
			TTL:      config.Lock.Redis.TTL,
			Prefix:   "inventory:" + d.Participant.Name + ":item:",
		}, d.Logger)
		if err != nil {
			return err
		}
		d.Locker = locker
		d.onClose("redis locker", locker.Close)
	default:
		d.Locker = infrastructure.NewLocalItemLocker(config.Lock.Shards)
	}

	switch config.Evaluator.Kind {
	case EvaluatorSimulated:
		evaluator, err := infrastructure.NewSimulatedEvaluator(config.Evaluator.MaxDelay, config.Evaluator.AcceptRatio, nil)
		if err != nil {
			return err
		}
		d.Evaluator = evaluator
	default:
		d.Evaluator = infrastructure.AcceptAllEvaluator{}
	}

	policy, err := domain.SelectionPolicyByName(config.Reservations.SelectionPolicy)
	if err != nil {
		return err
	}

	d.TentativeHold = application.NewTentativeHold(d.Store, d.Locker, d.Evaluator, policy, time.Now, d.Logger)
	kind := d.Participant.Name
	d.ConfirmHold = application.NewConfirmHold(d.Store, d.Locker, kind, d.Logger)
	d.CompensateHold = application.NewCompensateHold(d.Store, d.Locker, kind, d.Logger)
	d.ExpireHolds = application.NewExpireHolds(d.Store, d.Locker, kind, time.Now, d.Logger)
	d.GetInventory = application.NewGetInventory(d.Store, kind)
	d.CreateItem = application.NewCreateItem(d.Store, kind, d.Logger)

	d.Logger.Info("reservation engine ready",
		zap.String("lock", config.Lock.Kind),
		zap.String("evaluator", config.Evaluator.Kind),
		zap.String("selection_policy", policy.Name()),
	)
	return nil
}

func (d *Dependencies) initTransport(ctx context.Context, config *Config) error {
	var publisher saga.Publisher

	switch config.Transport.Kind {
	case TransportAWS:
		relay, snsPublisher, err := sharedinfra.NewAWSTransport(ctx, sharedinfra.AWSOptions{
			Region:      config.AWS.Region,
			SNSTopicArn: config.AWS.SNSTopicArn,
			SQSQueueURL: config.AWS.SQSQueueURL,
		}, d.Logger)
		if err != nil {
			return err
		}
		d.Transport = relay
		publisher = snsPublisher
	case TransportNATS:
		queueGroup := config.NATS.QueueGroup
		if queueGroup == "" {
			queueGroup = config.ServiceName
		}
		transport, err := sharedinfra.NewNATSTransport(sharedinfra.NATSConfig{
			URL:            config.NATS.URL,
			Name:           config.ServiceName,
			RequestSubject: config.NATS.Subject(d.Participant.Name),
			ReplySubject:   config.NATS.ReplySubject,
			QueueGroup:     queueGroup,
		}, d.Logger)
		if err != nil {
			return err
		}
		d.Transport = transport
		publisher = transport
		d.onClose("nats", transport.Close)
	default:
		return errors.Errorf("unknown transport %q", config.Transport.Kind)
	}

	breaker := sharedinfra.NewCircuitBreaker(d.Logger, sharedinfra.WithBreakerName(config.ServiceName+"-publisher"))
	d.Gateway = sharedinfra.NewPublisherGateway(publisher, breaker, d.Logger)
	return nil
}

func requeueOnFault(transport MessageTransport, logger *zap.Logger) handlers.FaultHandler {
	return func(ctx context.Context, msg saga.Message, err error) {
		if requeueErr := transport.Requeue(ctx, msg, err); requeueErr != nil {
			logger.Error("failed to requeue saga message",
				zap.String("transaction_id", msg.TransactionId.String()),
				zap.String("state", msg.State.String()),
				zap.NamedError("cause", err),
				zap.Error(requeueErr),
			)
		}
	}
}

// Close closes all dependencies, last opened first
func (d *Dependencies) Close() error {
	var errs []error

	if d.TelemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.TelemetryShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}

	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "failed to close %s", c.name))
		}
	}
	d.closers = nil

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
