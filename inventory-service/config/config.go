package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Transport kinds
const (
	TransportAWS  = "aws"
	TransportNATS = "nats"
)

// Item lock kinds
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Evaluator kinds
const (
	EvaluatorAccept    = "accept"
	EvaluatorSimulated = "simulated"
)

type Config struct {
	ServiceName  string       `mapstructure:"service_name"`
	Env          string       `mapstructure:"env"`
	Port         string       `mapstructure:"port"`
	Participant  string       `mapstructure:"participant"`
	Database     Database     `mapstructure:"database"`
	Transport    Transport    `mapstructure:"transport"`
	AWS          AWS          `mapstructure:"aws"`
	NATS         NATS         `mapstructure:"nats"`
	Dispatcher   Dispatcher   `mapstructure:"dispatcher"`
	Reservations Reservations `mapstructure:"reservations"`
	Lock         Lock         `mapstructure:"lock"`
	Evaluator    Evaluator    `mapstructure:"evaluator"`
	Logging      Logging      `mapstructure:"logging"`
	Telemetry    Telemetry    `mapstructure:"telemetry"`
}

type Database struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

type Transport struct {
	Kind string `mapstructure:"kind"`
}

type AWS struct {
	Region      string `mapstructure:"region"`
	SNSTopicArn string `mapstructure:"sns_topic_arn"`
	SQSQueueURL string `mapstructure:"sqs_queue_url"`
}

type NATS struct {
	URL            string `mapstructure:"url"`
	RequestSubject string `mapstructure:"request_subject"`
	ReplySubject   string `mapstructure:"reply_subject"`
	QueueGroup     string `mapstructure:"queue_group"`
}

type Dispatcher struct {
	Workers        int `mapstructure:"workers"`
	InboundBuffer  int `mapstructure:"inbound_buffer"`
	OutboundBuffer int `mapstructure:"outbound_buffer"`
}

type Reservations struct {
	SelectionPolicy string        `mapstructure:"selection_policy"`
	HoldTTL         time.Duration `mapstructure:"hold_ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

type Lock struct {
	Kind   string    `mapstructure:"kind"`
	Shards int       `mapstructure:"shards"`
	Redis  RedisLock `mapstructure:"redis"`
}

type RedisLock struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type Evaluator struct {
	Kind        string        `mapstructure:"kind"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	AcceptRatio float64       `mapstructure:"accept_ratio"`
}

type Logging struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// ReadConfig loads <ENVIRONMENT>.json from configDir, falling back to the
// directory of this package. INVENTORY_* variables override file values
// (INVENTORY_DATABASE_HOST for database.host) and flags, when given,
// override both.
func ReadConfig(configDir string, flags *pflag.FlagSet) (*Config, error) {
	if configDir == "" {
		_, filename, _, ok := runtime.Caller(0)
		if !ok {
			return nil, errors.New("unable to get current file")
		}
		configDir = filepath.Dir(filename)
	}

	v := viper.New()
	v.SetConfigName(getConfigName())
	v.SetConfigType("json")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("INVENTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if f := flags.Lookup("participant"); f != nil {
			if err := v.BindPFlag("participant", f); err != nil {
				return nil, errors.Wrap(err, "error binding participant flag")
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling config")
	}

	if config.ServiceName == "" {
		config.ServiceName = config.Participant + "-service"
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func getConfigName() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "local"
	}
	return env
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "")
	v.SetDefault("env", "local")
	v.SetDefault("port", "8080")
	v.SetDefault("participant", "flight")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "inventory")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "inventory.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.ensure_schema", true)

	v.SetDefault("transport.kind", TransportNATS)

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")
	v.SetDefault("aws.sqs_queue_url", "")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.request_subject", "")
	v.SetDefault("nats.reply_subject", "saga.orchestrator")
	v.SetDefault("nats.queue_group", "")

	v.SetDefault("dispatcher.workers", 6)
	v.SetDefault("dispatcher.inbound_buffer", 64)
	v.SetDefault("dispatcher.outbound_buffer", 64)

	v.SetDefault("reservations.selection_policy", "first_match")
	v.SetDefault("reservations.hold_ttl", "15m")
	v.SetDefault("reservations.sweep_interval", "1m")

	v.SetDefault("lock.kind", LockLocal)
	v.SetDefault("lock.shards", 64)
	v.SetDefault("lock.redis.addr", "localhost:6379")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("lock.redis.ttl", "10s")

	v.SetDefault("evaluator.kind", EvaluatorAccept)
	v.SetDefault("evaluator.max_delay", "0s")
	v.SetDefault("evaluator.accept_ratio", 1.0)

	v.SetDefault("logging.level", "")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.otlp_endpoint", "")
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Participant {
	case "flight", "hotel":
	default:
		return errors.Errorf("unknown participant %q", c.Participant)
	}

	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite":
	default:
		return errors.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Transport.Kind {
	case TransportAWS:
		if c.AWS.SNSTopicArn == "" || c.AWS.SQSQueueURL == "" {
			return errors.New("aws transport needs sns_topic_arn and sqs_queue_url")
		}
	case TransportNATS:
		if c.NATS.URL == "" || c.NATS.ReplySubject == "" {
			return errors.New("nats transport needs url and reply_subject")
		}
	default:
		return errors.Errorf("unknown transport %q", c.Transport.Kind)
	}

	switch c.Lock.Kind {
	case LockLocal, LockRedis:
	default:
		return errors.Errorf("unknown lock kind %q", c.Lock.Kind)
	}

	switch c.Evaluator.Kind {
	case EvaluatorAccept, EvaluatorSimulated:
	default:
		return errors.Errorf("unknown evaluator %q", c.Evaluator.Kind)
	}

	if c.Dispatcher.Workers < 1 {
		return errors.New("dispatcher.workers must be at least 1")
	}
	if c.Reservations.HoldTTL <= 0 {
		return errors.New("reservations.hold_ttl must be positive")
	}
	return nil
}

// GetDatabaseURL builds the DSN for the configured driver.
func (c *Config) GetDatabaseURL() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.Path
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     c.Database.Database,
		RawQuery: "sslmode=" + c.Database.SSLMode,
	}
	return u.String()
}

// Subject is the request subject, saga.<participant> unless configured.
func (n NATS) Subject(participant string) string {
	if n.RequestSubject != "" {
		return n.RequestSubject
	}
	return "saga." + participant
}
