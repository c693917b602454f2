package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Assignment AssignmentConfig
	Sweeper    SweeperConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Outbox     OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Assignment.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DISPATCH_APP_ENV" required:"true"`
	Port         string `envconfig:"DISPATCH_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DISPATCH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DISPATCH_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN         string `envconfig:"DISPATCH_DB_DSN"`
	Driver      string `envconfig:"DISPATCH_DB_DRIVER" default:"postgres"`
	AutoMigrate bool   `envconfig:"DISPATCH_DB_AUTO_MIGRATE" default:"false"`

	LegacyHost     string `envconfig:"DISPATCH_DB_HOST"`
	LegacyPort     int    `envconfig:"DISPATCH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DISPATCH_DB_USER"`
	LegacyPassword string `envconfig:"DISPATCH_DB_PASSWORD"`
	LegacyName     string `envconfig:"DISPATCH_DB_NAME"`
	LegacySSLMode  string `envconfig:"DISPATCH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DISPATCH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DISPATCH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DISPATCH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DISPATCH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DISPATCH_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DISPATCH_REDIS_ADDR"`
	Password     string        `envconfig:"DISPATCH_REDIS_PASSWORD"`
	DB           int           `envconfig:"DISPATCH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DISPATCH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DISPATCH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DISPATCH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DISPATCH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DISPATCH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// AssignmentConfig tunes the order assignment pipeline. The scoring knobs are a
// product policy calibration; changing them changes ranking behavior, so the
// defaults are the production values.
type AssignmentConfig struct {
	SearchRadiusMeters    float64       `envconfig:"DISPATCH_ASSIGN_SEARCH_RADIUS_M" default:"5000"`
	MaxCandidates         int           `envconfig:"DISPATCH_ASSIGN_MAX_CANDIDATES" default:"20"`
	MaxOffers             int           `envconfig:"DISPATCH_ASSIGN_MAX_OFFERS" default:"5"`
	OfferTTL              time.Duration `envconfig:"DISPATCH_ASSIGN_OFFER_TTL" default:"30s"`
	CommitMaxRetries      int           `envconfig:"DISPATCH_ASSIGN_COMMIT_MAX_RETRIES" default:"3"`
	CommitRetryBackoff    time.Duration `envconfig:"DISPATCH_ASSIGN_COMMIT_RETRY_BACKOFF" default:"25ms"`
	EscalationMaxAttempts int           `envconfig:"DISPATCH_ASSIGN_ESCALATION_MAX_ATTEMPTS" default:"3"`
	RadiusGrowthFactor    float64       `envconfig:"DISPATCH_ASSIGN_RADIUS_GROWTH_FACTOR" default:"1.5"`

	BaseScore            float64 `envconfig:"DISPATCH_SCORE_BASE" default:"100"`
	DistanceWeight       float64 `envconfig:"DISPATCH_SCORE_DISTANCE_WEIGHT" default:"0.30"`
	AcceptanceWeight     float64 `envconfig:"DISPATCH_SCORE_ACCEPTANCE_WEIGHT" default:"0.20"`
	RatingWeight         float64 `envconfig:"DISPATCH_SCORE_RATING_WEIGHT" default:"0.15"`
	ExperienceWeight     float64 `envconfig:"DISPATCH_SCORE_EXPERIENCE_WEIGHT" default:"0.10"`
	PayoutWeight         float64 `envconfig:"DISPATCH_SCORE_PAYOUT_WEIGHT" default:"0.10"`
	HighPriorityBonus    float64 `envconfig:"DISPATCH_SCORE_HIGH_PRIORITY_BONUS" default:"20"`
	BusyAgentPenalty     float64 `envconfig:"DISPATCH_SCORE_BUSY_AGENT_PENALTY" default:"30"`
	MetersPerScorePoint  float64 `envconfig:"DISPATCH_SCORE_METERS_PER_POINT" default:"50"`
	PayoutPerScorePoint  float64 `envconfig:"DISPATCH_SCORE_PAYOUT_PER_POINT" default:"0.20"`
	MissingRatingDefault float64 `envconfig:"DISPATCH_SCORE_MISSING_RATING_DEFAULT" default:"50"`
}

func (a AssignmentConfig) validate() error {
	if a.SearchRadiusMeters <= 0 {
		return fmt.Errorf("search radius must be positive")
	}
	if a.MaxOffers <= 0 {
		return fmt.Errorf("max offers must be positive")
	}
	if a.OfferTTL <= 0 {
		return fmt.Errorf("offer ttl must be positive")
	}
	if a.RadiusGrowthFactor < 1 {
		return fmt.Errorf("radius growth factor must be >= 1")
	}
	return nil
}

type SweeperConfig struct {
	Interval    time.Duration `envconfig:"DISPATCH_SWEEPER_INTERVAL" default:"30s"`
	LockTTL     time.Duration `envconfig:"DISPATCH_SWEEPER_LOCK_TTL" default:"2m"`
	StaleAfter  time.Duration `envconfig:"DISPATCH_SWEEPER_STALE_AFTER" default:"45s"`
	BatchSize   int           `envconfig:"DISPATCH_SWEEPER_BATCH_SIZE" default:"50"`
	MetricsAddr string        `envconfig:"DISPATCH_SWEEPER_METRICS_ADDR" default:":9102"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DISPATCH_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"DISPATCH_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"DISPATCH_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"DISPATCH_PUBSUB_DOMAIN_TOPIC" default:"dispatch-domain-events"`
	DomainSubscription string `envconfig:"DISPATCH_PUBSUB_DOMAIN_SUBSCRIPTION" required:"true"`
	AgentPushTopic     string `envconfig:"DISPATCH_PUBSUB_AGENT_PUSH_TOPIC" default:"dispatch-agent-push"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DISPATCH_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DISPATCH_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DISPATCH_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
