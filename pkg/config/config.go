package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Ledger     LedgerConfig
	Encryption EncryptionConfig
	Oracle     OracleConfig
	Limits     LimitsConfig
	RateLimit  RateLimitConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Metrics    MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Limits.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"AUTOPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"AUTOPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"AUTOPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"AUTOPAY_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"AUTOPAY_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"AUTOPAY_DB_DSN"`
	Driver string `envconfig:"AUTOPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"AUTOPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"AUTOPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"AUTOPAY_DB_USER"`
	LegacyPassword string `envconfig:"AUTOPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"AUTOPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"AUTOPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"AUTOPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"AUTOPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"AUTOPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"AUTOPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the ledger database runs on the embedded SQLite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"AUTOPAY_REDIS_URL"`
	Address      string        `envconfig:"AUTOPAY_REDIS_ADDR"`
	Password     string        `envconfig:"AUTOPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"AUTOPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"AUTOPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"AUTOPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"AUTOPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"AUTOPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"AUTOPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"AUTOPAY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"AUTOPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"AUTOPAY_JWT_EXPIRATION_MINUTES" default:"60"`
}

// LedgerConfig identifies the auto-pay contract the service reads and writes.
type LedgerConfig struct {
	ContractAddress string `envconfig:"AUTOPAY_LEDGER_CONTRACT_ADDRESS" required:"true"`
	ChainID         string `envconfig:"AUTOPAY_LEDGER_CHAIN_ID" default:"devnet"`
	Description     string `envconfig:"AUTOPAY_LEDGER_RECORD_DESCRIPTION" default:"Auto-Pay Condition"`
	// RefreshInterval paces the background store refresh; zero disables it.
	RefreshInterval time.Duration `envconfig:"AUTOPAY_LEDGER_REFRESH_INTERVAL" default:"30s"`
}

// EncryptionConfig holds the devnet encryption key material. KeyHex wins over
// Passphrase; with neither set the gateway stays uninitialized.
type EncryptionConfig struct {
	// KeyHex is the 32-byte devnet encryption key, hex encoded.
	KeyHex     string `envconfig:"AUTOPAY_ENCRYPTION_KEY_HEX"`
	Passphrase string `envconfig:"AUTOPAY_ENCRYPTION_PASSPHRASE"`
	Salt       string `envconfig:"AUTOPAY_ENCRYPTION_SALT" default:"autopay-devnet"`

	ArgonMemoryKB    int `envconfig:"AUTOPAY_ENCRYPTION_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"AUTOPAY_ENCRYPTION_ARGON_TIME" default:"1"`
	ArgonParallelism int `envconfig:"AUTOPAY_ENCRYPTION_ARGON_PARALLELISM" default:"2"`
}

type OracleConfig struct {
	// ProofKeyHex is the shared devnet key used to sign and check decryption proofs.
	ProofKeyHex     string `envconfig:"AUTOPAY_ORACLE_PROOF_KEY_HEX"`
	ProofPassphrase string `envconfig:"AUTOPAY_ORACLE_PROOF_PASSPHRASE"`
}

// LimitsConfig bounds the plaintext inputs accepted at record creation.
type LimitsConfig struct {
	MaxAmount    uint64 `envconfig:"AUTOPAY_LIMIT_MAX_AMOUNT" default:"4294967295"`
	MinCondition int64  `envconfig:"AUTOPAY_LIMIT_MIN_CONDITION" default:"-2147483648"`
	MaxCondition int64  `envconfig:"AUTOPAY_LIMIT_MAX_CONDITION" default:"2147483647"`
	MaxNameLen   int    `envconfig:"AUTOPAY_LIMIT_MAX_NAME_LEN" default:"120"`
}

func (l LimitsConfig) validate() error {
	if l.MaxAmount == 0 || l.MaxAmount > math.MaxUint32 {
		return fmt.Errorf("%s must be within (0, %d]", EnvLimitMaxAmount, uint64(math.MaxUint32))
	}
	if l.MinCondition > l.MaxCondition {
		return fmt.Errorf("%s must not exceed %s", EnvLimitMinCondition, EnvLimitMaxCondition)
	}
	return nil
}

// RateLimitConfig throttles the two ledger-writing endpoints. A zero window
// disables the policy.
type RateLimitConfig struct {
	CreateWindow       time.Duration `envconfig:"AUTOPAY_RATE_LIMIT_CREATE_WINDOW" default:"1m"`
	CreateIPLimit      int           `envconfig:"AUTOPAY_RATE_LIMIT_CREATE_IP_LIMIT" default:"30"`
	CreateAccountLimit int           `envconfig:"AUTOPAY_RATE_LIMIT_CREATE_ACCOUNT_LIMIT" default:"10"`
	VerifyWindow       time.Duration `envconfig:"AUTOPAY_RATE_LIMIT_VERIFY_WINDOW" default:"1m"`
	VerifyIPLimit      int           `envconfig:"AUTOPAY_RATE_LIMIT_VERIFY_IP_LIMIT" default:"60"`
	VerifyAccountLimit int           `envconfig:"AUTOPAY_RATE_LIMIT_VERIFY_ACCOUNT_LIMIT" default:"20"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"AUTOPAY_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	StatusTopic string `envconfig:"AUTOPAY_PUBSUB_STATUS_TOPIC"`
}

// Enabled reports whether terminal statuses should be relayed to Pub/Sub.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.StatusTopic) != ""
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"AUTOPAY_METRICS_ENABLED" default:"true"`
	Path    string `envconfig:"AUTOPAY_METRICS_PATH" default:"/metrics"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required when %s=%s", EnvDBDSN, EnvDBDriver, DBDriverSQLite)
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
