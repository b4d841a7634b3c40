package config

// EnvPrefix is handed to envconfig; every field carries an explicit key so the
// prefix only matters for fields added without one.
const EnvPrefix = "AUTOPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv = "AUTOPAY_APP_ENV"
	EnvPort   = "AUTOPAY_APP_PORT"

	EnvDBDSN    = "AUTOPAY_DB_DSN"
	EnvDBDriver = "AUTOPAY_DB_DRIVER"
	EnvDBHost   = "AUTOPAY_DB_HOST"
	EnvDBUser   = "AUTOPAY_DB_USER"
	EnvDBName   = "AUTOPAY_DB_NAME"

	EnvRedisURL = "AUTOPAY_REDIS_URL"

	EnvJWTSecret = "AUTOPAY_JWT_SECRET"
	EnvJWTIssuer = "AUTOPAY_JWT_ISSUER"

	EnvLedgerContract = "AUTOPAY_LEDGER_CONTRACT_ADDRESS"

	EnvLimitMaxAmount    = "AUTOPAY_LIMIT_MAX_AMOUNT"
	EnvLimitMinCondition = "AUTOPAY_LIMIT_MIN_CONDITION"
	EnvLimitMaxCondition = "AUTOPAY_LIMIT_MAX_CONDITION"

	EnvPubSubStatusTopic = "AUTOPAY_PUBSUB_STATUS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
