package config

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "DISPATCH"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv  = "DISPATCH_APP_ENV"
	EnvAppPort = "DISPATCH_APP_PORT"
	EnvDBDSN   = "DISPATCH_DB_DSN"
	EnvDBHost  = "DISPATCH_DB_HOST"
	EnvDBUser  = "DISPATCH_DB_USER"
	EnvDBName  = "DISPATCH_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
