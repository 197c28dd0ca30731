package config

const (
	EnvPrefix = "TABLESIDE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv      = "TABLESIDE_APP_ENV"
	EnvPort        = "TABLESIDE_APP_PORT"
	EnvLogLevel    = "TABLESIDE_LOG_LEVEL"
	EnvServiceKind = "TABLESIDE_SERVICE_KIND"

	EnvDBDSN      = "TABLESIDE_DB_DSN"
	EnvDBDriver   = "TABLESIDE_DB_DRIVER"
	EnvDBHost     = "TABLESIDE_DB_HOST"
	EnvDBPort     = "TABLESIDE_DB_PORT"
	EnvDBUser     = "TABLESIDE_DB_USER"
	EnvDBPassword = "TABLESIDE_DB_PASSWORD"
	EnvDBName     = "TABLESIDE_DB_NAME"
	EnvDBSSLMode  = "TABLESIDE_DB_SSLMODE"

	EnvRedisURL = "TABLESIDE_REDIS_URL"

	EnvJWTSecret  = "TABLESIDE_JWT_SECRET"
	EnvJWTIssuer  = "TABLESIDE_JWT_ISSUER"
	EnvJWTExpMins = "TABLESIDE_JWT_EXPIRATION_MINUTES"

	EnvUseSQLite   = "TABLESIDE_USE_SQLITE"
	EnvAutoMigrate = "TABLESIDE_AUTO_MIGRATE"

	EnvBroker           = "TABLESIDE_BROKER"
	EnvGCPProjectID     = "TABLESIDE_GCP_PROJECT_ID"
	EnvPubSubOrders     = "TABLESIDE_PUBSUB_ORDERS_TOPIC"
	EnvPubSubKitchen    = "TABLESIDE_PUBSUB_KITCHEN_TOPIC"
	EnvPubSubBilling    = "TABLESIDE_PUBSUB_BILLING_TOPIC"
	EnvRabbitMQURL      = "TABLESIDE_RABBITMQ_URL"
	EnvRabbitMQExchange = "TABLESIDE_RABBITMQ_EXCHANGE"

	EnvPaymentCodeLength = "TABLESIDE_PAYMENT_CODE_LENGTH"
	EnvInvoiceVATRate    = "TABLESIDE_INVOICE_VAT_RATE"
)

// legacyDBEnvVars are required when no DSN is supplied.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
