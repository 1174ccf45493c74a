package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "STOREFRONT_APP_ENV"
	EnvPort     = "STOREFRONT_APP_PORT"
	EnvLogLevel = "STOREFRONT_LOG_LEVEL"

	EnvDBDSN  = "STOREFRONT_DB_DSN"
	EnvDBHost = "STOREFRONT_DB_HOST"
	EnvDBUser = "STOREFRONT_DB_USER"
	EnvDBName = "STOREFRONT_DB_NAME"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvStripeAPIKey        = "STOREFRONT_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "STOREFRONT_STRIPE_WEBHOOK_SECRET"
	EnvStripeEnv           = "STOREFRONT_STRIPE_ENV"

	EnvCommerceAPIURL   = "STOREFRONT_COMMERCE_API_URL"
	EnvCommerceAppToken = "STOREFRONT_COMMERCE_APP_TOKEN"

	EnvStorefrontPublicURL = "STOREFRONT_PUBLIC_URL"

	EnvReconcileResponseTimeout = "STOREFRONT_RECONCILE_RESPONSE_TIMEOUT"

	EnvAdminJWTSecret = "STOREFRONT_ADMIN_JWT_SECRET"

	EnvGCPProjectID = "STOREFRONT_GCP_PROJECT_ID"

	EnvPubSubAlertsTopic = "STOREFRONT_PUBSUB_ALERTS_TOPIC"
	EnvPubSubOrdersTopic = "STOREFRONT_PUBSUB_ORDERS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
