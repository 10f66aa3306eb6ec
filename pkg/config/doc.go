// Package config loads the tenancy service configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// TENANCY_* environment variables:
//
//	TENANCY_PORT="8080"
//	TENANCY_HEALTH_PORT="9090"
//	TENANCY_POSTGRES_URL="postgres://localhost/tenancy?sslmode=disable"
//	TENANCY_REDIS_URL="redis://localhost:6379/0"   # optional
//	TENANCY_OIDC_ISSUER_URL="https://id.example.com"
//	TENANCY_OIDC_CLIENT_ID="tenancy"
//	TENANCY_ADMIN_USER_IDS="1,2"
//	TENANCY_CHECKOUT_BASE_URL="https://pay.example.com"
//	TENANCY_WEBHOOK_SECRET="..."
//	TENANCY_SWEEPER_SCHEDULE="@every 5m"
//	TENANCY_PENDING_TIMEOUT="24h"
//	TENANCY_LOG_LEVEL="info"
//
// Watch re-reads the file on change so the log level can be adjusted on a
// running process.
package config
