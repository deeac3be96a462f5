package settings

// DB-backed runtime settings keys.
const (
	// ReconcileIntervalSecondsKey controls how often the payment status sweep runs.
	ReconcileIntervalSecondsKey = "RECONCILE_INTERVAL_SECONDS"
	// ReconcileMaxConcurrencyKey caps concurrent gateway status polls per sweep.
	ReconcileMaxConcurrencyKey = "RECONCILE_MAX_CONCURRENCY"
	// QRExpiryMinutesKey is the age after which an unconfirmed payment token expires.
	QRExpiryMinutesKey = "QR_EXPIRY_MINUTES"
	// DefaultLogoURLKey is the logo attached to insurers without their own.
	DefaultLogoURLKey = "DEFAULT_LOGO_URL"
)
