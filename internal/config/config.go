// Package config defines the configuration structure for the broadcast
// dispatch subsystem. Configuration is loaded once at process initialization
// (worker cold start) and is immutable thereafter. It follows 12-Factor App
// principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast).
package config

import "time"

// Config is the top-level configuration struct for the dispatcher. It is
// populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"broadcast-dispatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Database DatabaseConfig
	AWS      AWSConfig
	CBC      CBCConfig
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-west-2"`

	// DispatchQueue receives one DispatchMessage per (event, provider) pair.
	DispatchQueue string `envconfig:"SQS_BROADCAST_DISPATCH" validate:"required,url"`

	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"BroadcastDispatch"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// CBCConfig holds the ingestion endpoints of each mobile network operator's
// Cell Broadcast Centre. Every operator exposes a primary and a failover
// endpoint; the transport tries them in that order.
type CBCConfig struct {
	EEPrimary         string `envconfig:"CBC_EE_PRIMARY" validate:"required,url"`
	EESecondary       string `envconfig:"CBC_EE_SECONDARY" validate:"required,url"`
	O2Primary         string `envconfig:"CBC_O2_PRIMARY" validate:"required,url"`
	O2Secondary       string `envconfig:"CBC_O2_SECONDARY" validate:"required,url"`
	ThreePrimary      string `envconfig:"CBC_THREE_PRIMARY" validate:"required,url"`
	ThreeSecondary    string `envconfig:"CBC_THREE_SECONDARY" validate:"required,url"`
	VodafonePrimary   string `envconfig:"CBC_VODAFONE_PRIMARY" validate:"required,url"`
	VodafoneSecondary string `envconfig:"CBC_VODAFONE_SECONDARY" validate:"required,url"`

	Timeout   time.Duration `envconfig:"CBC_TIMEOUT" default:"10s"`
	UserAgent string        `envconfig:"CBC_USER_AGENT" default:"BroadcastDispatch/1.0"`
}

// Endpoints returns the (primary, failover) endpoint pair for the named
// operator. Unknown operators return empty strings; the client registry
// rejects those before any transport is constructed.
func (c CBCConfig) Endpoints(provider string) (primary, failover string) {
	switch provider {
	case "ee":
		return c.EEPrimary, c.EESecondary
	case "o2":
		return c.O2Primary, c.O2Secondary
	case "three":
		return c.ThreePrimary, c.ThreeSecondary
	case "vodafone":
		return c.VodafonePrimary, c.VodafoneSecondary
	}
	return "", ""
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
