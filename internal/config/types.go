package config

import (
	"time"

	"gqlorm/internal/naming"
	"gqlorm/internal/schemafilter"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Optimizer     OptimizerConfig     `mapstructure:"optimizer"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	SchemaFilters schemafilter.Config `mapstructure:"schema_filters"`
	Naming        naming.Config       `mapstructure:"naming"`
}

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS/SSL configuration for database connections.
// Supports both server verification and client certificate authentication (mTLS).
type DatabaseTLSConfig struct {
	// Mode controls TLS behavior:
	//   - "off": No TLS (plaintext connection)
	//   - "skip-verify": TLS without server certificate verification (insecure)
	//   - "verify-ca": TLS with CA verification but no hostname check
	//   - "verify-full": TLS with full verification including hostname
	Mode string `mapstructure:"mode"`

	// CAFile is the path to the CA certificate for server verification.
	CAFile string `mapstructure:"ca_file"`
	// CertFile is the path to the client certificate for mTLS authentication.
	CertFile string `mapstructure:"cert_file"`
	// KeyFile is the path to the client private key for mTLS authentication.
	KeyFile string `mapstructure:"key_file"`

	// ServerName overrides the server name used for TLS verification.
	// If empty, the database host is used.
	ServerName string `mapstructure:"server_name"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// Driver selects the SQL dialect and database/sql driver: mysql, postgres
	// or sqlite.
	Driver string `mapstructure:"driver"`

	// ConnectionString is a complete driver-specific data source name. For
	// sqlite it is the database file path or a file: URI.
	// When set, overrides Host/Port/User/Password/Database fields.
	// Configured via "dsn" in YAML or GQLORM_DATABASE_DSN env var.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN (for secrets management).
	// Supports "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	// Discrete connection fields (used when DSN is not set)
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`
	// Schema is the Postgres schema to introspect. Defaults to "public".
	Schema string `mapstructure:"schema"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for DB on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port                 int           `mapstructure:"port"`
	GraphQLMaxDepth      int           `mapstructure:"graphql_max_depth"`
	GraphQLMaxLimit      int           `mapstructure:"graphql_max_limit"`
	GraphiQLEnabled      bool          `mapstructure:"graphiql_enabled"`
	CORSEnabled          bool          `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string      `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string      `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string      `mapstructure:"cors_allowed_headers"`
	CORSExposeHeaders    []string      `mapstructure:"cors_expose_headers"`
	CORSAllowCredentials bool          `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int           `mapstructure:"cors_max_age"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout   time.Duration `mapstructure:"health_check_timeout"`

	// SchemaRefreshMinInterval is the first poll delay of the schema refresh
	// loop. Zero disables polling.
	SchemaRefreshMinInterval time.Duration `mapstructure:"schema_refresh_min_interval"`
	// SchemaRefreshMaxInterval caps the poll delay while the schema is
	// unchanged.
	SchemaRefreshMaxInterval time.Duration `mapstructure:"schema_refresh_max_interval"`
	// SchemaReloadEnabled mounts POST /admin/reload-schema. The endpoint is
	// unauthenticated and belongs behind a private listener or proxy.
	SchemaReloadEnabled bool `mapstructure:"schema_reload_enabled"`
}

// OptimizerConfig holds the query optimizer settings.
type OptimizerConfig struct {
	// Enabled is the global execution gate. It is kept untyped so that a
	// non-boolean value is reported by Validate instead of being coerced.
	Enabled      any  `mapstructure:"enabled"`
	ParallelWalk bool `mapstructure:"parallel_walk"`
	// MaxInClause caps the number of keys per prefetch IN list.
	MaxInClause int `mapstructure:"max_in_clause"`

	Hints       []HintConfig        `mapstructure:"hints"`
	Computed    []ComputedConfig    `mapstructure:"computed"`
	BaseFilters []BaseFilterConfig  `mapstructure:"base_filters"`
	Polymorphic []PolymorphicConfig `mapstructure:"polymorphic"`
	// DeniedFields lists "Type.field" entries refused on every resolution.
	DeniedFields []string `mapstructure:"denied_fields"`
	// DeferredRelations lists "Type.relation" to-one relations fetched with
	// their own query instead of a join.
	DeferredRelations []string `mapstructure:"deferred_relations"`
}

// HintConfig declares optimization hints for "Type.field", or for "Type"
// wherever it is selected.
type HintConfig struct {
	Field           string   `mapstructure:"field"`
	Only            []string `mapstructure:"only"`
	SelectRelated   []string `mapstructure:"select_related"`
	PrefetchRelated []string `mapstructure:"prefetch_related"`
	// Annotate is a list rather than a map because viper lowercases map keys.
	Annotate                []AnnotationConfig `mapstructure:"annotate"`
	DisableOptimization     bool               `mapstructure:"disable_optimization"`
	DisableAutoOptimization bool               `mapstructure:"disable_auto_optimization"`
}

// AnnotationConfig names an SQL template such as "{price} * {quantity}".
type AnnotationConfig struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
}

// ComputedConfig adds a field computed by an SQL template.
type ComputedConfig struct {
	Type       string   `mapstructure:"type"`
	Name       string   `mapstructure:"name"`
	ValueType  string   `mapstructure:"value_type"`
	Expression string   `mapstructure:"expression"`
	Only       []string `mapstructure:"only"`
}

// BaseFilterConfig narrows every queryset of a type. Where uses the same
// shape as the GraphQL where argument.
type BaseFilterConfig struct {
	Type  string         `mapstructure:"type"`
	Where map[string]any `mapstructure:"where"`
}

// PolymorphicConfig turns an introspected model into the base of a
// polymorphic hierarchy.
type PolymorphicConfig struct {
	Model         string          `mapstructure:"model"`
	Discriminator string          `mapstructure:"discriminator"`
	Strategy      string          `mapstructure:"strategy"` // "none", "subclass_tables", "type_resolver"
	ForcePrefetch bool            `mapstructure:"force_prefetch"`
	Subtypes      []SubtypeConfig `mapstructure:"subtypes"`
}

// SubtypeConfig describes one concrete subtype.
type SubtypeConfig struct {
	Name   string   `mapstructure:"name"`
	Value  string   `mapstructure:"value"`
	Model  string   `mapstructure:"model"`
	Fields []string `mapstructure:"fields"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLPConfigs merges signal-specific config over global defaults
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base

	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	// A present override always carries its own Insecure value.
	result.Insecure = override.Insecure

	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}

	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}

	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}

	return result
}
