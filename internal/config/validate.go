package config

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"gqlorm/internal/model"
	"gqlorm/internal/schemafilter"
	"gqlorm/internal/sqlutil"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Server.validate(result)
	c.Optimizer.validate(result)
	c.Observability.validate(result)
	validateSchemaFilters(result, c.SchemaFilters)

	return result
}

func validateSchemaFilters(result *ValidationResult, filters schemafilter.Config) {
	validateGlobList(result, "schema_filters.allow_tables", filters.AllowTables)
	validateGlobList(result, "schema_filters.deny_tables", filters.DenyTables)
	validateGlobList(result, "schema_filters.deny_mutation_tables", filters.DenyMutationTables)
	validatePatternMap(result, "schema_filters.allow_columns", filters.AllowColumns)
	validatePatternMap(result, "schema_filters.deny_columns", filters.DenyColumns)
	validatePatternMap(result, "schema_filters.deny_mutation_columns", filters.DenyMutationColumns)
}

func validatePatternMap(result *ValidationResult, field string, patternMap map[string][]string) {
	for tablePattern, columnPatterns := range patternMap {
		if strings.TrimSpace(tablePattern) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "table pattern cannot be empty",
			})
			continue
		}
		if _, err := path.Match(strings.ToLower(tablePattern), "probe"); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid table glob pattern %q: %v", tablePattern, err),
			})
		}
		for _, columnPattern := range columnPatterns {
			if strings.TrimSpace(columnPattern) == "" {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("column pattern for table pattern %q cannot be empty", tablePattern),
				})
				continue
			}
			if _, err := path.Match(strings.ToLower(columnPattern), "probe"); err != nil {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("invalid column glob pattern %q for table pattern %q: %v", columnPattern, tablePattern, err),
				})
			}
		}
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	dialect, err := d.Dialect()
	if err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.driver",
			Message: err.Error(),
			Hint:    "valid values are: mysql, postgres, sqlite",
		})
		return
	}

	// Port range validation (only for networked drivers without a connection string)
	if dialect.Name != sqlutil.SQLite.Name && d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port),
		})
	}

	if dialect.Name == sqlutil.SQLite.Name && d.TLS.Mode != "" && d.TLS.Mode != "off" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.tls.mode",
			Message: "TLS settings are ignored by the sqlite driver",
		})
	} else {
		d.TLS.validate(result)
	}

	if d.Pool.MaxOpen < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_open",
			Message: "max_open cannot be negative",
		})
	}
	if d.Pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_idle",
			Message: "max_idle cannot be negative",
		})
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.pool.max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}

	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval is greater than connection_timeout",
			Hint:    "only one connection attempt will be made",
		})
	}
	if d.ConnectionRetryInterval < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval cannot be negative",
		})
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval must be greater than 0 when connection_timeout is set",
			Hint:    "set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
		})
	}
	if d.ConnectionTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_timeout",
			Message: "connection_timeout cannot be negative",
		})
	}

	effectiveDatabase, _, err := d.EffectiveDatabaseName()
	if err != nil {
		switch {
		case strings.HasPrefix(err.Error(), "database.dsn"):
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.dsn",
				Message: err.Error(),
				Hint:    fmt.Sprintf("set a valid %s DSN in database.dsn/database.dsn_file", dialect.Name),
			})
		case strings.Contains(err.Error(), "mismatch"):
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: err.Error(),
				Hint:    "either remove database.database or set it to match the DSN database",
			})
		default:
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: err.Error(),
				Hint:    "set database.database or include a /database in database.dsn/database.dsn_file",
			})
		}
		return
	}

	// Keep runtime behavior deterministic for callers that consume Database.Database.
	if dialect.Name != sqlutil.SQLite.Name {
		d.Database = effectiveDatabase
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	// Mode validation
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.mode",
			Message: fmt.Sprintf("invalid TLS mode %q", t.Mode),
			Hint:    "valid values are: off, skip-verify, verify-ca, verify-full",
		})
	}

	// CA file is required for verify-ca and verify-full
		if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.ca_file",
			Message: "CA file is required for verify-ca and verify-full modes",
			Hint:    "set ca_file to specify the CA certificate",
		})
	}

	// Client cert and key must both be specified or neither
	if (t.CertFile != "" && t.KeyFile == "") || (t.CertFile == "" && t.KeyFile != "") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.cert_file",
			Message: "both cert_file and key_file must be specified for client certificate authentication",
			Hint:    "provide both cert_file and key_file, or neither",
		})
	}

	// Warn about skip-verify in non-empty mode
	if t.Mode == "skip-verify" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.tls.mode",
			Message: "skip-verify mode does not verify server certificates",
			Hint:    "use verify-ca or verify-full in production",
		})
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port),
		})
	}

	if s.GraphQLMaxDepth < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.graphql_max_depth",
			Message: "graphql_max_depth cannot be negative",
		})
	}
	if s.GraphQLMaxLimit < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.graphql_max_limit",
			Message: "graphql_max_limit cannot be negative",
		})
	}
	if s.SchemaRefreshMinInterval < 0 || s.SchemaRefreshMaxInterval < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.schema_refresh_min_interval",
			Message: "schema refresh intervals cannot be negative",
		})
	}
	if s.SchemaRefreshMinInterval > 0 && s.SchemaRefreshMaxInterval < s.SchemaRefreshMinInterval {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.schema_refresh_max_interval",
			Message: "schema_refresh_max_interval is less than schema_refresh_min_interval",
			Hint:    "the poll interval will stay at schema_refresh_min_interval",
		})
	}

	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.cors_allowed_origins",
				Message: "CORS enabled but no allowed origins configured",
				Hint:    "set cors_allowed_origins or disable CORS",
			})
		}

		hasWildcard := false
		for _, origin := range s.CORSAllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				hasWildcard = true
				break
			}
		}

		if hasWildcard && s.CORSAllowCredentials {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.cors_allowed_origins",
				Message: "wildcard origin (*) cannot be used with credentials",
				Hint:    "use specific origins with credentials, or wildcard without credentials",
			})
		}

		if hasWildcard {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "server.cors_allowed_origins",
				Message: "CORS wildcard origin enabled",
				Hint:    "use specific origins in production for better security",
			})
		}
	}
}

func (o *OptimizerConfig) validate(result *ValidationResult) {
	if _, err := o.Gate(); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "optimizer.enabled",
			Message: err.Error(),
			Hint:    "use an unquoted true or false",
		})
	}
	if o.MaxInClause < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "optimizer.max_in_clause",
			Message: "max_in_clause cannot be negative",
		})
	}

	seenHints := map[string]bool{}
	for i, h := range o.Hints {
		field := fmt.Sprintf("optimizer.hints[%d]", i)
		key := strings.TrimSpace(h.Field)
		if key == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".field",
				Message: "hint target cannot be empty",
				Hint:    `use "Type.field" or "Type"`,
			})
			continue
		}
		if strings.Count(key, ".") > 1 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".field",
				Message: fmt.Sprintf("invalid hint target %q", key),
				Hint:    `use "Type.field" or "Type"`,
			})
		}
		if seenHints[key] {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   field + ".field",
				Message: fmt.Sprintf("hints for %s are declared more than once", key),
				Hint:    "the declarations are merged",
			})
		}
		seenHints[key] = true
		for _, a := range h.Annotate {
			if strings.TrimSpace(a.Name) == "" || strings.TrimSpace(a.Expression) == "" {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field + ".annotate",
					Message: "annotation name and expression cannot be empty",
				})
			}
		}
	}

	for i, c := range o.Computed {
		field := fmt.Sprintf("optimizer.computed[%d]", i)
		if c.Type == "" || c.Name == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "computed fields need a type and a name",
			})
		}
		if strings.TrimSpace(c.Expression) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".expression",
				Message: fmt.Sprintf("computed field %s.%s has no expression", c.Type, c.Name),
				Hint:    `write an SQL template such as "{price} * {quantity}"`,
			})
		}
		if c.ValueType != "" && !model.Type(c.ValueType).Valid() {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".value_type",
				Message: fmt.Sprintf("unknown value type %q", c.ValueType),
				Hint:    "valid values are: int, float, bool, string, time, json",
			})
		}
	}

	seenFilters := map[string]bool{}
	for i, f := range o.BaseFilters {
		field := fmt.Sprintf("optimizer.base_filters[%d]", i)
		if f.Type == "" {
			result.Errors = append(result.Errors, ValidationError{Field: field + ".type", Message: "type cannot be empty"})
			continue
		}
		if seenFilters[f.Type] {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".type",
				Message: fmt.Sprintf("duplicate base filter for %s", f.Type),
				Hint:    "combine the conditions with AND in one filter",
			})
		}
		seenFilters[f.Type] = true
	}

	for i, p := range o.Polymorphic {
		field := fmt.Sprintf("optimizer.polymorphic[%d]", i)
		strategy, err := model.ParsePolymorphicStrategy(p.Strategy)
		if err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".strategy",
				Message: err.Error(),
				Hint:    "valid values are: none, subclass_tables, type_resolver",
			})
		}
		if p.Model == "" || p.Discriminator == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "polymorphic declarations need a model and a discriminator",
			})
		}
		if len(p.Subtypes) == 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".subtypes",
				Message: fmt.Sprintf("%s declares no subtypes", p.Model),
			})
		}
		if p.ForcePrefetch && strategy != model.TypeResolver {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   field + ".force_prefetch",
				Message: "force_prefetch only affects the type_resolver strategy",
			})
		}
		if err == nil && strategy == model.NoPolymorphicFetch {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   field + ".strategy",
				Message: fmt.Sprintf("%s has no fetch strategy; its subtrees are not optimized", p.Model),
			})
		}
		values := map[string]bool{}
		for j, st := range p.Subtypes {
			if values[st.Value] {
				result.Errors = append(result.Errors, ValidationError{
					Field:   fmt.Sprintf("%s.subtypes[%d].value", field, j),
					Message: fmt.Sprintf("discriminator value %q is used twice", st.Value),
				})
			}
			values[st.Value] = true
			if st.Model != "" && strategy != model.SubclassTables {
				result.Errors = append(result.Errors, ValidationError{
					Field:   fmt.Sprintf("%s.subtypes[%d].model", field, j),
					Message: "a backing model needs the subclass_tables strategy",
				})
			}
			if st.Model == "" && st.Name == "" {
				result.Errors = append(result.Errors, ValidationError{
					Field:   fmt.Sprintf("%s.subtypes[%d]", field, j),
					Message: "subtypes need a name or a backing model",
				})
			}
		}
	}

	for _, f := range o.DeniedFields {
		if !strings.Contains(f, ".") {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "optimizer.denied_fields",
				Message: fmt.Sprintf("invalid denied field %q", f),
				Hint:    `use "Type.field"`,
			})
		}
	}
	for _, r := range o.DeferredRelations {
		if strings.Count(r, ".") != 1 || strings.HasSuffix(r, ".") || strings.HasPrefix(r, ".") {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "optimizer.deferred_relations",
				Message: fmt.Sprintf("invalid deferred relation %q", r),
				Hint:    `use "Type.relation"`,
			})
		}
	}
}

func validateGlobList(result *ValidationResult, field string, patterns []string) {
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "glob pattern cannot be empty",
			})
			continue
		}
		if _, err := path.Match(strings.ToLower(pattern), "probe"); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid glob pattern %q: %v", pattern, err),
			})
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	// Log level validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	// Log format validation
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text",
		})
	}

	// OTLP protocol validation
	o.OTLP.validate("observability.otlp", result)

	// Signal-specific OTLP validation
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if o.Protocol == "http/protobuf" {
		if !validOTLPEndpoint(o.Endpoint) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   prefix + ".endpoint",
				Message: fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
				Hint:    "use host:port or a full URL",
			})
		}
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}

	if o.RetryMaxAttempts < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".retry_max_attempts",
			Message: "retry_max_attempts cannot be negative",
		})
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
