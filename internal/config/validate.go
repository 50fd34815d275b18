package config

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"relquery/internal/catalog"
	"relquery/internal/from"
	"relquery/internal/naming"
	"relquery/internal/sqlutil"
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

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	validateCatalog(result, c.Catalog)
	c.Composer.validate(result, c.Database.Driver)
	validateNamingConfig(result, c.Naming)
	c.Observability.validate(result)

	if c.Selector.Enabled && strings.ContainsAny(c.Selector.Table, " \t;`\"") {
		result.addError("selector.table", fmt.Sprintf("invalid table name %q", c.Selector.Table), "")
	}
	return result
}

// EffectiveDialect returns the composer dialect, following the driver when unset.
func (c *Config) EffectiveDialect() (sqlutil.Dialect, error) {
	name := c.Composer.Dialect
	if strings.TrimSpace(name) == "" {
		name = "mysql"
		if c.Database.Driver == DriverSQLite {
			name = "sqlite"
		}
	}
	return sqlutil.LookupDialect(name)
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	switch d.Driver {
	case DriverMySQL:
	case DriverSQLite:
		if strings.TrimSpace(d.ConnectionString) == "" && strings.TrimSpace(d.Database) == "" {
			result.addError("database.dsn", "sqlite3 requires a database file", "set database.dsn to a path or file: URI")
		}
		d.Pool.validate(result)
		return
	default:
		result.addError("database.driver", fmt.Sprintf("unsupported driver %q", d.Driver), "valid values are: mysql, sqlite3")
		return
	}

	// Port range validation (only if not using connection string)
	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
	}

	d.TLS.validate(result)
	d.Pool.validate(result)

	for i, stmt := range d.SessionInit {
		if strings.TrimSpace(stmt) == "" {
			result.addError(fmt.Sprintf("database.session_init[%d]", i), "statement cannot be empty", "")
		}
	}

	effectiveDatabase, err := resolveEffectiveDatabaseName(d.Database, d.ConnectionString)
	if err != nil {
		switch {
		case strings.HasPrefix(err.Error(), "database.dsn"):
			result.addError("database.dsn", err.Error(), "set a valid MySQL DSN in database.dsn/database.dsn_file")
		case strings.Contains(err.Error(), "mismatch"):
			result.addError("database.database", err.Error(), "either remove database.database or set it to match the DSN database")
		default:
			result.addError("database.database", err.Error(), "set database.database or include a /database in database.dsn")
		}
		return
	}
	d.Database = effectiveDatabase
}

func (p *PoolConfig) validate(result *ValidationResult) {
	if p.MaxOpen < 0 {
		result.addError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if p.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if p.MaxIdle > p.MaxOpen && p.MaxOpen > 0 {
		result.addWarning("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.addError("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode), "valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.addError("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes", "set ca_file to the CA certificate path")
	}
	if (t.CertFile != "") != (t.KeyFile != "") {
		result.addError("database.tls.cert_file", "both cert_file and key_file must be specified for client certificate authentication", "provide both cert_file and key_file, or neither")
	}
	if t.Mode == "skip-verify" {
		result.addWarning("database.tls.mode", "skip-verify mode does not verify server certificates", "use verify-ca or verify-full in production")
	}
}

func (c *ComposerConfig) validate(result *ValidationResult, driver string) {
	if strings.TrimSpace(c.Dialect) != "" {
		if _, err := sqlutil.LookupDialect(c.Dialect); err != nil {
			result.addError("composer.dialect", err.Error(), "valid values are: mysql, postgres, sqlite, ansi")
		} else if driver == DriverSQLite && strings.EqualFold(c.Dialect, "mysql") {
			result.addWarning("composer.dialect", "mysql quoting against a sqlite3 database", "sqlite accepts backticks but sqlite is the native dialect")
		}
	}
	if _, err := from.ParseJoinType(c.DefaultJoin); err != nil {
		result.addError("composer.default_join", err.Error(), "valid values are: left, inner, right")
	}
	if c.RelocationDepth < 0 {
		result.addError("composer.relocation_depth", "relocation_depth cannot be negative", "")
	}
	if c.MaxRevisits < 0 {
		result.addError("composer.max_revisits", "max_revisits cannot be negative", "")
	}
	if c.MaxDepth < 0 {
		result.addError("composer.max_depth", "max_depth cannot be negative", "")
	}
}

func validateCatalog(result *ValidationResult, cfg CatalogConfig) {
	validateFilters(result, cfg.Filters)
}

func validateFilters(result *ValidationResult, filters catalog.FilterConfig) {
	validateGlobList(result, "catalog.filters.allow_tables", filters.AllowTables)
	validateGlobList(result, "catalog.filters.deny_tables", filters.DenyTables)
	validatePatternMap(result, "catalog.filters.allow_columns", filters.AllowColumns)
	validatePatternMap(result, "catalog.filters.deny_columns", filters.DenyColumns)
}

func validateNamingConfig(result *ValidationResult, cfg naming.Config) {
	for plural, singular := range cfg.SingularOverrides {
		if strings.TrimSpace(singular) == "" {
			result.addError("naming.singular_overrides", fmt.Sprintf("singular override for %q cannot be empty", plural), "")
		}
	}
	for table, prefix := range cfg.AliasOverrides {
		if !validAliasPrefix(prefix) {
			result.addError("naming.alias_overrides", fmt.Sprintf("alias prefix %q for table %q must be lowercase letters", prefix, table), "")
		}
	}
}

func validAliasPrefix(prefix string) bool {
	if prefix == "" {
		return false
	}
	for _, r := range prefix {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func validatePatternMap(result *ValidationResult, field string, patternMap map[string][]string) {
	for tablePattern, columnPatterns := range patternMap {
		if strings.TrimSpace(tablePattern) == "" {
			result.addError(field, "table pattern cannot be empty", "")
			continue
		}
		if _, err := path.Match(strings.ToLower(tablePattern), "x"); err != nil {
			result.addError(field, fmt.Sprintf("invalid table glob pattern %q: %v", tablePattern, err), "")
		}
		for _, columnPattern := range columnPatterns {
			if strings.TrimSpace(columnPattern) == "" {
				result.addError(field, fmt.Sprintf("column pattern for table pattern %q cannot be empty", tablePattern), "")
				continue
			}
			if _, err := path.Match(strings.ToLower(columnPattern), "x"); err != nil {
				result.addError(field, fmt.Sprintf("invalid column glob pattern %q for table pattern %q: %v", columnPattern, tablePattern, err), "")
			}
		}
	}
}

func validateGlobList(result *ValidationResult, field string, patterns []string) {
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			result.addError(field, "glob pattern cannot be empty", "")
			continue
		}
		if _, err := path.Match(strings.ToLower(pattern), "x"); err != nil {
			result.addError(field, fmt.Sprintf("invalid glob pattern %q: %v", pattern, err), "")
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio", fmt.Sprintf("ratio %v is outside 0.0-1.0", o.TraceSampleRatio), "")
	}
	if o.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(o.MetricsListen); err != nil {
			result.addError("observability.metrics_listen", fmt.Sprintf("invalid listen address %q", o.MetricsListen), "use host:port or :port")
		}
	}

	o.OTLP.validate("observability.otlp", result)
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
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}

	if o.RetryMaxAttempts < 0 {
		result.addError(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
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
