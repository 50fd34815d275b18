package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("relquery", pflag.ContinueOnError)
	DefineFlags(fs)
	fs.String("table", "", "command flag")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "basic DSN",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Password: "password",
				Database: "test",
			},
			expected: "root:password@tcp(localhost:4000)/test?parseTime=true",
		},
		{
			name: "with special characters in password",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "db.example.com",
				Port:     3306,
				User:     "admin",
				Password: "p@ss:w0rd!",
				Database: "mydb",
			},
			expected: "admin:p@ss:w0rd!@tcp(db.example.com:3306)/mydb?parseTime=true",
		},
		{
			name: "connection string gains parseTime",
			config: DatabaseConfig{
				Driver:           DriverMySQL,
				ConnectionString: "app:secret@tcp(db:4000)/shop",
			},
			expected: "app:secret@tcp(db:4000)/shop?parseTime=true",
		},
		{
			name: "sqlite file",
			config: DatabaseConfig{
				Driver:           DriverSQLite,
				ConnectionString: "file:shop.db?_foreign_keys=on",
			},
			expected: "file:shop.db?_foreign_keys=on",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.config.DSN()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDatabaseConfig_DSNTLS(t *testing.T) {
	cfg := DatabaseConfig{Driver: DriverMySQL, Host: "h", Port: 4000, User: "u", Database: "d"}

	cfg.TLS.Mode = "skip-verify"
	dsn, err := cfg.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "tls=skip-verify")

	cfg.TLS.Mode = "verify-full"
	dsn, err = cfg.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "tls="+tlsConfigName)

	cfg.ConnectionString = "u@tcp(h:4000)/d?tls=preferred"
	dsn, err = cfg.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "tls=preferred")
}

func TestDatabaseConfig_DSNInvalid(t *testing.T) {
	cfg := DatabaseConfig{Driver: DriverMySQL, ConnectionString: "not a dsn"}
	_, err := cfg.DSN()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestResolveEffectiveDatabaseName(t *testing.T) {
	tests := []struct {
		name     string
		database string
		dsn      string
		want     string
		wantErr  string
	}{
		{name: "explicit", database: "shop", want: "shop"},
		{name: "from dsn", dsn: "u@tcp(h:1)/sales", want: "sales"},
		{name: "matching", database: "sales", dsn: "u@tcp(h:1)/sales", want: "sales"},
		{name: "mismatch", database: "shop", dsn: "u@tcp(h:1)/sales", wantErr: "mismatch"},
		{name: "missing", wantErr: "no database configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveEffectiveDatabaseName(tt.database, tt.dsn)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, 4000, cfg.Database.Port)
	assert.Equal(t, 5*time.Minute, cfg.Database.Pool.MaxLifetime)
	assert.Equal(t, "left", cfg.Composer.DefaultJoin)
	assert.Equal(t, 3, cfg.Composer.RelocationDepth)
	assert.True(t, cfg.Replay.Enabled)
	assert.False(t, cfg.Selector.Enabled)
	assert.Equal(t, "relquery", cfg.Observability.ServiceName)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
}

// TestLoad_WithEnvVars tests configuration loading from environment variables
func TestLoad_WithEnvVars(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RELQ_DATABASE_HOST", "envhost")
	t.Setenv("RELQ_DATABASE_PORT", "5000")
	t.Setenv("RELQ_COMPOSER_STRICT", "true")
	t.Setenv("RELQ_DATABASE_SESSION_INIT", "SET tidb_snapshot = '', SET autocommit = 1")

	cfg, err := Load(newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "envhost", cfg.Database.Host)
	assert.Equal(t, 5000, cfg.Database.Port)
	assert.True(t, cfg.Composer.Strict)
	assert.Equal(t, []string{"SET tidb_snapshot = ''", "SET autocommit = 1"}, cfg.Database.SessionInit)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	file := filepath.Join(dir, "relquery.yaml")
	require.NoError(t, os.WriteFile(file, []byte(strings.Join([]string{
		"database:",
		"  host: filehost",
		"  user: fileuser",
		"composer:",
		"  dialect: postgres",
		"naming:",
		"  alias_overrides:",
		"    order_items: li",
	}, "\n")), 0o600))
	t.Setenv("RELQ_DATABASE_USER", "envuser")

	cfg, err := Load(newFlags(t, "--database.host=flaghost", "--table=orders"))
	require.NoError(t, err)

	assert.Equal(t, "flaghost", cfg.Database.Host, "flags beat file")
	assert.Equal(t, "envuser", cfg.Database.User, "env beats file")
	assert.Equal(t, "postgres", cfg.Composer.Dialect)
	assert.Equal(t, map[string]string{"order_items": "li"}, cfg.Naming.AliasOverrides)
}

func TestLoad_ExplicitConfigMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(newFlags(t, "--config", "does-not-exist.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist.yaml")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relquery.yaml"), []byte("server:\n  port: 8080\n"), 0o600))

	_, err := Load(newFlags(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")
}

func TestLoad_SecretFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	pw := filepath.Join(dir, "pw")
	require.NoError(t, os.WriteFile(pw, []byte("s3cret\n"), 0o600))

	cfg, err := Load(newFlags(t, "--database.password_file", pw))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func TestLoad_DSNFromStdin(t *testing.T) {
	t.Chdir(t.TempDir())
	orig := stdin
	t.Cleanup(func() { stdin = orig })
	stdin = strings.NewReader("u:p@tcp(db:4000)/shop\n")

	cfg, err := Load(newFlags(t, "--database.dsn_file=@-"))
	require.NoError(t, err)
	assert.Equal(t, "u:p@tcp(db:4000)/shop", cfg.Database.ConnectionString)
}

func TestLoad_RejectsMultipleStdinSources(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(newFlags(t, "--database.dsn_file=@-", "--database.password_file=@-"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only one @- source is allowed")
}

func validConfig() Config {
	return Config{
		Database: DatabaseConfig{Driver: DriverMySQL, Host: "localhost", Port: 4000, Database: "shop"},
		Composer: ComposerConfig{DefaultJoin: "left", RelocationDepth: 3},
		Observability: ObservabilityConfig{
			Logging:          LoggingConfig{Level: "info", Format: "json"},
			TraceSampleRatio: 1,
			OTLP:             OTLPConfig{Protocol: "grpc", Compression: "gzip"},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "valid"},
		{name: "driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantField: "database.driver"},
		{name: "port", mutate: func(c *Config) { c.Database.Port = 0 }, wantField: "database.port"},
		{name: "no database", mutate: func(c *Config) { c.Database.Database = "" }, wantField: "database.database"},
		{name: "tls ca", mutate: func(c *Config) { c.Database.TLS.Mode = "verify-ca" }, wantField: "database.tls.ca_file"},
		{name: "dialect", mutate: func(c *Config) { c.Composer.Dialect = "oracle" }, wantField: "composer.dialect"},
		{name: "join", mutate: func(c *Config) { c.Composer.DefaultJoin = "cross" }, wantField: "composer.default_join"},
		{name: "relocation", mutate: func(c *Config) { c.Composer.RelocationDepth = -1 }, wantField: "composer.relocation_depth"},
		{name: "filter glob", mutate: func(c *Config) { c.Catalog.Filters.DenyTables = []string{"["} }, wantField: "catalog.filters.deny_tables"},
		{name: "alias prefix", mutate: func(c *Config) { c.Naming.AliasOverrides = map[string]string{"orders": "O1"} }, wantField: "naming.alias_overrides"},
		{name: "log level", mutate: func(c *Config) { c.Observability.Logging.Level = "trace" }, wantField: "observability.logging.level"},
		{name: "listen", mutate: func(c *Config) { c.Observability.MetricsListen = "9090" }, wantField: "observability.metrics_listen"},
		{name: "selector table", mutate: func(c *Config) {
			c.Selector = SelectorConfig{Enabled: true, Table: "usage; DROP"}
		}, wantField: "selector.table"},
		{name: "sqlite file", mutate: func(c *Config) {
			c.Database = DatabaseConfig{Driver: DriverSQLite}
		}, wantField: "database.dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			result := cfg.Validate()
			if tt.wantField == "" {
				assert.False(t, result.HasErrors(), result.Error())
				return
			}
			require.True(t, result.HasErrors())
			assert.Contains(t, result.Error(), tt.wantField)
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	cfg := validConfig()
	cfg.Database.TLS.Mode = "skip-verify"
	cfg.Database.Pool = PoolConfig{MaxOpen: 2, MaxIdle: 4}

	result := cfg.Validate()
	assert.False(t, result.HasErrors())
	assert.Len(t, result.Warnings, 2)
}

func TestEffectiveDialect(t *testing.T) {
	cfg := validConfig()
	d, err := cfg.EffectiveDialect()
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name)

	cfg.Database.Driver = DriverSQLite
	d, err = cfg.EffectiveDialect()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name)

	cfg.Composer.Dialect = "postgres"
	d, err = cfg.EffectiveDialect()
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name)
}

func TestObservabilityConfig_SignalOverrides(t *testing.T) {
	o := ObservabilityConfig{
		OTLP:   OTLPConfig{Endpoint: "collector:4317", Protocol: "grpc", Headers: map[string]string{"a": "1"}},
		Traces: &OTLPConfig{Endpoint: "traces:4318", Protocol: "http/protobuf", Headers: map[string]string{"b": "2"}},
	}
	traces := o.GetTracesConfig()
	assert.Equal(t, "traces:4318", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, traces.Headers)
	assert.Equal(t, "collector:4317", o.GetLogsConfig().Endpoint)
}
