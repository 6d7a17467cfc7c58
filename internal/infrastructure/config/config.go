package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Log            LogConfig
	HTTP           HTTPConfig
	Ledger         LedgerConfig
	Reconciliation ReconciliationConfig
	Telemetry      TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	LogLevel        string // silent, error, warn, info
	SlowThreshold   time.Duration
	// AutoMigrate applies the embedded migrations on server start
	AutoMigrate bool
}

// RedisConfig holds Redis connection settings. Redis backs the distributed
// verification lock; without it locks are process-local.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int
	// MaxBatchSize bounds the number of deliveries in one batch request
	MaxBatchSize int
	// LedgerRateLimit caps requests per client and window on the endpoints
	// that fan out to ledgers. Zero disables the limit.
	LedgerRateLimit  int
	LedgerRateWindow time.Duration
}

// LedgerConfig holds invoice ledger client settings
type LedgerConfig struct {
	Timeout          time.Duration
	PageLimit        int
	MaxResponseBytes int64
}

// ReconciliationConfig holds matching, caching and scheduling settings
type ReconciliationConfig struct {
	// Enabled turns the periodic scheduler on
	Enabled         bool
	Interval        time.Duration
	RunLimit        int
	HistorySize     int
	BatchSize       int
	BatchPause      time.Duration
	CacheTTL        time.Duration
	CleanupInterval time.Duration
	AmountTolerance float64
	DateWindow      time.Duration
	LockTTL         time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string  // e.g. "localhost:4317"
	SamplingRatio     float64 // 0.0-1.0
	ServiceName       string
	Insecure          bool // development only
	MetricsInterval   time.Duration
	ExportLogs        bool // bridge zap records to the collector
	TraceDB           bool // otelgorm spans for repository queries
}

// Load reads config.toml from the working directory or /app, then applies
// ERP_-prefixed environment overrides (ERP_RECONCILIATION_INTERVAL=5m).
func Load() (*Config, error) {
	return LoadFrom(".", "/app")
}

// LoadFrom is Load with explicit search paths
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetDuration("database.conn_max_idle_time"),
			LogLevel:        v.GetString("database.log_level"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBatchSize:     v.GetInt("http.max_batch_size"),
			LedgerRateLimit:  v.GetInt("http.ledger_rate_limit"),
			LedgerRateWindow: v.GetDuration("http.ledger_rate_window"),
		},
		Ledger: LedgerConfig{
			Timeout:          v.GetDuration("ledger.timeout"),
			PageLimit:        v.GetInt("ledger.page_limit"),
			MaxResponseBytes: v.GetInt64("ledger.max_response_bytes"),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:         v.GetBool("reconciliation.enabled"),
			Interval:        v.GetDuration("reconciliation.interval"),
			RunLimit:        v.GetInt("reconciliation.run_limit"),
			HistorySize:     v.GetInt("reconciliation.history_size"),
			BatchSize:       v.GetInt("reconciliation.batch_size"),
			BatchPause:      v.GetDuration("reconciliation.batch_pause"),
			CacheTTL:        v.GetDuration("reconciliation.cache_ttl"),
			CleanupInterval: v.GetDuration("reconciliation.cleanup_interval"),
			AmountTolerance: v.GetFloat64("reconciliation.amount_tolerance"),
			DateWindow:      v.GetDuration("reconciliation.date_window"),
			LockTTL:         v.GetDuration("reconciliation.lock_ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			ExportLogs:        v.GetBool("telemetry.export_logs"),
			TraceDB:           v.GetBool("telemetry.trace_db"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "erp-reconciliation"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "erp"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30 * time.Minute
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Database.SlowThreshold == 0 {
		cfg.Database.SlowThreshold = 200 * time.Millisecond
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBatchSize == 0 {
		cfg.HTTP.MaxBatchSize = 100
	}
	if cfg.HTTP.LedgerRateWindow == 0 {
		cfg.HTTP.LedgerRateWindow = time.Minute
	}

	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = 10 * time.Second
	}
	if cfg.Ledger.PageLimit == 0 {
		cfg.Ledger.PageLimit = 100
	}
	if cfg.Ledger.MaxResponseBytes == 0 {
		cfg.Ledger.MaxResponseBytes = 10 << 20
	}

	r := &cfg.Reconciliation
	if r.Interval == 0 {
		r.Interval = 20 * time.Minute
	}
	if r.RunLimit == 0 {
		r.RunLimit = 500
	}
	if r.HistorySize == 0 {
		r.HistorySize = 100
	}
	if r.BatchSize == 0 {
		r.BatchSize = 5
	}
	if r.BatchPause == 0 {
		r.BatchPause = 500 * time.Millisecond
	}
	if r.CacheTTL == 0 {
		r.CacheTTL = 24 * time.Hour
	}
	if r.CleanupInterval == 0 {
		r.CleanupInterval = time.Hour
	}
	if r.AmountTolerance == 0 {
		r.AmountTolerance = 0.01
	}
	if r.DateWindow == 0 {
		r.DateWindow = 7 * 24 * time.Hour
	}
	if r.LockTTL == 0 {
		r.LockTTL = 60 * time.Second
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}

	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = cfg.BatchDeadline() + writeTimeoutMargin
	}
}

// ledgerCallsPerDelivery is the length of the matching chain: each strategy
// issues at most one ledger request.
const ledgerCallsPerDelivery = 4

const writeTimeoutMargin = 30 * time.Second

// BatchDeadline is the longest a batch of http.max_batch_size deliveries can
// take when every ledger call runs into ledger.timeout.
func (c *Config) BatchDeadline() time.Duration {
	size := c.Reconciliation.BatchSize
	if size < 1 || c.HTTP.MaxBatchSize < 1 {
		return 0
	}
	waves := (c.HTTP.MaxBatchSize + size - 1) / size
	perWave := time.Duration(ledgerCallsPerDelivery) * c.Ledger.Timeout
	return time.Duration(waves)*perWave + time.Duration(waves-1)*c.Reconciliation.BatchPause
}

func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	r := c.Reconciliation
	if r.BatchSize < 1 {
		return fmt.Errorf("reconciliation.batch_size must be at least 1, got %d", r.BatchSize)
	}
	if r.Interval < time.Minute {
		return fmt.Errorf("reconciliation.interval must be at least 1m, got %s", r.Interval)
	}
	if r.BatchPause < 0 {
		return fmt.Errorf("reconciliation.batch_pause cannot be negative")
	}
	if r.CacheTTL < 0 || r.CleanupInterval < 0 || r.DateWindow < 0 {
		return fmt.Errorf("reconciliation durations cannot be negative")
	}
	if r.AmountTolerance < 0 {
		return fmt.Errorf("reconciliation.amount_tolerance cannot be negative")
	}
	if c.HTTP.MaxBatchSize < 1 {
		return fmt.Errorf("http.max_batch_size must be at least 1, got %d", c.HTTP.MaxBatchSize)
	}
	if deadline := c.BatchDeadline(); c.HTTP.WriteTimeout < deadline {
		return fmt.Errorf("http.write_timeout (%s) is shorter than the longest batch verification (%s); lower http.max_batch_size or raise the timeout",
			c.HTTP.WriteTimeout, deadline)
	}
	if c.HTTP.LedgerRateLimit < 0 {
		return fmt.Errorf("http.ledger_rate_limit cannot be negative")
	}
	if c.Ledger.Timeout < 0 {
		return fmt.Errorf("ledger.timeout cannot be negative")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.Enabled && c.Telemetry.Insecure {
			return fmt.Errorf("telemetry.insecure must be false in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
