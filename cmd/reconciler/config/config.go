package config

import (
	"fmt"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"settlement-reconciler/internal/api"
	"settlement-reconciler/internal/matcher"
	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/parsers"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/internal/reporter"
	"settlement-reconciler/internal/session"
	"settlement-reconciler/internal/storage"
	"settlement-reconciler/internal/tolerance"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// SetDefaults registers the default of every key the factories read
func SetDefaults(v *viper.Viper) {
	loader := parsers.DefaultLoaderConfig()
	v.SetDefault("loader.spreadsheet_backends", loader.SpreadsheetBackends)
	v.SetDefault("loader.delimiter", string(loader.Delimiter))
	v.SetDefault("loader.max_field_size", loader.MaxFieldSize)
	v.SetDefault("loader.max_source_bytes", loader.MaxSourceBytes)

	matching := matcher.DefaultMatchingConfig()
	v.SetDefault("matching.warn_on_duplicate_keys", matching.WarnOnDuplicateKeys)
	v.SetDefault("matching.duplicate_sample_size", matching.DuplicateSampleSize)

	v.SetDefault("normalizer.currency_symbols", models.DefaultCurrencySymbols)

	log := logger.DefaultConfig()
	v.SetDefault("log.level", string(log.Level))
	v.SetDefault("log.format", string(log.Format))
	v.SetDefault("log.output", string(logger.StderrOutput))

	server := api.DefaultConfig()
	v.SetDefault("server.addr", server.Addr)
	v.SetDefault("server.max_upload_bytes", server.MaxUploadBytes)
	v.SetDefault("server.allowed_origins", server.AllowedOrigins)
	v.SetDefault("server.read_timeout", server.ReadTimeout)
	v.SetDefault("server.write_timeout", server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", server.ShutdownTimeout)

	sessions := session.DefaultConfig()
	v.SetDefault("sessions.max_concurrent_sessions", sessions.MaxConcurrentSessions)
	v.SetDefault("sessions.queue_size", sessions.QueueSize)
	v.SetDefault("sessions.session_ttl", sessions.SessionTTL)
	v.SetDefault("sessions.sweep_interval", sessions.SweepInterval)

	mysql := storage.DefaultMySQLConfig()
	v.SetDefault("store.driver", string(storage.DriverMemory))
	v.SetDefault("store.mysql.host", mysql.Host)
	v.SetDefault("store.mysql.port", mysql.Port)
	v.SetDefault("store.mysql.user", mysql.User)
	v.SetDefault("store.mysql.database", mysql.Database)
	v.SetDefault("store.mysql.max_open_conns", mysql.MaxOpenConns)
	v.SetDefault("store.mysql.max_idle_conns", mysql.MaxIdleConns)
	v.SetDefault("store.mysql.conn_max_lifetime", mysql.ConnMaxLifetime)
}

// CreateLoggerConfig builds the logger configuration. verbose forces debug level.
func CreateLoggerConfig(v *viper.Viper) *logger.Config {
	config := logger.DefaultConfig()
	config.Level = logger.Level(v.GetString("log.level"))
	config.Format = logger.Format(v.GetString("log.format"))
	config.Output = logger.Output(v.GetString("log.output"))
	config.File = v.GetString("log.file")
	if v.GetBool("verbose") {
		config.Level = logger.DebugLevel
		config.CallerInfo = true
	}
	return config
}

// CreateLoaderConfig creates the tabular loader configuration
func CreateLoaderConfig(v *viper.Viper) (*parsers.LoaderConfig, error) {
	config := parsers.DefaultLoaderConfig()

	if backends := v.GetStringSlice("loader.spreadsheet_backends"); len(backends) > 0 {
		config.SpreadsheetBackends = backends
	}
	if delim := v.GetString("loader.delimiter"); delim != "" {
		r, size := utf8.DecodeRuneInString(delim)
		if size != len(delim) {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "loader.delimiter", delim,
				fmt.Errorf("delimiter must be a single character"))
		}
		config.Delimiter = r
	}
	config.MaxFieldSize = v.GetInt("loader.max_field_size")
	config.MaxSourceBytes = v.GetInt64("loader.max_source_bytes")

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "loader", nil, err)
	}
	return config, nil
}

// CreateMatchingConfig creates the join configuration
func CreateMatchingConfig(v *viper.Viper) *matcher.MatchingConfig {
	config := matcher.DefaultMatchingConfig()
	config.WarnOnDuplicateKeys = v.GetBool("matching.warn_on_duplicate_keys")
	config.DuplicateSampleSize = v.GetInt("matching.duplicate_sample_size")
	return config
}

// bandSpec is one tolerance band as written in a config file. Values are kept as
// text so they reach the decimal parser without a float round trip.
type bandSpec struct {
	Lower      string `mapstructure:"lower"`
	Upper      string `mapstructure:"upper"`
	MinPercent string `mapstructure:"min_percent"`
}

// CreateToleranceBands returns the configured bands, or the defaults when
// tolerance.bands is not set
func CreateToleranceBands(v *viper.Viper) ([]tolerance.Band, error) {
	if !v.IsSet("tolerance.bands") {
		return tolerance.DefaultBands(), nil
	}

	var specs []bandSpec
	if err := v.UnmarshalKey("tolerance.bands", &specs); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance.bands", nil, err)
	}

	bands := make([]tolerance.Band, 0, len(specs))
	for i, spec := range specs {
		band, err := spec.toBand(i)
		if err != nil {
			return nil, err
		}
		bands = append(bands, band)
	}
	if err := tolerance.ValidateBands(bands); err != nil {
		return nil, err
	}
	return bands, nil
}

func (s bandSpec) toBand(i int) (tolerance.Band, error) {
	parse := func(field, raw string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, errors.ConfigurationError(errors.CodeInvalidConfig,
				fmt.Sprintf("tolerance.bands[%d].%s", i, field), raw, err)
		}
		return d, nil
	}

	lower, err := parse("lower", s.Lower)
	if err != nil {
		return tolerance.Band{}, err
	}
	minPercent, err := parse("min_percent", s.MinPercent)
	if err != nil {
		return tolerance.Band{}, err
	}
	band := tolerance.Band{Lower: lower, MinPercent: minPercent}
	if s.Upper != "" {
		upper, err := parse("upper", s.Upper)
		if err != nil {
			return tolerance.Band{}, err
		}
		band.Upper = &upper
	}
	return band, nil
}

// CreatePipelineConfig assembles the configuration of every pipeline component
func CreatePipelineConfig(v *viper.Viper) (*reconciler.Config, error) {
	loader, err := CreateLoaderConfig(v)
	if err != nil {
		return nil, err
	}
	bands, err := CreateToleranceBands(v)
	if err != nil {
		return nil, err
	}

	config := reconciler.DefaultConfig()
	config.Loader = loader
	config.Matching = CreateMatchingConfig(v)
	config.ToleranceBands = bands
	if symbols, err := cast.ToStringSliceE(v.Get("normalizer.currency_symbols")); err == nil && len(symbols) > 0 {
		config.CurrencySymbols = symbols
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(format)

	switch config.Format {
	case reporter.FormatConsole:
		config.IncludeBucketRows = true
		config.MaxRowsPerBucket = 20
	case reporter.FormatCSV:
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	}

	return config
}

// CreateServerConfig creates the HTTP configuration
func CreateServerConfig(v *viper.Viper) (*api.Config, error) {
	config := &api.Config{
		Addr:            v.GetString("server.addr"),
		MaxUploadBytes:  v.GetInt64("server.max_upload_bytes"),
		AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
		ReadTimeout:     v.GetDuration("server.read_timeout"),
		WriteTimeout:    v.GetDuration("server.write_timeout"),
		ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateSessionConfig creates the upload session configuration
func CreateSessionConfig(v *viper.Viper) (*session.Config, error) {
	config := &session.Config{
		MaxConcurrentSessions: v.GetInt("sessions.max_concurrent_sessions"),
		QueueSize:             v.GetInt("sessions.queue_size"),
		SessionTTL:            v.GetDuration("sessions.session_ttl"),
		SweepInterval:         v.GetDuration("sessions.sweep_interval"),
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateStoreConfig creates the result store configuration
func CreateStoreConfig(v *viper.Viper) (*storage.Config, error) {
	config := &storage.Config{
		Driver: storage.Driver(v.GetString("store.driver")),
		MySQL: &storage.MySQLConfig{
			DSN:             v.GetString("store.dsn"),
			Host:            v.GetString("store.mysql.host"),
			Port:            v.GetInt("store.mysql.port"),
			User:            v.GetString("store.mysql.user"),
			Password:        v.GetString("store.mysql.password"),
			Database:        v.GetString("store.mysql.database"),
			MaxOpenConns:    v.GetInt("store.mysql.max_open_conns"),
			MaxIdleConns:    v.GetInt("store.mysql.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("store.mysql.conn_max_lifetime"),
		},
	}

	switch config.Driver {
	case storage.DriverMemory:
	case storage.DriverMySQL:
		if _, err := config.MySQL.FormatDSN(); err != nil {
			return nil, err
		}
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", config.Driver, nil).
			WithSuggestion("Use one of: memory, mysql")
	}
	return config, nil
}
