package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/datasyncd/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel       = "info"
	defaultDataDir        = "data"
	defaultWadDir         = "data"
	defaultControlFile    = "control.json"
	defaultOutputInterval = 60
	defaultBatchSize      = 10
	defaultScanInterval   = 5
	defaultReadTimeout    = 10
	defaultCheckInterval  = 5
	defaultMaxRetries     = 3
	defaultTelemetryDB    = "/var/lib/datasyncd/telemetry.db"
)

// Station describes the measurement site. It is forwarded verbatim in log
// context and publish payloads.
type Station struct {
	Name      string  `mapstructure:"name"`
	Location  string  `mapstructure:"location"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Elevation float64 `mapstructure:"elevation"`
}

// Sensor describes one configured sensor. Keys fixes the columns this
// sensor contributes to the record store schema.
type Sensor struct {
	Name         string   `mapstructure:"name"`
	Driver       string   `mapstructure:"driver"`
	Keys         []string `mapstructure:"keys"`
	ScanInterval int      `mapstructure:"scan_interval"`
	Broker       string   `mapstructure:"broker"`
	Topic        string   `mapstructure:"topic"`
}

// Publisher holds the delivery settings for one publisher loop.
type Publisher struct {
	Enabled       bool   `mapstructure:"enabled"`
	Endpoint      string `mapstructure:"endpoint"`
	Origin        string `mapstructure:"origin"`
	APIKey        string `mapstructure:"api_key"`
	CheckInterval int    `mapstructure:"check_interval"`
	MaxRetries    int    `mapstructure:"max_retries"`
}

type Config struct {
	Debug          bool      `mapstructure:"debug"`
	Verbose        bool      `mapstructure:"verbose"`
	LogLevel       string    `mapstructure:"log_level"`
	DataDir        string    `mapstructure:"data_dir"`
	WadDir         string    `mapstructure:"wad_dir"`
	ControlFile    string    `mapstructure:"control_file"`
	OutputInterval int       `mapstructure:"output_interval"`
	BatchSize      int       `mapstructure:"batch_size"`
	ReadTimeout    int       `mapstructure:"read_timeout"`
	Telemetry      bool      `mapstructure:"telemetry"`
	TelemetryDB    string    `mapstructure:"database"`
	Station        Station   `mapstructure:"station"`
	Sensors        []Sensor  `mapstructure:"sensors"`
	Publisher      Publisher `mapstructure:"publisher"`
	WinAQMS        Publisher `mapstructure:"winaqms_publisher"`
}

func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("wad_dir", defaultWadDir)
	v.SetDefault("control_file", defaultControlFile)
	v.SetDefault("output_interval", defaultOutputInterval)
	v.SetDefault("batch_size", defaultBatchSize)
	v.SetDefault("read_timeout", defaultReadTimeout)
	v.SetDefault("database", defaultTelemetryDB)
	v.SetDefault("publisher.check_interval", defaultCheckInterval)
	v.SetDefault("publisher.max_retries", defaultMaxRetries)
	v.SetDefault("winaqms_publisher.check_interval", defaultCheckInterval)
	v.SetDefault("winaqms_publisher.max_retries", defaultMaxRetries)

	flags := pflag.NewFlagSet("datasyncd", pflag.ContinueOnError)
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("data-dir", "", "Record store directory")
	flags.String("control-file", "", "Path to the control document")
	flags.Int("output-interval", 0, "Seconds between record store flushes")
	flags.Int("batch-size", 0, "Buffered readings that force a flush")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	errFactory := errors.New()

	bindings := map[string]string{
		"debug":           "debug",
		"verbose":         "verbose",
		"log-level":       "log_level",
		"data-dir":        "data_dir",
		"control-file":    "control_file",
		"output-interval": "output_interval",
		"batch-size":      "batch_size",
	}

	var bindErr error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := bindings[f.Name]
		if !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = errFactory.Wrap(errors.ErrBindFlags, err)
		}
	})

	return bindErr
}

func readConfigFile(v *viper.Viper) error {
	errFactory := errors.New()

	if path := os.Getenv("DATASYNCD_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errFactory.WithMessage(errors.ErrReadConfig,
				"Failed to read config file: "+err.Error())
		}

		return nil
	}

	v.SetConfigName("datasyncd")
	v.SetConfigType("toml")
	v.AddConfigPath("/etc")
	v.AddConfigPath("$HOME/.config/datasyncd")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.WithMessage(errors.ErrReadConfig,
				"Failed to read config file: "+err.Error())
		}
	}

	return nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.OutputInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.OutputInterval)
	}
	if c.BatchSize <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "batch_size must be positive")
	}
	if c.ReadTimeout <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "read_timeout must be positive")
	}

	for i := range c.Sensors {
		sensor := &c.Sensors[i]
		if sensor.Name == "" {
			return errFactory.WithMessage(errors.ErrInvalidConfig, "sensor name is required")
		}
		if len(sensor.Keys) == 0 {
			return errFactory.WithMessage(errors.ErrInvalidConfig,
				"sensor "+sensor.Name+" has no keys")
		}
		if sensor.ScanInterval <= 0 {
			sensor.ScanInterval = defaultScanInterval
		}
	}

	for _, pub := range []struct {
		name string
		cfg  Publisher
	}{
		{"publisher", c.Publisher},
		{"winaqms_publisher", c.WinAQMS},
	} {
		if !pub.cfg.Enabled {
			continue
		}
		if pub.cfg.Endpoint == "" {
			return errFactory.WithMessage(errors.ErrMissingConfig,
				pub.name+" endpoint is required")
		}
		if pub.cfg.Origin == "" {
			return errFactory.WithMessage(errors.ErrMissingConfig,
				pub.name+" origin is required")
		}
		if pub.cfg.APIKey == "" {
			return errFactory.WithMessage(errors.ErrMissingConfig,
				pub.name+" api_key is required")
		}
	}

	if c.Telemetry && c.TelemetryDB == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "telemetry database path is required")
	}

	return nil
}

// Columns returns the record store schema: the timestamp column followed by
// every configured sensor key in declaration order.
func (c *Config) Columns() []string {
	columns := []string{"timestamp"}
	for _, sensor := range c.Sensors {
		columns = append(columns, sensor.Keys...)
	}

	return columns
}
