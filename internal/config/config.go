// Package config defines the values the entry point loads and
// validates before wiring the component graph.
package config

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Log source kinds.
const (
	SourceTail = "tail"
	SourceFTP  = "ftp"
	SourceSFTP = "sftp"
)

type RconConfig struct {
	Host           string        `default:"127.0.0.1"`
	Port           int           `default:"21114"`
	Password       string        `default:""`
	ConnectTimeout time.Duration `default:"10s"`
	Heartbeat      bool          `default:"true"`
}

type LogSourceConfig struct {
	Type         string        `default:"tail"`
	Path         string        `default:""`
	StartFromEnd bool          `default:"true"`
	PollInterval time.Duration `default:"5s"`
	Host         string        `default:""`
	Port         int           `default:"0"`
	User         string        `default:""`
	Password     string        `default:""`
}

type PipelineConfig struct {
	QueueCapacity int           `default:"10000"`
	BatchSize     int           `default:"100"`
	Interval      time.Duration `default:"10ms"`
	LayerHistory  int           `default:"20"`
}

type PluginsConfig struct {
	Dir      string `default:""`
	LogLevel string `default:"info"`
}

type PostgresConfig struct {
	Enabled bool   `default:"false"`
	DSN     string `default:""`
}

type ClickHouseConfig struct {
	Enabled  bool     `default:"false"`
	Addr     []string `default:""`
	Database string   `default:"squadstream"`
	Username string   `default:"default"`
	Password string   `default:""`
}

type ValkeyConfig struct {
	Enabled  bool          `default:"false"`
	Addr     []string      `default:""`
	Password string        `default:""`
	Interval time.Duration `default:"10s"`
}

type PushConfig struct {
	Enabled bool   `default:"true"`
	Addr    string `default:":8080"`
}

// Config is the root of the configuration tree.
type Config struct {
	LogLevel string `default:"info"`

	Rcon       RconConfig
	LogSource  LogSourceConfig
	Pipeline   PipelineConfig
	AdminIDs   []string `default:""`
	Plugins    PluginsConfig
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Valkey     ValkeyConfig
	Push       PushConfig
}

// Load reads defaults, an optional yaml file and SQUADSTREAM_* env
// vars, then validates the result.
func Load(files ...string) (Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "SQUADSTREAM",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
			".yml":  aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.LogLevel, validation.In("error", "warn", "info", "debug", "trace")),
		validation.Field(&c.Rcon),
		validation.Field(&c.LogSource),
	)
}

func (c RconConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Port, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Password, validation.Required),
	)
}

func (c LogSourceConfig) Validate() error {
	fields := []*validation.FieldRules{
		validation.Field(&c.Type, validation.In(SourceTail, SourceFTP, SourceSFTP)),
		validation.Field(&c.Path, validation.Required),
	}
	if c.Type == SourceFTP || c.Type == SourceSFTP {
		fields = append(fields,
			validation.Field(&c.Host, validation.Required),
			validation.Field(&c.Port, validation.Min(1), validation.Max(65535)),
			validation.Field(&c.User, validation.Required),
		)
	}
	return validation.ValidateStruct(&c, fields...)
}
