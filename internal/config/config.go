// Package config loads the configuration of the extask binary.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. EXTASK_WORKER_MAX_TASKS.
const EnvPrefix = "EXTASK"

// Config is the root of the configuration file.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name" validate:"required_if=Enabled true"`
}

// WorkerConfig configures "extask worker".
type WorkerConfig struct {
	BaseURL              string        `mapstructure:"base_url" validate:"required,url"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password" validate:"required_with=Username"`
	WorkerID             string        `mapstructure:"worker_id"`
	MaxTasks             int           `mapstructure:"max_tasks" validate:"gte=1"`
	UsePriority          bool          `mapstructure:"use_priority"`
	AsyncResponseTimeout time.Duration `mapstructure:"async_response_timeout" validate:"gte=0"`
	LockDuration         time.Duration `mapstructure:"lock_duration" validate:"gt=0"`
	ReportRetries        int           `mapstructure:"report_retries"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	AbandonOnShutdown    bool          `mapstructure:"abandon_on_shutdown"`
	DefaultFormat        string        `mapstructure:"default_format" validate:"required"`
	MetricsAddr          string        `mapstructure:"metrics_addr"`
	Topics               []TopicConfig `mapstructure:"topics" validate:"required,min=1,dive"`
}

// TopicConfig is one subscription of "extask worker".
type TopicConfig struct {
	Name         string        `mapstructure:"name" validate:"required"`
	LockDuration time.Duration `mapstructure:"lock_duration" validate:"gte=0"`
	Variables    []string      `mapstructure:"variables"`
	MaxTasks     int           `mapstructure:"max_tasks" validate:"gte=0"`
	OutputFormat string        `mapstructure:"output_format"`
}

// CoordinatorConfig configures "extask coordinator".
type CoordinatorConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`

	// Database is the SQLite file holding tasks. Empty keeps tasks in
	// memory.
	Database     string        `mapstructure:"database"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "extask")

	v.SetDefault("worker.base_url", "http://localhost:8080/engine-rest")
	v.SetDefault("worker.username", "")
	v.SetDefault("worker.password", "")
	v.SetDefault("worker.worker_id", "")
	v.SetDefault("worker.max_tasks", 10)
	v.SetDefault("worker.use_priority", false)
	v.SetDefault("worker.async_response_timeout", "10s")
	v.SetDefault("worker.lock_duration", "20s")
	v.SetDefault("worker.report_retries", 3)
	v.SetDefault("worker.shutdown_timeout", "30s")
	v.SetDefault("worker.abandon_on_shutdown", false)
	v.SetDefault("worker.default_format", "application/json")
	v.SetDefault("worker.metrics_addr", "")

	v.SetDefault("coordinator.listen_addr", ":8080")
	v.SetDefault("coordinator.database", "")
	v.SetDefault("coordinator.poll_interval", "50ms")
}

// Load reads the configuration file at path, or extask.yaml in the working
// directory or ./configs when path is empty. A missing default file is not
// an error. Environment variables override file values. Only the log and
// tracing sections are validated here; commands validate their own
// section with ValidateWorker or ValidateCoordinator.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("extask")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validateStruct("log", cfg.Log); err != nil {
		return nil, err
	}
	if err := validateStruct("tracing", cfg.Tracing); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateWorker checks the worker section.
func (c *Config) ValidateWorker() error { return validateStruct("worker", c.Worker) }

// ValidateCoordinator checks the coordinator section.
func (c *Config) ValidateCoordinator() error {
	return validateStruct("coordinator", c.Coordinator)
}

func validateStruct(section string, s any) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s.%s failed %q", section, fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
