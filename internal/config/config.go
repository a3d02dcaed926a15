// Package config holds the settings of the taskq command. Values come from command-line
// flags and an optional YAML file, flags taking precedence over the file.
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Workers int `yaml:"workers"`

	QueueCapacity int `yaml:"queue-capacity"`

	PollInterval time.Duration `yaml:"poll-interval"`

	Tasks int `yaml:"tasks"`

	MaxTaskDuration time.Duration `yaml:"max-task-duration"`

	// Zero picks a random seed
	Seed int64 `yaml:"seed"`

	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`
}

type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	Format LogFormat `yaml:"format"`

	FilePath string `yaml:"file-path"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

type LogRotateLoggingConfig struct {
	MaxFileSizeMb int `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}

type MetricsConfig struct {
	// Empty disables the metrics endpoint
	Address string `yaml:"address"`
}

// Default returns the configuration used when neither a flag nor the config file sets a value.
func Default() Config {
	return Config{
		Workers:         3,
		QueueCapacity:   0,
		PollInterval:    100 * time.Millisecond,
		Tasks:           5,
		MaxTaskDuration: time.Second,
		Logging: LoggingConfig{
			Severity: InfoLogSeverity,
			Format:   TextLogFormat,
			LogRotate: LogRotateLoggingConfig{
				MaxFileSizeMb:   512,
				BackupFileCount: 10,
				Compress:        true,
			},
		},
	}
}

// BindFlags declares the command-line flags on flagSet and binds each of them to its config key
// in a new viper instance.
func BindFlags(flagSet *pflag.FlagSet) (*viper.Viper, error) {
	d := Default()
	v := viper.New()

	flagSet.IntP("workers", "w", d.Workers, "Number of worker goroutines.")
	flagSet.Int("queue-capacity", d.QueueCapacity, "Maximum number of queued tasks. 0 means unbounded.")
	flagSet.Duration("poll-interval", d.PollInterval, "How long an idle worker waits for a task before checking whether the pool is stopping.")
	flagSet.IntP("tasks", "n", d.Tasks, "Number of tasks to fan out.")
	flagSet.Duration("max-task-duration", d.MaxTaskDuration, "Upper bound of the simulated work done by each task.")
	flagSet.Int64("seed", d.Seed, "Seed of the per-task random generators. 0 picks a random seed.")
	flagSet.String("log-severity", string(d.Logging.Severity), "Specifies the logging severity expressed as one of [trace, debug, info, warning, error, off]")
	flagSet.String("log-format", string(d.Logging.Format), "The format of the log file: 'text' or 'json'.")
	flagSet.String("log-file", d.Logging.FilePath, "The file for storing logs. Logs go to stderr when empty.")
	flagSet.Int("log-rotate-max-file-size-mb", d.Logging.LogRotate.MaxFileSizeMb, "The maximum size in megabytes that a log file can reach before it is rotated.")
	flagSet.Int("log-rotate-backup-file-count", d.Logging.LogRotate.BackupFileCount, "The maximum number of backup log files to retain after they have been rotated. 0 retains all of them.")
	flagSet.Bool("log-rotate-compress", d.Logging.LogRotate.Compress, "Controls whether the rotated log files should be compressed using gzip.")
	flagSet.String("metrics-address", d.Metrics.Address, "Address on which Prometheus metrics are served under /metrics, e.g. ':9090'. Disabled when empty.")

	keys := map[string]string{
		"workers":                      "workers",
		"queue-capacity":               "queue-capacity",
		"poll-interval":                "poll-interval",
		"tasks":                        "tasks",
		"max-task-duration":            "max-task-duration",
		"seed":                         "seed",
		"log-severity":                 "logging.severity",
		"log-format":                   "logging.format",
		"log-file":                     "logging.file-path",
		"log-rotate-max-file-size-mb":  "logging.log-rotate.max-file-size-mb",
		"log-rotate-backup-file-count": "logging.log-rotate.backup-file-count",
		"log-rotate-compress":          "logging.log-rotate.compress",
		"metrics-address":              "metrics.address",
	}

	for flagName, key := range keys {
		if err := v.BindPFlag(key, flagSet.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("error while binding flag %s: %w", flagName, err)
		}
	}

	return v, nil
}

// DecodeHook will be called by Viper while constructing the config object.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// Load builds the configuration from the flags bound to v and, when configFile is not empty,
// from that YAML file. Flags set on the command line win over the file, which wins over flag defaults.
func Load(v *viper.Viper, configFile string) (Config, error) {
	var c Config

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("error while reading the config file: %w", err)
		}
	}

	err := v.Unmarshal(&c, viper.DecodeHook(DecodeHook()), func(decoderConfig *mapstructure.DecoderConfig) {
		decoderConfig.TagName = "yaml"
	})
	if err != nil {
		return c, fmt.Errorf("error while unmarshaling the config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return c, err
	}

	return c, nil
}

// String renders the configuration as YAML
func (c Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("error while marshaling the config: %v", err)
	}
	return string(out)
}
