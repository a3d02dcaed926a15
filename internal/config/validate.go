package config

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

// Validate returns a non-nil error if the config is invalid.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers should be atleast 1, got %d", c.Workers)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue-capacity should be 0 (unbounded) or a positive value, got %d", c.QueueCapacity)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval should be positive, got %s", c.PollInterval)
	}
	if c.Tasks < 0 {
		return fmt.Errorf("tasks can't be negative, got %d", c.Tasks)
	}
	if c.MaxTaskDuration < 0 {
		return fmt.Errorf("max-task-duration can't be negative, got %s", c.MaxTaskDuration)
	}
	if err := isValidLogRotateConfig(&c.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	return nil
}
