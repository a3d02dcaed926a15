package main

import (
	"fmt"

	"github.com/alitto/taskq/internal/config"
	"github.com/alitto/taskq/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() (*cobra.Command, error) {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "taskq [flags]",
		Short: "Fan tasks out to a worker pool and wait for all of them",
		Long: `taskq submits a batch of tasks to a fixed pool of workers reading from a shared
queue. Every task holds a reference to a counting latch that it decrements once
done, and the command waits on that latch before printing the results and
stopping the pool.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "", "Path to a YAML config file. Flags set on the command line take precedence over it.")

	v, err := config.BindFlags(rootCmd.PersistentFlags())
	if err != nil {
		return nil, fmt.Errorf("error while binding flags: %w", err)
	}

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(v, configFile)
		if err != nil {
			return err
		}

		if err := initLogger(c.Logging); err != nil {
			return err
		}
		defer func() {
			if err := logger.Close(); err != nil {
				logger.Warnf("error while closing the log file: %v", err)
			}
		}()

		return run(cmd.Context(), c, cmd.OutOrStdout())
	}

	rootCmd.AddCommand(newConfigCmd(v, &configFile))

	return rootCmd, nil
}

func newConfigCmd(v *viper.Viper, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), c.String())
			return err
		},
	}
}

func initLogger(c config.LoggingConfig) error {
	err := logger.Init(logger.Config{
		Severity:        string(c.Severity),
		Format:          string(c.Format),
		FilePath:        c.FilePath,
		MaxFileSizeMB:   c.LogRotate.MaxFileSizeMb,
		BackupFileCount: c.LogRotate.BackupFileCount,
		Compress:        c.LogRotate.Compress,
	})
	if err != nil {
		return fmt.Errorf("error while initializing the logger: %w", err)
	}
	return nil
}
