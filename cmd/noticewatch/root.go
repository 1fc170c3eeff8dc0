package main

import (
	"github.com/spf13/cobra"

	"github.com/noticewatch/noticewatch/pkg/config"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

// cli carries the state shared by every subcommand.
type cli struct {
	configPath string
	cfg        *Config
	log        logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "noticewatch",
		Short:         "Aggregate government notices into ranked feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", config.GetConfigPath(defaultConfigPath),
		"config file (CONFIG_PATH overrides the default)")

	root.AddCommand(
		newCollectCmd(c),
		newEventsCmd(c),
		newShowCmd(c),
		newSkippedCmd(c),
		newExportCmd(c),
		newServeCmd(c),
		newWatchCmd(c),
	)
	return root
}

func (c *cli) init() error {
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	c.cfg, c.log = cfg, log
	return nil
}
