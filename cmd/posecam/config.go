package main

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/posecam/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: gAdvanced,
		Short:   "Print the effective configuration",
		Long: `Print the effective configuration as JSON: values from the config file,
flag overrides and defaults for everything else.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}

			raw, err := config.NewRawFileConfigFromConfig(conf)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(raw)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}

			raw, err := config.NewRawFileConfigFromConfig(conf)
			if err != nil {
				return err
			}
			out := config.NewFileFromConfig(raw, conf.Path())
			if err := out.Save(); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			logrus.Infof("config written to %s", conf.Path())
			return nil
		},
	})

	return cmd
}
