package main

import (
	"github.com/spf13/cobra"
	"github.com/yodaldevoid/MyoBlueZ/pkg/config"
)

// loadConfig reads --config and applies every flag the user set on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	overrideString := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	overrideString("log-level", &cfg.LogLevel)
	overrideString("backend", &cfg.Backend)
	overrideString("adapter", &cfg.Adapter)
	overrideString("format", &cfg.OutputFormat)
	overrideString("emg", &cfg.EMGMode)
	overrideString("imu", &cfg.IMUMode)
	overrideString("classifier", &cfg.ClassifierMode)
	overrideString("metrics-addr", &cfg.MetricsAddr)

	if flags.Changed("scan-timeout") {
		cfg.ScanTimeout, _ = flags.GetDuration("scan-timeout")
	}
	if flags.Changed("notify-retries") {
		cfg.NotifyRetries, _ = flags.GetInt("notify-retries")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
