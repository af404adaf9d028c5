package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/yodaldevoid/MyoBlueZ/internal/device"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
	"github.com/yodaldevoid/MyoBlueZ/pkg/config"
)

const adaptersTimeout = 5 * time.Second

// adaptersCmd represents the adapters command
var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List local Bluetooth controllers",
	Long: `Lists the Bluetooth controllers the selected backend can drive, with
their address and power state. Pass one of the names to --adapter.`,
	Args: cobra.NoArgs,
	RunE: runAdapters,
}

func init() {
	adaptersCmd.Flags().StringP("format", "f", "", "Output format (text, json)")
}

func runAdapters(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	plat, err := newPlatform(cfg, logger)
	if err != nil {
		return &device.AdapterError{Adapter: cfg.Adapter, Err: platform.NormalizeError(err)}
	}
	defer plat.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), adaptersTimeout)
	defer cancel()
	adapters, err := plat.Adapters(ctx)
	if err != nil {
		return &device.AdapterError{Adapter: cfg.Adapter, Err: platform.NormalizeError(err)}
	}

	out := cmd.OutOrStdout()
	if cfg.OutputFormat == config.OutputJSON {
		type adapterJSON struct {
			Name    string `json:"name"`
			Address string `json:"address"`
			Alias   string `json:"alias,omitempty"`
			Powered bool   `json:"powered"`
		}
		list := make([]adapterJSON, 0, len(adapters))
		for _, a := range adapters {
			list = append(list, adapterJSON{Name: a.Name, Address: a.Address, Alias: a.Alias, Powered: a.Powered})
		}
		return json.NewEncoder(out).Encode(list)
	}

	if len(adapters) == 0 {
		fmt.Fprintln(out, "No Bluetooth controllers found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tPOWERED\tALIAS")
	for _, a := range adapters {
		powered := "no"
		if a.Powered {
			powered = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name, a.Address, powered, a.Alias)
	}
	return w.Flush()
}
